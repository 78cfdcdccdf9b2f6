package replay

import (
	"github.com/openloot/faircore/internal/box"
	"github.com/openloot/faircore/internal/engine"
	"github.com/openloot/faircore/internal/seeds"
)

// VerifyRequest recomputes a single historical outcome from a revealed
// seed pair. ServerSeedHash is the commitment published before the seed
// was used; a mismatch is an integrity fault, not a bad request.
type VerifyRequest struct {
	ServerSeed     string     `json:"server_seed"`
	ServerSeedHash string     `json:"server_seed_hash"`
	ClientSeed     string     `json:"client_seed"`
	Nonce          uint64     `json:"nonce"`
	Items          []box.Item `json:"items"`
}

// VerifyResult is the recomputed outcome with its full derivation, enough
// for a third party to check every step by hand.
type VerifyResult struct {
	Outcome box.Outcome `json:"outcome"`
	Digest  string      `json:"digest"`
}

// Verify checks the revealed seed against its commitment, then replays
// the outcome derivation for the requested nonce.
func Verify(req VerifyRequest) (*VerifyResult, error) {
	if err := seeds.VerifyReveal(req.ServerSeed, req.ServerSeedHash); err != nil {
		return nil, err
	}

	pair := engine.Seeds{Server: req.ServerSeed, Client: req.ClientSeed}
	out, err := box.Open(req.Items, pair, req.Nonce)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{Outcome: out, Digest: out.Digest}, nil
}
