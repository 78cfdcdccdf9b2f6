// Package seeds owns the commit-reveal lifecycle of server seeds and the
// per-user nonce discipline that makes outcomes replay-proof.
package seeds

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/openloot/faircore/internal/box"
	"github.com/openloot/faircore/internal/engine"
	"github.com/openloot/faircore/internal/store"
)

var (
	// ErrFairnessViolation is an integrity fault: a revealed server seed
	// does not hash to its published commitment. Never retried, never
	// silently resynced.
	ErrFairnessViolation = errors.New("seeds: revealed server seed does not match published hash")
	// ErrEmptyClientSeed rejects blank client seeds.
	ErrEmptyClientSeed = errors.New("seeds: client seed must be non-empty")
)

// Registry manages seed pairs behind the store's transactional boundary.
// All nonce advancement happens inside store transactions, so each user
// has a single writer regardless of how many requests are in flight.
type Registry struct {
	db store.DB
}

func NewRegistry(db store.DB) *Registry {
	return &Registry{db: db}
}

// Commit returns the active server seed hash for the user, provisioning a
// fresh seed pair on first use. The hash is published before any outcome
// is generated against the seed.
func (r *Registry) Commit(userID string) (string, error) {
	pair, err := r.db.GetSeedPair(userID)
	if err == nil {
		return pair.ServerSeedHash, nil
	}
	if err != store.ErrSeedPairNotFound {
		return "", err
	}

	serverSeed, err := newSeed(32)
	if err != nil {
		return "", fmt.Errorf("generate server seed: %w", err)
	}
	clientSeed, err := newSeed(8)
	if err != nil {
		return "", fmt.Errorf("generate client seed: %w", err)
	}

	pair = &store.SeedPair{
		UserID:         userID,
		ServerSeed:     serverSeed,
		ServerSeedHash: HashSeed(serverSeed),
		ClientSeed:     clientSeed,
		Nonce:          0,
	}
	if err := r.db.PutSeedPair(pair); err != nil {
		return "", err
	}
	return pair.ServerSeedHash, nil
}

// Rotate retires the active server seed and installs a fresh one, resetting
// the nonce to zero. The outgoing seed is returned (and archived) so it can
// be published for past-outcome verification; it is never used for new
// outcomes again.
func (r *Registry) Rotate(userID string) (*store.RevealedSeed, string, error) {
	newServerSeed, err := newSeed(32)
	if err != nil {
		return nil, "", fmt.Errorf("generate server seed: %w", err)
	}
	newHash := HashSeed(newServerSeed)

	revealed, err := r.db.RotateSeedPair(userID, newServerSeed, newHash)
	if err != nil {
		return nil, "", err
	}

	// The archive is the fairness proof; sanity-check it before handing
	// the seed out for publication.
	if err := VerifyReveal(revealed.ServerSeed, revealed.ServerSeedHash); err != nil {
		return nil, "", err
	}
	return revealed, newHash, nil
}

// SetClientSeed replaces the user's client seed. User-controlled, mutable
// at will, and deliberately does not touch the nonce.
func (r *Registry) SetClientSeed(userID, seed string) error {
	if seed == "" {
		return ErrEmptyClientSeed
	}
	return r.db.UpdateClientSeed(userID, seed)
}

// Pair exposes the user's current seed pair state (hash, client seed,
// expected nonce) without the secret server seed.
func (r *Registry) Pair(userID string) (*store.SeedPair, error) {
	pair, err := r.db.GetSeedPair(userID)
	if err != nil {
		return nil, err
	}
	pair.ServerSeed = ""
	return pair, nil
}

// OpenBox computes the outcome for the user's next box open and commits it
// through the replay guard: the presented nonce must exactly equal the
// stored nonce, and acceptance atomically advances the nonce, debits the
// box price, and records the audit row. On any rejection the computed
// outcome is discarded and no state changes.
func (r *Registry) OpenBox(userID string, b box.Box, presentedNonce uint64) (box.Outcome, *store.OutcomeRecord, error) {
	pair, err := r.db.GetSeedPair(userID)
	if err != nil {
		return box.Outcome{}, nil, err
	}
	if pair.Nonce != presentedNonce {
		return box.Outcome{}, nil, store.ErrNonceMismatch
	}

	out, err := box.Open(b.Items, engine.Seeds{Server: pair.ServerSeed, Client: pair.ClientSeed}, presentedNonce)
	if err != nil {
		return box.Outcome{}, nil, err
	}

	rec := &store.OutcomeRecord{
		UserID:         userID,
		BoxID:          b.ID,
		ServerSeedHash: pair.ServerSeedHash,
		ClientSeed:     pair.ClientSeed,
		Nonce:          out.Nonce,
		Digest:         out.Digest,
		RandomValue:    out.RandomValue,
		ItemID:         out.Item.ID,
		ItemValue:      out.Item.Value,
	}
	debit := &store.LedgerEntry{
		UserID: userID,
		Kind:   store.LedgerDebitOpen,
		Ref:    b.ID,
		Amount: b.Price,
	}

	if err := r.db.RecordOutcome(rec, debit); err != nil {
		return box.Outcome{}, nil, err
	}
	return out, rec, nil
}

// VerifyReveal checks a revealed server seed against its published hash.
// A mismatch is a fairness violation, not a recoverable error.
func VerifyReveal(serverSeed, publishedHash string) error {
	if HashSeed(serverSeed) != publishedHash {
		return ErrFairnessViolation
	}
	return nil
}

// HashSeed is the commitment function: SHA-256 of the ASCII seed, hex.
func HashSeed(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

func newSeed(bytes int) (string, error) {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
