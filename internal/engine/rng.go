package engine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Seeds holds the commit-reveal seed pair a roll is derived from.
// Server is the secret server seed (ASCII, not hex-decoded); Client is
// the user-controlled client seed.
type Seeds struct {
	Server string `json:"server"`
	Client string `json:"client"`
}

// Digest computes the full HMAC-SHA256 digest for a (seeds, nonce) pair
// as lowercase hex. The message format is "clientSeed:nonce".
func Digest(seeds Seeds, nonce uint64) string {
	h := hmac.New(sha256.New, []byte(seeds.Server))
	fmt.Fprintf(h, "%s:%d", seeds.Client, nonce)
	return hex.EncodeToString(h.Sum(nil))
}

// Float derives the random value for a (seeds, nonce) pair. It returns
// the value together with the full digest so callers can persist the
// digest for independent verification.
//
// The first 8 hex characters (32 bits) of the digest are parsed as an
// unsigned integer and divided by 0xFFFFFFFF, yielding a value in [0, 1].
func Float(seeds Seeds, nonce uint64) (float64, string) {
	digest := Digest(seeds, nonce)
	return FloatFromDigest(digest), digest
}

// FloatFromDigest recomputes the random value from a stored digest.
func FloatFromDigest(digest string) float64 {
	v, err := strconv.ParseUint(digest[:8], 16, 64)
	if err != nil {
		// Digests are produced by hex.EncodeToString; this is unreachable
		// for any digest that came out of Digest.
		panic("engine: malformed digest: " + digest[:8])
	}
	return float64(v) / float64(0xFFFFFFFF)
}
