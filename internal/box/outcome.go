package box

import (
	"github.com/openloot/faircore/internal/engine"
)

// Outcome is the immutable result of opening a box: exactly one item plus
// the raw random value and digest that produced it. Persisting the digest
// lets any third party recompute the outcome once the server seed is
// revealed.
type Outcome struct {
	Item        Item    `json:"item"`
	RandomValue float64 `json:"random_value"`
	Nonce       uint64  `json:"nonce"`
	Digest      string  `json:"digest"`
}

// Open resolves the winning item for a (seeds, nonce) pair. Pure and
// side-effect free: the caller owns persistence of the result.
func Open(items []Item, seeds engine.Seeds, nonce uint64) (Outcome, error) {
	if len(items) == 0 {
		return Outcome{}, ErrEmptyItemList
	}

	total := 0.0
	for _, it := range items {
		total += it.Odds
	}
	if total <= 0 {
		return Outcome{}, ErrNoPositiveWeight
	}

	value, digest := engine.Float(seeds, nonce)

	return Outcome{
		Item:        items[pick(items, total, value)],
		RandomValue: value,
		Nonce:       nonce,
		Digest:      digest,
	}, nil
}

// pick walks the item list in its fixed order, accumulating normalized
// weights, and returns the first index where roll <= cumulative.
func pick(items []Item, total, roll float64) int {
	cumulative := 0.0
	for i, it := range items {
		cumulative += it.Odds / total
		if roll <= cumulative {
			return i
		}
	}
	// Rounding can leave the cumulative sum short of 1.0; the last item
	// is the deterministic fallback, not an accident of loop bounds.
	return len(items) - 1
}
