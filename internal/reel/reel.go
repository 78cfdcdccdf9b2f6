// Package reel synthesizes the decorative spin sequence shown while an
// already-resolved outcome is presented. It runs strictly after the
// winning item is fixed and has zero influence on fairness, so its
// randomness source is deliberately non-cryptographic.
package reel

import (
	"math/rand"
	"sort"
	"strconv"

	"github.com/openloot/faircore/internal/box"
)

const (
	// Length is the number of slots in a rendered reel.
	Length = 80
	// WinnerIndex is the slot the reel stops on. Fixed so clients can
	// align the stop animation without extra coordination.
	WinnerIndex = 75
)

// Sequence expands a resolved outcome into a Length-slot reel with the
// winning item at WinnerIndex. Filler slots are drawn from the box's item
// list by weight; the slots immediately around the winner are biased
// toward the rarer half of the table for dramatic effect. Seeded from the
// outcome digest, so the same outcome always renders the same reel.
func Sequence(items []box.Item, out box.Outcome) []box.Item {
	slots := make([]box.Item, Length)
	if len(items) == 0 {
		return slots
	}

	r := rand.New(rand.NewSource(reelSeed(out.Digest)))

	total := 0.0
	for _, it := range items {
		total += it.Odds
	}

	rare := rarerHalf(items)

	for i := range slots {
		switch {
		case i == WinnerIndex:
			slots[i] = out.Item
		case (i == WinnerIndex-1 || i == WinnerIndex+1) && len(rare) > 0:
			slots[i] = rare[r.Intn(len(rare))]
		default:
			slots[i] = weightedDraw(items, total, r.Float64())
		}
	}
	return slots
}

// reelSeed folds the tail of the hex digest into an int64 seed. The head
// of the digest already determined the outcome; any stable mapping works
// here.
func reelSeed(digest string) int64 {
	if len(digest) < 16 {
		return int64(len(digest))
	}
	v, err := strconv.ParseUint(digest[len(digest)-16:], 16, 64)
	if err != nil {
		return 0
	}
	return int64(v)
}

// rarerHalf returns the items whose odds fall at or below the median.
func rarerHalf(items []box.Item) []box.Item {
	if len(items) < 2 {
		return nil
	}
	sorted := make([]box.Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Odds < sorted[j].Odds })
	return sorted[:(len(sorted)+1)/2]
}

func weightedDraw(items []box.Item, total, roll float64) box.Item {
	if total <= 0 {
		return items[0]
	}
	cumulative := 0.0
	for _, it := range items {
		cumulative += it.Odds / total
		if roll <= cumulative {
			return it
		}
	}
	return items[len(items)-1]
}
