package box

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyItemList    = errors.New("box: empty item list")
	ErrNoPositiveWeight = errors.New("box: item odds sum to zero")
)

// Item is one weighted entry in a box. Odds is a selection weight, not a
// probability: selection normalizes by the actual sum of all weights.
type Item struct {
	ID    string          `json:"id"`
	Value decimal.Decimal `json:"value"`
	Odds  float64         `json:"odds"`
}

// Box is an authored loot box: an ordered, non-empty item list. Order is
// part of the fairness contract — selection walks the list in this order,
// so verifiers must see the same ordering.
type Box struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Items []Item          `json:"items"`
}

const (
	oddsSumTarget    = 100.0
	oddsSumTolerance = 0.1
)

// Validate enforces the authoring-time invariants: a non-empty item list,
// no negative odds or values, and a weight sum within ±0.1 of 100. The
// tolerance absorbs floating rounding in authored tables. Selection itself
// normalizes by the actual sum, so outcomes stay correct even for tables
// that never passed through Validate.
func (b Box) Validate() error {
	if len(b.Items) == 0 {
		return ErrEmptyItemList
	}
	if b.Price.IsNegative() {
		return fmt.Errorf("box %s: negative price %s", b.ID, b.Price)
	}

	total := 0.0
	for i, it := range b.Items {
		if it.Odds < 0 {
			return fmt.Errorf("box %s: item %d (%s) has negative odds %f", b.ID, i, it.ID, it.Odds)
		}
		if it.Value.IsNegative() {
			return fmt.Errorf("box %s: item %d (%s) has negative value %s", b.ID, i, it.ID, it.Value)
		}
		total += it.Odds
	}
	if total <= 0 {
		return ErrNoPositiveWeight
	}
	if math.Abs(total-oddsSumTarget) > oddsSumTolerance {
		return fmt.Errorf("box %s: odds sum to %f, want %f ±%f", b.ID, total, oddsSumTarget, oddsSumTolerance)
	}
	return nil
}
