package box

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/openloot/faircore/internal/engine"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testItems() []Item {
	return []Item{
		{ID: "common", Value: dec("0.25"), Odds: 50},
		{ID: "uncommon", Value: dec("2.50"), Odds: 30},
		{ID: "rare", Value: dec("25.00"), Odds: 15},
		{ID: "jackpot", Value: dec("500.00"), Odds: 5},
	}
}

func TestPickBoundaries(t *testing.T) {
	items := testItems() // cumulative: 0.50, 0.80, 0.95, 1.00

	tests := []struct {
		name string
		roll float64
		want int
	}{
		{"zero lands on first item", 0.0, 0},
		{"exact boundary stays on first item", 0.50, 0},
		{"just past boundary moves on", math.Nextafter(0.50, 1), 1},
		{"mid second band", 0.65, 1},
		{"third band", 0.94, 2},
		{"top of range", 1.0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pick(items, 100, tt.roll); got != tt.want {
				t.Errorf("pick(%f) = %d, want %d", tt.roll, got, tt.want)
			}
		})
	}
}

// Normalized cumulative sums can fall short of 1.0 in float arithmetic.
// These odds end at 0.9999999999999999, so a roll of exactly 1.0 walks
// off the list and must hit the explicit last-item fallback.
func TestPickLastItemFallback(t *testing.T) {
	odds := []float64{
		0.07887233511355132,
		48.78566565241476,
		0.04327670679050534,
		6.958328667684435,
		0.7215400323407826,
	}
	items := make([]Item, len(odds))
	total := 0.0
	for i, o := range odds {
		items[i] = Item{ID: string(rune('a' + i)), Odds: o}
		total += o
	}

	cumulative := 0.0
	for _, it := range items {
		cumulative += it.Odds / total
	}
	if cumulative >= 1.0 {
		t.Fatalf("test precondition broken: cumulative = %.17f", cumulative)
	}

	if got := pick(items, total, 1.0); got != len(items)-1 {
		t.Errorf("pick(1.0) = %d, want fallback index %d", got, len(items)-1)
	}
}

func TestOpenDeterministic(t *testing.T) {
	items := testItems()
	seeds := engine.Seeds{Server: "faircore_server_seed", Client: "alpha"}

	// nonce 0 rolls 0.8616618280908237 → cumulative band (0.80, 0.95] → rare
	first, err := Open(items, seeds, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if first.Item.ID != "rare" {
		t.Errorf("winner = %s, want rare", first.Item.ID)
	}
	if first.RandomValue != 0.8616618280908237 {
		t.Errorf("RandomValue = %.16f, want 0.8616618280908237", first.RandomValue)
	}

	for i := 0; i < 10; i++ {
		again, err := Open(items, seeds, 0)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if again.Item.ID != first.Item.ID || again.RandomValue != first.RandomValue || again.Digest != first.Digest {
			t.Fatalf("Open not deterministic: %+v != %+v", again, first)
		}
	}
}

func TestOpenNormalizesByActualSum(t *testing.T) {
	seeds := engine.Seeds{Server: "faircore_server_seed", Client: "alpha"}

	// Same relative weights at three different scales select the same item
	// for the same roll.
	for _, scale := range []float64{1, 100, 0.001} {
		items := []Item{
			{ID: "a", Odds: 2 * scale},
			{ID: "b", Odds: 1 * scale},
			{ID: "c", Odds: 1 * scale},
		}
		out, err := Open(items, seeds, 1) // roll 0.7398710052342785 → band (0.5, 0.75] → b
		if err != nil {
			t.Fatalf("Open(scale=%f): %v", scale, err)
		}
		if out.Item.ID != "b" {
			t.Errorf("scale %f: winner = %s, want b", scale, out.Item.ID)
		}
	}
}

func TestOpenEmptyList(t *testing.T) {
	seeds := engine.Seeds{Server: "s", Client: "c"}
	if _, err := Open(nil, seeds, 0); err != ErrEmptyItemList {
		t.Errorf("Open(nil) err = %v, want ErrEmptyItemList", err)
	}
}

func TestOpenZeroWeight(t *testing.T) {
	seeds := engine.Seeds{Server: "s", Client: "c"}
	items := []Item{{ID: "a", Odds: 0}, {ID: "b", Odds: 0}}
	if _, err := Open(items, seeds, 0); err != ErrNoPositiveWeight {
		t.Errorf("Open(zero odds) err = %v, want ErrNoPositiveWeight", err)
	}
}

// Empirical selection frequency converges to odds/totalOdds. 100k trials
// with a 5-sigma band on each item keeps this deterministic in practice
// while still catching any bias in the walk.
func TestOpenDistribution(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping distribution test in short mode")
	}

	items := testItems()
	seeds := engine.Seeds{Server: "distribution_server_seed", Client: "distribution_client"}
	const trials = 100000

	counts := make(map[string]int)
	for nonce := uint64(0); nonce < trials; nonce++ {
		out, err := Open(items, seeds, nonce)
		if err != nil {
			t.Fatalf("Open(nonce=%d): %v", nonce, err)
		}
		counts[out.Item.ID]++
	}

	for _, it := range items {
		p := it.Odds / 100.0
		got := float64(counts[it.ID]) / trials
		sigma := math.Sqrt(p * (1 - p) / trials)
		if math.Abs(got-p) > 5*sigma {
			t.Errorf("item %s: frequency %.5f, expected %.5f ±%.5f", it.ID, got, p, 5*sigma)
		}
	}
}

func TestBoxValidate(t *testing.T) {
	tests := []struct {
		name    string
		box     Box
		wantErr bool
	}{
		{
			name:    "valid box",
			box:     Box{ID: "b1", Price: dec("4.99"), Items: testItems()},
			wantErr: false,
		},
		{
			name:    "sum inside tolerance",
			box:     Box{ID: "b2", Items: []Item{{ID: "a", Odds: 33.33}, {ID: "b", Odds: 33.33}, {ID: "c", Odds: 33.34}}},
			wantErr: false,
		},
		{
			name:    "sum off by too much",
			box:     Box{ID: "b3", Items: []Item{{ID: "a", Odds: 60}, {ID: "b", Odds: 60}}},
			wantErr: true,
		},
		{
			name:    "empty items",
			box:     Box{ID: "b4"},
			wantErr: true,
		},
		{
			name:    "negative odds",
			box:     Box{ID: "b5", Items: []Item{{ID: "a", Odds: 110}, {ID: "b", Odds: -10}}},
			wantErr: true,
		},
		{
			name:    "negative value",
			box:     Box{ID: "b6", Items: []Item{{ID: "a", Value: dec("-1"), Odds: 100}}},
			wantErr: true,
		},
		{
			name:    "negative price",
			box:     Box{ID: "b7", Price: dec("-0.01"), Items: []Item{{ID: "a", Odds: 100}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.box.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
