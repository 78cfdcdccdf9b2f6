package replay

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/openloot/faircore/internal/box"
	"github.com/openloot/faircore/internal/engine"
	"github.com/openloot/faircore/internal/seeds"
)

var auditSeeds = engine.Seeds{Server: "revealed_server_seed", Client: "audit-client"}

func auditItems() []box.Item {
	return []box.Item{
		{ID: "common", Value: decimal.NewFromInt(1), Odds: 70},
		{ID: "rare", Value: decimal.NewFromInt(25), Odds: 25},
		{ID: "jackpot", Value: decimal.NewFromInt(500), Odds: 5},
	}
}

func TestScanRecomputesEveryNonce(t *testing.T) {
	v := NewVerifier()
	res, err := v.Scan(context.Background(), Request{
		Seeds:      auditSeeds,
		Items:      auditItems(),
		NonceStart: 0,
		NonceEnd:   999,
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if res.Summary.TotalEvaluated != 1000 {
		t.Errorf("TotalEvaluated = %d, want 1000", res.Summary.TotalEvaluated)
	}
	if len(res.Hits) != 1000 {
		t.Fatalf("hits = %d, want 1000 (no target filter)", len(res.Hits))
	}

	// Hits come back in nonce order regardless of worker interleaving.
	for i := 1; i < len(res.Hits); i++ {
		if res.Hits[i].Nonce <= res.Hits[i-1].Nonce {
			t.Fatalf("hits out of order at %d: %d then %d", i, res.Hits[i-1].Nonce, res.Hits[i].Nonce)
		}
	}

	// Every hit must reproduce the engine derivation exactly.
	for _, h := range []Hit{res.Hits[0], res.Hits[500], res.Hits[999]} {
		value, digest := engine.Float(auditSeeds, h.Nonce)
		if h.Digest != digest || h.RandomValue != value {
			t.Errorf("nonce %d: hit (%s, %v) != engine (%s, %v)", h.Nonce, h.Digest, h.RandomValue, digest, value)
		}
	}

	var counted uint64
	for _, ic := range res.Distribution {
		counted += ic.Count
	}
	if counted != 1000 {
		t.Errorf("distribution counts sum to %d, want 1000", counted)
	}
	if res.Distribution[0].ExpectedShare != 0.70 {
		t.Errorf("expected share = %v, want 0.70", res.Distribution[0].ExpectedShare)
	}
}

func TestScanItemTarget(t *testing.T) {
	v := NewVerifier()
	res, err := v.Scan(context.Background(), Request{
		Seeds:        auditSeeds,
		Items:        auditItems(),
		NonceStart:   0,
		NonceEnd:     4999,
		TargetOp:     OpItem,
		TargetItemID: "jackpot",
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	for _, h := range res.Hits {
		if h.ItemID != "jackpot" {
			t.Fatalf("nonce %d matched %q, want jackpot only", h.Nonce, h.ItemID)
		}
	}

	// The jackpot tally and the filtered hit list describe the same set.
	var jackpots uint64
	for _, ic := range res.Distribution {
		if ic.ItemID == "jackpot" {
			jackpots = ic.Count
		}
	}
	if uint64(len(res.Hits)) != jackpots {
		t.Errorf("hits = %d, distribution count = %d", len(res.Hits), jackpots)
	}
	if jackpots == 0 {
		t.Error("no jackpots in 5000 nonces at 5% odds")
	}
}

func TestScanValueTarget(t *testing.T) {
	v := NewVerifier()
	res, err := v.Scan(context.Background(), Request{
		Seeds:       auditSeeds,
		Items:       auditItems(),
		NonceStart:  0,
		NonceEnd:    999,
		TargetOp:    OpValueAbove,
		TargetValue: 0.95,
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	for _, h := range res.Hits {
		if h.RandomValue < 0.95 {
			t.Fatalf("nonce %d random value %v below target", h.Nonce, h.RandomValue)
		}
	}
	if len(res.Hits) == 0 {
		t.Error("no values >= 0.95 in 1000 nonces")
	}
}

func TestScanLimit(t *testing.T) {
	v := NewVerifier()
	res, err := v.Scan(context.Background(), Request{
		Seeds:      auditSeeds,
		Items:      auditItems(),
		NonceStart: 0,
		NonceEnd:   999,
		Limit:      10,
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Hits) != 10 {
		t.Errorf("hits = %d, want limit 10", len(res.Hits))
	}
	// The distribution still covers the full range even when the hit list
	// is truncated.
	if res.Summary.TotalEvaluated != 1000 {
		t.Errorf("TotalEvaluated = %d, want 1000", res.Summary.TotalEvaluated)
	}
}

func TestScanRequestValidation(t *testing.T) {
	v := NewVerifier()
	ctx := context.Background()

	if _, err := v.Scan(ctx, Request{Seeds: auditSeeds, Items: auditItems(), NonceStart: 10, NonceEnd: 5}); err != ErrInvalidRange {
		t.Errorf("inverted range err = %v, want ErrInvalidRange", err)
	}
	if _, err := v.Scan(ctx, Request{Seeds: auditSeeds, Items: auditItems(), NonceStart: 0, NonceEnd: MaxRangeSize + 5}); err != ErrRangeTooLarge {
		t.Errorf("oversized range err = %v, want ErrRangeTooLarge", err)
	}
	if _, err := v.Scan(ctx, Request{Seeds: auditSeeds, NonceStart: 0, NonceEnd: 10}); err != box.ErrEmptyItemList {
		t.Errorf("empty items err = %v, want ErrEmptyItemList", err)
	}
}

func TestScanCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := NewVerifier()
	res, err := v.Scan(ctx, Request{
		Seeds:      auditSeeds,
		Items:      auditItems(),
		NonceStart: 0,
		NonceEnd:   MaxRangeSize - 1,
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !res.Summary.TimedOut {
		t.Error("cancelled scan not flagged as timed out")
	}
}

func TestVerifyRecomputesOutcome(t *testing.T) {
	serverSeed := "revealed_server_seed"
	res, err := Verify(VerifyRequest{
		ServerSeed:     serverSeed,
		ServerSeedHash: seeds.HashSeed(serverSeed),
		ClientSeed:     "audit-client",
		Nonce:          42,
		Items:          auditItems(),
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	value, digest := engine.Float(auditSeeds, 42)
	if res.Outcome.RandomValue != value || res.Digest != digest {
		t.Errorf("recomputation mismatch: got (%v, %s), want (%v, %s)",
			res.Outcome.RandomValue, res.Digest, value, digest)
	}
	if res.Outcome.Nonce != 42 {
		t.Errorf("nonce = %d, want 42", res.Outcome.Nonce)
	}
}

func TestVerifyRejectsTamperedSeed(t *testing.T) {
	_, err := Verify(VerifyRequest{
		ServerSeed:     "a_different_seed",
		ServerSeedHash: seeds.HashSeed("revealed_server_seed"),
		ClientSeed:     "audit-client",
		Nonce:          0,
		Items:          auditItems(),
	})
	if err != seeds.ErrFairnessViolation {
		t.Errorf("err = %v, want ErrFairnessViolation", err)
	}
}
