package store

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteDB: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedPairFixture(userID string) *SeedPair {
	return &SeedPair{
		UserID:         userID,
		ServerSeed:     "server_seed_" + userID,
		ServerSeedHash: "hash_" + userID,
		ClientSeed:     "client_seed",
		Nonce:          0,
	}
}

func TestSeedPairRoundTrip(t *testing.T) {
	db := newTestDB(t)

	if _, err := db.GetSeedPair("nobody"); err != ErrSeedPairNotFound {
		t.Errorf("GetSeedPair(missing) err = %v, want ErrSeedPairNotFound", err)
	}

	pair := seedPairFixture("u1")
	if err := db.PutSeedPair(pair); err != nil {
		t.Fatalf("PutSeedPair: %v", err)
	}

	got, err := db.GetSeedPair("u1")
	if err != nil {
		t.Fatalf("GetSeedPair: %v", err)
	}
	if got.ServerSeed != pair.ServerSeed || got.ServerSeedHash != pair.ServerSeedHash ||
		got.ClientSeed != pair.ClientSeed || got.Nonce != 0 {
		t.Errorf("GetSeedPair = %+v, want %+v", got, pair)
	}
}

func TestUpdateClientSeedKeepsNonce(t *testing.T) {
	db := newTestDB(t)
	pair := seedPairFixture("u1")
	if err := db.PutSeedPair(pair); err != nil {
		t.Fatalf("PutSeedPair: %v", err)
	}

	rec := &OutcomeRecord{
		UserID: "u1", BoxID: "b1", ServerSeedHash: pair.ServerSeedHash,
		ClientSeed: "client_seed", Nonce: 0, Digest: "d0", RandomValue: 0.5,
		ItemID: "item", ItemValue: decimal.NewFromInt(1),
	}
	if err := db.RecordOutcome(rec, nil); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	if err := db.UpdateClientSeed("u1", "fresh_seed"); err != nil {
		t.Fatalf("UpdateClientSeed: %v", err)
	}

	got, err := db.GetSeedPair("u1")
	if err != nil {
		t.Fatalf("GetSeedPair: %v", err)
	}
	if got.ClientSeed != "fresh_seed" {
		t.Errorf("ClientSeed = %s, want fresh_seed", got.ClientSeed)
	}
	if got.Nonce != 1 {
		t.Errorf("Nonce = %d, want 1 (client seed change must not reset nonce)", got.Nonce)
	}

	if err := db.UpdateClientSeed("nobody", "x"); err != ErrSeedPairNotFound {
		t.Errorf("UpdateClientSeed(missing) err = %v, want ErrSeedPairNotFound", err)
	}
}

func TestRecordOutcomeNonceGuard(t *testing.T) {
	db := newTestDB(t)
	pair := seedPairFixture("u1")
	if err := db.PutSeedPair(pair); err != nil {
		t.Fatalf("PutSeedPair: %v", err)
	}

	rec := func(nonce uint64) *OutcomeRecord {
		return &OutcomeRecord{
			UserID: "u1", BoxID: "b1", ServerSeedHash: pair.ServerSeedHash,
			ClientSeed: "client_seed", Nonce: nonce, Digest: "d", RandomValue: 0.1,
			ItemID: "item", ItemValue: decimal.NewFromInt(2),
		}
	}

	// Skipping ahead is rejected just like replaying.
	if err := db.RecordOutcome(rec(5), nil); err != ErrNonceMismatch {
		t.Errorf("skip-ahead err = %v, want ErrNonceMismatch", err)
	}

	debit := &LedgerEntry{UserID: "u1", Kind: LedgerDebitOpen, Ref: "b1", Amount: decimal.NewFromFloat(4.99)}
	if err := db.RecordOutcome(rec(0), debit); err != nil {
		t.Fatalf("RecordOutcome(0): %v", err)
	}

	// Replay of an accepted nonce.
	if err := db.RecordOutcome(rec(0), nil); err != ErrNonceMismatch {
		t.Errorf("replay err = %v, want ErrNonceMismatch", err)
	}

	// Stale seed commitment.
	stale := rec(1)
	stale.ServerSeedHash = "other_hash"
	if err := db.RecordOutcome(stale, nil); err != ErrSeedHashMismatch {
		t.Errorf("stale hash err = %v, want ErrSeedHashMismatch", err)
	}

	got, err := db.GetSeedPair("u1")
	if err != nil {
		t.Fatalf("GetSeedPair: %v", err)
	}
	if got.Nonce != 1 {
		t.Errorf("Nonce = %d, want 1 (rejections must not advance)", got.Nonce)
	}

	records, err := db.ListOutcomes("u1", 10, 0)
	if err != nil {
		t.Fatalf("ListOutcomes: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	if records[0].Nonce != 0 || !records[0].ItemValue.Equal(decimal.NewFromInt(2)) {
		t.Errorf("audit record = %+v", records[0])
	}
}

func TestRecordOutcomeMonotonicSequence(t *testing.T) {
	db := newTestDB(t)
	if err := db.PutSeedPair(seedPairFixture("u1")); err != nil {
		t.Fatalf("PutSeedPair: %v", err)
	}

	for nonce := uint64(0); nonce < 5; nonce++ {
		rec := &OutcomeRecord{
			UserID: "u1", BoxID: "b1", ServerSeedHash: "hash_u1",
			ClientSeed: "client_seed", Nonce: nonce, Digest: "d", RandomValue: 0.3,
			ItemID: "item", ItemValue: decimal.NewFromInt(1),
		}
		if err := db.RecordOutcome(rec, nil); err != nil {
			t.Fatalf("RecordOutcome(%d): %v", nonce, err)
		}
	}

	got, _ := db.GetSeedPair("u1")
	if got.Nonce != 5 {
		t.Errorf("Nonce = %d, want 5", got.Nonce)
	}
}

func TestRotateSeedPair(t *testing.T) {
	db := newTestDB(t)
	pair := seedPairFixture("u1")
	if err := db.PutSeedPair(pair); err != nil {
		t.Fatalf("PutSeedPair: %v", err)
	}

	// Burn a nonce so rotation has something to reset.
	rec := &OutcomeRecord{
		UserID: "u1", BoxID: "b1", ServerSeedHash: pair.ServerSeedHash,
		ClientSeed: "client_seed", Nonce: 0, Digest: "d", RandomValue: 0.7,
		ItemID: "item", ItemValue: decimal.NewFromInt(1),
	}
	if err := db.RecordOutcome(rec, nil); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	revealed, err := db.RotateSeedPair("u1", "new_seed", "new_hash")
	if err != nil {
		t.Fatalf("RotateSeedPair: %v", err)
	}
	if revealed.ServerSeed != pair.ServerSeed || revealed.ServerSeedHash != pair.ServerSeedHash {
		t.Errorf("revealed = %+v, want outgoing seed pair", revealed)
	}
	if revealed.FinalNonce != 1 {
		t.Errorf("FinalNonce = %d, want 1 (one nonce consumed)", revealed.FinalNonce)
	}

	got, err := db.GetSeedPair("u1")
	if err != nil {
		t.Fatalf("GetSeedPair: %v", err)
	}
	if got.ServerSeed != "new_seed" || got.ServerSeedHash != "new_hash" {
		t.Errorf("active pair = %+v, want rotated values", got)
	}
	if got.Nonce != 0 {
		t.Errorf("Nonce = %d, want 0 after rotation", got.Nonce)
	}

	archived, err := db.GetRevealedSeed(pair.ServerSeedHash)
	if err != nil {
		t.Fatalf("GetRevealedSeed: %v", err)
	}
	if archived.ServerSeed != pair.ServerSeed {
		t.Errorf("archived seed = %s, want %s", archived.ServerSeed, pair.ServerSeed)
	}

	if _, err := db.RotateSeedPair("nobody", "s", "h"); err != ErrSeedPairNotFound {
		t.Errorf("RotateSeedPair(missing) err = %v, want ErrSeedPairNotFound", err)
	}
}

func TestBattlePersistence(t *testing.T) {
	db := newTestDB(t)

	b := &BattleRecord{
		BoxID: "box1", Mode: "NORMAL", Status: "WAITING", Rounds: 3, SlotCount: 2,
		Price: decimal.NewFromFloat(9.99), ServerSeedHash: "bh",
	}
	if err := db.SaveBattle(b); err != nil {
		t.Fatalf("SaveBattle: %v", err)
	}
	if b.ID == "" {
		t.Fatal("SaveBattle did not assign an id")
	}

	for i, pid := range []string{"p1", "p2"} {
		p := &BattlePlayerRecord{BattleID: b.ID, PlayerID: pid, SlotIndex: i, Total: decimal.Zero}
		if err := db.SaveBattlePlayer(p); err != nil {
			t.Fatalf("SaveBattlePlayer: %v", err)
		}
	}

	rows := []RoundRow{
		{BattleID: b.ID, Round: 1, PlayerID: "p1", SlotIndex: 0, Nonce: 11, Digest: "d1",
			RandomValue: 0.2, ItemID: "a", ItemValue: decimal.NewFromInt(100)},
		{BattleID: b.ID, Round: 1, PlayerID: "p2", SlotIndex: 1, Nonce: 12, Digest: "d2",
			RandomValue: 0.8, ItemID: "b", ItemValue: decimal.NewFromInt(5)},
	}
	if err := db.SaveRoundRows(rows); err != nil {
		t.Fatalf("SaveRoundRows: %v", err)
	}

	now := time.Now().UTC()
	b.Status = "FINISHED"
	b.WinnerID = "p1"
	b.Claim = "ITEM"
	b.ClaimItemID = "a"
	b.FinishedAt = &now
	if err := db.UpdateBattle(b); err != nil {
		t.Fatalf("UpdateBattle: %v", err)
	}

	got, players, err := db.GetBattle(b.ID)
	if err != nil {
		t.Fatalf("GetBattle: %v", err)
	}
	if got.Status != "FINISHED" || got.WinnerID != "p1" || got.FinishedAt == nil {
		t.Errorf("battle = %+v", got)
	}
	if got.Claim != "ITEM" || got.ClaimItemID != "a" {
		t.Errorf("claim = %s/%s, want ITEM/a", got.Claim, got.ClaimItemID)
	}
	if !got.Price.Equal(decimal.NewFromFloat(9.99)) {
		t.Errorf("price = %s, want 9.99", got.Price)
	}
	if len(players) != 2 || players[0].PlayerID != "p1" || players[1].SlotIndex != 1 {
		t.Errorf("players = %+v", players)
	}

	stored, err := db.ListRoundRows(b.ID)
	if err != nil {
		t.Fatalf("ListRoundRows: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(stored))
	}
	if !stored[0].ItemValue.Equal(decimal.NewFromInt(100)) {
		t.Errorf("row value = %s, want 100", stored[0].ItemValue)
	}

	if _, _, err := db.GetBattle("missing"); err != ErrBattleNotFound {
		t.Errorf("GetBattle(missing) err = %v, want ErrBattleNotFound", err)
	}
}

func TestAppendLedger(t *testing.T) {
	db := newTestDB(t)

	err := db.AppendLedger(
		LedgerEntry{UserID: "u1", Kind: LedgerCreditPot, Ref: "battle1", Amount: decimal.NewFromInt(20)},
		LedgerEntry{UserID: "u2", Kind: LedgerDebitJoin, Ref: "battle1", Amount: decimal.NewFromInt(10)},
	)
	if err != nil {
		t.Fatalf("AppendLedger: %v", err)
	}

	var count int
	if err := db.db.QueryRow(`SELECT COUNT(*) FROM ledger_entries`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("ledger rows = %d, want 2", count)
	}

	entries, err := db.ListLedger("u1", 10)
	if err != nil {
		t.Fatalf("ListLedger: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("u1 entries = %d, want 1", len(entries))
	}
	if entries[0].Kind != LedgerCreditPot || !entries[0].Amount.Equal(decimal.NewFromInt(20)) {
		t.Errorf("entry = %s %s, want credit_pot 20", entries[0].Kind, entries[0].Amount)
	}
}

// Storage failures carry ErrPersistence so the error taxonomy can file
// them as resource faults rather than generic internals.
func TestPersistenceErrorsAreTagged(t *testing.T) {
	db := newTestDB(t)

	// Foreign key violation: no such battle.
	err := db.SaveBattlePlayer(&BattlePlayerRecord{
		BattleID: "ghost", PlayerID: "p1", SlotIndex: 0, Total: decimal.Zero,
	})
	if err == nil {
		t.Fatal("SaveBattlePlayer succeeded against a missing battle")
	}
	if !errors.Is(err, ErrPersistence) {
		t.Errorf("err = %v, want ErrPersistence in chain", err)
	}

	// Duplicate primary key on the seed pair table.
	if err := db.PutSeedPair(seedPairFixture("u1")); err != nil {
		t.Fatalf("PutSeedPair: %v", err)
	}
	err = db.PutSeedPair(seedPairFixture("u1"))
	if !errors.Is(err, ErrPersistence) {
		t.Errorf("duplicate insert err = %v, want ErrPersistence in chain", err)
	}
}
