package store

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNonceMismatch means the presented nonce is not the one the seed
	// pair expects. Treated as a potential replay attempt by callers and
	// never silently corrected.
	ErrNonceMismatch = errors.New("store: nonce does not match expected value")
	// ErrSeedPairNotFound means no seed pair has been provisioned for
	// the user.
	ErrSeedPairNotFound = errors.New("store: seed pair not found")
	// ErrSeedHashMismatch means the caller is bound to a different
	// server seed commitment than the active one.
	ErrSeedHashMismatch = errors.New("store: server seed hash mismatch")
	// ErrBattleNotFound means the battle id is unknown.
	ErrBattleNotFound = errors.New("store: battle not found")
	// ErrPersistence tags storage-layer failures so callers can separate
	// resource faults from domain rejections.
	ErrPersistence = errors.New("store: persistence failure")
)

// Ledger entry kinds. The ledger here is the reference implementation of
// the external bookkeeping collaborator: enough to make the outcome
// transaction atomic end to end. Balance accounting stays out of scope.
const (
	LedgerDebitOpen  = "debit_open"
	LedgerDebitJoin  = "debit_join"
	LedgerCreditPot  = "credit_pot"
	LedgerCreditItem = "credit_item"
)

// DB is the persistence interface for seed state, audit records, and
// battles.
type DB interface {
	Close() error
	Migrate() error

	// Seed lifecycle. RotateSeedPair archives the outgoing seed in the
	// revealed-seeds table and resets the nonce to zero in one
	// transaction.
	GetSeedPair(userID string) (*SeedPair, error)
	PutSeedPair(pair *SeedPair) error
	UpdateClientSeed(userID, clientSeed string) error
	RotateSeedPair(userID, newSeed, newHash string) (*RevealedSeed, error)
	GetRevealedSeed(serverSeedHash string) (*RevealedSeed, error)

	// RecordOutcome is the replay guard's transactional boundary: in a
	// single transaction it checks that rec.Nonce equals the stored
	// nonce (returning ErrNonceMismatch otherwise), advances the stored
	// nonce by one, appends the debit ledger entry, and inserts the
	// audit record.
	RecordOutcome(rec *OutcomeRecord, debit *LedgerEntry) error
	ListOutcomes(userID string, limit, offset int) ([]OutcomeRecord, error)

	AppendLedger(entries ...LedgerEntry) error
	ListLedger(userID string, limit int) ([]LedgerEntry, error)

	SaveBattle(b *BattleRecord) error
	UpdateBattle(b *BattleRecord) error
	SaveBattlePlayer(p *BattlePlayerRecord) error
	UpdateBattlePlayer(p *BattlePlayerRecord) error
	GetBattle(id string) (*BattleRecord, []BattlePlayerRecord, error)
	SaveRoundRows(rows []RoundRow) error
	ListRoundRows(battleID string) ([]RoundRow, error)
}

// SeedPair is the per-user commit-reveal state. ServerSeedHash is
// published before any outcome uses ServerSeed; Nonce strictly increases
// and resets only on rotation.
type SeedPair struct {
	UserID         string    `json:"user_id"`
	ServerSeed     string    `json:"-"`
	ServerSeedHash string    `json:"server_seed_hash"`
	ClientSeed     string    `json:"client_seed"`
	Nonce          uint64    `json:"nonce"`
	CreatedAt      time.Time `json:"created_at"`
}

// RevealedSeed is a retired server seed, published so third parties can
// verify every outcome it produced.
type RevealedSeed struct {
	UserID         string    `json:"user_id"`
	ServerSeed     string    `json:"server_seed"`
	ServerSeedHash string    `json:"server_seed_hash"`
	FinalNonce     uint64    `json:"final_nonce"` // nonces 0..FinalNonce-1 were consumed under this seed
	RevealedAt     time.Time `json:"revealed_at"`
}

// OutcomeRecord is the audit row persisted per accepted outcome. It holds
// everything a third party needs to recompute the outcome once the server
// seed is revealed.
type OutcomeRecord struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	BoxID          string          `json:"box_id"`
	ServerSeedHash string          `json:"server_seed_hash"`
	ClientSeed     string          `json:"client_seed"`
	Nonce          uint64          `json:"nonce"`
	Digest         string          `json:"digest"`
	RandomValue    float64         `json:"random_value"`
	ItemID         string          `json:"item_id"`
	ItemValue      decimal.Decimal `json:"item_value"`
	CreatedAt      time.Time       `json:"created_at"`
}

// LedgerEntry mirrors what the external ledger collaborator consumes.
type LedgerEntry struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Kind      string          `json:"kind"`
	Ref       string          `json:"ref"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// BattleRecord is the persisted battle header.
type BattleRecord struct {
	ID             string          `json:"id"`
	BoxID          string          `json:"box_id"`
	Mode           string          `json:"mode"`
	Status         string          `json:"status"`
	Rounds         int             `json:"rounds"`
	SlotCount      int             `json:"slot_count"`
	Price          decimal.Decimal `json:"price"`
	ServerSeedHash string          `json:"server_seed_hash"`
	ClientSeed     string          `json:"client_seed"`
	WinnerID       string          `json:"winner_id,omitempty"`
	Claim          string          `json:"claim,omitempty"`         // settled claim kind, empty until claimed
	ClaimItemID    string          `json:"claim_item_id,omitempty"` // the final round's claimable item
	CreatedAt      time.Time       `json:"created_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}

// BattlePlayerRecord is one occupied slot in a battle.
type BattlePlayerRecord struct {
	BattleID  string          `json:"battle_id"`
	PlayerID  string          `json:"player_id"`
	SlotIndex int             `json:"slot_index"`
	Total     decimal.Decimal `json:"total"`
	Forfeited bool            `json:"forfeited"`
}

// RoundRow is one player's outcome in one resolved battle round.
type RoundRow struct {
	ID          int64           `json:"id"`
	BattleID    string          `json:"battle_id"`
	Round       int             `json:"round"`
	TieAttempt  int             `json:"tie_attempt"`
	PlayerID    string          `json:"player_id"`
	SlotIndex   int             `json:"slot_index"`
	Nonce       uint64          `json:"nonce"`
	Digest      string          `json:"digest"`
	RandomValue float64         `json:"random_value"`
	ItemID      string          `json:"item_id"`
	ItemValue   decimal.Decimal `json:"item_value"`
}
