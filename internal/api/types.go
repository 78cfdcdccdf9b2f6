package api

import (
	"github.com/shopspring/decimal"

	"github.com/openloot/faircore/internal/battle"
	"github.com/openloot/faircore/internal/box"
	"github.com/openloot/faircore/internal/replay"
	"github.com/openloot/faircore/internal/store"
)

// EngineError represents a structured error response with context
type EngineError struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// Error implements the error interface
func (e EngineError) Error() string {
	return e.Message
}

// Error types with proper categorization
const (
	// Input validation errors
	ErrTypeInvalidSeed = "invalid_seed"
	ErrTypeValidation  = "validation_error"

	// Integrity errors: trust-impacting faults that must never be
	// conflated with ordinary bad requests
	ErrTypeFairnessViolation = "fairness_violation"
	ErrTypeNonceReplay       = "nonce_replay"

	// State errors
	ErrTypeBoxNotFound    = "box_not_found"
	ErrTypeSeedsNotFound  = "seeds_not_found"
	ErrTypeBattleNotFound = "battle_not_found"
	ErrTypeBattleState    = "battle_state_error"

	// System errors
	ErrTypeTimeout     = "timeout"
	ErrTypeInternal    = "internal_error"
	ErrTypePersistence = "persistence_error"
)

// ErrorCategory represents error categories for monitoring
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryIntegrity  ErrorCategory = "integrity"
	CategoryState      ErrorCategory = "state"
	CategoryResource   ErrorCategory = "resource"
	CategoryTimeout    ErrorCategory = "timeout"
	CategorySystem     ErrorCategory = "system"
)

// GetErrorCategory returns the category for an error type
func GetErrorCategory(errType string) ErrorCategory {
	switch errType {
	case ErrTypeInvalidSeed, ErrTypeValidation:
		return CategoryValidation
	case ErrTypeFairnessViolation, ErrTypeNonceReplay:
		return CategoryIntegrity
	case ErrTypeBoxNotFound, ErrTypeSeedsNotFound, ErrTypeBattleNotFound, ErrTypeBattleState:
		return CategoryState
	case ErrTypePersistence:
		return CategoryResource
	case ErrTypeTimeout:
		return CategoryTimeout
	default:
		return CategorySystem
	}
}

// VersionInfo contains engine version information
type VersionInfo struct {
	EngineVersion string `json:"engine_version"`
	GitCommit     string `json:"git_commit,omitempty"`
	BuildTime     string `json:"build_time,omitempty"`
}

// CommitRequest provisions or fetches a user's committed seed pair
type CommitRequest struct {
	UserID string `json:"user_id"`
}

// CommitResponse publishes the commitment: the hash, never the seed
type CommitResponse struct {
	UserID         string `json:"user_id"`
	ServerSeedHash string `json:"server_seed_hash"`
	ClientSeed     string `json:"client_seed"`
	Nonce          uint64 `json:"nonce"`
	EngineVersion  string `json:"engine_version"`
}

// RotateRequest rotates a user's server seed
type RotateRequest struct {
	UserID string `json:"user_id"`
}

// RotateResponse reveals the outgoing seed and commits the next one
type RotateResponse struct {
	Revealed      *store.RevealedSeed `json:"revealed"`
	NextSeedHash  string              `json:"next_seed_hash"`
	EngineVersion string              `json:"engine_version"`
}

// ClientSeedRequest replaces a user's client seed
type ClientSeedRequest struct {
	UserID     string `json:"user_id"`
	ClientSeed string `json:"client_seed"`
}

// OpenRequest opens one box for a user at their current nonce. The nonce
// is presented explicitly so a stale client cannot silently consume a
// different nonce than it displayed.
type OpenRequest struct {
	UserID string `json:"user_id"`
	BoxID  string `json:"box_id"`
	Nonce  uint64 `json:"nonce"`
}

// OpenResponse is the resolved outcome with its reel presentation
type OpenResponse struct {
	Outcome       box.Outcome `json:"outcome"`
	Reel          []string    `json:"reel"`         // item ids, winner at the fixed index
	WinnerIndex   int         `json:"winner_index"` // position of the outcome item in the reel
	NextNonce     uint64      `json:"next_nonce"`
	EngineVersion string      `json:"engine_version"`
}

// VerifyResponse is the recomputed outcome for a revealed seed
type VerifyResponse struct {
	Result        *replay.VerifyResult `json:"result"`
	Valid         bool                 `json:"valid"`
	EngineVersion string               `json:"engine_version"`
}

// ScanResponse wraps a range recomputation audit
type ScanResponse struct {
	Result        *replay.Result `json:"result"`
	EngineVersion string         `json:"engine_version"`
}

// BattleCreateRequest opens a battle lobby
type BattleCreateRequest struct {
	BoxID      string          `json:"box_id"`
	Price      decimal.Decimal `json:"price"` // 0 = box list price
	SlotCount  int             `json:"slot_count"`
	Mode       string          `json:"mode"` // NORMAL or CRAZY
	Rounds     int             `json:"rounds"`
	CreatorID  string          `json:"creator_id"`
	ClientSeed string          `json:"client_seed"`
}

// BattleJoinRequest seats a player
type BattleJoinRequest struct {
	PlayerID   string `json:"player_id"`
	ClientSeed string `json:"client_seed"`
}

// BattleForfeitRequest abandons a player's slot
type BattleForfeitRequest struct {
	PlayerID string `json:"player_id"`
}

// BattleClaimRequest settles a finished battle's winnings
type BattleClaimRequest struct {
	PlayerID string `json:"player_id"`
	Claim    string `json:"claim"` // POT or ITEM
}

// BattleResponse is a battle snapshot
type BattleResponse struct {
	Battle        battle.View `json:"battle"`
	EngineVersion string      `json:"engine_version"`
}

// AdvanceResponse is one resolved round
type AdvanceResponse struct {
	Round         *battle.RoundResult `json:"round"`
	Battle        battle.View         `json:"battle"`
	EngineVersion string              `json:"engine_version"`
}

// BoxesResponse lists the catalog
type BoxesResponse struct {
	Boxes         []box.Box `json:"boxes"`
	EngineVersion string    `json:"engine_version"`
}

// OutcomesResponse pages a user's audit trail
type OutcomesResponse struct {
	Outcomes      []store.OutcomeRecord `json:"outcomes"`
	EngineVersion string                `json:"engine_version"`
}
