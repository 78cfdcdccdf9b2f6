// Package battle orchestrates multi-player box battles: N players open the
// same box for R rounds, and deterministic comparator plus tie-break rules
// reduce the rolls to a single ranked outcome.
package battle

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openloot/faircore/internal/box"
	"github.com/openloot/faircore/internal/engine"
)

var (
	ErrBattleNotFound   = errors.New("battle: not found")
	ErrBattleFull       = errors.New("battle: all slots occupied")
	ErrBattleNotActive  = errors.New("battle: not in ACTIVE state")
	ErrBattleFinished   = errors.New("battle: already finished")
	ErrAlreadyJoined    = errors.New("battle: player already occupies a slot")
	ErrInvalidSlotCount = errors.New("battle: slot count must be 2, 4, or 6")
	ErrInvalidRounds    = errors.New("battle: round count must be at least 1")
	ErrNotAPlayer       = errors.New("battle: player does not occupy a slot")

	ErrBattleNotFinished = errors.New("battle: winnings claimable only after FINISHED")
	ErrNotWinner         = errors.New("battle: only the winner may claim")
	ErrAlreadyClaimed    = errors.New("battle: winnings already claimed")
	ErrNoClaimableItem   = errors.New("battle: no claimable item on record")
	ErrUnknownClaim      = errors.New("battle: claim must be POT or ITEM")
)

// Mode selects the round comparator. CRAZY inverts it: the lowest item
// value wins.
type Mode string

const (
	ModeNormal Mode = "NORMAL"
	ModeCrazy  Mode = "CRAZY"
)

// Status is the battle lifecycle state.
type Status string

const (
	StatusWaiting  Status = "WAITING"
	StatusActive   Status = "ACTIVE"
	StatusFinished Status = "FINISHED"
)

// Phase is the per-round presentation cycle within an ACTIVE battle.
type Phase string

const (
	PhaseAnticipation Phase = "ANTICIPATION"
	PhaseSpinning     Phase = "SPINNING"
	PhaseRevealed     Phase = "REVEALED"
)

// ClaimKind is how a finished battle's winnings are settled: the full
// pot in the currency ledger, or the final round's item shipped as a
// physical prize. The two are mutually exclusive; earlier rounds' items
// are never claimable.
type ClaimKind string

const (
	ClaimPot  ClaimKind = "POT"
	ClaimItem ClaimKind = "ITEM"
)

// Player is an occupied slot. Rounds and Total are append-only until the
// battle finishes.
type Player struct {
	ID         string          `json:"id"`
	SlotIndex  int             `json:"slot_index"`
	ClientSeed string          `json:"client_seed"`
	Total      decimal.Decimal `json:"total"`
	Rounds     []box.Outcome   `json:"rounds"`
	Forfeited  bool            `json:"forfeited"`
}

// Battle is the live state owned by the Machine from ACTIVE to FINISHED.
// The slot list is fixed-size; nil-free invariants are kept by only ever
// appending occupied players and tracking SlotCount separately, so an
// ACTIVE battle always has exactly SlotCount players.
type Battle struct {
	mu sync.Mutex

	ID        string
	Box       box.Box
	Price     decimal.Decimal
	Mode      Mode
	SlotCount int

	// RoundCount grows dynamically under sudden death; declaredRounds
	// keeps the authored value, which decides the tie semantics.
	RoundCount     int
	declaredRounds int

	Status       Status
	Phase        Phase
	CurrentRound int // 1-based; the next round to resolve

	players []*Player

	seeds          engine.Seeds // battle-scoped seed pair
	ServerSeedHash string

	WinnerID string

	// ClaimableItem is the winner's final-round item, set on finish.
	// Claim stays empty until the winner settles.
	ClaimableItem *box.Item
	Claim         ClaimKind

	CreatedAt  time.Time
	FinishedAt *time.Time
}

// PlayerOutcome pairs one player's roll with its provenance for a round.
type PlayerOutcome struct {
	PlayerID  string      `json:"player_id"`
	SlotIndex int         `json:"slot_index"`
	Outcome   box.Outcome `json:"outcome"`
}

// RoundResult is the fully-resolved result of one round.
type RoundResult struct {
	Round       int             `json:"round"`
	TieAttempt  int             `json:"tie_attempt"` // re-roll attempts consumed before this resolution
	Outcomes    []PlayerOutcome `json:"outcomes"`
	WinnerID    string          `json:"winner_id,omitempty"` // empty when the round tied (multi-round battles)
	SuddenDeath bool            `json:"sudden_death"`        // an extra round was scheduled
	Finished    bool            `json:"finished"`
}

// View is a read-only snapshot of a battle for external callers.
type View struct {
	ID             string          `json:"id"`
	BoxID          string          `json:"box_id"`
	Price          decimal.Decimal `json:"price"`
	Mode           Mode            `json:"mode"`
	Status         Status          `json:"status"`
	Phase          Phase           `json:"phase"`
	SlotCount      int             `json:"slot_count"`
	RoundCount     int             `json:"round_count"`
	CurrentRound   int             `json:"current_round"`
	Players        []Player        `json:"players"`
	ServerSeedHash string          `json:"server_seed_hash"`
	WinnerID       string          `json:"winner_id,omitempty"`
	ClaimableItem  *box.Item       `json:"claimable_item,omitempty"`
	Claim          ClaimKind       `json:"claim,omitempty"`
}

func (b *Battle) view() View {
	players := make([]Player, len(b.players))
	for i, p := range b.players {
		players[i] = *p
	}
	v := View{
		ID:             b.ID,
		BoxID:          b.Box.ID,
		Price:          b.Price,
		Mode:           b.Mode,
		Status:         b.Status,
		Phase:          b.Phase,
		SlotCount:      b.SlotCount,
		RoundCount:     b.RoundCount,
		CurrentRound:   b.CurrentRound,
		Players:        players,
		ServerSeedHash: b.ServerSeedHash,
		WinnerID:       b.WinnerID,
		Claim:          b.Claim,
	}
	if b.ClaimableItem != nil {
		item := *b.ClaimableItem
		v.ClaimableItem = &item
	}
	return v
}

// active returns the non-forfeited players in slot order.
func (b *Battle) active() []*Player {
	out := make([]*Player, 0, len(b.players))
	for _, p := range b.players {
		if !p.Forfeited {
			out = append(out, p)
		}
	}
	return out
}

func (b *Battle) player(id string) *Player {
	for _, p := range b.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func validSlotCount(n int) bool {
	return n == 2 || n == 4 || n == 6
}
