package battle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/openloot/faircore/internal/box"
	"github.com/openloot/faircore/internal/engine"
	"github.com/openloot/faircore/internal/seeds"
	"github.com/openloot/faircore/internal/store"
)

// maxTieAttempts bounds the single-round tie re-roll loop. Adversarial
// item tables full of equal values would otherwise spin forever; past the
// cap the round falls back to comparing raw random values, which the
// distinct per-player nonces keep strictly ordered in practice.
const maxTieAttempts = 10

// Machine owns every battle from ACTIVE to FINISHED. All mutation of a
// battle's round and score state happens under that battle's lock, so
// rounds resolve fully and strictly in sequence.
type Machine struct {
	mu      sync.RWMutex
	battles map[string]*Battle

	db     store.DB
	logger *log.Logger
}

// CreateParams describes a battle to open. ServerSeed is optional: the
// lobby may supply a pre-committed seed, otherwise the machine generates
// one and publishes its hash on the battle.
type CreateParams struct {
	Box               box.Box
	Price             decimal.Decimal
	SlotCount         int
	Mode              Mode
	Rounds            int
	CreatorID         string
	CreatorClientSeed string
	ServerSeed        string
}

func NewMachine(db store.DB) *Machine {
	return &Machine{
		battles: make(map[string]*Battle),
		db:      db,
		logger:  log.New(os.Stdout, "[BATTLE] ", log.LstdFlags|log.LUTC),
	}
}

// Create opens a battle in WAITING with the creator in slot 0.
func (m *Machine) Create(p CreateParams) (View, error) {
	if !validSlotCount(p.SlotCount) {
		return View{}, ErrInvalidSlotCount
	}
	if p.Rounds < 1 {
		return View{}, ErrInvalidRounds
	}
	if err := p.Box.Validate(); err != nil {
		return View{}, err
	}
	if p.Mode != ModeNormal && p.Mode != ModeCrazy {
		return View{}, fmt.Errorf("battle: unknown mode %q", p.Mode)
	}

	serverSeed := p.ServerSeed
	if serverSeed == "" {
		var err error
		serverSeed, err = newBattleSeed()
		if err != nil {
			return View{}, fmt.Errorf("generate battle seed: %w", err)
		}
	}

	b := &Battle{
		Box:            p.Box,
		Price:          p.Price,
		Mode:           p.Mode,
		SlotCount:      p.SlotCount,
		RoundCount:     p.Rounds,
		declaredRounds: p.Rounds,
		Status:         StatusWaiting,
		seeds:          engine.Seeds{Server: serverSeed},
		ServerSeedHash: seeds.HashSeed(serverSeed),
		CreatedAt:      time.Now().UTC(),
	}
	b.players = append(b.players, &Player{
		ID:         p.CreatorID,
		SlotIndex:  0,
		ClientSeed: p.CreatorClientSeed,
		Total:      decimal.Zero,
	})

	rec := &store.BattleRecord{
		BoxID:          p.Box.ID,
		Mode:           string(p.Mode),
		Status:         string(StatusWaiting),
		Rounds:         p.Rounds,
		SlotCount:      p.SlotCount,
		Price:          p.Price,
		ServerSeedHash: b.ServerSeedHash,
	}
	if err := m.db.SaveBattle(rec); err != nil {
		return View{}, err
	}
	b.ID = rec.ID

	if err := m.db.SaveBattlePlayer(&store.BattlePlayerRecord{
		BattleID: b.ID, PlayerID: p.CreatorID, SlotIndex: 0, Total: decimal.Zero,
	}); err != nil {
		return View{}, err
	}
	m.debitEntry(p.CreatorID, b)

	m.mu.Lock()
	m.battles[b.ID] = b
	m.mu.Unlock()

	m.logger.Printf("battle_created battle_id=%s box_id=%s mode=%s slots=%d rounds=%d seed_hash=%s",
		b.ID, p.Box.ID, p.Mode, p.SlotCount, p.Rounds, b.ServerSeedHash)
	return b.view(), nil
}

// Join seats a player in the next free slot. Filling the last slot flips
// the battle to ACTIVE and freezes the composite client seed.
func (m *Machine) Join(battleID, playerID, clientSeed string) (View, error) {
	b, err := m.get(battleID)
	if err != nil {
		return View{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Status != StatusWaiting {
		if b.Status == StatusFinished {
			return View{}, ErrBattleFinished
		}
		return View{}, ErrBattleFull
	}
	if b.player(playerID) != nil {
		return View{}, ErrAlreadyJoined
	}
	if len(b.players) >= b.SlotCount {
		return View{}, ErrBattleFull
	}

	player := &Player{
		ID:         playerID,
		SlotIndex:  len(b.players),
		ClientSeed: clientSeed,
		Total:      decimal.Zero,
	}
	b.players = append(b.players, player)

	if err := m.db.SaveBattlePlayer(&store.BattlePlayerRecord{
		BattleID: b.ID, PlayerID: playerID, SlotIndex: player.SlotIndex, Total: decimal.Zero,
	}); err != nil {
		b.players = b.players[:len(b.players)-1]
		return View{}, err
	}
	m.debitEntry(playerID, b)

	if len(b.players) == b.SlotCount {
		m.activate(b)
	}
	return b.view(), nil
}

// activate flips WAITING to ACTIVE. Caller holds b.mu.
func (m *Machine) activate(b *Battle) {
	parts := make([]string, len(b.players))
	for i, p := range b.players {
		if p.ClientSeed != "" {
			parts[i] = p.ClientSeed
		} else {
			parts[i] = p.ID
		}
	}
	b.seeds.Client = strings.Join(parts, ":")
	b.Status = StatusActive
	b.Phase = PhaseAnticipation
	b.CurrentRound = 1

	m.persistBattle(b)
	m.logger.Printf("battle_active battle_id=%s players=%d", b.ID, len(b.players))
}

// AdvanceRound resolves the next round: one outcome per active player,
// computed concurrently, then comparator and tie rules applied as a unit.
// A failure computing any player's outcome aborts the whole round with no
// state change.
func (m *Machine) AdvanceRound(ctx context.Context, battleID string) (*RoundResult, error) {
	b, err := m.get(battleID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Status != StatusActive {
		return nil, ErrBattleNotActive
	}

	b.Phase = PhaseSpinning
	result, err := m.resolveRound(ctx, b)
	if err != nil {
		b.Phase = PhaseAnticipation
		return nil, err
	}

	b.Phase = PhaseRevealed
	m.applyRound(b, result)
	return result, nil
}

// resolveRound rolls the current round, re-rolling on single-round ties.
// It mutates nothing; applyRound commits the result.
func (m *Machine) resolveRound(ctx context.Context, b *Battle) (*RoundResult, error) {
	single := b.declaredRounds == 1
	round := b.CurrentRound

	for attempt := 0; ; attempt++ {
		outs, err := m.rollRound(ctx, b, round, attempt)
		if err != nil {
			return nil, fmt.Errorf("round %d aborted: %w", round, err)
		}

		winnerIdx, tied := roundWinner(outs, b.Mode)

		if single && tied && len(outs) > 1 {
			if attempt+1 >= maxTieAttempts {
				// Deterministic fallback: best raw random value wins,
				// lowest slot index on the (measure-zero) exact collision.
				winnerIdx = tiebreakByRandom(outs, b.Mode)
				m.logger.Printf("battle_tie_cap battle_id=%s round=%d attempts=%d winner=%s",
					b.ID, round, attempt+1, outs[winnerIdx].PlayerID)
				return &RoundResult{Round: round, TieAttempt: attempt, Outcomes: outs,
					WinnerID: outs[winnerIdx].PlayerID}, nil
			}
			m.logger.Printf("battle_tie_reroll battle_id=%s round=%d attempt=%d", b.ID, round, attempt+1)
			continue
		}

		winnerID := ""
		if !tied {
			winnerID = outs[winnerIdx].PlayerID
		}
		return &RoundResult{Round: round, TieAttempt: attempt, Outcomes: outs, WinnerID: winnerID}, nil
	}
}

// rollRound computes one outcome per active player concurrently. Players
// share no mutable state here: each reads only its own nonce derivation.
func (m *Machine) rollRound(ctx context.Context, b *Battle, round, attempt int) ([]PlayerOutcome, error) {
	players := b.active()
	outs := make([]PlayerOutcome, len(players))

	g, ctx := errgroup.WithContext(ctx)
	for i, p := range players {
		i, p := i, p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			nonce := engine.BattleNonce(p.ID, round, p.SlotIndex, b.ID, attempt)
			out, err := box.Open(b.Box.Items, b.seeds, nonce)
			if err != nil {
				return fmt.Errorf("player %s: %w", p.ID, err)
			}
			outs[i] = PlayerOutcome{PlayerID: p.ID, SlotIndex: p.SlotIndex, Outcome: out}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outs, nil
}

// applyRound commits a resolved round: scoring, persistence, round or
// battle advancement. Caller holds b.mu.
func (m *Machine) applyRound(b *Battle, result *RoundResult) {
	single := b.declaredRounds == 1

	rows := make([]store.RoundRow, 0, len(result.Outcomes))
	for _, po := range result.Outcomes {
		p := b.player(po.PlayerID)
		p.Rounds = append(p.Rounds, po.Outcome)

		// Single-round battles award only the winner's item; multi-round
		// battles accumulate every player's item every round.
		if !single || po.PlayerID == result.WinnerID {
			p.Total = p.Total.Add(po.Outcome.Item.Value)
		}

		rows = append(rows, store.RoundRow{
			BattleID:    b.ID,
			Round:       result.Round,
			TieAttempt:  result.TieAttempt,
			PlayerID:    po.PlayerID,
			SlotIndex:   po.SlotIndex,
			Nonce:       po.Outcome.Nonce,
			Digest:      po.Outcome.Digest,
			RandomValue: po.Outcome.RandomValue,
			ItemID:      po.Outcome.Item.ID,
			ItemValue:   po.Outcome.Item.Value,
		})
	}

	// Audit persistence is a resource fault when it fails: the resolved
	// round stands, the gap is repaired offline from the seed pair.
	if err := m.db.SaveRoundRows(rows); err != nil {
		m.logger.Printf("battle_persist_error battle_id=%s round=%d error=%q", b.ID, result.Round, err.Error())
	}
	m.persistPlayers(b)

	b.CurrentRound++

	if single {
		m.finish(b, result.WinnerID)
		result.Finished = true
		return
	}

	if b.CurrentRound <= b.RoundCount {
		b.Phase = PhaseAnticipation
		return
	}

	// All declared rounds complete: an exact tie between the top two
	// totals adds one more round instead of finishing.
	ranked := rankPlayers(b.active(), b.Mode)
	if len(ranked) >= 2 && ranked[0].Total.Equal(ranked[1].Total) {
		b.RoundCount++
		b.Phase = PhaseAnticipation
		result.SuddenDeath = true
		m.logger.Printf("battle_sudden_death battle_id=%s extra_round=%d total=%s",
			b.ID, b.RoundCount, ranked[0].Total)
		return
	}

	m.finish(b, ranked[0].ID)
	result.Finished = true
	result.WinnerID = ranked[0].ID
}

// Forfeit abandons a player's slot between rounds. Round resolution holds
// the battle lock, so a forfeit can never land mid-round.
func (m *Machine) Forfeit(battleID, playerID string) (View, error) {
	b, err := m.get(battleID)
	if err != nil {
		return View{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Status == StatusFinished {
		return View{}, ErrBattleFinished
	}
	if b.Status != StatusActive {
		return View{}, ErrBattleNotActive
	}
	p := b.player(playerID)
	if p == nil {
		return View{}, ErrNotAPlayer
	}
	if p.Forfeited {
		return b.view(), nil
	}

	p.Forfeited = true
	if err := m.db.UpdateBattlePlayer(&store.BattlePlayerRecord{
		BattleID: b.ID, PlayerID: p.ID, SlotIndex: p.SlotIndex, Total: p.Total, Forfeited: true,
	}); err != nil {
		m.logger.Printf("battle_persist_error battle_id=%s player=%s error=%q", b.ID, p.ID, err.Error())
	}
	m.logger.Printf("battle_forfeit battle_id=%s player=%s", b.ID, p.ID)

	if remaining := b.active(); len(remaining) == 1 {
		m.finish(b, remaining[0].ID)
	}
	return b.view(), nil
}

// Get returns a snapshot of a battle.
func (m *Machine) Get(battleID string) (View, error) {
	b, err := m.get(battleID)
	if err != nil {
		return View{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.view(), nil
}

// finish moves the battle to its terminal state and records the
// winner's final-round item as the claimable prize. The winnings stay
// uncredited until Claim settles them. Caller holds b.mu.
func (m *Machine) finish(b *Battle, winnerID string) {
	now := time.Now().UTC()
	b.Status = StatusFinished
	b.Phase = PhaseRevealed
	b.WinnerID = winnerID
	b.FinishedAt = &now

	// Only the final round's item is physically claimable. A winner by
	// forfeit before any round resolved has no item and can only take
	// the pot.
	claimableID := ""
	if w := b.player(winnerID); w != nil && len(w.Rounds) > 0 {
		item := w.Rounds[len(w.Rounds)-1].Item
		b.ClaimableItem = &item
		claimableID = item.ID
	}

	m.persistBattle(b)
	m.persistPlayers(b)

	m.logger.Printf("battle_finished battle_id=%s winner=%s rounds=%d claimable_item=%s",
		b.ID, winnerID, b.CurrentRound-1, claimableID)
}

// Claim settles a finished battle's winnings for the winner: the full
// pot in the currency ledger, or the final round's item. Exactly one
// claim is ever credited.
func (m *Machine) Claim(battleID, playerID string, kind ClaimKind) (View, error) {
	b, err := m.get(battleID)
	if err != nil {
		return View{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Status != StatusFinished {
		return View{}, ErrBattleNotFinished
	}
	if playerID != b.WinnerID {
		return View{}, ErrNotWinner
	}
	if b.Claim != "" {
		return View{}, ErrAlreadyClaimed
	}

	entry := store.LedgerEntry{UserID: playerID, Ref: b.ID}
	switch kind {
	case ClaimPot:
		entry.Kind = store.LedgerCreditPot
		entry.Amount = b.Price.Mul(decimal.NewFromInt(int64(b.SlotCount)))
	case ClaimItem:
		if b.ClaimableItem == nil {
			return View{}, ErrNoClaimableItem
		}
		entry.Kind = store.LedgerCreditItem
		entry.Amount = b.ClaimableItem.Value
	default:
		return View{}, ErrUnknownClaim
	}

	// The credit is the payout itself, so a persistence failure fails
	// the claim instead of being logged away.
	if err := m.db.AppendLedger(entry); err != nil {
		return View{}, err
	}
	b.Claim = kind
	m.persistBattle(b)

	m.logger.Printf("battle_claimed battle_id=%s player=%s claim=%s amount=%s",
		b.ID, playerID, kind, entry.Amount)
	return b.view(), nil
}

func (m *Machine) get(battleID string) (*Battle, error) {
	m.mu.RLock()
	b, ok := m.battles[battleID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrBattleNotFound
	}
	return b, nil
}

func (m *Machine) persistBattle(b *Battle) {
	rec := &store.BattleRecord{
		ID:             b.ID,
		BoxID:          b.Box.ID,
		Mode:           string(b.Mode),
		Status:         string(b.Status),
		Rounds:         b.RoundCount,
		SlotCount:      b.SlotCount,
		Price:          b.Price,
		ServerSeedHash: b.ServerSeedHash,
		ClientSeed:     b.seeds.Client,
		WinnerID:       b.WinnerID,
		Claim:          string(b.Claim),
		FinishedAt:     b.FinishedAt,
	}
	if b.ClaimableItem != nil {
		rec.ClaimItemID = b.ClaimableItem.ID
	}
	if err := m.db.UpdateBattle(rec); err != nil {
		m.logger.Printf("battle_persist_error battle_id=%s error=%q", b.ID, err.Error())
	}
}

func (m *Machine) persistPlayers(b *Battle) {
	for _, p := range b.players {
		err := m.db.UpdateBattlePlayer(&store.BattlePlayerRecord{
			BattleID: b.ID, PlayerID: p.ID, SlotIndex: p.SlotIndex, Total: p.Total, Forfeited: p.Forfeited,
		})
		if err != nil {
			m.logger.Printf("battle_persist_error battle_id=%s player=%s error=%q", b.ID, p.ID, err.Error())
		}
	}
}

func (m *Machine) debitEntry(playerID string, b *Battle) {
	err := m.db.AppendLedger(store.LedgerEntry{
		UserID: playerID, Kind: store.LedgerDebitJoin, Ref: b.ID, Amount: b.Price,
	})
	if err != nil {
		m.logger.Printf("battle_persist_error battle_id=%s ledger=debit_join error=%q", b.ID, err.Error())
	}
}

// roundWinner returns the index of the best outcome under the mode's
// comparator and whether the best value is shared by two or more players.
func roundWinner(outs []PlayerOutcome, mode Mode) (int, bool) {
	best := 0
	for i := 1; i < len(outs); i++ {
		if betterValue(outs[i].Outcome.Item.Value, outs[best].Outcome.Item.Value, mode) {
			best = i
		}
	}
	tied := false
	for i, po := range outs {
		if i != best && po.Outcome.Item.Value.Equal(outs[best].Outcome.Item.Value) {
			tied = true
			break
		}
	}
	return best, tied
}

// tiebreakByRandom orders tied players by raw random value under the
// mode's direction, lowest slot index last-resort.
func tiebreakByRandom(outs []PlayerOutcome, mode Mode) int {
	best := 0
	for i := 1; i < len(outs); i++ {
		a, b := outs[i].Outcome.RandomValue, outs[best].Outcome.RandomValue
		betterRand := a > b
		if mode == ModeCrazy {
			betterRand = a < b
		}
		if betterRand {
			best = i
		}
	}
	return best
}

// rankPlayers sorts actives best-total first under the mode's comparator,
// slot order on exact ties.
func rankPlayers(players []*Player, mode Mode) []*Player {
	ranked := make([]*Player, len(players))
	copy(ranked, players)
	sort.SliceStable(ranked, func(i, j int) bool {
		return betterValue(ranked[i].Total, ranked[j].Total, mode)
	})
	return ranked
}

func betterValue(a, b decimal.Decimal, mode Mode) bool {
	if mode == ModeCrazy {
		return a.LessThan(b)
	}
	return a.GreaterThan(b)
}

func newBattleSeed() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
