package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openloot/faircore/internal/battle"
	"github.com/openloot/faircore/internal/reel"
	"github.com/openloot/faircore/internal/replay"
)

// handleSeedCommit provisions a seed pair and publishes its commitment.
// Idempotent: an existing pair is returned unchanged.
func (s *Server) handleSeedCommit(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if err := decode(r, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "invalid JSON body")
		return
	}
	if req.UserID == "" {
		s.errorHandler.HandleValidationError(w, r, "user_id", "user_id is required")
		return
	}

	hash, err := s.registry.Commit(req.UserID)
	if err != nil {
		s.errorHandler.HandleDomainError(w, r, err)
		return
	}
	pair, err := s.registry.Pair(req.UserID)
	if err != nil {
		s.errorHandler.HandleDomainError(w, r, err)
		return
	}

	s.securityLogger.LogSeedCommit(middleware.GetReqID(r.Context()), req.UserID, hash)
	s.writeJSON(w, http.StatusOK, CommitResponse{
		UserID:         req.UserID,
		ServerSeedHash: hash,
		ClientSeed:     pair.ClientSeed,
		Nonce:          pair.Nonce,
		EngineVersion:  EngineVersion,
	})
}

// handleSeedRotate reveals the outgoing seed and commits the next one.
func (s *Server) handleSeedRotate(w http.ResponseWriter, r *http.Request) {
	var req RotateRequest
	if err := decode(r, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "invalid JSON body")
		return
	}
	if req.UserID == "" {
		s.errorHandler.HandleValidationError(w, r, "user_id", "user_id is required")
		return
	}

	revealed, nextHash, err := s.registry.Rotate(req.UserID)
	if err != nil {
		s.errorHandler.HandleDomainError(w, r, err)
		return
	}

	s.securityLogger.LogSeedRotation(middleware.GetReqID(r.Context()),
		req.UserID, revealed.ServerSeedHash, nextHash, revealed.FinalNonce)
	s.writeJSON(w, http.StatusOK, RotateResponse{
		Revealed:      revealed,
		NextSeedHash:  nextHash,
		EngineVersion: EngineVersion,
	})
}

// handleClientSeed replaces the user's client seed without touching the
// nonce stream.
func (s *Server) handleClientSeed(w http.ResponseWriter, r *http.Request) {
	var req ClientSeedRequest
	if err := decode(r, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "invalid JSON body")
		return
	}
	if req.UserID == "" {
		s.errorHandler.HandleValidationError(w, r, "user_id", "user_id is required")
		return
	}

	if err := s.registry.SetClientSeed(req.UserID, req.ClientSeed); err != nil {
		s.errorHandler.HandleDomainError(w, r, err)
		return
	}
	pair, err := s.registry.Pair(req.UserID)
	if err != nil {
		s.errorHandler.HandleDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, CommitResponse{
		UserID:         req.UserID,
		ServerSeedHash: pair.ServerSeedHash,
		ClientSeed:     pair.ClientSeed,
		Nonce:          pair.Nonce,
		EngineVersion:  EngineVersion,
	})
}

func (s *Server) handleListBoxes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, BoxesResponse{
		Boxes:         s.catalog.List(),
		EngineVersion: EngineVersion,
	})
}

// handleOpenBox opens one box at the presented nonce. Replay or
// skip-ahead of the nonce stream is rejected before any state moves.
func (s *Server) handleOpenBox(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := decode(r, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "invalid JSON body")
		return
	}
	if req.UserID == "" {
		s.errorHandler.HandleValidationError(w, r, "user_id", "user_id is required")
		return
	}
	if req.BoxID == "" {
		s.errorHandler.HandleValidationError(w, r, "box_id", "box_id is required")
		return
	}

	b, err := s.catalog.Get(req.BoxID)
	if err != nil {
		s.errorHandler.HandleDomainError(w, r, err)
		return
	}

	out, rec, err := s.registry.OpenBox(req.UserID, b, req.Nonce)
	if err != nil {
		s.errorHandler.HandleDomainError(w, r, err)
		return
	}

	sequence := reel.Sequence(b.Items, out)
	reelIDs := make([]string, len(sequence))
	for i, it := range sequence {
		reelIDs[i] = it.ID
	}

	s.securityLogger.LogOutcomeOperation(middleware.GetReqID(r.Context()),
		req.UserID, req.BoxID, out.Nonce, out.Item.ID, out.RandomValue)
	s.writeJSON(w, http.StatusOK, OpenResponse{
		Outcome:       out,
		Reel:          reelIDs,
		WinnerIndex:   reel.WinnerIndex,
		NextNonce:     rec.Nonce + 1,
		EngineVersion: EngineVersion,
	})
}

// handleListOutcomes pages a user's audit trail, newest first.
func (s *Server) handleListOutcomes(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.errorHandler.HandleValidationError(w, r, "user_id", "user_id is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	outcomes, err := s.db.ListOutcomes(userID, limit, offset)
	if err != nil {
		s.errorHandler.HandleDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, OutcomesResponse{
		Outcomes:      outcomes,
		EngineVersion: EngineVersion,
	})
}

// handleVerify recomputes one outcome from a revealed seed pair.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req replay.VerifyRequest
	if err := decode(r, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "invalid JSON body")
		return
	}
	if req.ServerSeedHash == "" {
		s.errorHandler.HandleValidationError(w, r, "server_seed_hash", "server_seed_hash is required")
		return
	}

	// A caller holding only the published commitment gets the revealed
	// seed resolved from the rotation archive.
	if req.ServerSeed == "" {
		revealed, err := s.db.GetRevealedSeed(req.ServerSeedHash)
		if err != nil {
			s.errorHandler.HandleDomainError(w, r, err)
			return
		}
		req.ServerSeed = revealed.ServerSeed
	}

	result, err := replay.Verify(req)
	if err != nil {
		s.errorHandler.HandleDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, VerifyResponse{
		Result:        result,
		Valid:         true,
		EngineVersion: EngineVersion,
	})
}

// handleScan recomputes a nonce range for distribution audits.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req replay.Request
	if err := decode(r, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "invalid JSON body")
		return
	}

	s.securityLogger.LogScanOperation(middleware.GetReqID(r.Context()),
		req.Seeds.Server, req.Seeds.Client, req.NonceStart, req.NonceEnd, req.Limit, req.TimeoutMs)

	result, err := s.verifier.Scan(r.Context(), req)
	if err != nil {
		s.errorHandler.HandleDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ScanResponse{
		Result:        result,
		EngineVersion: EngineVersion,
	})
}

// handleBattleCreate opens a battle lobby with the creator in slot 0.
func (s *Server) handleBattleCreate(w http.ResponseWriter, r *http.Request) {
	var req BattleCreateRequest
	if err := decode(r, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "invalid JSON body")
		return
	}
	if req.CreatorID == "" {
		s.errorHandler.HandleValidationError(w, r, "creator_id", "creator_id is required")
		return
	}

	b, err := s.catalog.Get(req.BoxID)
	if err != nil {
		s.errorHandler.HandleDomainError(w, r, err)
		return
	}
	price := req.Price
	if price.IsZero() {
		price = b.Price
	}
	mode := battle.Mode(req.Mode)
	if mode == "" {
		mode = battle.ModeNormal
	}

	view, err := s.machine.Create(battle.CreateParams{
		Box:               b,
		Price:             price,
		SlotCount:         req.SlotCount,
		Mode:              mode,
		Rounds:            req.Rounds,
		CreatorID:         req.CreatorID,
		CreatorClientSeed: req.ClientSeed,
	})
	if err != nil {
		s.errorHandler.HandleDomainError(w, r, err)
		return
	}

	s.securityLogger.LogBattleEvent(middleware.GetReqID(r.Context()), view.ID, "created",
		map[string]interface{}{"box_id": b.ID, "mode": string(mode), "slots": req.SlotCount})
	s.writeJSON(w, http.StatusCreated, BattleResponse{
		Battle:        view,
		EngineVersion: EngineVersion,
	})
}

func (s *Server) handleBattleGet(w http.ResponseWriter, r *http.Request) {
	view, err := s.machine.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.errorHandler.HandleDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, BattleResponse{
		Battle:        view,
		EngineVersion: EngineVersion,
	})
}

func (s *Server) handleBattleJoin(w http.ResponseWriter, r *http.Request) {
	var req BattleJoinRequest
	if err := decode(r, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "invalid JSON body")
		return
	}
	if req.PlayerID == "" {
		s.errorHandler.HandleValidationError(w, r, "player_id", "player_id is required")
		return
	}

	battleID := chi.URLParam(r, "id")
	view, err := s.machine.Join(battleID, req.PlayerID, req.ClientSeed)
	if err != nil {
		s.errorHandler.HandleDomainError(w, r, err)
		return
	}

	s.securityLogger.LogBattleEvent(middleware.GetReqID(r.Context()), battleID, "joined",
		map[string]interface{}{"player_id": req.PlayerID, "status": string(view.Status)})
	s.writeJSON(w, http.StatusOK, BattleResponse{
		Battle:        view,
		EngineVersion: EngineVersion,
	})
}

// handleBattleAdvance resolves the next round.
func (s *Server) handleBattleAdvance(w http.ResponseWriter, r *http.Request) {
	battleID := chi.URLParam(r, "id")

	result, err := s.machine.AdvanceRound(r.Context(), battleID)
	if err != nil {
		s.errorHandler.HandleDomainError(w, r, err)
		return
	}
	view, err := s.machine.Get(battleID)
	if err != nil {
		s.errorHandler.HandleDomainError(w, r, err)
		return
	}

	s.securityLogger.LogBattleEvent(middleware.GetReqID(r.Context()), battleID, "round_resolved",
		map[string]interface{}{
			"round":        result.Round,
			"winner":       result.WinnerID,
			"tie_attempt":  result.TieAttempt,
			"sudden_death": result.SuddenDeath,
			"finished":     result.Finished,
		})
	s.writeJSON(w, http.StatusOK, AdvanceResponse{
		Round:         result,
		Battle:        view,
		EngineVersion: EngineVersion,
	})
}

func (s *Server) handleBattleForfeit(w http.ResponseWriter, r *http.Request) {
	var req BattleForfeitRequest
	if err := decode(r, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "invalid JSON body")
		return
	}
	if req.PlayerID == "" {
		s.errorHandler.HandleValidationError(w, r, "player_id", "player_id is required")
		return
	}

	battleID := chi.URLParam(r, "id")
	view, err := s.machine.Forfeit(battleID, req.PlayerID)
	if err != nil {
		s.errorHandler.HandleDomainError(w, r, err)
		return
	}

	s.securityLogger.LogBattleEvent(middleware.GetReqID(r.Context()), battleID, "forfeit",
		map[string]interface{}{"player_id": req.PlayerID, "status": string(view.Status)})
	s.writeJSON(w, http.StatusOK, BattleResponse{
		Battle:        view,
		EngineVersion: EngineVersion,
	})
}

// handleBattleClaim settles a finished battle's winnings: the pot or the
// final round's item, winner-only and exactly once.
func (s *Server) handleBattleClaim(w http.ResponseWriter, r *http.Request) {
	var req BattleClaimRequest
	if err := decode(r, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "invalid JSON body")
		return
	}
	if req.PlayerID == "" {
		s.errorHandler.HandleValidationError(w, r, "player_id", "player_id is required")
		return
	}
	var kind battle.ClaimKind
	switch req.Claim {
	case string(battle.ClaimPot):
		kind = battle.ClaimPot
	case string(battle.ClaimItem):
		kind = battle.ClaimItem
	default:
		s.errorHandler.HandleValidationError(w, r, "claim", "claim must be POT or ITEM")
		return
	}

	battleID := chi.URLParam(r, "id")
	view, err := s.machine.Claim(battleID, req.PlayerID, kind)
	if err != nil {
		s.errorHandler.HandleDomainError(w, r, err)
		return
	}

	s.securityLogger.LogBattleEvent(middleware.GetReqID(r.Context()), battleID, "claimed",
		map[string]interface{}{"player_id": req.PlayerID, "claim": req.Claim})
	s.writeJSON(w, http.StatusOK, BattleResponse{
		Battle:        view,
		EngineVersion: EngineVersion,
	})
}
