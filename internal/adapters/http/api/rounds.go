package api

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/internal/domain/types"
	"github.com/okian/versus/pkg/metrics"
)

// handleRound handles POST /rounds.
func (s *Server) handleRound(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_round"
	var req types.RoundRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(r.Context(), w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(r.Context(), w, WrapKind(op, ErrBadRequest, err))
		return
	}

	res, err := s.deps.ProcessRound(r.Context(), req.PlayerID, req.DomainChoices(s.now()))
	if err != nil {
		s.writeError(r.Context(), w, fmt.Errorf("%s: %w", op, err))
		return
	}
	writeJSON(w, http.StatusOK, roundResponse(res.UpdatedScores, res.Elapsed.Milliseconds()))
}

// handleRoundAsync handles POST /rounds/async. A round id seen before is
// acknowledged as a duplicate and not queued again.
func (s *Server) handleRoundAsync(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_round_async"
	var req types.RoundRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(r.Context(), w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if req.RoundID == "" {
		s.writeError(r.Context(), w, WrapKind(op, ErrBadRequest, fmt.Errorf("roundId is required")))
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(r.Context(), w, WrapKind(op, ErrBadRequest, err))
		return
	}

	if s.deps.SeenAndRecord(r.Context(), req.RoundID) {
		metrics.RecordRoundDuplicate()
		writeJSON(w, http.StatusOK, types.AsyncRoundResponse{Status: "duplicate", Duplicate: true})
		return
	}

	now := s.now()
	job := model.RoundJob{
		RoundID:     req.RoundID,
		PlayerID:    req.PlayerID,
		Choices:     req.DomainChoices(now),
		SubmittedAt: now,
	}
	if err := s.deps.Enqueue(r.Context(), job); err != nil {
		s.deps.Unrecord(r.Context(), req.RoundID)
		s.writeError(r.Context(), w, WrapKind(op, ErrBackpressure, err))
		return
	}
	writeJSON(w, http.StatusAccepted, types.AsyncRoundResponse{Status: "accepted"})
}

// handleScores handles GET /players/{playerId}/scores.
func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_scores"
	playerID := r.PathValue("playerId")
	if playerID == "" {
		s.writeError(r.Context(), w, WrapKind(op, ErrBadRequest, fmt.Errorf("playerId is required")))
		return
	}

	scores, err := s.deps.PlayerScores(r.Context(), playerID)
	if err != nil {
		s.writeError(r.Context(), w, fmt.Errorf("%s: %w", op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.ScoresResponse{PlayerID: playerID, Scores: rankScores(scores)})
}

// rankScores orders scores highest first, ties by item id.
func rankScores(scores map[string]float64) []types.ScoreEntry {
	out := make([]types.ScoreEntry, 0, len(scores))
	for id, v := range scores {
		out = append(out, types.ScoreEntry{ItemID: id, Score: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out
}

func roundResponse(scores map[string]float64, elapsedMs int64) types.RoundResponse {
	if scores == nil {
		scores = map[string]float64{}
	}
	return types.RoundResponse{UpdatedScores: scores, ElapsedTimeMs: elapsedMs}
}
