package api

import (
	"fmt"
	"net/http"

	"github.com/okian/versus/internal/domain/round"
	"github.com/okian/versus/internal/domain/session"
	"github.com/okian/versus/internal/domain/types"
)

// handleStartSession handles POST /sessions.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	const op = "api.start_session"
	var req types.SessionStartRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(r.Context(), w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(r.Context(), w, WrapKind(op, ErrBadRequest, err))
		return
	}
	var policy round.Policy
	if req.Policy != "" {
		p, err := round.ParsePolicy(req.Policy)
		if err != nil {
			s.writeError(r.Context(), w, fmt.Errorf("%s: %w", op, err))
			return
		}
		policy = p
	}

	v, err := s.deps.StartSession(r.Context(), session.StartRequest{
		PlayerID:  req.PlayerID,
		Policy:    policy,
		Tags:      req.Tags,
		BatchSize: req.BatchSize,
	})
	if err != nil {
		s.writeError(r.Context(), w, fmt.Errorf("%s: %w", op, err))
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse(v))
}

// handleGetSession handles GET /sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	v, err := s.deps.GetSession(r.PathValue("id"))
	if err != nil {
		s.writeError(r.Context(), w, fmt.Errorf("api.get_session: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(v))
}

// handlePick handles POST /sessions/{id}/picks.
func (s *Server) handlePick(w http.ResponseWriter, r *http.Request) {
	const op = "api.pick"
	var req types.PickRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(r.Context(), w, WrapKind(op, ErrBadRequest, err))
		return
	}
	slot, err := round.ParseSlot(req.Slot)
	if err != nil {
		s.writeError(r.Context(), w, fmt.Errorf("%s: %w", op, err))
		return
	}

	v, err := s.deps.PickSession(r.Context(), r.PathValue("id"), slot)
	if err != nil {
		s.writeError(r.Context(), w, fmt.Errorf("%s: %w", op, err))
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(v))
}

func sessionResponse(v session.View) types.SessionResponse {
	out := types.SessionResponse{
		SessionID: v.ID,
		PlayerID:  v.PlayerID,
		Policy:    v.Policy.String(),
		Status:    v.Status.String(),
		Slots:     v.Slots[:],
		Choices:   types.WireChoices(v.Choices),
		Supplied:  v.Supplied,
	}
	if v.Result != nil {
		res := roundResponse(v.Result.UpdatedScores, v.Result.Elapsed.Milliseconds())
		out.Result = &res
	}
	return out
}
