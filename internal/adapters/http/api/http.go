// Package api serves the round, score and session endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/versus/internal/domain/dedupe"
	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/internal/domain/propagation"
	"github.com/okian/versus/internal/domain/round"
	"github.com/okian/versus/internal/domain/session"
	"github.com/okian/versus/internal/domain/types"
	"github.com/okian/versus/pkg/logger"
)

const maxBodyBytes = 1 << 20

// RoundDependencies serve round submission and score reads.
type RoundDependencies interface {
	dedupe.Deduper

	ProcessRound(ctx context.Context, playerID string, choices []model.Choice) (propagation.Result, error)
	// Enqueue hands a round to the async workers. Any error is backpressure.
	Enqueue(ctx context.Context, job model.RoundJob) error
	PlayerScores(ctx context.Context, playerID string) (map[string]float64, error)
}

// SessionDependencies serve server-side rounds.
type SessionDependencies interface {
	StartSession(ctx context.Context, req session.StartRequest) (session.View, error)
	PickSession(ctx context.Context, id string, slot round.Slot) (session.View, error)
	GetSession(id string) (session.View, error)
}

// Dependencies required by HTTP handlers.
type Dependencies interface {
	RoundDependencies
	SessionDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps  Dependencies
	stats *StatsHandler
	now   func() time.Time
	log   logger.Logger
}

// NewServer creates a new API server.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		deps:  deps,
		stats: NewStatsHandler(statsProvider),
		now:   time.Now,
		log:   logger.Component("api"),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.stats.HandleStats, "stats"))
	mux.Handle("GET /metrics", MetricsHandler())

	mux.HandleFunc("POST /rounds", MetricsMiddleware(s.handleRound, "rounds"))
	mux.HandleFunc("POST /rounds/async", MetricsMiddleware(s.handleRoundAsync, "rounds_async"))
	mux.HandleFunc("GET /players/{playerId}/scores", MetricsMiddleware(s.handleScores, "scores"))

	mux.HandleFunc("POST /sessions", MetricsMiddleware(s.handleStartSession, "sessions"))
	mux.HandleFunc("GET /sessions/{id}", MetricsMiddleware(s.handleGetSession, "session"))
	mux.HandleFunc("POST /sessions/{id}/picks", MetricsMiddleware(s.handlePick, "session_picks"))
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status, code := classify(err)
	body := types.ErrorResponse{Error: code, Message: err.Error()}

	var missing *propagation.MissingItemsError
	if errors.As(err, &missing) {
		body.Missing = missing.IDs
	}
	if status >= http.StatusInternalServerError {
		s.log.Error(ctx, "request failed", logger.String("code", code), logger.Error(err))
	}
	writeJSON(w, status, body)
}
