// Package propagation turns a finished round of pairwise choices into durable
// per-player preference scores.
//
// For each choice, in order, the winner gains Bonus plus the loser's current
// score, and every item one edge away from the winner gains weight times that
// same reward. Afterwards all of the player's scores are divided by their
// maximum so the best item sits at exactly 1.
//
// Scores are IEEE-754 float64. Normalization is the single division
// score/max, rounded to nearest-even by the hardware, with no further
// rounding.
package propagation

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/okian/versus/internal/adapters/repository"
	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/pkg/logger"
	"github.com/okian/versus/pkg/metrics"
)

// Bonus is the fixed reward a winner earns on top of the loser's score.
const Bonus = 1.0

// Result is the outcome of one processed round.
type Result struct {
	// UpdatedScores holds the normalized scores of every item the round
	// touched: both sides of every choice and every credited related item.
	UpdatedScores map[string]float64
	Elapsed       time.Duration
}

// Engine applies rounds. Calls for the same player are serialized; calls for
// different players run in parallel.
type Engine struct {
	catalog repository.ItemCatalog
	graph   repository.GraphStore
	scores  repository.ScoreStore
	locks   *keyedMutex

	maxChoices int
	log        logger.Logger
}

// New builds an engine over the given ports.
func New(catalog repository.ItemCatalog, graph repository.GraphStore, scores repository.ScoreStore, opts ...Option) (*Engine, error) {
	if catalog == nil || graph == nil || scores == nil {
		return nil, fmt.Errorf("%w: catalog, graph and score store are required", ErrInvalidArgument)
	}
	e := &Engine{
		catalog: catalog,
		graph:   graph,
		scores:  scores,
		locks:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Component("propagation")
	}
	return e, nil
}

// ProcessRound applies choices for playerID and returns the touched scores.
//
// It is deliberately not idempotent: submitting the same choices twice
// credits them twice. Once the score transaction starts, cancellation of ctx
// no longer interrupts it.
func (e *Engine) ProcessRound(ctx context.Context, playerID string, choices []model.Choice) (res Result, err error) {
	start := time.Now()
	defer func() {
		res.Elapsed = time.Since(start)
		if err != nil {
			metrics.RecordRoundFailed(failureReason(err))
			return
		}
		metrics.RecordRoundProcessed(len(choices))
		metrics.RecordPropagationLatency(float64(res.Elapsed.Microseconds()) / 1000)
	}()

	if err := e.validate(playerID, choices); err != nil {
		return Result{}, err
	}

	waitStart := time.Now()
	unlock := e.locks.Lock(playerID)
	defer unlock()
	metrics.RecordPlayerLockWait(float64(time.Since(waitStart).Microseconds()) / 1000)

	if len(choices) == 0 {
		if err := e.ensurePlayer(ctx, playerID); err != nil {
			return Result{}, err
		}
		return Result{UpdatedScores: map[string]float64{}}, nil
	}

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("process round: %w", err)
	}

	ids := model.ChoiceItemIDs(choices)
	missing, err := e.catalog.MissingItems(ctx, ids)
	if err != nil {
		return Result{}, fmt.Errorf("%w: check items: %w", ErrPersistence, err)
	}
	if len(missing) > 0 {
		e.log.Info(ctx, "round rejected: unknown items",
			logger.String("player", playerID),
			logger.Strings("missing", missing),
		)
		return Result{}, &MissingItemsError{IDs: missing}
	}

	adjacency, err := e.adjacency(ctx, ids)
	if err != nil {
		return Result{}, err
	}

	var updated map[string]float64
	txCtx := context.WithoutCancel(ctx)
	err = e.scores.WithinTx(txCtx, playerID, func(tx repository.ScoreTx) error {
		updated, err = e.apply(txCtx, tx, playerID, choices, ids, adjacency)
		return err
	})
	if err != nil {
		e.log.Error(ctx, "round persistence failed",
			logger.String("player", playerID),
			logger.Int("choices", len(choices)),
			logger.Error(err),
		)
		return Result{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	e.log.Debug(ctx, "round applied",
		logger.String("player", playerID),
		logger.Int("choices", len(choices)),
		logger.Int("updated", len(updated)),
	)
	return Result{UpdatedScores: updated}, nil
}

// ensurePlayer creates the player record for a round that changes no score.
func (e *Engine) ensurePlayer(ctx context.Context, playerID string) error {
	txCtx := context.WithoutCancel(ctx)
	err := e.scores.WithinTx(txCtx, playerID, func(tx repository.ScoreTx) error {
		return tx.EnsurePlayer(txCtx, playerID)
	})
	if err != nil {
		return fmt.Errorf("%w: ensure player: %w", ErrPersistence, err)
	}
	return nil
}

func (e *Engine) validate(playerID string, choices []model.Choice) error {
	if playerID == "" {
		return fmt.Errorf("%w: player id is required", ErrInvalidArgument)
	}
	if e.maxChoices > 0 && len(choices) > e.maxChoices {
		return fmt.Errorf("%w: %d choices exceeds the limit of %d", ErrInvalidArgument, len(choices), e.maxChoices)
	}
	for i, c := range choices {
		if c.Picked == "" || c.NotPicked == "" {
			return fmt.Errorf("%w: choice %d has an empty item id", ErrInvalidArgument, i)
		}
		if c.Picked == c.NotPicked {
			return fmt.Errorf("%w: choice %d picks %q over itself", ErrInvalidArgument, i, c.Picked)
		}
	}
	return nil
}

// adjacency loads the outgoing edges of ids and drops the ones that cannot
// carry credit: unknown targets and non-finite or non-positive weights. A self
// loop is an ordinary edge and credits its own item.
func (e *Engine) adjacency(ctx context.Context, ids []string) (map[string][]model.Edge, error) {
	edges, err := e.graph.OutgoingEdges(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: load edges: %w", ErrPersistence, err)
	}
	if len(edges) == 0 {
		return nil, nil
	}

	targets := make([]string, 0, len(edges))
	for _, ed := range edges {
		targets = append(targets, ed.To)
	}
	unknown, err := e.catalog.MissingItems(ctx, targets)
	if err != nil {
		return nil, fmt.Errorf("%w: check edge targets: %w", ErrPersistence, err)
	}
	isUnknown := make(map[string]struct{}, len(unknown))
	for _, id := range unknown {
		isUnknown[id] = struct{}{}
	}

	adj := make(map[string][]model.Edge, len(ids))
	for _, ed := range edges {
		reason := ""
		switch _, missing := isUnknown[ed.To]; {
		case missing:
			reason = "unknown_target"
		case math.IsNaN(ed.Weight) || math.IsInf(ed.Weight, 0):
			reason = "non_finite_weight"
		case ed.Weight <= 0:
			reason = "non_positive_weight"
		}
		if reason != "" {
			metrics.RecordSkippedEdge(reason)
			e.log.Debug(ctx, "skipping relationship edge",
				logger.String("from", ed.From),
				logger.String("to", ed.To),
				logger.Float64("weight", ed.Weight),
				logger.String("reason", reason),
			)
			continue
		}
		adj[ed.From] = append(adj[ed.From], ed)
	}
	return adj, nil
}

// apply runs the update and renormalization inside one score transaction.
func (e *Engine) apply(
	ctx context.Context,
	tx repository.ScoreTx,
	playerID string,
	choices []model.Choice,
	ids []string,
	adjacency map[string][]model.Edge,
) (map[string]float64, error) {
	if err := tx.EnsurePlayer(ctx, playerID); err != nil {
		return nil, fmt.Errorf("ensure player: %w", err)
	}

	relevant := slices.Clone(ids)
	for _, from := range ids {
		for _, ed := range adjacency[from] {
			relevant = append(relevant, ed.To)
		}
	}
	current, err := tx.GetScores(ctx, playerID, relevant)
	if err != nil {
		return nil, fmt.Errorf("read scores: %w", err)
	}

	touched, credits := Apply(current, choices, adjacency)
	metrics.RecordRelatedCredits(credits)

	changed := make(map[string]float64, len(touched))
	for _, id := range touched {
		changed[id] = current[id]
	}
	if err := tx.UpsertScores(ctx, playerID, changed); err != nil {
		return nil, fmt.Errorf("write scores: %w", err)
	}

	all, err := tx.GetAllScores(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("read all scores: %w", err)
	}
	if Normalize(all) {
		metrics.RecordNormalization()
		if err := tx.UpsertScores(ctx, playerID, all); err != nil {
			return nil, fmt.Errorf("write normalized scores: %w", err)
		}
	}

	out := make(map[string]float64, len(touched))
	for _, id := range touched {
		out[id] = all[id]
	}
	return out, nil
}

// Apply runs the choice update over scores in place. Missing entries count as
// zero. It returns the touched item ids in first-touched order and the number
// of related-edge credits made.
func Apply(scores map[string]float64, choices []model.Choice, adjacency map[string][]model.Edge) (touched []string, credits int) {
	seen := make(map[string]struct{})
	touch := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		touched = append(touched, id)
		if _, ok := scores[id]; !ok {
			scores[id] = 0
		}
	}

	for _, c := range choices {
		touch(c.Picked)
		touch(c.NotPicked)
		reward := Bonus + scores[c.NotPicked]
		scores[c.Picked] += reward
		for _, ed := range adjacency[c.Picked] {
			touch(ed.To)
			scores[ed.To] += ed.Weight * reward
			credits++
		}
	}
	return touched, credits
}

// Normalize divides every score by the maximum in place when the maximum is
// positive and reports whether it did.
func Normalize(scores map[string]float64) bool {
	if len(scores) == 0 {
		return false
	}
	maxScore := slices.Max(slices.Collect(maps.Values(scores)))
	if maxScore <= 0 {
		return false
	}
	for id, v := range scores {
		scores[id] = v / maxScore
	}
	return true
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrReferenceNotFound):
		return "reference_not_found"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unknown"
	}
}
