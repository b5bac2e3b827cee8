// Package types contains the wire types shared by the HTTP API and its clients.
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/okian/versus/internal/domain/model"
)

// ErrInvalidRequest marks a malformed request body.
var ErrInvalidRequest = errors.New("invalid request")

// ItemRef names an item on the wire.
type ItemRef struct {
	ItemID string `json:"itemId"`
}

// WireChoice is one pick event on the wire.
type WireChoice struct {
	Picked    ItemRef `json:"picked"`
	NotPicked ItemRef `json:"notPicked"`
}

// RoundRequest is the body of a round submission.
type RoundRequest struct {
	PlayerID string `json:"playerId"`
	// RoundID is required for asynchronous submission and ignored otherwise.
	RoundID string       `json:"roundId,omitempty"`
	Choices []WireChoice `json:"choices"`
}

// Validate checks the request shape. Choice semantics are left to the engine.
func (r RoundRequest) Validate() error {
	if r.PlayerID == "" {
		return fmt.Errorf("%w: playerId is required", ErrInvalidRequest)
	}
	for i, c := range r.Choices {
		if c.Picked.ItemID == "" || c.NotPicked.ItemID == "" {
			return fmt.Errorf("%w: choice %d needs both itemIds", ErrInvalidRequest, i)
		}
	}
	return nil
}

// DomainChoices converts the wire choices, stamping each with at.
func (r RoundRequest) DomainChoices(at time.Time) []model.Choice {
	out := make([]model.Choice, 0, len(r.Choices))
	for _, c := range r.Choices {
		out = append(out, model.Choice{
			Picked:     c.Picked.ItemID,
			NotPicked:  c.NotPicked.ItemID,
			ObservedAt: at,
		})
	}
	return out
}

// WireChoices converts domain choices to their wire form.
func WireChoices(choices []model.Choice) []WireChoice {
	out := make([]WireChoice, 0, len(choices))
	for _, c := range choices {
		out = append(out, WireChoice{
			Picked:    ItemRef{ItemID: c.Picked},
			NotPicked: ItemRef{ItemID: c.NotPicked},
		})
	}
	return out
}

// RoundResponse reports the outcome of a synchronous round.
type RoundResponse struct {
	UpdatedScores map[string]float64 `json:"updatedScores"`
	ElapsedTimeMs int64              `json:"elapsedTimeMs"`
}

// AsyncRoundResponse acknowledges a queued round.
type AsyncRoundResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// ScoreEntry is one of a player's scores.
type ScoreEntry struct {
	ItemID string  `json:"itemId"`
	Score  float64 `json:"score"`
}

// ScoresResponse lists a player's scores, highest first.
type ScoresResponse struct {
	PlayerID string       `json:"playerId"`
	Scores   []ScoreEntry `json:"scores"`
}

// SessionStartRequest opens a server-side round.
type SessionStartRequest struct {
	PlayerID  string   `json:"playerId"`
	Policy    string   `json:"policy,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	BatchSize int      `json:"batchSize,omitempty"`
}

// Validate checks the request shape.
func (r SessionStartRequest) Validate() error {
	if r.PlayerID == "" {
		return fmt.Errorf("%w: playerId is required", ErrInvalidRequest)
	}
	if r.BatchSize < 0 {
		return fmt.Errorf("%w: batchSize must not be negative", ErrInvalidRequest)
	}
	return nil
}

// PickRequest records a pick in a session. Slot is "first" or "second".
type PickRequest struct {
	Slot string `json:"slot"`
}

// SessionResponse is the state of a session.
type SessionResponse struct {
	SessionID string         `json:"sessionId"`
	PlayerID  string         `json:"playerId"`
	Policy    string         `json:"policy"`
	Status    string         `json:"status"`
	Slots     []*model.Item  `json:"slots"`
	Choices   []WireChoice   `json:"choices"`
	Supplied  int            `json:"supplied"`
	Result    *RoundResponse `json:"result,omitempty"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	// Missing lists unknown item ids for reference_not_found.
	Missing []string `json:"missing,omitempty"`
}
