// Package model contains domain models passed between layers.
package model

import (
	"slices"
	"time"
)

// Item is an entry of the item pool. The core only ever looks at ID;
// Tags drive pool filtering and Attributes travel untouched to callers.
type Item struct {
	ID         string         `json:"itemId" yaml:"id"`
	Tags       []string       `json:"tags,omitempty" yaml:"tags"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes"`
}

// HasAllTags reports whether the item carries every tag in tags.
func (i Item) HasAllTags(tags []string) bool {
	for _, t := range tags {
		if !slices.Contains(i.Tags, t) {
			return false
		}
	}
	return true
}

// Choice is one pick event: Picked won over NotPicked.
type Choice struct {
	Picked     string
	NotPicked  string
	ObservedAt time.Time // zero when the caller did not time the pick
}

// Edge is a directed relationship weight between two items.
type Edge struct {
	From   string  `yaml:"from"`
	To     string  `yaml:"to"`
	Weight float64 `yaml:"weight"`
}

// PlayerScore is a player's durable preference score for one item.
type PlayerScore struct {
	PlayerID string
	ItemID   string
	Score    float64
}

// RoundJob is a finished round waiting for asynchronous processing.
type RoundJob struct {
	RoundID     string
	PlayerID    string
	Choices     []Choice
	SubmittedAt time.Time
}

// ChoiceItemIDs returns the distinct item ids referenced by choices, in
// first-seen order.
func ChoiceItemIDs(choices []Choice) []string {
	seen := make(map[string]struct{}, len(choices)*2)
	ids := make([]string, 0, len(choices)*2)
	for _, c := range choices {
		for _, id := range [2]string{c.Picked, c.NotPicked} {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}
