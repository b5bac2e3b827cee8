package round

import (
	"fmt"
	"strings"
)

// Policy decides which slots are cleared and refilled after a pick.
// It is fixed for the lifetime of a round.
type Policy string

// Replacement policies.
const (
	// KeepPicked refills only the not-picked slot, so the winner faces a fresh challenger.
	KeepPicked Policy = "keep-picked"
	// ReplacePicked refills only the picked slot.
	ReplacePicked Policy = "replace-picked"
	// ReplaceAll refills both slots after every pick.
	ReplaceAll Policy = "replace-all"
)

// Policies lists every supported policy.
var Policies = []Policy{KeepPicked, ReplacePicked, ReplaceAll} //nolint:gochecknoglobals // read-only enum listing

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	p := Policy(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown replacement policy %q", ErrInvalidArgument, s)
	}
	return p, nil
}

// Valid reports whether p is one of the enumerated policies.
func (p Policy) Valid() bool {
	switch p {
	case KeepPicked, ReplacePicked, ReplaceAll:
		return true
	}
	return false
}

// RefillCount is how many slots the policy refills per pick.
func (p Policy) RefillCount() int {
	if p == ReplaceAll {
		return 2
	}
	return 1
}

// cleared returns the slots to empty after picked was chosen.
func (p Policy) cleared(picked Slot) []Slot {
	switch p {
	case KeepPicked:
		return []Slot{picked.Other()}
	case ReplacePicked:
		return []Slot{picked}
	default:
		return []Slot{First, Second}
	}
}

func (p Policy) String() string { return string(p) }
