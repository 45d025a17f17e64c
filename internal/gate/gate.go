// Package gate implements the approval checkpoints of the pipeline.
// Every stage that needs a human decision gets a gate; gates are never
// deleted, so the full decision history doubles as an audit trail.
package gate

import (
	"errors"
	"fmt"
	"time"
)

// Kind names a checkpoint. The pipeline advances through kinds in a
// fixed order.
type Kind string

const (
	KindExplorationSummary Kind = "exploration_summary"
	KindScraperGeneration  Kind = "scraper_generation"
	KindFinalDelivery      Kind = "final_delivery"
)

// order maps each kind to its prerequisite. Exploration has none.
var order = map[Kind]Kind{
	KindScraperGeneration: KindExplorationSummary,
	KindFinalDelivery:     KindScraperGeneration,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindExplorationSummary, KindScraperGeneration, KindFinalDelivery:
		return true
	}
	return false
}

// Prerequisite returns the kind that must be APPROVED before k may be
// opened or decided, and false for the first stage.
func (k Kind) Prerequisite() (Kind, bool) {
	prev, ok := order[k]
	return prev, ok
}

// Status of a gate instance.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Decision actions.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

var (
	// ErrSequencingViolation signals a stage attempted out of order. No
	// state is mutated; the caller corrects its call order and retries.
	ErrSequencingViolation = errors.New("sequencing violation")

	// ErrAlreadyDecided signals a decision on a gate that already has a
	// terminal status.
	ErrAlreadyDecided = errors.New("gate already decided")

	// ErrGateOpen signals an attempt to open a second PENDING gate of a
	// kind that already has one.
	ErrGateOpen = errors.New("gate of this kind is already open")
)

// Gate is one checkpoint instance.
type Gate struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	Kind      Kind       `json:"kind"`
	Status    Status     `json:"status"`
	Summary   string     `json:"summary,omitempty"`
	Actor     string     `json:"actor,omitempty"`
	Feedback  string     `json:"feedback,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}

// Decided reports whether the gate has a terminal status.
func (g *Gate) Decided() bool {
	return g.Status == StatusApproved || g.Status == StatusRejected
}

// Snapshot is the per-session gate view the rules operate on: the most
// recent gate of each kind. A REJECTED gate may be superseded by a new
// PENDING one of the same kind, so only the latest instance counts.
type Snapshot map[Kind]*Gate

// BuildSnapshot reduces a creation-ordered gate list to the latest
// instance per kind.
func BuildSnapshot(gates []Gate) Snapshot {
	snap := make(Snapshot)
	for i := range gates {
		g := gates[i]
		snap[g.Kind] = &g
	}
	return snap
}

// Approved reports whether the latest gate of the kind is APPROVED.
func (s Snapshot) Approved(kind Kind) bool {
	g, ok := s[kind]
	return ok && g.Status == StatusApproved
}

// CheckOpen validates that a new PENDING gate of the kind may be created
// given the session's current gates.
func (s Snapshot) CheckOpen(kind Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown gate kind %q", ErrSequencingViolation, kind)
	}
	if prev, hasPrev := kind.Prerequisite(); hasPrev && !s.Approved(prev) {
		return fmt.Errorf("%w: %s requires %s to be approved", ErrSequencingViolation, kind, prev)
	}
	if current, ok := s[kind]; ok {
		switch current.Status {
		case StatusPending:
			return fmt.Errorf("%w: %s", ErrGateOpen, kind)
		case StatusApproved:
			// At most one APPROVED-or-PENDING gate per kind.
			return fmt.Errorf("%w: %s is already approved", ErrSequencingViolation, kind)
		}
	}
	return nil
}

// CheckDecide validates that the latest gate of the kind may receive a
// decision now.
func (s Snapshot) CheckDecide(kind Kind) (*Gate, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown gate kind %q", ErrSequencingViolation, kind)
	}
	if prev, hasPrev := kind.Prerequisite(); hasPrev && !s.Approved(prev) {
		return nil, fmt.Errorf("%w: %s requires %s to be approved", ErrSequencingViolation, kind, prev)
	}
	g, ok := s[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no %s gate has been opened", ErrSequencingViolation, kind)
	}
	if g.Decided() {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyDecided, kind, g.Status)
	}
	return g, nil
}

// Apply records a decision on the gate. The gate must be PENDING.
func (g *Gate) Apply(action Action, actor, feedback string, now time.Time) error {
	if g.Decided() {
		return fmt.Errorf("%w: %s", ErrAlreadyDecided, g.Kind)
	}
	switch action {
	case ActionApprove:
		g.Status = StatusApproved
	case ActionReject:
		g.Status = StatusRejected
	default:
		return fmt.Errorf("unknown gate action %q", action)
	}
	g.Actor = actor
	g.Feedback = feedback
	g.DecidedAt = &now
	return nil
}
