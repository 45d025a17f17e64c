package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"scrapeforge/internal/gate"
)

// OpenGate inserts a new PENDING gate. Sequencing rules are enforced by
// the caller against a Snapshot of ListGates; the store only records.
func (s *Store) OpenGate(sessionID string, kind gate.Kind, summary string) (*gate.Gate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := &gate.Gate{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Kind:      kind,
		Status:    gate.StatusPending,
		Summary:   summary,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO approval_gates (id, session_id, kind, status, summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		g.ID, g.SessionID, g.Kind, g.Status, g.Summary, g.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open gate: %w", err)
	}
	return g, nil
}

// DecideGate writes the terminal status of a gate. Rejected gates keep
// their row; a later PENDING gate of the same kind supersedes them in
// snapshots but the audit trail stays complete.
func (s *Store) DecideGate(g *gate.Gate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE approval_gates SET status = ?, actor = ?, feedback = ?, decided_at = ?
		 WHERE id = ?`,
		g.Status, g.Actor, g.Feedback, g.DecidedAt, g.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to decide gate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to decide gate: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("gate %s: %w", g.ID, ErrNotFound)
	}
	return nil
}

// ListGates returns every gate of a session in creation order.
func (s *Store) ListGates(sessionID string) ([]gate.Gate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, session_id, kind, status, summary, actor, feedback, created_at, decided_at
		 FROM approval_gates WHERE session_id = ? ORDER BY created_at, id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list gates: %w", err)
	}
	defer rows.Close()

	var gates []gate.Gate
	for rows.Next() {
		var g gate.Gate
		var summary, actor, feedback sql.NullString
		var decidedAt sql.NullTime
		if err := rows.Scan(&g.ID, &g.SessionID, &g.Kind, &g.Status,
			&summary, &actor, &feedback, &g.CreatedAt, &decidedAt); err != nil {
			return nil, fmt.Errorf("failed to scan gate: %w", err)
		}
		g.Summary = summary.String
		g.Actor = actor.String
		g.Feedback = feedback.String
		if decidedAt.Valid {
			t := decidedAt.Time
			g.DecidedAt = &t
		}
		gates = append(gates, g)
	}
	return gates, rows.Err()
}

// GateByID loads a single gate.
func (s *Store) GateByID(id string) (*gate.Gate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var g gate.Gate
	var summary, actor, feedback sql.NullString
	var decidedAt sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, session_id, kind, status, summary, actor, feedback, created_at, decided_at
		 FROM approval_gates WHERE id = ?`, id,
	).Scan(&g.ID, &g.SessionID, &g.Kind, &g.Status,
		&summary, &actor, &feedback, &g.CreatedAt, &decidedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("gate %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load gate: %w", err)
	}
	g.Summary = summary.String
	g.Actor = actor.String
	g.Feedback = feedback.String
	if decidedAt.Valid {
		t := decidedAt.Time
		g.DecidedAt = &t
	}
	return &g, nil
}
