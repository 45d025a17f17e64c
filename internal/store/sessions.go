package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateSession inserts a new session and returns it.
func (s *Store) CreateSession(targetURL, objective string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{
		ID:        uuid.New().String(),
		TargetURL: targetURL,
		Objective: objective,
		Status:    SessionActive,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO sessions (id, target_url, objective, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.TargetURL, sess.Objective, sess.Status, sess.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// GetSession loads one session by ID.
func (s *Store) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess Session
	var exploration, specification sql.NullString
	err := s.db.QueryRow(
		`SELECT id, target_url, objective, status, exploration, specification, created_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.TargetURL, &sess.Objective, &sess.Status, &exploration, &specification, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	sess.Exploration = exploration.String
	sess.Specification = specification.String
	return &sess, nil
}

// SetExploration records the exploration artifact for a session.
func (s *Store) SetExploration(id, exploration string) error {
	return s.updateSessionField(id, "exploration", exploration)
}

// SetSpecification records the generated scraper specification.
func (s *Store) SetSpecification(id, specification string) error {
	return s.updateSessionField(id, "specification", specification)
}

// SetSessionStatus updates the session lifecycle status.
func (s *Store) SetSessionStatus(id, status string) error {
	return s.updateSessionField(id, "status", status)
}

func (s *Store) updateSessionField(id, column, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		fmt.Sprintf(`UPDATE sessions SET %s = ? WHERE id = ?`, column), value, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}
