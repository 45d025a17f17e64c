package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"scrapeforge/internal/sandbox"
)

// InsertScraper stores a new scraper version. The version is assigned
// inside the write lock so concurrent inserts for the same session
// still produce contiguous numbering from 1.
func (s *Store) InsertScraper(sessionID, source, framework string) (*Scraper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxVersion sql.NullInt64
	err := s.db.QueryRow(
		`SELECT MAX(version) FROM scrapers WHERE session_id = ?`, sessionID,
	).Scan(&maxVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to assign version: %w", err)
	}

	sc := &Scraper{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Version:   int(maxVersion.Int64) + 1,
		Source:    source,
		Language:  "go",
		Framework: framework,
		Status:    ScraperGenerating,
		CreatedAt: time.Now().UTC(),
	}

	_, err = s.db.Exec(
		`INSERT INTO scrapers (id, session_id, version, source, language, framework, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.SessionID, sc.Version, sc.Source, sc.Language, sc.Framework, sc.Status, sc.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert scraper: %w", err)
	}
	return sc, nil
}

// UpdateScraperStatus finalizes a version's lifecycle status.
func (s *Store) UpdateScraperStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE scrapers SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update scraper: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update scraper: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("scraper %s: %w", id, ErrNotFound)
	}
	return nil
}

// LatestScraper returns the highest version for a session.
func (s *Store) LatestScraper(sessionID string) (*Scraper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanScraper(s.db.QueryRow(
		`SELECT id, session_id, version, source, language, framework, status, created_at
		 FROM scrapers WHERE session_id = ? ORDER BY version DESC LIMIT 1`, sessionID,
	), "session "+sessionID)
}

// ScraperByVersion returns one specific version for a session.
func (s *Store) ScraperByVersion(sessionID string, version int) (*Scraper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanScraper(s.db.QueryRow(
		`SELECT id, session_id, version, source, language, framework, status, created_at
		 FROM scrapers WHERE session_id = ? AND version = ?`, sessionID, version,
	), fmt.Sprintf("session %s version %d", sessionID, version))
}

// ApprovedScraper returns the approved version for a session, if any.
// The pipeline guarantees at most one exists.
func (s *Store) ApprovedScraper(sessionID string) (*Scraper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanScraper(s.db.QueryRow(
		`SELECT id, session_id, version, source, language, framework, status, created_at
		 FROM scrapers WHERE session_id = ? AND status = ? ORDER BY version DESC LIMIT 1`,
		sessionID, ScraperApproved,
	), "approved scraper for session "+sessionID)
}

// ScrapersBySession returns every version in ascending version order.
func (s *Store) ScrapersBySession(sessionID string) ([]Scraper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scrapersBySessionLocked(sessionID)
}

func (s *Store) scrapersBySessionLocked(sessionID string) ([]Scraper, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, version, source, language, framework, status, created_at
		 FROM scrapers WHERE session_id = ? ORDER BY version`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list scrapers: %w", err)
	}
	defer rows.Close()

	var scrapers []Scraper
	for rows.Next() {
		var sc Scraper
		if err := rows.Scan(&sc.ID, &sc.SessionID, &sc.Version, &sc.Source,
			&sc.Language, &sc.Framework, &sc.Status, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan scraper: %w", err)
		}
		scrapers = append(scrapers, sc)
	}
	return scrapers, rows.Err()
}

func (s *Store) scanScraper(row *sql.Row, what string) (*Scraper, error) {
	var sc Scraper
	err := row.Scan(&sc.ID, &sc.SessionID, &sc.Version, &sc.Source,
		&sc.Language, &sc.Framework, &sc.Status, &sc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load scraper: %w", err)
	}
	return &sc, nil
}

// SaveTestResult records the execution outcome for a scraper version.
// A re-run overwrites the previous result for the same version.
func (s *Store) SaveTestResult(r *TestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	outputJSON := ""
	if r.Output != nil {
		b, err := json.Marshal(r.Output)
		if err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		outputJSON = string(b)
	}
	outcomesJSON, err := json.Marshal(r.Outcomes)
	if err != nil {
		return fmt.Errorf("failed to encode outcomes: %w", err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.Exec(
		`INSERT INTO test_results (scraper_id, stdout, stderr, duration_ms, output_json, outcomes_json, passed, error_class, error_detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(scraper_id) DO UPDATE SET
		   stdout = excluded.stdout, stderr = excluded.stderr,
		   duration_ms = excluded.duration_ms, output_json = excluded.output_json,
		   outcomes_json = excluded.outcomes_json, passed = excluded.passed,
		   error_class = excluded.error_class, error_detail = excluded.error_detail,
		   created_at = excluded.created_at`,
		r.ScraperID, r.Stdout, r.Stderr, r.Duration.Milliseconds(), outputJSON,
		string(outcomesJSON), r.Passed, string(r.ErrClass), r.ErrDetail, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save test result: %w", err)
	}
	return nil
}

// TestResultFor loads the test result for a scraper version.
func (s *Store) TestResultFor(scraperID string) (*TestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.testResultLocked(scraperID)
}

func (s *Store) testResultLocked(scraperID string) (*TestResult, error) {
	var r TestResult
	var durationMS int64
	var outputJSON, outcomesJSON string
	var errClass string
	err := s.db.QueryRow(
		`SELECT scraper_id, stdout, stderr, duration_ms, output_json, outcomes_json, passed, error_class, error_detail, created_at
		 FROM test_results WHERE scraper_id = ?`, scraperID,
	).Scan(&r.ScraperID, &r.Stdout, &r.Stderr, &durationMS, &outputJSON,
		&outcomesJSON, &r.Passed, &errClass, &r.ErrDetail, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("test result for scraper %s: %w", scraperID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load test result: %w", err)
	}

	r.Duration = time.Duration(durationMS) * time.Millisecond
	r.ErrClass = sandbox.ErrorClass(errClass)
	if outputJSON != "" {
		if err := json.Unmarshal([]byte(outputJSON), &r.Output); err != nil {
			return nil, fmt.Errorf("failed to decode output: %w", err)
		}
	}
	if outcomesJSON != "" {
		if err := json.Unmarshal([]byte(outcomesJSON), &r.Outcomes); err != nil {
			return nil, fmt.Errorf("failed to decode outcomes: %w", err)
		}
	}
	return &r, nil
}
