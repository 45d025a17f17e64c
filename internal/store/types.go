package store

import (
	"time"

	"scrapeforge/internal/assertion"
	"scrapeforge/internal/sandbox"
)

// Session statuses. A session goes failed only when the generation
// capability itself errors; exhausting the iteration budget leaves the
// session active with its best-effort version.
const (
	SessionActive = "active"
	SessionFailed = "failed"
)

// Session is one scraping engagement against a single target.
type Session struct {
	ID            string    `json:"id"`
	TargetURL     string    `json:"target_url"`
	Objective     string    `json:"objective"`
	Status        string    `json:"status"`
	Exploration   string    `json:"exploration,omitempty"`
	Specification string    `json:"specification,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Scraper lifecycle statuses.
const (
	ScraperGenerating = "generating"
	ScraperTestedPass = "tested_pass"
	ScraperTestedFail = "tested_fail"
	ScraperFailed     = "failed"
	ScraperApproved   = "approved"
)

// Scraper is one generated version of the scraper source for a session.
// Versions are contiguous from 1 and never reused.
type Scraper struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Version   int       `json:"version"`
	Source    string    `json:"source"`
	Language  string    `json:"language"`
	Framework string    `json:"framework"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// TestResult records the sandboxed execution and assertion outcomes for
// one scraper version. There is at most one per version.
type TestResult struct {
	ScraperID string              `json:"scraper_id"`
	Stdout    string              `json:"stdout"`
	Stderr    string              `json:"stderr"`
	Duration  time.Duration       `json:"duration"`
	Output    any                 `json:"output,omitempty"`
	Outcomes  []assertion.Outcome `json:"outcomes"`
	Passed    bool                `json:"passed"`
	ErrClass  sandbox.ErrorClass  `json:"error_class,omitempty"`
	ErrDetail string              `json:"error_detail,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

// Diff is one row of the iteration history view: what changed between
// a version and its predecessor, summarized for the reviewer.
type Diff struct {
	Iteration    int       `json:"iteration"`
	Version      int       `json:"version"`
	ScraperID    string    `json:"scraper_id"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	Passed       int       `json:"assertions_passed"`
	Failed       int       `json:"assertions_failed"`
	ExecError    bool      `json:"execution_error"`
	TopFailure   string    `json:"top_failure,omitempty"`
	LinesAdded   int       `json:"lines_added"`
	LinesRemoved int       `json:"lines_removed"`
}
