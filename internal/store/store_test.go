package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"scrapeforge/internal/assertion"
	"scrapeforge/internal/gate"
	"scrapeforge/internal/sandbox"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "scrapeforge.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.CreateSession("https://example.com/products", "collect product listings")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if sess.ID == "" {
		t.Fatal("CreateSession() returned empty ID")
	}

	if err := s.SetExploration(sess.ID, "found 20 product cards"); err != nil {
		t.Fatalf("SetExploration() error = %v", err)
	}
	if err := s.SetSpecification(sess.ID, "# Scraper Specification"); err != nil {
		t.Fatalf("SetSpecification() error = %v", err)
	}

	got, err := s.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.TargetURL != sess.TargetURL {
		t.Errorf("TargetURL = %q, want %q", got.TargetURL, sess.TargetURL)
	}
	if got.Exploration != "found 20 product cards" {
		t.Errorf("Exploration = %q, want stored artifact", got.Exploration)
	}
	if got.Specification != "# Scraper Specification" {
		t.Errorf("Specification = %q, want stored spec", got.Specification)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSession("no-such-id")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession() error = %v, want ErrNotFound", err)
	}
}

func TestGateLifecycle(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("https://example.com", "objective")

	g, err := s.OpenGate(sess.ID, gate.KindExplorationSummary, "summary text")
	if err != nil {
		t.Fatalf("OpenGate() error = %v", err)
	}
	if g.Status != gate.StatusPending {
		t.Errorf("Status = %q, want pending", g.Status)
	}

	now := time.Now().UTC()
	g.Status = gate.StatusRejected
	g.Actor = "reviewer"
	g.Feedback = "missing pagination"
	g.DecidedAt = &now
	if err := s.DecideGate(g); err != nil {
		t.Fatalf("DecideGate() error = %v", err)
	}

	// A rejected gate keeps its row; the replacement supersedes it.
	if _, err := s.OpenGate(sess.ID, gate.KindExplorationSummary, "revised summary"); err != nil {
		t.Fatalf("OpenGate() after rejection error = %v", err)
	}

	gates, err := s.ListGates(sess.ID)
	if err != nil {
		t.Fatalf("ListGates() error = %v", err)
	}
	if len(gates) != 2 {
		t.Fatalf("ListGates() returned %d gates, want 2", len(gates))
	}
	if gates[0].Feedback != "missing pagination" {
		t.Errorf("rejected gate feedback = %q, want audit trail preserved", gates[0].Feedback)
	}

	snap := gate.BuildSnapshot(gates)
	if snap[gate.KindExplorationSummary].Status != gate.StatusPending {
		t.Errorf("snapshot status = %q, want pending replacement", snap[gate.KindExplorationSummary].Status)
	}
}

func TestScraperVersioning(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("https://example.com", "objective")

	for i := 1; i <= 3; i++ {
		sc, err := s.InsertScraper(sess.ID, "package main", "stdlib")
		if err != nil {
			t.Fatalf("InsertScraper() error = %v", err)
		}
		if sc.Version != i {
			t.Errorf("version = %d, want %d", sc.Version, i)
		}
		if sc.Status != ScraperGenerating {
			t.Errorf("status = %q, want generating", sc.Status)
		}
	}

	latest, err := s.LatestScraper(sess.ID)
	if err != nil {
		t.Fatalf("LatestScraper() error = %v", err)
	}
	if latest.Version != 3 {
		t.Errorf("LatestScraper() version = %d, want 3", latest.Version)
	}

	// Versions are per session, not global.
	other, _ := s.CreateSession("https://other.example.com", "objective")
	sc, err := s.InsertScraper(other.ID, "package main", "stdlib")
	if err != nil {
		t.Fatalf("InsertScraper() error = %v", err)
	}
	if sc.Version != 1 {
		t.Errorf("version in fresh session = %d, want 1", sc.Version)
	}
}

func TestApprovedScraper(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("https://example.com", "objective")

	v1, _ := s.InsertScraper(sess.ID, "package main // v1", "stdlib")
	v2, _ := s.InsertScraper(sess.ID, "package main // v2", "stdlib")

	if _, err := s.ApprovedScraper(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("ApprovedScraper() before approval error = %v, want ErrNotFound", err)
	}

	if err := s.UpdateScraperStatus(v1.ID, ScraperTestedFail); err != nil {
		t.Fatalf("UpdateScraperStatus() error = %v", err)
	}
	if err := s.UpdateScraperStatus(v2.ID, ScraperApproved); err != nil {
		t.Fatalf("UpdateScraperStatus() error = %v", err)
	}

	got, err := s.ApprovedScraper(sess.ID)
	if err != nil {
		t.Fatalf("ApprovedScraper() error = %v", err)
	}
	if got.Version != 2 {
		t.Errorf("approved version = %d, want 2", got.Version)
	}
}

func TestTestResultRoundTrip(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("https://example.com", "objective")
	sc, _ := s.InsertScraper(sess.ID, "package main", "stdlib")

	r := &TestResult{
		ScraperID: sc.ID,
		Stdout:    `{"url":"https://example.com","items":[]}`,
		Duration:  1500 * time.Millisecond,
		Output:    map[string]any{"url": "https://example.com"},
		Outcomes: []assertion.Outcome{
			{Kind: assertion.KindHasField, Description: "has url", Passed: true, Detail: "field \"url\" present"},
			{Kind: assertion.KindMinItems, Description: "at least one item", Passed: false, Detail: "expected >= 1 items at \"items\", got 0"},
		},
		Passed: false,
	}
	if err := s.SaveTestResult(r); err != nil {
		t.Fatalf("SaveTestResult() error = %v", err)
	}

	got, err := s.TestResultFor(sc.ID)
	if err != nil {
		t.Fatalf("TestResultFor() error = %v", err)
	}
	if got.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v, want 1.5s", got.Duration)
	}
	if len(got.Outcomes) != 2 {
		t.Fatalf("Outcomes count = %d, want 2", len(got.Outcomes))
	}
	if got.Outcomes[1].Detail != "expected >= 1 items at \"items\", got 0" {
		t.Errorf("Outcomes[1].Detail = %q", got.Outcomes[1].Detail)
	}
	out, ok := got.Output.(map[string]any)
	if !ok || out["url"] != "https://example.com" {
		t.Errorf("Output = %#v, want decoded JSON object", got.Output)
	}

	// A re-run replaces the previous result for the version.
	r.Passed = true
	r.Outcomes[1].Passed = true
	if err := s.SaveTestResult(r); err != nil {
		t.Fatalf("SaveTestResult() rerun error = %v", err)
	}
	got, _ = s.TestResultFor(sc.ID)
	if !got.Passed {
		t.Error("rerun result not overwritten")
	}
}

func TestDiffs(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("https://example.com", "objective")

	v1, _ := s.InsertScraper(sess.ID, "package main\n\nfunc RunScraper(t string) (string, error) { return \"\", nil }\n", "stdlib")
	s.UpdateScraperStatus(v1.ID, ScraperTestedFail)
	s.SaveTestResult(&TestResult{
		ScraperID: v1.ID,
		Outcomes: []assertion.Outcome{
			{Kind: assertion.KindNotEmpty, Passed: false, Detail: "data is empty"},
		},
	})

	v2, _ := s.InsertScraper(sess.ID, "package main\n\nimport \"encoding/json\"\n\nfunc RunScraper(t string) (string, error) { return \"{}\", nil }\n", "stdlib")
	s.UpdateScraperStatus(v2.ID, ScraperTestedFail)
	s.SaveTestResult(&TestResult{
		ScraperID: v2.ID,
		ErrClass:  sandbox.ErrClassTimeout,
		ErrDetail: "execution exceeded 60s",
	})

	want := func() []Diff {
		diffs, err := s.Diffs(sess.ID)
		if err != nil {
			t.Fatalf("Diffs() error = %v", err)
		}
		return diffs
	}

	diffs := want()
	if len(diffs) != 2 {
		t.Fatalf("Diffs() returned %d rows, want 2", len(diffs))
	}
	if diffs[0].Iteration != 1 || diffs[0].Version != 1 {
		t.Errorf("first row = iteration %d version %d, want 1/1", diffs[0].Iteration, diffs[0].Version)
	}
	if diffs[0].Failed != 1 || diffs[0].TopFailure != "data is empty" {
		t.Errorf("first row failures = %d/%q", diffs[0].Failed, diffs[0].TopFailure)
	}
	if diffs[0].LinesAdded == 0 {
		t.Error("first version should count all lines as added")
	}
	if !diffs[1].ExecError || diffs[1].TopFailure != "execution exceeded 60s" {
		t.Errorf("second row = execError %v failure %q", diffs[1].ExecError, diffs[1].TopFailure)
	}
	if diffs[1].LinesAdded == 0 {
		t.Error("second version adds the import line")
	}

	// The view is derived, so it reconstructs identically after reopen.
	before := want()
	s.Close()
	reopened, err := Open(s.dbPath)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()
	after, err := reopened.Diffs(sess.ID)
	if err != nil {
		t.Fatalf("Diffs() after reopen error = %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("rows after reopen = %d, want %d", len(after), len(before))
	}
	for i := range after {
		if after[i] != before[i] {
			t.Errorf("row %d differs after reopen:\n got %+v\nwant %+v", i, after[i], before[i])
		}
	}
}

func TestUpdateScraperStatus_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateScraperStatus("no-such-id", ScraperApproved)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateScraperStatus() error = %v, want ErrNotFound", err)
	}
}
