package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"scrapeforge/internal/generate"
	"scrapeforge/internal/sandbox"
	"scrapeforge/internal/store"
)

func TestMain(m *testing.M) {
	// go.opencensus.io (via google.golang.org/genai) starts a background
	// worker in its package init; it is not a leak from this package.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// mockClient implements generate.Client with func fields.
type mockClient struct {
	CompleteWithSystemFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Calls                  int
	Prompts                []string
}

func (m *mockClient) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, "", prompt)
}

func (m *mockClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.Calls++
	m.Prompts = append(m.Prompts, userPrompt)
	if m.CompleteWithSystemFunc != nil {
		return m.CompleteWithSystemFunc(ctx, systemPrompt, userPrompt)
	}
	return "", nil
}

const passingScraper = `package main

import "encoding/json"

func RunScraper(target string) (string, error) {
	out := map[string]interface{}{
		"url":   target,
		"items": []interface{}{map[string]interface{}{"title": "first"}},
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
`

// emptyScraper runs fine but returns data that fails the default
// assertions.
const emptyScraper = `package main

func RunScraper(target string) (string, error) {
	return "{}", nil
}
`

const forbiddenScraper = `package main

import "os"

func RunScraper(target string) (string, error) {
	return os.Getenv("HOME"), nil
}
`

func fenced(source string) string {
	return "Here you go:\n```go\n" + source + "\n```\n"
}

func newTestRunner(t *testing.T, client generate.Client, maxIterations int) (*Runner, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := sandbox.DefaultConfig()
	cfg.Timeout = 10 * time.Second
	executor := sandbox.New(cfg, zap.NewNop())
	return NewRunner(st, client, executor, zap.NewNop(), Config{MaxIterations: maxIterations}), st
}

func TestRun_MaxIterationsOverride(t *testing.T) {
	client := &mockClient{
		CompleteWithSystemFunc: func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
			return fenced(emptyScraper), nil
		},
	}
	r, st := newTestRunner(t, client, 5)
	sess, _ := st.CreateSession("https://example.com", "objective")

	outcome, err := r.Run(context.Background(), sess.ID, nil, 2)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Passed || outcome.Iterations != 2 {
		t.Errorf("outcome = %+v, want exhaustion after the 2 requested iterations", outcome)
	}
	if client.Calls != 2 {
		t.Errorf("client calls = %d, want the override, not the configured budget", client.Calls)
	}
}

func TestRun_PassesOnSecondIteration(t *testing.T) {
	client := &mockClient{}
	client.CompleteWithSystemFunc = func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
		if client.Calls == 1 {
			return fenced(emptyScraper), nil
		}
		return fenced(passingScraper), nil
	}
	r, st := newTestRunner(t, client, 5)
	sess, _ := st.CreateSession("https://example.com/products", "collect products")

	outcome, err := r.Run(context.Background(), sess.ID, nil, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !outcome.Passed || outcome.Version != 2 || outcome.Iterations != 2 {
		t.Errorf("outcome = %+v, want pass at version 2", outcome)
	}

	scrapers, _ := st.ScrapersBySession(sess.ID)
	if len(scrapers) != 2 {
		t.Fatalf("stored %d versions, want 2", len(scrapers))
	}
	if scrapers[0].Status != store.ScraperTestedFail {
		t.Errorf("v1 status = %q, want tested_fail", scrapers[0].Status)
	}
	if scrapers[1].Status != store.ScraperTestedPass {
		t.Errorf("v2 status = %q, want tested_pass", scrapers[1].Status)
	}

	// The second prompt carries the previous source and its failures.
	if len(client.Prompts) != 2 {
		t.Fatalf("client called %d times, want 2", len(client.Prompts))
	}
	second := client.Prompts[1]
	if !strings.Contains(second, "refinement iteration") {
		t.Error("second prompt missing refinement marker")
	}
	if !strings.Contains(second, "assertion failed") {
		t.Error("second prompt missing failure details")
	}
	if !strings.Contains(second, `return "{}", nil`) {
		t.Error("second prompt missing previous source")
	}
}

func TestRun_ExhaustsBudget(t *testing.T) {
	client := &mockClient{
		CompleteWithSystemFunc: func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
			return fenced(emptyScraper), nil
		},
	}
	r, st := newTestRunner(t, client, 3)
	sess, _ := st.CreateSession("https://example.com", "objective")

	outcome, err := r.Run(context.Background(), sess.ID, nil, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Passed {
		t.Error("outcome.Passed = true, want exhausted failure")
	}
	if outcome.Iterations != 3 || outcome.Version != 3 {
		t.Errorf("outcome = %+v, want 3 iterations ending at version 3", outcome)
	}
	if client.Calls != 3 {
		t.Errorf("client calls = %d, want exactly the budget", client.Calls)
	}

	// The last version stays as the best-effort artifact.
	latest, _ := st.LatestScraper(sess.ID)
	if latest.Status != store.ScraperTestedFail {
		t.Errorf("latest status = %q, want tested_fail", latest.Status)
	}
	sessAfter, _ := st.GetSession(sess.ID)
	if sessAfter.Status != store.SessionActive {
		t.Errorf("session status = %q, want active after budget exhaustion", sessAfter.Status)
	}
}

func TestRun_UpstreamFailureAborts(t *testing.T) {
	client := &mockClient{
		CompleteWithSystemFunc: func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
			return "", fmt.Errorf("503 from provider")
		},
	}
	r, st := newTestRunner(t, client, 5)
	sess, _ := st.CreateSession("https://example.com", "objective")

	_, err := r.Run(context.Background(), sess.ID, nil, 0)
	if !errors.Is(err, generate.ErrUpstream) {
		t.Fatalf("Run() error = %v, want ErrUpstream", err)
	}
	if client.Calls != 1 {
		t.Errorf("client calls = %d, want 1 (no retry inside the loop)", client.Calls)
	}

	// No version is recorded and the session is marked failed.
	if scrapers, _ := st.ScrapersBySession(sess.ID); len(scrapers) != 0 {
		t.Errorf("stored %d versions, want 0", len(scrapers))
	}
	sessAfter, _ := st.GetSession(sess.ID)
	if sessAfter.Status != store.SessionFailed {
		t.Errorf("session status = %q, want failed", sessAfter.Status)
	}
}

func TestRun_SecurityViolationCountsAgainstBudget(t *testing.T) {
	client := &mockClient{}
	client.CompleteWithSystemFunc = func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
		if client.Calls == 1 {
			return fenced(forbiddenScraper), nil
		}
		return fenced(passingScraper), nil
	}
	r, st := newTestRunner(t, client, 5)
	sess, _ := st.CreateSession("https://example.com", "objective")

	outcome, err := r.Run(context.Background(), sess.ID, nil, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !outcome.Passed || outcome.Iterations != 2 {
		t.Errorf("outcome = %+v, want recovery on iteration 2", outcome)
	}

	v1, _ := st.ScraperByVersion(sess.ID, 1)
	result, err := st.TestResultFor(v1.ID)
	if err != nil {
		t.Fatalf("TestResultFor() error = %v", err)
	}
	if result.ErrClass != sandbox.ErrClassSecurity {
		t.Errorf("v1 error class = %q, want security_violation", result.ErrClass)
	}

	// The violation description reaches the next prompt; the code was
	// never executed.
	if !strings.Contains(client.Prompts[1], "security_violation") {
		t.Error("second prompt missing the sanitized violation description")
	}
}

func TestRun_CanceledBeforeFirstIteration(t *testing.T) {
	client := &mockClient{}
	r, st := newTestRunner(t, client, 5)
	sess, _ := st.CreateSession("https://example.com", "objective")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Run(ctx, sess.ID, nil, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if client.Calls != 0 {
		t.Errorf("client calls = %d, want 0", client.Calls)
	}
}

func TestManager_RejectsConcurrentStart(t *testing.T) {
	release := make(chan struct{})
	client := &mockClient{
		CompleteWithSystemFunc: func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
			<-release
			return fenced(passingScraper), nil
		},
	}
	r, st := newTestRunner(t, client, 5)
	sess, _ := st.CreateSession("https://example.com", "objective")
	m := NewManager(r, zap.NewNop())

	if err := m.Start(sess.ID, nil, 0, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(sess.ID, nil, 0, nil); !errors.Is(err, ErrGenerationInProgress) {
		t.Errorf("second Start() error = %v, want ErrGenerationInProgress", err)
	}
	if !m.Running(sess.ID) {
		t.Error("Running() = false while loop in flight")
	}

	close(release)
	m.Wait()

	if m.Running(sess.ID) {
		t.Error("Running() = true after loop finished")
	}
	latest, err := st.LatestScraper(sess.ID)
	if err != nil {
		t.Fatalf("LatestScraper() error = %v", err)
	}
	if latest.Status != store.ScraperTestedPass {
		t.Errorf("latest status = %q, want tested_pass", latest.Status)
	}

	// A fresh start on the idle session is accepted again, and the
	// completion callback sees the outcome.
	done := make(chan *Outcome, 1)
	err = m.Start(sess.ID, nil, 0, func(outcome *Outcome, err error) {
		if err == nil {
			done <- outcome
		}
	})
	if err != nil {
		t.Fatalf("Start() after finish error = %v", err)
	}
	m.Wait()
	select {
	case outcome := <-done:
		if !outcome.Passed {
			t.Errorf("callback outcome = %+v, want pass", outcome)
		}
	default:
		t.Error("completion callback never ran")
	}
}

func TestManager_Cancel(t *testing.T) {
	m := NewManager(nil, zap.NewNop())
	if m.Cancel("idle-session") {
		t.Error("Cancel() = true for session with no loop")
	}
}
