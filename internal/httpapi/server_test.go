package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"scrapeforge/internal/gate"
	"scrapeforge/internal/pipeline"
	"scrapeforge/internal/sandbox"
	"scrapeforge/internal/session"
	"scrapeforge/internal/store"
)

type stubClient struct {
	completion string
}

func (c *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.completion, nil
}

func (c *stubClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.completion, nil
}

const passingCompletion = "```go\n" + `package main

import "encoding/json"

func RunScraper(target string) (string, error) {
	out := map[string]interface{}{"url": target, "items": []interface{}{1}}
	b, err := json.Marshal(out)
	return string(b), err
}
` + "\n```"

func newTestServer(t *testing.T) (*Server, *pipeline.Manager) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "httpapi.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := sandbox.DefaultConfig()
	cfg.Timeout = 10 * time.Second
	executor := sandbox.New(cfg, zap.NewNop())
	runner := pipeline.NewRunner(st, &stubClient{completion: passingCompletion}, executor,
		zap.NewNop(), pipeline.Config{MaxIterations: 3})
	manager := pipeline.NewManager(runner, zap.NewNop())
	svc := session.NewService(st, manager, zap.NewNop())
	return NewServer(svc, zap.NewNop()), manager
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}
}

func TestCreateSession_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/v1/sessions", map[string]string{"target_url": "https://example.com"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing objective status = %d, want 400", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", rec.Code)
	}
}

func TestUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv, http.MethodGet, "/api/v1/sessions/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", w.Code)
	}
}

func TestCancelScraper(t *testing.T) {
	srv, _ := newTestServer(t)

	if w := do(t, srv, http.MethodDelete, "/api/v1/sessions/nope/scraper", nil); w.Code != http.StatusNotFound {
		t.Errorf("cancel on unknown session status = %d, want 404", w.Code)
	}

	w := do(t, srv, http.MethodPost, "/api/v1/sessions",
		map[string]string{"target_url": "https://example.com", "objective": "collect"})
	sess := decode[store.Session](t, w)

	// Cancel with no loop in flight reports that nothing was running.
	w = do(t, srv, http.MethodDelete, "/api/v1/sessions/"+sess.ID+"/scraper", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d: %s", w.Code, w.Body.String())
	}
	body := decode[map[string]any](t, w)
	if canceled, _ := body["canceled"].(bool); canceled {
		t.Error("canceled = true, want false for an idle session")
	}
}

func TestFullFlowOverHTTP(t *testing.T) {
	srv, manager := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/v1/sessions",
		map[string]string{"target_url": "https://example.com/products", "objective": "collect products"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	sess := decode[store.Session](t, w)
	base := "/api/v1/sessions/" + sess.ID

	// Generation before any approvals is refused.
	if w := do(t, srv, http.MethodPost, base+"/scraper", nil); w.Code != http.StatusConflict {
		t.Errorf("premature scraper status = %d, want 409", w.Code)
	}

	if w := do(t, srv, http.MethodPost, base+"/spec",
		map[string]string{"exploration": "20 cards under .product"}); w.Code != http.StatusCreated {
		t.Fatalf("spec status = %d: %s", w.Code, w.Body.String())
	}

	if w := do(t, srv, http.MethodPost, base+"/gates/exploration_summary/decide",
		map[string]string{"action": "approve", "actor": "reviewer"}); w.Code != http.StatusOK {
		t.Fatalf("approve exploration status = %d: %s", w.Code, w.Body.String())
	}

	// Double decision conflicts.
	if w := do(t, srv, http.MethodPost, base+"/gates/exploration_summary/decide",
		map[string]string{"action": "approve", "actor": "reviewer"}); w.Code != http.StatusConflict {
		t.Errorf("double decision status = %d, want 409", w.Code)
	}

	// Unknown action is a client error.
	if w := do(t, srv, http.MethodPost, base+"/gates/scraper_generation/decide",
		map[string]string{"action": "maybe"}); w.Code != http.StatusBadRequest {
		t.Errorf("unknown action status = %d, want 400", w.Code)
	}

	w = do(t, srv, http.MethodPost, base+"/scraper", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("scraper status = %d: %s", w.Code, w.Body.String())
	}
	ack := decode[session.Ack](t, w)
	if ack.Status != "generating" {
		t.Errorf("ack status = %q, want generating", ack.Status)
	}
	manager.Wait()

	view := decode[session.ScraperView](t, do(t, srv, http.MethodGet, base+"/scraper", nil))
	if view.Scraper == nil || view.Scraper.Status != store.ScraperTestedPass {
		t.Fatalf("scraper view = %+v, want tested_pass", view)
	}

	// The view carries the gate audit trail so a polling client can see
	// what is pending.
	byKind := map[gate.Kind]gate.Status{}
	for _, g := range view.Gates {
		byKind[g.Kind] = g.Status
	}
	if byKind[gate.KindExplorationSummary] != gate.StatusApproved {
		t.Errorf("exploration gate in view = %q, want approved", byKind[gate.KindExplorationSummary])
	}
	if byKind[gate.KindScraperGeneration] != gate.StatusPending {
		t.Errorf("generation gate in view = %q, want pending", byKind[gate.KindScraperGeneration])
	}

	diffs := decode[[]store.Diff](t, do(t, srv, http.MethodGet, base+"/diffs", nil))
	if len(diffs) != 1 || diffs[0].Version != 1 {
		t.Errorf("diffs = %+v, want one row for v1", diffs)
	}

	// Download before delivery approval conflicts.
	if w := do(t, srv, http.MethodGet, base+"/download", nil); w.Code != http.StatusConflict {
		t.Errorf("premature download status = %d, want 409", w.Code)
	}

	if w := do(t, srv, http.MethodPost, base+"/gates/scraper_generation/decide",
		map[string]string{"action": "approve", "actor": "reviewer"}); w.Code != http.StatusOK {
		t.Fatalf("approve generation status = %d: %s", w.Code, w.Body.String())
	}
	if w := do(t, srv, http.MethodPost, base+"/gates/final_delivery/decide",
		map[string]string{"action": "approve", "actor": "reviewer"}); w.Code != http.StatusOK {
		t.Fatalf("approve delivery status = %d: %s", w.Code, w.Body.String())
	}

	w = do(t, srv, http.MethodGet, base+"/download", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("download status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("download content type = %q, want application/zip", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "_v1.zip") {
		t.Errorf("content disposition = %q, want versioned filename", cd)
	}
	if w.Body.Len() == 0 {
		t.Error("download body is empty")
	}
}
