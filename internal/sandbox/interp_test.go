package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"
)

const passingScraper = `
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

func newTestRunner(timeout time.Duration) Executor {
	cfg := DefaultConfig()
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	return New(cfg, nil)
}

func TestExecute_Success(t *testing.T) {
	r := newTestRunner(0)
	res := r.Execute(context.Background(), passingScraper, "https://example.com")

	if !res.OK() {
		t.Fatalf("expected success, got class=%s detail=%s", res.ErrClass, res.ErrDetail)
	}
	obj, ok := res.Output.(map[string]any)
	if !ok {
		t.Fatalf("expected object output, got %T", res.Output)
	}
	if obj["url"] != "https://example.com" {
		t.Errorf("target URL not threaded through: %v", obj["url"])
	}
	if res.Duration <= 0 {
		t.Error("duration not recorded")
	}
}

// Scenario: output is non-JSON text. Execution succeeds but the result
// carries output_parse_error with the raw text retained.
func TestExecute_NonJSONOutput(t *testing.T) {
	src := `
func RunScraper(target string) (string, error) {
	return "definitely not json", nil
}
`
	r := newTestRunner(0)
	res := r.Execute(context.Background(), src, "https://example.com")

	if res.ErrClass != ErrClassParse {
		t.Fatalf("expected %s, got %s (%s)", ErrClassParse, res.ErrClass, res.ErrDetail)
	}
	if !strings.Contains(res.Stdout, "definitely not json") {
		t.Errorf("raw output must be retained for diagnosis, got %q", res.Stdout)
	}
	if res.Output != nil {
		t.Error("parsed output must be nil on parse failure")
	}
}

func TestExecute_RuntimeError(t *testing.T) {
	src := `
import "errors"

func RunScraper(target string) (string, error) {
	return "", errors.New("selector not found")
}
`
	r := newTestRunner(0)
	res := r.Execute(context.Background(), src, "https://example.com")

	if res.ErrClass != ErrClassRuntime {
		t.Fatalf("expected %s, got %s", ErrClassRuntime, res.ErrClass)
	}
	if !strings.Contains(res.ErrDetail, "selector not found") {
		t.Errorf("error detail should carry the scraper error, got %q", res.ErrDetail)
	}
}

func TestExecute_MissingEntrypoint(t *testing.T) {
	src := `
func SomethingElse() {}
`
	r := newTestRunner(0)
	res := r.Execute(context.Background(), src, "https://example.com")

	if res.ErrClass != ErrClassRuntime {
		t.Fatalf("expected %s, got %s", ErrClassRuntime, res.ErrClass)
	}
	if !strings.Contains(res.ErrDetail, "RunScraper") {
		t.Errorf("detail should name the missing entrypoint, got %q", res.ErrDetail)
	}
}

func TestExecute_Timeout(t *testing.T) {
	src := `
import "time"

func RunScraper(target string) (string, error) {
	time.Sleep(5 * time.Second)
	return "{}", nil
}
`
	r := newTestRunner(100 * time.Millisecond)
	start := time.Now()
	res := r.Execute(context.Background(), src, "https://example.com")

	if res.ErrClass != ErrClassTimeout {
		t.Fatalf("expected %s, got %s", ErrClassTimeout, res.ErrClass)
	}
	if !strings.Contains(res.ErrDetail, "timed out after") {
		t.Errorf("detail should name the timeout, got %q", res.ErrDetail)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Execute did not return promptly on timeout (%s)", elapsed)
	}
}

func TestExecute_Canceled(t *testing.T) {
	src := `
import "time"

func RunScraper(target string) (string, error) {
	time.Sleep(5 * time.Second)
	return "{}", nil
}
`
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	r := newTestRunner(30 * time.Second)
	res := r.Execute(ctx, src, "https://example.com")

	if res.ErrClass != ErrClassRuntime {
		t.Fatalf("expected %s, got %s", ErrClassRuntime, res.ErrClass)
	}
	if res.ErrDetail != "execution canceled" {
		t.Errorf("detail = %q, want cancellation, not a timeout", res.ErrDetail)
	}
}

func TestExecute_SecurityViolation(t *testing.T) {
	src := `
import (
	"os"
	"encoding/json"
)

func RunScraper(target string) (string, error) {
	b, _ := json.Marshal(os.Environ())
	return string(b), nil
}
`
	r := newTestRunner(0)
	res := r.Execute(context.Background(), src, "https://example.com")

	if res.ErrClass != ErrClassSecurity {
		t.Fatalf("expected %s, got %s", ErrClassSecurity, res.ErrClass)
	}
	if !strings.Contains(res.ErrDetail, `"os"`) {
		t.Errorf("detail should name the forbidden import, got %q", res.ErrDetail)
	}
	if res.Stdout != "" {
		t.Error("rejected code must never run")
	}
}

func TestExecute_SyntaxError(t *testing.T) {
	r := newTestRunner(0)
	res := r.Execute(context.Background(), "func RunScraper(target string (", "https://example.com")

	// Unparseable code is short-circuited by the pre-check.
	if res.ErrClass != ErrClassSecurity {
		t.Fatalf("expected %s, got %s", ErrClassSecurity, res.ErrClass)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", 100)
	got := truncate(long, 10)
	if !strings.HasSuffix(got, "...[truncated]") {
		t.Errorf("expected truncation marker, got %q", got)
	}
	if truncate("short", 10) != "short" {
		t.Error("short output must pass through unchanged")
	}
}
