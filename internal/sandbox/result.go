// Package sandbox runs untrusted generated scraper code in an isolated,
// timeout-bounded environment and captures its result. The default
// runner interprets the source with yaegi instead of compiling it, which
// avoids toolchain hangs and dependency resolution entirely; a
// subprocess runner is available for code that needs a real build.
//
// Every execution gets a fresh, single-use isolation context. A static
// AST pre-check runs before any execution and short-circuits on
// disallowed imports; it is defense in depth, not a substitute for the
// interpreter-level isolation.
package sandbox

import (
	"encoding/json"
	"strings"
	"time"
)

// ErrorClass classifies why an execution failed. Empty means the
// execution itself succeeded (assertions may still fail downstream).
type ErrorClass string

const (
	ErrClassNone     ErrorClass = ""
	ErrClassTimeout  ErrorClass = "timeout"
	ErrClassRuntime  ErrorClass = "runtime_error"
	ErrClassParse    ErrorClass = "output_parse_error"
	ErrClassSecurity ErrorClass = "security_violation"
)

// Result captures one sandboxed execution.
type Result struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`

	// Output is the final stdout parsed as a single JSON value, or nil
	// when parsing failed or execution never produced output.
	Output any `json:"output,omitempty"`

	ErrClass  ErrorClass `json:"error_class,omitempty"`
	ErrDetail string     `json:"error_detail,omitempty"`
}

// OK reports whether the execution itself succeeded.
func (r *Result) OK() bool { return r.ErrClass == ErrClassNone }

// parseOutput attempts to decode the captured stdout as one JSON value.
// The raw text is always retained on the result for diagnosis.
func (r *Result) parseOutput() {
	text := strings.TrimSpace(r.Stdout)
	if text == "" {
		r.ErrClass = ErrClassParse
		r.ErrDetail = "scraper produced no output"
		return
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		r.ErrClass = ErrClassParse
		r.ErrDetail = "failed to parse scraper output as JSON: " + err.Error()
		return
	}
	r.Output = v
}

const defaultCaptureCap = 64 * 1024

// truncate bounds captured output, appending a marker when cut.
func truncate(s string, limit int) string {
	if limit <= 0 {
		limit = defaultCaptureCap
	}
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n...[truncated]"
}
