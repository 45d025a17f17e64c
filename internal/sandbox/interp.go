package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"
)

// interpRunner executes generated scrapers in the yaegi interpreter.
//
// The generated program must define:
//
//	func RunScraper(target string) (string, error)
//
// in package main. The returned string is the scraper's final stdout and
// is expected to be a single JSON value; anything the code prints along
// the way is captured too, ahead of the return value.
type interpRunner struct {
	cfg      Config
	precheck *Precheck
	logger   *zap.Logger
}

func newInterpRunner(cfg Config, logger *zap.Logger) *interpRunner {
	return &interpRunner{
		cfg:      cfg,
		precheck: NewPrecheck(),
		logger:   logger,
	}
}

// Execute runs the source against the target. A fresh interpreter is
// created per call and discarded afterwards, so no state leaks between
// refinement attempts.
func (r *interpRunner) Execute(ctx context.Context, source, targetURL string) *Result {
	result := &Result{}
	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
		result.Stdout = truncate(result.Stdout, r.cfg.CaptureCap)
		result.Stderr = truncate(result.Stderr, r.cfg.CaptureCap)
	}()

	if violations := r.precheck.Scan(wrapSource(source)); len(violations) > 0 {
		descs := make([]string, 0, len(violations))
		for _, v := range violations {
			descs = append(descs, v.String())
		}
		result.ErrClass = ErrClassSecurity
		result.ErrDetail = strings.Join(descs, "; ")
		r.logger.Warn("Scraper rejected by static pre-check",
			zap.Int("violations", len(violations)))
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	// Locked writers: on timeout the abandoned goroutine may still be
	// printing while we read the captures.
	stdout := &lockedBuffer{}
	stderr := &lockedBuffer{}
	i := interp.New(interp.Options{
		Stdout: stdout,
		Stderr: stderr,
	})
	if err := i.Use(stdlib.Symbols); err != nil {
		result.ErrClass = ErrClassRuntime
		result.ErrDetail = fmt.Sprintf("failed to load interpreter symbols: %v", err)
		return result
	}

	if _, err := i.Eval(wrapSource(source)); err != nil {
		result.Stdout = stdout.String()
		result.Stderr = stderr.String()
		result.ErrClass = ErrClassRuntime
		result.ErrDetail = fmt.Sprintf("code evaluation failed: %v", err)
		return result
	}

	v, err := i.Eval("main.RunScraper")
	if err != nil {
		result.ErrClass = ErrClassRuntime
		result.ErrDetail = "RunScraper function not found: " + err.Error()
		return result
	}
	run, ok := v.Interface().(func(string) (string, error))
	if !ok {
		result.ErrClass = ErrClassRuntime
		result.ErrDetail = "RunScraper has incorrect signature (expected func(string) (string, error))"
		return result
	}

	type outcome struct {
		payload string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("scraper panicked: %v", rec)}
			}
		}()
		payload, runErr := run(targetURL)
		done <- outcome{payload: payload, err: runErr}
	}()

	select {
	case out := <-done:
		result.Stdout = stdout.String()
		result.Stderr = stderr.String()
		if out.err != nil {
			result.ErrClass = ErrClassRuntime
			result.ErrDetail = "scraper returned error: " + out.err.Error()
			if result.Stderr == "" {
				result.Stderr = out.err.Error()
			}
			return result
		}
		if out.payload != "" {
			// The returned payload is the scraper's final stdout and is
			// authoritative for parsing.
			if result.Stdout != "" && !strings.HasSuffix(result.Stdout, "\n") {
				result.Stdout += "\n"
			}
			result.Stdout += out.payload
			parsed := &Result{Stdout: out.payload}
			parsed.parseOutput()
			result.Output = parsed.Output
			result.ErrClass = parsed.ErrClass
			result.ErrDetail = parsed.ErrDetail
			return result
		}
		result.parseOutput()
		return result

	case <-ctx.Done():
		// The interpreter goroutine cannot be forcibly killed; it is
		// abandoned with its single-use interpreter and buffers.
		result.Stdout = stdout.String()
		result.Stderr = stderr.String()
		if errors.Is(ctx.Err(), context.Canceled) {
			result.ErrClass = ErrClassRuntime
			result.ErrDetail = "execution canceled"
			r.logger.Warn("Scraper execution canceled")
			return result
		}
		result.ErrClass = ErrClassTimeout
		result.ErrDetail = fmt.Sprintf("execution timed out after %s", r.cfg.Timeout)
		r.logger.Warn("Scraper execution timed out", zap.Duration("timeout", r.cfg.Timeout))
		return result
	}
}

// wrapSource adds a package clause when the model omitted one.
func wrapSource(source string) string {
	if strings.Contains(source, "package main") {
		return source
	}
	return "package main\n\n" + source
}

// lockedBuffer is a mutex-guarded bytes.Buffer usable as an io.Writer
// from an abandoned interpreter goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
