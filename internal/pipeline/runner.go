// Package pipeline runs the bounded generate/execute/assert refinement
// loop. Each iteration persists a new scraper version and its test
// result before deciding whether to continue, so the full attempt
// history survives a crash mid-loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"scrapeforge/internal/assertion"
	"scrapeforge/internal/generate"
	"scrapeforge/internal/sandbox"
	"scrapeforge/internal/store"
)

// ErrGenerationInProgress signals a second loop start on a session that
// already has one running. Requests are rejected, never queued.
var ErrGenerationInProgress = errors.New("generation already in progress for session")

const defaultMaxIterations = 5

// Config tunes one runner.
type Config struct {
	MaxIterations int
	Framework     string // recorded on stored versions
}

// Runner drives the refinement loop for one session at a time.
type Runner struct {
	store    *store.Store
	client   generate.Client
	executor sandbox.Executor
	engine   *assertion.Engine
	precheck *sandbox.Precheck
	logger   *zap.Logger

	maxIterations int
	framework     string
}

// NewRunner wires the loop's collaborators.
func NewRunner(st *store.Store, client generate.Client, executor sandbox.Executor, logger *zap.Logger, cfg Config) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.Framework == "" {
		cfg.Framework = "stdlib"
	}
	return &Runner{
		store:         st,
		client:        client,
		executor:      executor,
		engine:        assertion.NewEngine(logger),
		precheck:      sandbox.NewPrecheck(),
		logger:        logger,
		maxIterations: cfg.MaxIterations,
		framework:     cfg.Framework,
	}
}

// Outcome summarizes a completed loop.
type Outcome struct {
	SessionID  string `json:"session_id"`
	Version    int    `json:"version"`
	Iterations int    `json:"iterations"`
	Passed     bool   `json:"passed"`
}

// Run executes up to maxIterations attempts and returns the outcome of
// the last one. A maxIterations below 1 falls back to the configured
// budget. Cancellation is honored at iteration boundaries; a capability
// error aborts the loop and marks the session failed.
func (r *Runner) Run(ctx context.Context, sessionID string, assertions []assertion.Assertion, maxIterations int) (*Outcome, error) {
	sess, err := r.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if len(assertions) == 0 {
		assertions = assertion.Defaults()
	}
	if maxIterations < 1 {
		maxIterations = r.maxIterations
	}

	var prevSource string
	var prevFailures []string

	for i := 1; i <= maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("refinement loop canceled before iteration %d: %w", i, err)
		}

		req := generate.Request{
			TargetURL:      sess.TargetURL,
			Objective:      sess.Objective,
			Specification:  sess.Specification,
			Iteration:      i,
			MaxIterations:  maxIterations,
			PreviousSource: prevSource,
			FailureDetails: prevFailures,
			AllowedImports: r.precheck.AllowedImports(),
		}

		source, err := generate.Generate(ctx, r.client, req)
		if err != nil {
			// Capability failure is fatal for the loop, not a test
			// failure. No version is recorded for this iteration.
			if serr := r.store.SetSessionStatus(sessionID, store.SessionFailed); serr != nil {
				r.logger.Error("failed to mark session failed", zap.String("session_id", sessionID), zap.Error(serr))
			}
			return nil, fmt.Errorf("iteration %d: %w", i, err)
		}

		sc, err := r.store.InsertScraper(sessionID, source, r.framework)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", i, err)
		}

		result := r.executor.Execute(ctx, source, sess.TargetURL)

		var outcomes []assertion.Outcome
		if result.OK() {
			outcomes = r.engine.Evaluate(result.Output, assertions)
		} else {
			outcomes = assertion.NotEvaluated(assertions,
				fmt.Sprintf("execution failed (%s): %s", result.ErrClass, result.ErrDetail))
		}
		passed := result.OK() && assertion.AllPassed(outcomes)

		if err := r.store.SaveTestResult(&store.TestResult{
			ScraperID: sc.ID,
			Stdout:    result.Stdout,
			Stderr:    result.Stderr,
			Duration:  result.Duration,
			Output:    result.Output,
			Outcomes:  outcomes,
			Passed:    passed,
			ErrClass:  result.ErrClass,
			ErrDetail: result.ErrDetail,
		}); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", i, err)
		}

		status := store.ScraperTestedFail
		if passed {
			status = store.ScraperTestedPass
		}
		if err := r.store.UpdateScraperStatus(sc.ID, status); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", i, err)
		}

		r.logger.Info("refinement iteration finished",
			zap.String("session_id", sessionID),
			zap.Int("iteration", i),
			zap.Int("version", sc.Version),
			zap.Bool("passed", passed),
			zap.String("error_class", string(result.ErrClass)))

		if passed {
			return &Outcome{SessionID: sessionID, Version: sc.Version, Iterations: i, Passed: true}, nil
		}

		prevSource = source
		prevFailures = failureDetails(result, outcomes)

		if i == maxIterations {
			// Budget exhausted. The last version stays as the
			// best-effort artifact, status TESTED_FAIL.
			return &Outcome{SessionID: sessionID, Version: sc.Version, Iterations: i, Passed: false}, nil
		}
	}
	return nil, fmt.Errorf("refinement loop exited without an outcome")
}

// failureDetails flattens an attempt's failure into the strings fed to
// the next generation request.
func failureDetails(result *sandbox.Result, outcomes []assertion.Outcome) []string {
	if !result.OK() {
		// Assertion outcomes are all "not evaluated" here; the
		// execution failure itself is the signal worth feeding back.
		return []string{fmt.Sprintf("execution failed (%s): %s", result.ErrClass, result.ErrDetail)}
	}
	var details []string
	for _, o := range outcomes {
		if !o.Passed {
			details = append(details, fmt.Sprintf("assertion failed: %s", o.Detail))
		}
	}
	return details
}
