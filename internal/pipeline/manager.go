package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"scrapeforge/internal/assertion"
)

// Manager starts refinement loops in the background and enforces the
// one-loop-per-session rule.
type Manager struct {
	runner *Runner
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// NewManager wraps a runner.
func NewManager(runner *Runner, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		runner:   runner,
		logger:   logger,
		inflight: make(map[string]context.CancelFunc),
	}
}

// Start launches the loop for a session in the background. A session
// with a loop already in flight gets ErrGenerationInProgress.
// maxIterations below 1 uses the runner's configured budget. onDone,
// if non-nil, runs on the loop goroutine after the outcome is
// persisted, before the session is marked idle again.
func (m *Manager) Start(sessionID string, assertions []assertion.Assertion, maxIterations int, onDone func(*Outcome, error)) error {
	m.mu.Lock()
	if _, running := m.inflight[sessionID]; running {
		m.mu.Unlock()
		return ErrGenerationInProgress
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.inflight[sessionID] = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer m.finish(sessionID, cancel)

		outcome, err := m.runner.Run(ctx, sessionID, assertions, maxIterations)
		if err != nil {
			m.logger.Error("refinement loop failed",
				zap.String("session_id", sessionID), zap.Error(err))
		} else {
			m.logger.Info("refinement loop finished",
				zap.String("session_id", sessionID),
				zap.Int("version", outcome.Version),
				zap.Int("iterations", outcome.Iterations),
				zap.Bool("passed", outcome.Passed))
		}
		if onDone != nil {
			onDone(outcome, err)
		}
	}()
	return nil
}

func (m *Manager) finish(sessionID string, cancel context.CancelFunc) {
	cancel()
	m.mu.Lock()
	delete(m.inflight, sessionID)
	m.mu.Unlock()
}

// Running reports whether a loop is in flight for the session.
func (m *Manager) Running(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, running := m.inflight[sessionID]
	return running
}

// Cancel requests cancellation of a session's loop. The loop observes
// it at the next iteration boundary; in-flight executions run to their
// own timeout.
func (m *Manager) Cancel(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cancel, running := m.inflight[sessionID]
	if running {
		cancel()
	}
	return running
}

// Wait blocks until every in-flight loop has finished. Used during
// shutdown and by tests.
func (m *Manager) Wait() {
	m.wg.Wait()
}
