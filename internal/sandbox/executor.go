package sandbox

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Executor runs one generated scraper against a target URL. The
// isolation context behind an Executor is single-use per call: created,
// used, torn down, never shared between attempts.
type Executor interface {
	Execute(ctx context.Context, source, targetURL string) *Result
}

// Mode selects the execution strategy.
type Mode int

const (
	// ModeInterpreted runs the source in a per-execution yaegi
	// interpreter. Default: no compilation, no host filesystem.
	ModeInterpreted Mode = iota
	// ModeSubprocess builds and runs the source with the Go toolchain in
	// a scoped temporary workspace.
	ModeSubprocess
)

// Config holds executor settings.
type Config struct {
	Mode       Mode
	Timeout    time.Duration // per-execution wall clock limit
	CaptureCap int           // max bytes retained per stream
}

// DefaultConfig returns the documented defaults: 60s timeout, 64KB
// capture cap, interpreted mode.
func DefaultConfig() Config {
	return Config{
		Mode:       ModeInterpreted,
		Timeout:    60 * time.Second,
		CaptureCap: defaultCaptureCap,
	}
}

// New creates an executor for the configured mode.
func New(cfg Config, logger *zap.Logger) Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	switch cfg.Mode {
	case ModeSubprocess:
		return newSubprocessRunner(cfg, logger)
	default:
		return newInterpRunner(cfg, logger)
	}
}
