package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// subprocessRunner executes generated scrapers with the Go toolchain in
// a scoped temporary workspace. The workspace is created per execution
// and removed on every exit path; the target URL is passed as the single
// program argument and the scraper prints its JSON result to stdout.
type subprocessRunner struct {
	cfg      Config
	precheck *Precheck
	logger   *zap.Logger

	// goBinary is overridable for tests.
	goBinary string
}

func newSubprocessRunner(cfg Config, logger *zap.Logger) *subprocessRunner {
	return &subprocessRunner{
		cfg:      cfg,
		precheck: NewPrecheck(),
		logger:   logger,
		goBinary: "go",
	}
}

func (r *subprocessRunner) Execute(ctx context.Context, source, targetURL string) *Result {
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
		return result
	}

	workspace, err := os.MkdirTemp("", "scrapeforge-run-*")
	if err != nil {
		result.ErrClass = ErrClassRuntime
		result.ErrDetail = "failed to create workspace: " + err.Error()
		return result
	}
	defer func() {
		if rmErr := os.RemoveAll(workspace); rmErr != nil {
			r.logger.Warn("Failed to remove scraper workspace",
				zap.String("workspace", workspace), zap.Error(rmErr))
		}
	}()

	srcPath := filepath.Join(workspace, "main.go")
	if err := os.WriteFile(srcPath, []byte(wrapSource(source)), 0644); err != nil {
		result.ErrClass = ErrClassRuntime
		result.ErrDetail = "failed to write scraper source: " + err.Error()
		return result
	}
	modFile := "module scraper\n\ngo 1.24\n"
	if err := os.WriteFile(filepath.Join(workspace, "go.mod"), []byte(modFile), 0644); err != nil {
		result.ErrClass = ErrClassRuntime
		result.ErrDetail = "failed to write workspace module file: " + err.Error()
		return result
	}

	execCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, r.goBinary, "run", ".", targetURL)
	cmd.Dir = workspace
	// Minimal environment: toolchain needs, nothing from the host shell.
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + workspace,
		"GOCACHE=" + filepath.Join(workspace, ".gocache"),
		"GOFLAGS=-mod=mod",
		"GO111MODULE=on",
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if errors.Is(execCtx.Err(), context.Canceled) {
		result.ErrClass = ErrClassRuntime
		result.ErrDetail = "execution canceled"
		return result
	}
	if execCtx.Err() == context.DeadlineExceeded {
		result.ErrClass = ErrClassTimeout
		result.ErrDetail = fmt.Sprintf("execution timed out after %s", r.cfg.Timeout)
		return result
	}
	if runErr != nil {
		result.ErrClass = ErrClassRuntime
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ErrDetail = fmt.Sprintf("scraper exited with code %d", exitErr.ExitCode())
		} else {
			result.ErrDetail = "scraper failed to start: " + runErr.Error()
		}
		return result
	}

	result.parseOutput()
	return result
}
