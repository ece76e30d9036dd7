// Package cluster manages the local OpenSearch container stack through
// docker compose. It wraps the compose lifecycle (up, stop, destroy) and
// waits for the engine to become reachable after startup.
package cluster

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/sourcedai/sai-go/internal/resilience"
)

// RunResult captures the output of one docker invocation.
type RunResult struct {
	// Stdout is the captured standard output.
	Stdout string
	// Stderr is the captured standard error.
	Stderr string
	// ExitCode is the process exit code; 0 on success.
	ExitCode int
}

// Runner abstracts docker execution so tests can substitute a fake.
type Runner interface {
	// Run executes `docker <args...>` and returns the captured result.
	// A non-zero exit code is returned in RunResult, not as an error;
	// the error value covers failures to start the process at all.
	Run(ctx context.Context, args ...string) (*RunResult, error)
}

// ExecRunner implements Runner by executing the real docker binary found on
// PATH. It is the default runner used in production.
type ExecRunner struct{}

// NewExecRunner returns a new ExecRunner. It verifies that the docker binary
// is available on PATH at construction time.
func NewExecRunner() (*ExecRunner, error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return nil, fmt.Errorf("cluster: docker binary not found on PATH — install docker first")
	}
	return &ExecRunner{}, nil
}

// Run executes `docker <args...>` and returns captured stdout, stderr, and
// exit code.
func (r *ExecRunner) Run(ctx context.Context, args ...string) (*RunResult, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("cluster: failed to run docker %v: %w", args, err)
		}
	}

	return &RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}

// pinger is the dependency probe WaitHealthy polls. *engine.Client satisfies it.
type pinger interface {
	Ping(ctx context.Context) error
}

// Manager drives the compose stack defined by one compose file.
type Manager struct {
	runner      Runner
	composeFile string
	log         *slog.Logger
}

// NewManager constructs a Manager for the given compose file.
// If log is nil, slog.Default is used.
func NewManager(runner Runner, composeFile string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{runner: runner, composeFile: composeFile, log: log}
}

// Up starts the stack in detached mode.
func (m *Manager) Up(ctx context.Context) error {
	return m.compose(ctx, "up", "-d")
}

// Stop stops the running containers without removing volumes, so index data
// survives a restart.
func (m *Manager) Stop(ctx context.Context) error {
	return m.compose(ctx, "stop")
}

// Destroy removes the containers and their volumes. All index data is lost.
func (m *Manager) Destroy(ctx context.Context) error {
	return m.compose(ctx, "down", "-v")
}

// compose runs `docker compose -f <file> <args...>` and maps a non-zero exit
// code to an error carrying the captured stderr.
func (m *Manager) compose(ctx context.Context, args ...string) error {
	full := append([]string{"compose", "-f", m.composeFile}, args...)

	m.log.Info("running docker compose",
		slog.String("compose_file", m.composeFile),
		slog.Any("args", args),
	)

	res, err := m.runner.Run(ctx, full...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("cluster: docker compose %v exited with code %d: %s",
			args, res.ExitCode, res.Stderr)
	}
	return nil
}

// WaitHealthy polls the engine until it responds to a ping or the timeout
// elapses. OpenSearch can take a minute or more to accept connections after
// the container starts, so callers should allow a generous timeout. The poll
// runs at a constant interval; the attempt budget is the number of intervals
// that fit in the timeout, plus the immediate first probe.
func (m *Manager) WaitHealthy(ctx context.Context, p pinger, timeout, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	attempts := int(timeout/interval) + 1
	if attempts < 1 {
		attempts = 1
	}

	policy := resilience.Policy{
		MaxAttempts:  attempts,
		InitialDelay: interval,
		MaxDelay:     interval,
		Multiplier:   1,
	}
	err := resilience.Retry(ctx, "cluster health wait", policy, func() error {
		return p.Ping(ctx)
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("cluster: engine did not become healthy within %s: %w", timeout, err)
	}
	m.log.Info("engine is healthy")
	return nil
}
