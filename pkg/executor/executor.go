// Package executor runs external build tools: gn, ninja, git, codesign and
// the like. Steps never call os/exec directly so tests and dry runs can
// substitute a recorder.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// Command describes one process invocation.
type Command struct {
	Program string
	Args    []string
	Dir     string
	// Env is appended to the current process environment.
	Env   map[string]string
	Stdin string
	// Redact lists secret values masked when the command is logged.
	Redact []string
}

// String renders the command line for logs.
func (c Command) String() string {
	line := c.Program
	if len(c.Args) > 0 {
		line += " " + strings.Join(c.Args, " ")
	}
	for _, secret := range c.Redact {
		if secret != "" {
			line = strings.ReplaceAll(line, secret, "***")
		}
	}
	return line
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Executor runs commands.
type Executor interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += "\nstderr: " + s
	}
	return msg
}

// Exec runs commands with os/exec.
type Exec struct {
	stream     io.Writer
	maxRetries int
	retryDelay time.Duration
	lookPath   func(string) (string, error)
}

// Option configures an Exec.
type Option func(*Exec)

// WithStream copies stdout and stderr to w while the command runs, in
// addition to capturing them. Long compiles report progress this way.
func WithStream(w io.Writer) Option {
	return func(e *Exec) { e.stream = w }
}

// WithRetries retries a failing command up to n more times.
func WithRetries(n int, delay time.Duration) Option {
	return func(e *Exec) {
		e.maxRetries = n
		e.retryDelay = delay
	}
}

// New creates an Exec.
func New(opts ...Option) *Exec {
	e := &Exec{retryDelay: time.Second, lookPath: exec.LookPath}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run implements Executor.
func (e *Exec) Run(ctx context.Context, cmd Command) (*Result, error) {
	if _, err := e.lookPath(cmd.Program); err != nil {
		return nil, fmt.Errorf("%s binary not found in PATH: %w", cmd.Program, err)
	}

	var (
		result *Result
		err    error
	)
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		result, err = e.runOnce(ctx, cmd)
		if err == nil || attempt == e.maxRetries {
			break
		}

		var exitErr *ExitError
		if !errors.As(err, &exitErr) {
			break
		}

		slog.Warn("command failed, retrying", "command", cmd.Program, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return result, fmt.Errorf("cancelled during retry: %w", ctx.Err())
		case <-time.After(e.retryDelay):
		}
	}
	return result, err
}

func (e *Exec) runOnce(ctx context.Context, cmd Command) (*Result, error) {
	c := exec.CommandContext(ctx, cmd.Program, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), envList(cmd.Env)...)
	}
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if e.stream != nil {
		c.Stdout = io.MultiWriter(&stdout, e.stream)
		c.Stderr = io.MultiWriter(&stderr, e.stream)
	}

	slog.Debug("running command", "command", cmd.String(), "dir", cmd.Dir)

	start := time.Now()
	runErr := c.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		if ctx.Err() != nil {
			return result, fmt.Errorf("%s: %w", cmd.Program, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, &ExitError{Command: cmd.Program, ExitCode: result.ExitCode, Stderr: result.Stderr}
		}
		return result, fmt.Errorf("running %s: %w", cmd.Program, runErr)
	}
	return result, nil
}

// envList renders env as KEY=VALUE pairs in key order.
func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
