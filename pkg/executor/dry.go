package executor

import (
	"context"
	"log/slog"
)

// Dry logs commands instead of running them.
type Dry struct{}

// Run implements Executor.
func (Dry) Run(_ context.Context, cmd Command) (*Result, error) {
	slog.Info("dry run: would execute", "command", cmd.String(), "dir", cmd.Dir)
	return &Result{}, nil
}
