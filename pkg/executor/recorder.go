package executor

import (
	"context"
	"sync"
)

// Recorder captures every command it is asked to run. Respond, when set,
// decides each command's outcome; otherwise every command succeeds.
type Recorder struct {
	Respond func(cmd Command) (*Result, error)

	mu       sync.Mutex
	commands []Command
}

// Run implements Executor.
func (r *Recorder) Run(_ context.Context, cmd Command) (*Result, error) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()

	if r.Respond != nil {
		return r.Respond(cmd)
	}
	return &Result{}, nil
}

// Commands returns the commands run so far.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// Programs returns the program of each command run so far.
func (r *Recorder) Programs() []string {
	cmds := r.Commands()
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Program
	}
	return out
}
