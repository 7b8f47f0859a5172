package script

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gridnode/gridnode/pkg/resource"
	"github.com/gridnode/gridnode/pkg/rest"
)

// nextScriptID hands out process-wide script ids in creation order.
var nextScriptID atomic.Int64

// Future resolves to one command's result once the executor processed it.
type Future struct {
	done   chan struct{}
	once   sync.Once
	result *rest.ExeResult
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Wait blocks until the result is in or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) (*rest.ExeResult, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done reports whether the future already resolved.
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *Future) resolve(result *rest.ExeResult, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Script is an ordered list of commands, each paired with a future for its
// result. Commands keep their append order on the wire.
type Script struct {
	id int64

	mu      sync.Mutex
	entries []entry
}

type entry struct {
	cmd    Command
	future *Future
}

// New returns an empty script with a fresh process-wide id.
func New() *Script {
	return &Script{id: nextScriptID.Add(1)}
}

// ID returns the script's process-wide sequence number.
func (s *Script) ID() int64 { return s.id }

// Add appends a command and returns the future that will carry its result.
func (s *Script) Add(cmd Command) *Future {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := newFuture()
	s.entries = append(s.entries, entry{cmd: cmd, future: f})
	return f
}

// Len returns the number of commands.
func (s *Script) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Commands returns the commands in append order.
func (s *Script) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Command, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.cmd
	}
	return out
}

// Evaluate runs every command's Before hook in order and returns the wire
// batch. A hook or evaluation failure aborts and is returned as is.
func (s *Script) Evaluate(ctx context.Context, env *Env) ([]rest.ExeCommand, error) {
	for i, cmd := range s.Commands() {
		if err := cmd.Before(ctx, env); err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
	}
	cmds := s.Commands()
	batch := make([]rest.ExeCommand, len(cmds))
	for i, cmd := range cmds {
		wire, err := cmd.Evaluate()
		if err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
		batch[i] = wire
	}
	return batch, nil
}

// SetResult resolves the i-th command's future with its batch result and
// runs the command's After hook. An index outside the script is a
// consistency violation. Resolving a future twice is rejected.
func (s *Script) SetResult(ctx context.Context, env *Env, i int, result *rest.ExeResult) error {
	s.mu.Lock()
	if i < 0 || i >= len(s.entries) {
		n := len(s.entries)
		s.mu.Unlock()
		return resource.NewConsistencyError(
			"script %d: result index %d outside batch of %d commands", s.id, i, n)
	}
	e := s.entries[i]
	s.mu.Unlock()

	if !e.future.resolve(result, nil) {
		return resource.NewConsistencyError("script %d: command %d resolved twice", s.id, i)
	}
	if result != nil && !result.Ok() {
		return nil
	}
	return e.cmd.After(ctx, env)
}

// SetError resolves every unresolved future with err, in order.
func (s *Script) SetError(err error) {
	s.mu.Lock()
	entries := make([]entry, len(s.entries))
	copy(entries, s.entries)
	s.mu.Unlock()

	for _, e := range entries {
		e.future.resolve(nil, err)
	}
}
