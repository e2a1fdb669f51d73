// Package mock provides a test double for the procexec.Runner interface.
//
// Use Runner to script the outcome of external tool invocations (including
// side effects such as writing output files) and to verify which commands a
// component tried to run.
//
// Example:
//
//	r := &mock.Runner{
//	    Handler: func(ctx context.Context, cmd procexec.Command) (*procexec.Result, error) {
//	        return &procexec.Result{Stdout: []byte("ok")}, nil
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkback/internal/procexec"
)

// Runner is a mock implementation of procexec.Runner. With a nil Handler every
// call succeeds with an empty Result.
type Runner struct {
	mu sync.Mutex

	// Handler decides the outcome of each call. It runs outside the mock's
	// lock, so it may block or call back into the mock.
	Handler func(ctx context.Context, cmd procexec.Command) (*procexec.Result, error)

	calls []procexec.Command
}

var _ procexec.Runner = (*Runner)(nil)

// Run records cmd and delegates to Handler.
func (r *Runner) Run(ctx context.Context, cmd procexec.Command) (*procexec.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd.With())
	h := r.Handler
	r.mu.Unlock()

	if h == nil {
		return &procexec.Result{}, nil
	}
	return h(ctx, cmd)
}

// Calls returns a copy of every recorded command in call order.
func (r *Runner) Calls() []procexec.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]procexec.Command, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns the number of recorded calls.
func (r *Runner) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Reset clears all recorded calls.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
