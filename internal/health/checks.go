package health

import (
	"context"
	"fmt"

	"github.com/MrWong99/talkback/internal/procexec"
	"github.com/MrWong99/talkback/internal/resilience"
	"github.com/MrWong99/talkback/internal/workspace"
)

// Tool reports whether the executable of cmd can be resolved.
func Tool(name string, cmd procexec.Command) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			return procexec.LookPath(cmd.Name)
		},
	}
}

// Workspace reports whether request workspaces can be created under root.
func Workspace(root string) Checker {
	return Checker{
		Name: "workspace",
		Check: func(context.Context) error {
			return workspace.CheckWritable(root)
		},
	}
}

// Breaker fails while cb is open.
func Breaker(cb *resilience.CircuitBreaker) Checker {
	return Checker{
		Name: "breaker/" + cb.Name(),
		Check: func(context.Context) error {
			if s := cb.State(); s == resilience.StateOpen {
				return fmt.Errorf("circuit %s", s)
			}
			return nil
		},
	}
}
