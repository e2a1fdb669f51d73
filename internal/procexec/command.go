package procexec

import (
	"errors"
	"fmt"

	"github.com/mattn/go-shellwords"
)

// ParseCommand splits a configured tool command line such as
// "ffmpeg -hide_banner -loglevel error" into a program name and leading
// arguments. Quoting follows POSIX shell word rules but no expansion is
// performed and the result is never handed to a shell.
func ParseCommand(line string) (Command, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = false
	parser.ParseBacktick = false
	args, err := parser.Parse(line)
	if err != nil {
		return Command{}, fmt.Errorf("procexec: parse %q: %w", line, err)
	}
	if len(args) == 0 {
		return Command{}, errors.New("procexec: command is empty")
	}
	return Command{Name: args[0], Args: args[1:]}, nil
}

// With returns a copy of c with extra appended to its arguments. c itself is
// never modified, so a parsed tool prefix can be shared across goroutines.
func (c Command) With(extra ...string) Command {
	args := make([]string, 0, len(c.Args)+len(extra))
	args = append(args, c.Args...)
	args = append(args, extra...)
	return Command{Name: c.Name, Args: args, Dir: c.Dir, Env: c.Env}
}
