package core

import (
	"context"
	"errors"
	"io"
	"os/exec"
)

// CommandRunner is an interface for running commands, allowing for testing with mocks
type CommandRunner interface {
	CommandContext(ctx context.Context, name string, arg ...string) Command
}

// Command is an interface for exec.Cmd, allowing for testing with mocks
type Command interface {
	SetDir(dir string)
	SetEnv(env []string)
	StdinPipe() (io.WriteCloser, error)
	StdoutPipe() (io.ReadCloser, error)
	StderrPipe() (io.ReadCloser, error)
	CombinedOutput() ([]byte, error)
	Start() error
	Wait() error
	Kill() error
	Pid() int
}

// execCommand wraps exec.Cmd to implement Command interface
type execCommand struct {
	*exec.Cmd
}

func (e *execCommand) SetDir(dir string) {
	e.Dir = dir
}

func (e *execCommand) SetEnv(env []string) {
	e.Env = env
}

func (e *execCommand) Kill() error {
	if e.Process == nil {
		return nil
	}
	return e.Process.Kill()
}

func (e *execCommand) Pid() int {
	if e.Process == nil {
		return 0
	}
	return e.Process.Pid
}

// Interface guard for execCommand
var _ Command = &execCommand{}

// execCommandRunner wraps exec.CommandContext to implement CommandRunner
type execCommandRunner struct{}

func (e *execCommandRunner) CommandContext(ctx context.Context, name string, arg ...string) Command {
	return &execCommand{Cmd: exec.CommandContext(ctx, name, arg...)}
}

// Interface guard for execCommandRunner
var _ CommandRunner = &execCommandRunner{}

// NewExecCommandRunner returns the CommandRunner backed by os/exec.
func NewExecCommandRunner() CommandRunner {
	return &execCommandRunner{}
}

// ExitCode extracts the exit status from an error returned by Wait or CombinedOutput.
// It returns -1 when err did not come from a process exit.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
