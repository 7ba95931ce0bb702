package bridge

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/dorcha-inc/mcpbridge/internal/config"
	"github.com/dorcha-inc/mcpbridge/internal/core"
)

// Supervisor launches MCP servers.
type Supervisor struct {
	runner core.CommandRunner
	sink   LineSink
}

// NewSupervisor creates a supervisor. A nil sink logs stderr through zap.
func NewSupervisor(runner core.CommandRunner, sink LineSink) *Supervisor {
	if sink == nil {
		sink = ZapSink{}
	}
	return &Supervisor{runner: runner, sink: sink}
}

// RunningProcess is a live server. Its pipes are only reachable through a Channel.
type RunningProcess struct {
	server string
	cmd    core.Command
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *StderrMonitor

	waitOnce sync.Once
	waitErr  error
}

// Spawn starts the server in dir with stdin, stdout and stderr piped. The
// configured environment is layered over the inherited one. The child is
// killed if ctx ends, so ctx should outlive the server.
func (s *Supervisor) Spawn(ctx context.Context, server string, cfg *config.ServerProcessConfig, dir string) (*RunningProcess, error) {
	cmd := s.runner.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.SetDir(dir)
	cmd.SetEnv(core.SpawnEnv(cfg.Env))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, core.NewError(core.KindSpawn, "create stdin pipe", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		core.LogDeferredError(stdin.Close)
		return nil, core.NewError(core.KindSpawn, "create stdout pipe", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		core.LogDeferredError(stdin.Close)
		core.LogDeferredError(stdout.Close)
		return nil, core.NewError(core.KindSpawn, "create stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, core.NewError(core.KindSpawn, fmt.Sprintf("start %s", cfg.Command), err)
	}

	monitor := NewStderrMonitor(server, stderr, s.sink)
	monitor.Start()

	zap.L().Info("Started MCP server",
		zap.String("server", server),
		zap.String("command", cfg.Command),
		zap.Strings("args", cfg.Args),
		zap.String("dir", dir),
		zap.Int("pid", cmd.Pid()))

	return &RunningProcess{
		server: server,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: monitor,
	}, nil
}

// Server returns the key the process was started for.
func (p *RunningProcess) Server() string {
	return p.server
}

// Pid returns the OS process id.
func (p *RunningProcess) Pid() int {
	return p.cmd.Pid()
}

// StderrDone is closed once the server's stderr has been drained.
func (p *RunningProcess) StderrDone() <-chan struct{} {
	return p.stderr.Done()
}

// Stop closes the server's stdin, lets it finish writing stderr and waits for
// it to exit. If ctx ends first the server is killed. Stop always reaps the process.
func (p *RunningProcess) Stop(ctx context.Context) error {
	if err := p.stdin.Close(); err != nil {
		zap.L().Debug("Failed to close MCP server stdin", zap.String("server", p.server), zap.Error(err))
	}

	killed := false
	select {
	case <-p.stderr.Done():
	case <-ctx.Done():
		killed = p.kill()
	}

	waited := make(chan error, 1)
	go func() {
		waited <- p.wait()
	}()

	var err error
	if killed {
		err = <-waited
	} else {
		select {
		case err = <-waited:
		case <-ctx.Done():
			killed = p.kill()
			err = <-waited
		}
	}

	zap.L().Info("MCP server stopped",
		zap.String("server", p.server),
		zap.Int("exit_code", core.ExitCode(err)),
		zap.Bool("killed", killed))

	if err != nil && !killed {
		return fmt.Errorf("MCP server %s exited with error: %w", p.server, err)
	}
	return nil
}

func (p *RunningProcess) kill() bool {
	zap.L().Warn("MCP server did not exit in time, killing it",
		zap.String("server", p.server),
		zap.Int("pid", p.Pid()))
	if err := p.cmd.Kill(); err != nil {
		zap.L().Error("Failed to kill MCP server", zap.String("server", p.server), zap.Error(err))
		return false
	}
	return true
}

func (p *RunningProcess) wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}
