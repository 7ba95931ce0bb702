package provision

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-git/go-git/v6"

	"github.com/dorcha-inc/mcpbridge/internal/config"
	"github.com/dorcha-inc/mcpbridge/internal/core"
)

// GitRunner fetches a repository into a fresh directory, allowing for testing with mocks
type GitRunner interface {
	Clone(ctx context.Context, url string, targetPath string) error
}

// execGitRunner clones with the git executable
type execGitRunner struct {
	runner core.CommandRunner
}

func (e *execGitRunner) Clone(ctx context.Context, url string, targetPath string) error {
	cmd := e.runner.CommandContext(ctx, "git", "clone", "--depth", "1", url, targetPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return core.NewError(core.KindClone, fmt.Sprintf("git clone %s", url), err).WithOutput(string(output))
	}
	return nil
}

// goGitRunner clones in-process with go-git
type goGitRunner struct{}

func (g *goGitRunner) Clone(ctx context.Context, url string, targetPath string) error {
	var progress bytes.Buffer
	_, err := git.PlainCloneContext(ctx, targetPath, &git.CloneOptions{
		URL:      url,
		Depth:    1,
		Progress: &progress,
	})
	if err != nil {
		return core.NewError(core.KindClone, fmt.Sprintf("clone %s", url), err).WithOutput(progress.String())
	}
	return nil
}

// NewGitRunner returns the GitRunner for backend.
func NewGitRunner(backend config.CloneBackend, runner core.CommandRunner) (GitRunner, error) {
	switch backend {
	case config.CloneBackendCLI, "":
		return &execGitRunner{runner: runner}, nil
	case config.CloneBackendGoGit:
		return &goGitRunner{}, nil
	default:
		return nil, core.NewError(core.KindConfig, "select clone backend",
			fmt.Errorf("unknown clone backend '%s', must be one of: %s", backend, core.JoinMapKeys(config.ValidCloneBackends())))
	}
}

// MockGitRunner is a mock implementation of GitRunner for testing
// It can be used across packages to test code that depends on GitRunner
type MockGitRunner struct {
	CloneErr   error
	CloneCalls []struct{ URL, TargetPath string }
	CloneFunc  func(url, targetPath string) error
}

func (m *MockGitRunner) Clone(_ context.Context, url string, targetPath string) error {
	m.CloneCalls = append(m.CloneCalls, struct{ URL, TargetPath string }{url, targetPath})
	if m.CloneFunc != nil {
		return m.CloneFunc(url, targetPath)
	}
	return m.CloneErr
}

// Interface guards
var (
	_ GitRunner = &execGitRunner{}
	_ GitRunner = &goGitRunner{}
	_ GitRunner = &MockGitRunner{}
)
