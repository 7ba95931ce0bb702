// Package provision materializes the working directory an MCP server runs in,
// fetching and building its source when the server config names a repository.
package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dorcha-inc/mcpbridge/internal/config"
	"github.com/dorcha-inc/mcpbridge/internal/core"
)

// Provisioner prepares server working directories.
type Provisioner struct {
	git           GitRunner
	runner        core.CommandRunner
	workspaceRoot string
}

// NewProvisioner creates a provisioner that checks repositories out below
// workspaceRoot. An empty workspaceRoot means the current directory.
func NewProvisioner(git GitRunner, runner core.CommandRunner, workspaceRoot string) *Provisioner {
	return &Provisioner{
		git:           git,
		runner:        runner,
		workspaceRoot: workspaceRoot,
	}
}

// NewProvisionerFromSettings wires a provisioner with the clone backend and
// workspace root from settings.
func NewProvisionerFromSettings(settings *config.Settings) (*Provisioner, error) {
	runner := core.NewExecCommandRunner()
	git, err := NewGitRunner(settings.CloneBackend, runner)
	if err != nil {
		return nil, err
	}
	return NewProvisioner(git, runner, settings.WorkspaceRoot), nil
}

// RepositoryName derives the checkout directory name from a repository
// reference: its last path segment without a trailing slash or .git suffix.
func RepositoryName(repository string) string {
	ref := strings.TrimRight(strings.TrimSpace(repository), "/")
	if i := strings.LastIndexAny(ref, "/:"); i >= 0 {
		ref = ref[i+1:]
	}
	return strings.TrimSuffix(ref, ".git")
}

// Provision returns the directory the server should run in. Without a
// repository that is the current directory and nothing is touched. Otherwise
// the target directory is removed, the repository is cloned into it and the
// build command, if any, is run there.
func (p *Provisioner) Provision(ctx context.Context, server *config.ServerProcessConfig) (string, error) {
	if server.Repository == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		return cwd, nil
	}

	name := RepositoryName(server.Repository)
	if name == "" || name == "." || name == ".." {
		return "", core.NewError(core.KindClone, fmt.Sprintf("clone %s", server.Repository),
			fmt.Errorf("cannot derive a directory name from the repository reference"))
	}

	root, err := p.root()
	if err != nil {
		return "", err
	}
	target := filepath.Join(root, name)

	removed, err := core.ResetDirectory(target)
	if err != nil {
		return "", core.NewError(core.KindClone, fmt.Sprintf("reset %s", target), err)
	}
	if removed {
		zap.L().Info("Removed existing checkout", zap.String("path", target))
	}

	zap.L().Info("Cloning server repository",
		zap.String("repository", server.Repository),
		zap.String("path", target))

	start := time.Now()
	if err := p.git.Clone(ctx, server.Repository, target); err != nil {
		if core.KindOf(err) == core.KindClone {
			return "", err
		}
		return "", core.NewError(core.KindClone, fmt.Sprintf("clone %s", server.Repository), err)
	}
	zap.L().Debug("Clone finished", zap.Duration("duration", time.Since(start)))

	if server.BuildCommand != "" {
		if err := p.build(ctx, target, server); err != nil {
			return "", err
		}
	}

	return target, nil
}

func (p *Provisioner) root() (string, error) {
	root := p.workspaceRoot
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		root = cwd
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace root %s: %w", root, err)
	}

	// #nosec G301 -- the workspace holds checked out sources, not secrets
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace root %s: %w", abs, err)
	}
	return abs, nil
}

func (p *Provisioner) build(ctx context.Context, dir string, server *config.ServerProcessConfig) error {
	zap.L().Info("Building server",
		zap.String("path", dir),
		zap.String("command", server.BuildCommand))

	cmd := p.runner.CommandContext(ctx, "sh", "-c", server.BuildCommand)
	cmd.SetDir(dir)
	cmd.SetEnv(core.BuildEnv(server.Env))

	output, err := cmd.CombinedOutput()
	if err != nil {
		return core.NewError(core.KindBuild,
			fmt.Sprintf("run %q (exit code %d)", server.BuildCommand, core.ExitCode(err)), err).
			WithOutput(string(output))
	}
	return nil
}
