package scm

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// GitCLI runs git commands against remote repositories. Tree fetches
// use a throwaway shallow clone; pushes use a persistent work tree
// under workDir keyed by repo id.
type GitCLI struct {
	workDir string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGitCLI creates a git CLI provider. workDir holds persistent clones
// for push operations; empty disables pushing. timeout bounds each git
// command (default 2 minutes).
func NewGitCLI(workDir string, timeout time.Duration, logger *slog.Logger) *GitCLI {
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &GitCLI{workDir: workDir, timeout: timeout, logger: logger}
}

// run executes one git command with the provider timeout, returning
// stdout. stderr is folded into the error on failure.
func (g *GitCLI) run(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	g.logger.Debug("running git command", "args", args, "dir", dir)
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("git %s: timed out after %s", args[0], g.timeout)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return stdout.String(), nil
}

// ListBranches lists remote heads via ls-remote, without cloning.
func (g *GitCLI) ListBranches(ctx context.Context, repo RepoConfig) ([]string, error) {
	out, err := g.run(ctx, "", "ls-remote", "--heads", repo.URL)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		_, ref, ok := strings.Cut(line, "\trefs/heads/")
		if !ok {
			continue
		}
		ref = strings.TrimSpace(ref)
		if ref != "" && !seen[ref] {
			seen[ref] = true
			branches = append(branches, ref)
		}
	}
	sort.Strings(branches)
	return branches, nil
}

// FetchTree shallow-clones branch into a temporary directory and walks
// the checkout into a nested tree.
func (g *GitCLI) FetchTree(ctx context.Context, repo RepoConfig, branch string) ([]*TreeNode, error) {
	tmp, err := os.MkdirTemp("", "devspace-clone-")
	if err != nil {
		return nil, fmt.Errorf("create temp clone dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if _, err := g.run(ctx, "", "clone", "--depth", "1", "--branch", branch, repo.URL, tmp); err != nil {
		return nil, err
	}

	tree, err := walkCheckout(tmp, "")
	if err != nil {
		return nil, fmt.Errorf("walk checkout: %w", err)
	}
	SortTree(tree)
	return tree, nil
}

// walkCheckout builds tree nodes for the directory at dir, recursively.
// prefix is the slash-separated path from the repository root. Dot
// entries (.git included) are skipped.
func walkCheckout(dir, prefix string) ([]*TreeNode, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var nodes []*TreeNode
	for _, item := range items {
		name := item.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		id := name
		if prefix != "" {
			id = prefix + "/" + name
		}

		if item.IsDir() {
			children, err := walkCheckout(filepath.Join(dir, name), id)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, &TreeNode{ID: id, Name: name, Type: NodeFolder, Children: children})
		} else {
			nodes = append(nodes, &TreeNode{ID: id, Name: name, Type: NodeFile})
		}
	}
	return nodes, nil
}

// Pull brings the persistent local work tree for repo up to date with
// origin/branch, cloning it first if it does not exist yet.
func (g *GitCLI) Pull(ctx context.Context, repo RepoConfig, branch string) (string, error) {
	if g.workDir == "" {
		return "", fmt.Errorf("pull unavailable: no git work directory configured")
	}

	local := filepath.Join(g.workDir, repo.ID)
	if _, err := os.Stat(filepath.Join(local, ".git")); err != nil {
		if err := os.MkdirAll(g.workDir, 0o755); err != nil {
			return "", fmt.Errorf("create work dir: %w", err)
		}
		out, err := g.run(ctx, "", "clone", "--branch", branch, repo.URL, local)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(out), nil
	}

	if _, err := g.run(ctx, local, "checkout", branch); err != nil {
		return "", err
	}
	out, err := g.run(ctx, local, "pull", "origin", branch)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Push ensures an up-to-date local work tree for repo, stages all
// changes, commits with message, and pushes branch to origin. "nothing
// to commit" from the commit step is tolerated: the push still runs so
// previously committed work lands.
func (g *GitCLI) Push(ctx context.Context, repo RepoConfig, branch, message string) (string, error) {
	if g.workDir == "" {
		return "", fmt.Errorf("push unavailable: no git work directory configured")
	}

	local := filepath.Join(g.workDir, repo.ID)
	if _, err := os.Stat(filepath.Join(local, ".git")); err != nil {
		if err := os.MkdirAll(g.workDir, 0o755); err != nil {
			return "", fmt.Errorf("create work dir: %w", err)
		}
		if _, err := g.run(ctx, "", "clone", "--branch", branch, repo.URL, local); err != nil {
			return "", err
		}
	} else {
		if _, err := g.run(ctx, local, "checkout", branch); err != nil {
			return "", err
		}
		if _, err := g.run(ctx, local, "pull", "origin", branch); err != nil {
			return "", err
		}
	}

	if _, err := g.run(ctx, local, "add", "."); err != nil {
		return "", err
	}

	// On "nothing to commit" git exits nonzero with the message on
	// stdout, which run folds into the error.
	if _, err := g.run(ctx, local, "commit", "-m", message); err != nil {
		if !strings.Contains(err.Error(), "nothing to commit") {
			return "", err
		}
	}

	out, err := g.run(ctx, local, "push", "origin", branch)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
