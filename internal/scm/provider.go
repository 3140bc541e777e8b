package scm

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Provider reads branch and tree state from a remote repository.
type Provider interface {
	// ListBranches returns the remote branch names, sorted.
	ListBranches(ctx context.Context, repo RepoConfig) ([]string, error)

	// FetchTree returns the full file tree of branch, folders before
	// files, each group alphabetical.
	FetchTree(ctx context.Context, repo RepoConfig, branch string) ([]*TreeNode, error)
}

// Pusher stages, commits, and pushes local changes. Only the git CLI
// provider implements this: pushing needs a work tree, which the API
// provider does not have.
type Pusher interface {
	// Push commits all staged changes in the local work tree for repo
	// and pushes them to branch. Returns the git output.
	Push(ctx context.Context, repo RepoConfig, branch, message string) (string, error)
}

// Select returns the provider for a repository: the GitHub API client
// when the URL is a github.com repository and a token is configured,
// otherwise the git CLI.
func Select(repo RepoConfig, git *GitCLI, logger *slog.Logger) Provider {
	if repo.Token != "" {
		if _, _, err := githubRepoPath(repo.URL); err == nil {
			return NewGitHubProvider(repo.Token, 30*time.Second, logger)
		}
	}
	return git
}

// githubRepoPath extracts "owner", "name" from a github.com repo URL.
func githubRepoPath(repoURL string) (string, string, error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", "", err
	}
	if !strings.EqualFold(u.Host, "github.com") {
		return "", "", errNotGitHub
	}
	path := strings.TrimSuffix(strings.Trim(u.Path, "/"), ".git")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errNotGitHub
	}
	return parts[0], parts[1], nil
}
