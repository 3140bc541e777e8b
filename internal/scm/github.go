package scm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	gogithub "github.com/google/go-github/v69/github"

	"github.com/xxflyingknife/devspace/internal/httpkit"
)

var errNotGitHub = errors.New("not a github.com repository URL")

// GitHubProvider reads branches and trees through the GitHub API,
// avoiding a clone per tree fetch.
type GitHubProvider struct {
	client *gogithub.Client
	logger *slog.Logger
}

// NewGitHubProvider creates an API-backed provider authenticated with
// token.
func NewGitHubProvider(token string, timeout time.Duration, logger *slog.Logger) *GitHubProvider {
	httpClient := httpkit.NewClient(
		httpkit.WithTimeout(timeout),
		httpkit.WithLogger(logger),
	)
	return &GitHubProvider{
		client: gogithub.NewClient(httpClient).WithAuthToken(token),
		logger: logger,
	}
}

// checkRateLimit logs a warning when remaining API calls drop below
// threshold.
func (p *GitHubProvider) checkRateLimit(resp *gogithub.Response) {
	if resp == nil {
		return
	}
	if resp.Rate.Remaining < 100 {
		p.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time,
		)
	}
}

// ListBranches returns all branch names via the branches endpoint,
// following pagination.
func (p *GitHubProvider) ListBranches(ctx context.Context, repo RepoConfig) ([]string, error) {
	owner, name, err := githubRepoPath(repo.URL)
	if err != nil {
		return nil, err
	}

	opts := &gogithub.BranchListOptions{
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}

	var branches []string
	for {
		results, resp, err := p.client.Repositories.ListBranches(ctx, owner, name, opts)
		if err != nil {
			return nil, fmt.Errorf("github: list branches: %w", err)
		}
		p.checkRateLimit(resp)
		for _, b := range results {
			branches = append(branches, b.GetName())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	sort.Strings(branches)
	return branches, nil
}

// FetchTree fetches the recursive tree for branch and assembles the
// flat entry list into nested nodes.
func (p *GitHubProvider) FetchTree(ctx context.Context, repo RepoConfig, branch string) ([]*TreeNode, error) {
	owner, name, err := githubRepoPath(repo.URL)
	if err != nil {
		return nil, err
	}

	ref, resp, err := p.client.Repositories.GetBranch(ctx, owner, name, branch, 1)
	if err != nil {
		return nil, fmt.Errorf("github: get branch %q: %w", branch, err)
	}
	p.checkRateLimit(resp)

	sha := ref.GetCommit().GetSHA()
	ghTree, resp, err := p.client.Git.GetTree(ctx, owner, name, sha, true)
	if err != nil {
		return nil, fmt.Errorf("github: get tree for %s: %w", branch, err)
	}
	p.checkRateLimit(resp)

	if ghTree.GetTruncated() {
		p.logger.Warn("github tree response truncated",
			"repo", repo.ID,
			"branch", branch,
		)
	}

	var roots []*TreeNode
	for _, entry := range ghTree.Entries {
		path := entry.GetPath()
		if path == "" {
			continue
		}
		switch entry.GetType() {
		case "tree":
			roots = insertPath(roots, path, NodeFolder)
		case "blob":
			roots = insertPath(roots, path, NodeFile)
		}
	}
	SortTree(roots)
	return roots, nil
}
