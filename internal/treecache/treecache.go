// Package treecache persists fetched repository file trees so that
// repeated tree requests for the same branch do not hit the remote.
package treecache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xxflyingknife/devspace/internal/scm"
)

const schema = `
CREATE TABLE IF NOT EXISTS repo_trees (
	repo_config_id TEXT PRIMARY KEY,
	branch         TEXT NOT NULL,
	tree_json      TEXT NOT NULL,
	fetched_at     TEXT NOT NULL
);
`

// Cache stores one tree per repository, keyed by the repo config id.
// Switching branches replaces the stored entry.
type Cache struct {
	db     *sql.DB
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]*call
}

// call tracks an in-progress remote fetch so concurrent requests for
// the same repo and branch share one result.
type call struct {
	done chan struct{}
	tree []*scm.TreeNode
	err  error
}

// New prepares the repo_trees table on db. The database is shared with
// the conversation store.
func New(db *sql.DB, logger *slog.Logger) (*Cache, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("treecache: init schema: %w", err)
	}
	return &Cache{
		db:       db,
		logger:   logger,
		inflight: make(map[string]*call),
	}, nil
}

// Get returns the tree for repo at branch. A stored tree for the same
// branch is served without contacting the remote unless forceRefresh
// is set. The second return value reports whether the tree came from
// the cache.
func (c *Cache) Get(ctx context.Context, provider scm.Provider, repo scm.RepoConfig, branch string, forceRefresh bool) ([]*scm.TreeNode, bool, error) {
	if !forceRefresh {
		tree, ok := c.lookup(ctx, repo.ID, branch)
		if ok {
			return tree, true, nil
		}
	}

	tree, err := c.fetch(ctx, provider, repo, branch)
	if err != nil {
		return nil, false, err
	}
	return tree, false, nil
}

// lookup reads the stored tree, treating a missing row, a branch
// mismatch, or undecodable JSON as a miss.
func (c *Cache) lookup(ctx context.Context, repoID, branch string) ([]*scm.TreeNode, bool) {
	var storedBranch, treeJSON string
	err := c.db.QueryRowContext(ctx,
		`SELECT branch, tree_json FROM repo_trees WHERE repo_config_id = ?`,
		repoID,
	).Scan(&storedBranch, &treeJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("tree cache read failed", "repo", repoID, "error", err)
		return nil, false
	}
	if storedBranch != branch {
		return nil, false
	}

	var tree []*scm.TreeNode
	if err := json.Unmarshal([]byte(treeJSON), &tree); err != nil {
		c.logger.Warn("tree cache entry undecodable, refetching", "repo", repoID, "error", err)
		return nil, false
	}
	return tree, true
}

// fetch retrieves the tree from the remote, coalescing concurrent
// requests for the same repo and branch onto one remote call.
func (c *Cache) fetch(ctx context.Context, provider scm.Provider, repo scm.RepoConfig, branch string) ([]*scm.TreeNode, error) {
	key := repo.ID + "\x00" + branch

	c.mu.Lock()
	if inflight, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-inflight.done:
			return inflight.tree, inflight.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	current := &call{done: make(chan struct{})}
	c.inflight[key] = current
	c.mu.Unlock()

	current.tree, current.err = provider.FetchTree(ctx, repo, branch)
	if current.err == nil {
		// Store failures are logged, not surfaced: the caller
		// already has the tree.
		if err := c.store(ctx, repo.ID, branch, current.tree); err != nil {
			c.logger.Warn("tree cache write failed", "repo", repo.ID, "error", err)
		}
	}

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	close(current.done)

	return current.tree, current.err
}

// store replaces the cached entry for repoID. A failed remote fetch
// never reaches here, so a previously cached tree survives remote
// outages.
func (c *Cache) store(ctx context.Context, repoID, branch string, tree []*scm.TreeNode) error {
	treeJSON, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encode tree: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO repo_trees (repo_config_id, branch, tree_json, fetched_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(repo_config_id) DO UPDATE SET
			branch = excluded.branch,
			tree_json = excluded.tree_json,
			fetched_at = excluded.fetched_at`,
		repoID, branch, string(treeJSON), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upsert tree: %w", err)
	}
	return nil
}

// Invalidate drops the cached tree for repoID, if any.
func (c *Cache) Invalidate(ctx context.Context, repoID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM repo_trees WHERE repo_config_id = ?`, repoID)
	if err != nil {
		return fmt.Errorf("treecache: invalidate %s: %w", repoID, err)
	}
	return nil
}
