package agent

import (
	"context"
	"sync"

	"github.com/xxflyingknife/devspace/internal/llm"
	"github.com/xxflyingknife/devspace/internal/space"
	"github.com/xxflyingknife/devspace/internal/tools"
)

// Executor is the per-space agent: one LLM binding plus the immutable
// tool set the space's domain allows.
type Executor struct {
	SpaceID string
	Domain  space.Domain
	Model   string
	System  string
	LLM     llm.Client
	Tools   *tools.Set
}

// BuildFunc assembles an executor for a resolved space. Wiring decides
// which tools a space gets; the cache only manages lifetimes.
type BuildFunc func(ctx context.Context, sp *space.Space) (*Executor, error)

type executorKey struct {
	SpaceID string
	Domain  space.Domain
}

type executorEntry struct {
	once sync.Once
	exec *Executor
	err  error
}

// ExecutorCache builds executors on first use and reuses them after.
// Concurrent first requests for the same space share one construction.
type ExecutorCache struct {
	build BuildFunc

	mu      sync.Mutex
	entries map[executorKey]*executorEntry
}

// NewExecutorCache creates a cache around the build function.
func NewExecutorCache(build BuildFunc) *ExecutorCache {
	return &ExecutorCache{
		build:   build,
		entries: make(map[executorKey]*executorEntry),
	}
}

// Get returns the executor for sp, constructing it once. A failed
// construction is not cached, so the next request retries.
func (c *ExecutorCache) Get(ctx context.Context, sp *space.Space) (*Executor, error) {
	key := executorKey{SpaceID: sp.ID, Domain: sp.Domain}

	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		entry = &executorEntry{}
		c.entries[key] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.exec, entry.err = c.build(ctx, sp)
	})

	if entry.err != nil {
		c.mu.Lock()
		if c.entries[key] == entry {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, entry.err
	}
	return entry.exec, nil
}
