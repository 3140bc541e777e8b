// Package space resolves the workspaces the assistant operates in. A
// space binds a conversation to a domain (dev or ops), which decides
// the tool set, and for dev spaces to a repository.
package space

import (
	"fmt"

	"github.com/xxflyingknife/devspace/internal/config"
	"github.com/xxflyingknife/devspace/internal/scm"
	"github.com/xxflyingknife/devspace/internal/store"
)

// Domain selects which tool group a space exposes.
type Domain string

const (
	DomainDev Domain = "dev"
	DomainOps Domain = "ops"
)

// Valid reports whether d is a known domain.
func (d Domain) Valid() bool {
	return d == DomainDev || d == DomainOps
}

// Space is a resolved workspace.
type Space struct {
	ID     string
	Name   string
	Domain Domain
	// Repo is set for dev spaces only.
	Repo *scm.RepoConfig
}

// Resolver looks spaces up by id.
type Resolver interface {
	Resolve(id string) (*Space, error)
}

// ConfigResolver serves spaces declared in the config file.
type ConfigResolver struct {
	spaces map[string]*Space
}

// NewConfigResolver indexes the configured spaces. Duplicate ids and
// dev spaces without a repository are rejected.
func NewConfigResolver(cfgs []config.SpaceConfig) (*ConfigResolver, error) {
	spaces := make(map[string]*Space, len(cfgs))
	for _, c := range cfgs {
		if _, ok := spaces[c.ID]; ok {
			return nil, fmt.Errorf("space: duplicate id %q", c.ID)
		}
		d := Domain(c.Domain)
		if !d.Valid() {
			return nil, fmt.Errorf("space %q: unknown domain %q", c.ID, c.Domain)
		}
		s := &Space{ID: c.ID, Name: c.Name, Domain: d}
		if c.Repo != nil {
			s.Repo = &scm.RepoConfig{
				ID:            c.Repo.ID,
				URL:           c.Repo.URL,
				DefaultBranch: c.Repo.DefaultBranch,
				Token:         c.Repo.Token,
			}
		}
		if d == DomainDev && s.Repo == nil {
			return nil, fmt.Errorf("dev space %q: repo is required", c.ID)
		}
		spaces[c.ID] = s
	}
	return &ConfigResolver{spaces: spaces}, nil
}

// Resolve returns the space with the given id, or store.ErrNotFound.
func (r *ConfigResolver) Resolve(id string) (*Space, error) {
	s, ok := r.spaces[id]
	if !ok {
		return nil, fmt.Errorf("space %q: %w", id, store.ErrNotFound)
	}
	return s, nil
}

// All returns every configured space, for listing endpoints.
func (r *ConfigResolver) All() []*Space {
	out := make([]*Space, 0, len(r.spaces))
	for _, s := range r.spaces {
		out = append(out, s)
	}
	return out
}
