// Package scm provides source-control access for dev spaces: branch
// listing, file tree fetching, and push of staged changes. Two provider
// implementations exist: the git CLI (works against any remote) and the
// GitHub API (used for github.com repositories with a token, avoiding
// a clone per tree fetch).
package scm

import (
	"sort"
	"strings"
)

// RepoConfig identifies one configured repository.
type RepoConfig struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	DefaultBranch string `json:"default_branch"`
	Token         string `json:"-"` // API token, never serialized
}

// Tree node types.
const (
	NodeFolder = "folder"
	NodeFile   = "file"
)

// TreeNode is one entry in a repository file tree. ID is the
// slash-separated path from the repository root.
type TreeNode struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Children []*TreeNode `json:"children,omitempty"`
}

// SortTree orders nodes in place: folders before files, each group
// alphabetically, recursively.
func SortTree(nodes []*TreeNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Type != nodes[j].Type {
			return nodes[i].Type == NodeFolder
		}
		return strings.ToLower(nodes[i].Name) < strings.ToLower(nodes[j].Name)
	})
	for _, n := range nodes {
		if len(n.Children) > 0 {
			SortTree(n.Children)
		}
	}
}

// insertPath adds a file or folder path to a nested tree, creating
// intermediate folders as needed. path components are slash-separated.
func insertPath(roots []*TreeNode, path, nodeType string) []*TreeNode {
	parts := strings.Split(path, "/")
	level := &roots

	for i, part := range parts {
		last := i == len(parts)-1

		var found *TreeNode
		for _, n := range *level {
			if n.Name == part && (n.Type == NodeFolder || last) {
				found = n
				break
			}
		}

		if found == nil {
			t := NodeFolder
			if last {
				t = nodeType
			}
			found = &TreeNode{
				ID:   strings.Join(parts[:i+1], "/"),
				Name: part,
				Type: t,
			}
			*level = append(*level, found)
		}

		if !last {
			level = &found.Children
		}
	}
	return roots
}
