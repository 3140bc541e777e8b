package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xxflyingknife/devspace/internal/cluster"
	"github.com/xxflyingknife/devspace/internal/scm"
	"github.com/xxflyingknife/devspace/internal/treecache"
)

// DevTools are the source-control and deploy tools a dev space
// exposes. Each instance is bound to one repository.
type DevTools struct {
	repo     scm.RepoConfig
	provider scm.Provider
	git      *scm.GitCLI
	trees    *treecache.Cache
	cluster  *cluster.Client
	logger   *slog.Logger
}

// NewDevTools binds the dev tool set to a repository. cluster may be
// nil when no environments are configured.
func NewDevTools(repo scm.RepoConfig, provider scm.Provider, git *scm.GitCLI, trees *treecache.Cache, cl *cluster.Client, logger *slog.Logger) *DevTools {
	return &DevTools{
		repo:     repo,
		provider: provider,
		git:      git,
		trees:    trees,
		cluster:  cl,
		logger:   logger,
	}
}

// RegisterAll adds the dev tools to the registry.
func (d *DevTools) RegisterAll(r *Registry) {
	r.Register(GroupDev, &Tool{
		Name:        "get_file_tree",
		Description: "Get the file tree of the space's source repository. Directories come before files, both alphabetical.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"branch": map[string]any{
					"type":        "string",
					"description": "Branch to inspect (defaults to the repository's default branch)",
				},
				"refresh": map[string]any{
					"type":        "boolean",
					"description": "Bypass the cached tree and refetch from the remote",
				},
			},
		},
		Handler: d.handleGetFileTree,
	})

	r.Register(GroupDev, &Tool{
		Name:        "list_branches",
		Description: "List the branches of the space's source repository.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: d.handleListBranches,
	})

	r.Register(GroupDev, &Tool{
		Name:        "git_pull",
		Description: "Pull the latest changes for a branch into the server's working copy of the repository.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"branch": map[string]any{
					"type":        "string",
					"description": "Branch to pull (defaults to the repository's default branch)",
				},
			},
		},
		Handler: d.handleGitPull,
	})

	r.Register(GroupDev, &Tool{
		Name:        "git_commit_push",
		Description: "Stage all changes in the server's working copy, commit with the given message, and push.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{
					"type":        "string",
					"description": "Commit message",
				},
				"branch": map[string]any{
					"type":        "string",
					"description": "Branch to push (defaults to the repository's default branch)",
				},
			},
			"required": []string{"message"},
		},
		Handler: d.handleGitCommitPush,
	})

	r.Register(GroupDev, &Tool{
		Name:        "k8s_list_resources",
		Description: "List Kubernetes resources of one kind in a namespace. Use to check what the space has deployed.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"environment": map[string]any{
					"type":        "string",
					"description": "Target environment (e.g., test, grayscale, production)",
				},
				"namespace": map[string]any{
					"type":        "string",
					"description": "Namespace (default: default)",
				},
				"kind": map[string]any{
					"type":        "string",
					"description": "Resource kind: pods, deployments, services or configmaps",
				},
			},
			"required": []string{"environment", "kind"},
		},
		Handler: d.handleListResources,
	})

	r.Register(GroupDev, &Tool{
		Name:        "k8s_apply_manifest",
		Description: "Apply a Kubernetes YAML manifest (may contain multiple documents) to an environment.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"environment": map[string]any{
					"type":        "string",
					"description": "Target environment (e.g., test, grayscale, production)",
				},
				"manifest": map[string]any{
					"type":        "string",
					"description": "The YAML manifest to apply",
				},
			},
			"required": []string{"environment", "manifest"},
		},
		Handler: d.handleApplyManifest,
	})
}

// branchOrDefault falls back to the repo's default branch, then main.
func (d *DevTools) branchOrDefault(args map[string]any) string {
	if b := stringArg(args, "branch"); b != "" {
		return b
	}
	if d.repo.DefaultBranch != "" {
		return d.repo.DefaultBranch
	}
	return "main"
}

func (d *DevTools) handleGetFileTree(ctx context.Context, args map[string]any) (string, error) {
	branch := d.branchOrDefault(args)
	tree, fromCache, err := d.trees.Get(ctx, d.provider, d.repo, branch, boolArg(args, "refresh"))
	if err != nil {
		return "", &ExternalCallError{Tool: "get_file_tree", Err: err}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "File tree for %s @ %s", d.repo.ID, branch)
	if fromCache {
		sb.WriteString(" (cached)")
	}
	sb.WriteString(":\n")
	renderTree(&sb, tree, 0)
	return sb.String(), nil
}

// renderTree writes an indented listing, marking directories with a
// trailing slash.
func renderTree(sb *strings.Builder, nodes []*scm.TreeNode, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, n := range nodes {
		if n.Type == scm.NodeFolder {
			fmt.Fprintf(sb, "%s%s/\n", indent, n.Name)
			renderTree(sb, n.Children, depth+1)
		} else {
			fmt.Fprintf(sb, "%s%s\n", indent, n.Name)
		}
	}
}

func (d *DevTools) handleListBranches(ctx context.Context, args map[string]any) (string, error) {
	branches, err := d.provider.ListBranches(ctx, d.repo)
	if err != nil {
		return "", &ExternalCallError{Tool: "list_branches", Err: err}
	}
	out, err := json.Marshal(branches)
	if err != nil {
		return "", fmt.Errorf("encode branches: %w", err)
	}
	return string(out), nil
}

func (d *DevTools) handleGitPull(ctx context.Context, args map[string]any) (string, error) {
	branch := d.branchOrDefault(args)
	out, err := d.git.Pull(ctx, d.repo, branch)
	if err != nil {
		return "", &ExternalCallError{Tool: "git_pull", Err: err}
	}
	if out == "" {
		out = "already up to date"
	}
	return fmt.Sprintf("Pulled %s: %s", branch, out), nil
}

func (d *DevTools) handleGitCommitPush(ctx context.Context, args map[string]any) (string, error) {
	message := stringArg(args, "message")
	if message == "" {
		return "", fmt.Errorf("message is required")
	}
	branch := d.branchOrDefault(args)

	d.logger.Info("committing and pushing",
		"repo", d.repo.ID, "branch", branch,
		"conversation", ConversationIDFromContext(ctx))

	out, err := d.git.Push(ctx, d.repo, branch, message)
	if err != nil {
		return "", &ExternalCallError{Tool: "git_commit_push", Err: err}
	}
	if out == "" {
		out = "done"
	}
	return fmt.Sprintf("Committed and pushed to %s: %s", branch, out), nil
}

func (d *DevTools) handleListResources(ctx context.Context, args map[string]any) (string, error) {
	if d.cluster == nil {
		return "", fmt.Errorf("no cluster environments configured")
	}
	env := stringArg(args, "environment")
	kind := stringArg(args, "kind")
	if env == "" || kind == "" {
		return "", fmt.Errorf("environment and kind are required")
	}

	resources, err := d.cluster.ListResources(ctx, env, stringArg(args, "namespace"), kind)
	if err != nil {
		return "", &ExternalCallError{Tool: "k8s_list_resources", Err: err}
	}
	return formatResources(kind, resources), nil
}

func (d *DevTools) handleApplyManifest(ctx context.Context, args map[string]any) (string, error) {
	if d.cluster == nil {
		return "", fmt.Errorf("no cluster environments configured")
	}
	env := stringArg(args, "environment")
	manifest := stringArg(args, "manifest")
	if env == "" || manifest == "" {
		return "", fmt.Errorf("environment and manifest are required")
	}

	results, err := d.cluster.ApplyManifest(ctx, env, manifest)
	if err != nil {
		return "", &ExternalCallError{Tool: "k8s_apply_manifest", Err: err}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Applied %d document(s) to %s:\n", len(results), env)
	for _, r := range results {
		fmt.Fprintf(&sb, "- %s/%s in %s\n", r.Kind, r.Name, r.Namespace)
	}
	return sb.String(), nil
}

// formatResources renders a resource list as text for the model.
func formatResources(kind string, resources []cluster.Resource) string {
	if len(resources) == 0 {
		return fmt.Sprintf("No %s found.", kind)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d %s:\n", len(resources), kind)
	for _, r := range resources {
		fmt.Fprintf(&sb, "- %s (%s)\n", r.Name, r.Status)
	}
	return sb.String()
}
