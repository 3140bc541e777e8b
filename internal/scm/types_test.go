package scm

import "testing"

func TestSortTreeFoldersFirstAlpha(t *testing.T) {
	tree := []*TreeNode{
		{ID: "zeta.go", Name: "zeta.go", Type: NodeFile},
		{ID: "cmd", Name: "cmd", Type: NodeFolder, Children: []*TreeNode{
			{ID: "cmd/main.go", Name: "main.go", Type: NodeFile},
			{ID: "cmd/internal", Name: "internal", Type: NodeFolder},
		}},
		{ID: "Alpha.md", Name: "Alpha.md", Type: NodeFile},
		{ID: "api", Name: "api", Type: NodeFolder},
	}

	SortTree(tree)

	wantNames := []string{"api", "cmd", "Alpha.md", "zeta.go"}
	for i, want := range wantNames {
		if tree[i].Name != want {
			t.Errorf("root %d = %q, want %q", i, tree[i].Name, want)
		}
	}

	// Recursive: cmd's folder child precedes its file child.
	cmd := tree[1]
	if cmd.Children[0].Name != "internal" || cmd.Children[1].Name != "main.go" {
		t.Errorf("cmd children = [%s %s], want [internal main.go]",
			cmd.Children[0].Name, cmd.Children[1].Name)
	}
}

func TestInsertPathBuildsNestedTree(t *testing.T) {
	var roots []*TreeNode
	roots = insertPath(roots, "src", NodeFolder)
	roots = insertPath(roots, "src/app/handler.go", NodeFile)
	roots = insertPath(roots, "src/app", NodeFolder)
	roots = insertPath(roots, "README.md", NodeFile)

	if len(roots) != 2 {
		t.Fatalf("got %d roots, want 2 (src, README.md)", len(roots))
	}

	var src *TreeNode
	for _, n := range roots {
		if n.Name == "src" {
			src = n
		}
	}
	if src == nil || src.Type != NodeFolder {
		t.Fatal("missing src folder")
	}
	if len(src.Children) != 1 || src.Children[0].Name != "app" {
		t.Fatalf("src children = %v, want [app]", src.Children)
	}
	app := src.Children[0]
	if app.Type != NodeFolder || len(app.Children) != 1 {
		t.Fatalf("app = %+v, want folder with one child", app)
	}
	file := app.Children[0]
	if file.Name != "handler.go" || file.Type != NodeFile || file.ID != "src/app/handler.go" {
		t.Errorf("leaf = %+v", file)
	}
}

func TestGithubRepoPath(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		owner     string
		repo      string
		wantError bool
	}{
		{"https with .git", "https://github.com/octo/demo.git", "octo", "demo", false},
		{"https bare", "https://github.com/octo/demo", "octo", "demo", false},
		{"trailing slash", "https://github.com/octo/demo/", "octo", "demo", false},
		{"other host", "https://gitlab.com/octo/demo.git", "", "", true},
		{"missing repo", "https://github.com/octo", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, repo, err := githubRepoPath(tt.url)
			if tt.wantError {
				if err == nil {
					t.Errorf("githubRepoPath(%q) succeeded, want error", tt.url)
				}
				return
			}
			if err != nil {
				t.Fatalf("githubRepoPath(%q) failed: %v", tt.url, err)
			}
			if owner != tt.owner || repo != tt.repo {
				t.Errorf("githubRepoPath(%q) = %s/%s, want %s/%s", tt.url, owner, repo, tt.owner, tt.repo)
			}
		})
	}
}
