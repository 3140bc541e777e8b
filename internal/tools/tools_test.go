package tools

import (
	"context"
	"errors"
	"testing"
)

func staticTool(name, result string) *Tool {
	return &Tool{
		Name:       name,
		Parameters: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return result, nil
		},
	}
}

func TestForDomainPartitioning(t *testing.T) {
	r := NewRegistry()
	r.Register(GroupCommon, staticTool("get_current_time", "now"))
	r.Register(GroupDev, staticTool("list_branches", "[]"))
	r.Register(GroupOps, staticTool("k8s_get_pod_logs", "logs"))

	tests := []struct {
		group Group
		want  []string
	}{
		{GroupDev, []string{"get_current_time", "list_branches"}},
		{GroupOps, []string{"get_current_time", "k8s_get_pod_logs"}},
	}

	for _, tt := range tests {
		set := r.ForDomain(tt.group)
		names := set.Names()
		if len(names) != len(tt.want) {
			t.Errorf("%s set = %v, want %v", tt.group, names, tt.want)
			continue
		}
		for i, name := range tt.want {
			if names[i] != name {
				t.Errorf("%s set = %v, want %v", tt.group, names, tt.want)
				break
			}
		}
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	set := NewRegistry().ForDomain(GroupDev)

	_, err := set.Execute(context.Background(), "nope", nil)
	if !errors.Is(err, ErrToolUnavailable) {
		t.Errorf("unknown tool = %v, want ErrToolUnavailable", err)
	}
}

func TestExecuteCrossDomainToolUnavailable(t *testing.T) {
	r := NewRegistry()
	r.Register(GroupOps, staticTool("k8s_get_pod_logs", "logs"))

	devSet := r.ForDomain(GroupDev)
	if _, err := devSet.Execute(context.Background(), "k8s_get_pod_logs", nil); !errors.Is(err, ErrToolUnavailable) {
		t.Errorf("ops tool in dev set = %v, want ErrToolUnavailable", err)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	r := NewRegistry()
	r.Register(GroupDev, &Tool{
		Name:       "boom",
		Parameters: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			panic("kaboom")
		},
	})

	_, err := r.ForDomain(GroupDev).Execute(context.Background(), "boom", nil)
	if err == nil {
		t.Fatal("expected error from panicking handler")
	}
}

func TestSchemasShape(t *testing.T) {
	r := NewRegistry()
	r.Register(GroupDev, staticTool("list_branches", "[]"))

	schemas := r.ForDomain(GroupDev).Schemas()
	if len(schemas) != 1 {
		t.Fatalf("got %d schemas, want 1", len(schemas))
	}
	fn, ok := schemas[0]["function"].(map[string]any)
	if !ok || fn["name"] != "list_branches" {
		t.Errorf("schema = %v", schemas[0])
	}
}

func TestExternalCallErrorUnwraps(t *testing.T) {
	inner := errors.New("boom")
	err := &ExternalCallError{Tool: "git_pull", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("ExternalCallError must unwrap to its cause")
	}
}
