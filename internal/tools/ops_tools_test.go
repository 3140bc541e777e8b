package tools

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func newOpsRegistry(t *testing.T) *Set {
	t.Helper()
	ops := NewOpsTools(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	reg := NewRegistry()
	ops.RegisterAll(reg)
	return reg.ForDomain(GroupOps)
}

func TestTriggerAIOpsSkill(t *testing.T) {
	set := newOpsRegistry(t)

	out, err := set.Execute(context.Background(), "trigger_aiops_skill", map[string]any{
		"skill_id":        "root_cause_analysis",
		"parameters_json": `{"service":"checkout","window_minutes":30}`,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(out, "root_cause_analysis") || !strings.Contains(out, "aiops-job-") {
		t.Errorf("output = %q, want skill name and job id", out)
	}
}

func TestTriggerAIOpsSkillValidation(t *testing.T) {
	set := newOpsRegistry(t)

	tests := []struct {
		name    string
		args    map[string]any
		wantErr string
	}{
		{
			name:    "missing skill id",
			args:    map[string]any{"parameters_json": "{}"},
			wantErr: "required",
		},
		{
			name:    "missing parameters",
			args:    map[string]any{"skill_id": "anomaly_detection"},
			wantErr: "required",
		},
		{
			name: "unknown skill",
			args: map[string]any{
				"skill_id":        "perpetual_motion",
				"parameters_json": "{}",
			},
			wantErr: "unknown skill",
		},
		{
			name: "malformed parameters",
			args: map[string]any{
				"skill_id":        "log_clustering",
				"parameters_json": "{not json",
			},
			wantErr: "not a valid JSON object",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := set.Execute(context.Background(), "trigger_aiops_skill", tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
