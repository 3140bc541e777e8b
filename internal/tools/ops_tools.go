package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/xxflyingknife/devspace/internal/cluster"
)

// generalKinds are listed when k8s_list_general_resources gets no
// explicit kind.
var generalKinds = []string{"pods", "deployments", "services"}

// aiopsSkills are the automated diagnosis skills a conversation can
// trigger. Execution runs on the skill platform; the tool validates
// the request and enqueues a job.
var aiopsSkills = map[string]string{
	"anomaly_detection":   "scan recent metrics for anomalous patterns",
	"root_cause_analysis": "correlate alerts and events into a probable root cause",
	"log_clustering":      "group recent error logs by shared failure signature",
}

// OpsTools are the cluster operation tools an ops space exposes.
type OpsTools struct {
	cluster *cluster.Client
	logger  *slog.Logger
}

// NewOpsTools creates ops tools over the cluster client.
func NewOpsTools(cl *cluster.Client, logger *slog.Logger) *OpsTools {
	return &OpsTools{cluster: cl, logger: logger}
}

// RegisterAll adds the ops tools to the registry.
func (o *OpsTools) RegisterAll(r *Registry) {
	envDesc := "Target environment (e.g., test, grayscale, production)"

	r.Register(GroupOps, &Tool{
		Name:        "k8s_get_pod_logs",
		Description: "Fetch the most recent log lines of a pod. Use this to diagnose crashes and errors.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"environment": map[string]any{"type": "string", "description": envDesc},
				"namespace":   map[string]any{"type": "string", "description": "Namespace (default: default)"},
				"pod":         map[string]any{"type": "string", "description": "Pod name"},
				"tail_lines": map[string]any{
					"type":        "integer",
					"description": "Number of trailing lines to fetch (default 100)",
				},
			},
			"required": []string{"environment", "pod"},
		},
		Handler: o.handlePodLogs,
	})

	r.Register(GroupOps, &Tool{
		Name:        "k8s_restart_deployment",
		Description: "Trigger a rolling restart of a deployment.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"environment": map[string]any{"type": "string", "description": envDesc},
				"namespace":   map[string]any{"type": "string", "description": "Namespace (default: default)"},
				"name":        map[string]any{"type": "string", "description": "Deployment name"},
			},
			"required": []string{"environment", "name"},
		},
		Handler: o.handleRestartDeployment,
	})

	r.Register(GroupOps, &Tool{
		Name:        "k8s_scale_deployment",
		Description: "Set the replica count of a deployment.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"environment": map[string]any{"type": "string", "description": envDesc},
				"namespace":   map[string]any{"type": "string", "description": "Namespace (default: default)"},
				"name":        map[string]any{"type": "string", "description": "Deployment name"},
				"replicas":    map[string]any{"type": "integer", "description": "Desired replica count"},
			},
			"required": []string{"environment", "name", "replicas"},
		},
		Handler: o.handleScaleDeployment,
	})

	r.Register(GroupOps, &Tool{
		Name:        "k8s_list_general_resources",
		Description: "Survey a namespace: list its pods, deployments and services, or just one kind.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"environment": map[string]any{"type": "string", "description": envDesc},
				"namespace":   map[string]any{"type": "string", "description": "Namespace (default: default)"},
				"kind": map[string]any{
					"type":        "string",
					"description": "Optional single kind: pods, deployments, services or configmaps",
				},
			},
			"required": []string{"environment"},
		},
		Handler: o.handleListGeneralResources,
	})

	r.Register(GroupOps, &Tool{
		Name:        "trigger_aiops_skill",
		Description: "Trigger an automated diagnosis skill (anomaly_detection, root_cause_analysis, log_clustering) with JSON parameters. Returns the queued job id.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"skill_id": map[string]any{
					"type":        "string",
					"description": "Skill to run: anomaly_detection, root_cause_analysis or log_clustering",
				},
				"parameters_json": map[string]any{
					"type":        "string",
					"description": "Skill parameters as a JSON object string",
				},
			},
			"required": []string{"skill_id", "parameters_json"},
		},
		Handler: o.handleTriggerAIOpsSkill,
	})
}

func (o *OpsTools) handlePodLogs(ctx context.Context, args map[string]any) (string, error) {
	env := stringArg(args, "environment")
	pod := stringArg(args, "pod")
	if env == "" || pod == "" {
		return "", fmt.Errorf("environment and pod are required")
	}

	logs, err := o.cluster.PodLogs(ctx, env, stringArg(args, "namespace"), pod, intArg(args, "tail_lines"))
	if err != nil {
		return "", &ExternalCallError{Tool: "k8s_get_pod_logs", Err: err}
	}
	if strings.TrimSpace(logs) == "" {
		return fmt.Sprintf("Pod %s has no recent log output.", pod), nil
	}
	return fmt.Sprintf("Logs for %s:\n%s", pod, logs), nil
}

func (o *OpsTools) handleRestartDeployment(ctx context.Context, args map[string]any) (string, error) {
	env := stringArg(args, "environment")
	name := stringArg(args, "name")
	if env == "" || name == "" {
		return "", fmt.Errorf("environment and name are required")
	}

	o.logger.Info("restarting deployment",
		"environment", env, "name", name,
		"conversation", ConversationIDFromContext(ctx))

	if err := o.cluster.RestartDeployment(ctx, env, stringArg(args, "namespace"), name); err != nil {
		return "", &ExternalCallError{Tool: "k8s_restart_deployment", Err: err}
	}
	return fmt.Sprintf("Rolling restart of %s triggered.", name), nil
}

func (o *OpsTools) handleScaleDeployment(ctx context.Context, args map[string]any) (string, error) {
	env := stringArg(args, "environment")
	name := stringArg(args, "name")
	if env == "" || name == "" {
		return "", fmt.Errorf("environment and name are required")
	}
	replicas := intArg(args, "replicas")

	o.logger.Info("scaling deployment",
		"environment", env, "name", name, "replicas", replicas,
		"conversation", ConversationIDFromContext(ctx))

	if err := o.cluster.ScaleDeployment(ctx, env, stringArg(args, "namespace"), name, replicas); err != nil {
		return "", &ExternalCallError{Tool: "k8s_scale_deployment", Err: err}
	}
	return fmt.Sprintf("Deployment %s scaled to %d replica(s).", name, replicas), nil
}

func (o *OpsTools) handleListGeneralResources(ctx context.Context, args map[string]any) (string, error) {
	env := stringArg(args, "environment")
	if env == "" {
		return "", fmt.Errorf("environment is required")
	}
	namespace := stringArg(args, "namespace")

	kinds := generalKinds
	if k := stringArg(args, "kind"); k != "" {
		kinds = []string{k}
	}

	var sb strings.Builder
	for _, kind := range kinds {
		resources, err := o.cluster.ListResources(ctx, env, namespace, kind)
		if err != nil {
			return "", &ExternalCallError{Tool: "k8s_list_general_resources", Err: err}
		}
		sb.WriteString(formatResources(kind, resources))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (o *OpsTools) handleTriggerAIOpsSkill(ctx context.Context, args map[string]any) (string, error) {
	skillID := stringArg(args, "skill_id")
	paramsJSON := stringArg(args, "parameters_json")
	if skillID == "" || paramsJSON == "" {
		return "", fmt.Errorf("skill_id and parameters_json are required")
	}

	desc, ok := aiopsSkills[skillID]
	if !ok {
		names := make([]string, 0, len(aiopsSkills))
		for name := range aiopsSkills {
			names = append(names, name)
		}
		sort.Strings(names)
		return "", fmt.Errorf("unknown skill %q, available: %s", skillID, strings.Join(names, ", "))
	}

	var params map[string]any
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		return "", fmt.Errorf("parameters_json is not a valid JSON object: %v", err)
	}

	jobID := "aiops-job-" + uuid.NewString()[:8]
	o.logger.Info("aiops skill queued",
		"skill", skillID, "job", jobID,
		"conversation", ConversationIDFromContext(ctx))
	return fmt.Sprintf("Skill %q (%s) queued as job %s.", skillID, desc, jobID), nil
}
