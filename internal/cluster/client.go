// Package cluster is a client for the Kubernetes API servers the ops
// tools operate on. Each configured environment (test, grayscale,
// production) maps to one API endpoint with its own bearer token.
package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xxflyingknife/devspace/internal/config"
	"github.com/xxflyingknife/devspace/internal/httpkit"
)

// Environment is one reachable cluster endpoint.
type Environment struct {
	APIURL string
	Token  string
}

// Client talks to the cluster API servers over REST.
type Client struct {
	environments map[string]Environment
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewClient builds a client over the configured environments. timeout
// bounds each API call; zero means 30 seconds.
func NewClient(envs map[string]config.EnvironmentConfig, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	environments := make(map[string]Environment, len(envs))
	for key, e := range envs {
		environments[key] = Environment{
			APIURL: strings.TrimSuffix(e.APIURL, "/"),
			Token:  e.Token,
		}
	}
	return &Client{
		environments: environments,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// Environments returns the configured environment keys.
func (c *Client) Environments() []string {
	keys := make([]string, 0, len(c.environments))
	for k := range c.environments {
		keys = append(keys, k)
	}
	return keys
}

func (c *Client) environment(env string) (Environment, error) {
	e, ok := c.environments[env]
	if !ok {
		return Environment{}, fmt.Errorf("unknown environment %q", env)
	}
	return e, nil
}

// do issues one request against the environment's API server and
// returns the response body. Non-2xx statuses become errors carrying
// the server's message.
func (c *Client) do(ctx context.Context, env Environment, method, path string, contentType string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, env.APIURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if env.Token != "" {
		req.Header.Set("Authorization", "Bearer "+env.Token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, apiMessage(data))
	}
	return data, nil
}

// apiMessage extracts the message from a Status error body, falling
// back to the raw body.
func apiMessage(data []byte) string {
	var status struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &status); err == nil && status.Message != "" {
		return status.Message
	}
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// Resource is a summarized cluster object.
type Resource struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	Status    string `json:"status"`
}

// resourcePaths maps the listable kinds to their API paths.
var resourcePaths = map[string]string{
	"pods":        "/api/v1/namespaces/%s/pods",
	"deployments": "/apis/apps/v1/namespaces/%s/deployments",
	"services":    "/api/v1/namespaces/%s/services",
	"configmaps":  "/api/v1/namespaces/%s/configmaps",
}

// ListResources lists resources of kind in namespace. Supported kinds
// are pods, deployments, services and configmaps.
func (c *Client) ListResources(ctx context.Context, env, namespace, kind string) ([]Resource, error) {
	e, err := c.environment(env)
	if err != nil {
		return nil, err
	}
	if namespace == "" {
		namespace = "default"
	}
	kind = strings.ToLower(kind)
	pathFormat, ok := resourcePaths[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported resource kind %q", kind)
	}

	data, err := c.do(ctx, e, "GET", fmt.Sprintf(pathFormat, url.PathEscape(namespace)), "", nil)
	if err != nil {
		return nil, err
	}

	var list struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}

	resources := make([]Resource, 0, len(list.Items))
	for _, raw := range list.Items {
		resources = append(resources, summarize(kind, namespace, raw))
	}
	return resources, nil
}

// summarize condenses one list item into a Resource, deriving a
// per-kind status string.
func summarize(kind, namespace string, raw json.RawMessage) Resource {
	var item struct {
		Metadata struct {
			Name string `json:"name"`
		} `json:"metadata"`
		Spec struct {
			Replicas  *int   `json:"replicas"`
			Type      string `json:"type"`
			ClusterIP string `json:"clusterIP"`
		} `json:"spec"`
		Status struct {
			Phase         string `json:"phase"`
			ReadyReplicas int    `json:"readyReplicas"`
			Replicas      int    `json:"replicas"`
		} `json:"status"`
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return Resource{Kind: kind, Namespace: namespace, Status: "unknown"}
	}

	r := Resource{Kind: kind, Name: item.Metadata.Name, Namespace: namespace}
	switch kind {
	case "pods":
		r.Status = item.Status.Phase
	case "deployments":
		want := item.Status.Replicas
		if item.Spec.Replicas != nil {
			want = *item.Spec.Replicas
		}
		r.Status = fmt.Sprintf("%d/%d ready", item.Status.ReadyReplicas, want)
	case "services":
		r.Status = item.Spec.Type
		if item.Spec.ClusterIP != "" {
			r.Status += " " + item.Spec.ClusterIP
		}
	default:
		r.Status = "active"
	}
	return r
}

// PodLogs fetches the last tailLines lines of a pod's logs. Zero
// tailLines means 100.
func (c *Client) PodLogs(ctx context.Context, env, namespace, pod string, tailLines int) (string, error) {
	e, err := c.environment(env)
	if err != nil {
		return "", err
	}
	if namespace == "" {
		namespace = "default"
	}
	if tailLines <= 0 {
		tailLines = 100
	}

	path := fmt.Sprintf("/api/v1/namespaces/%s/pods/%s/log?tailLines=%d",
		url.PathEscape(namespace), url.PathEscape(pod), tailLines)
	req, err := http.NewRequestWithContext(ctx, "GET", e.APIURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if e.Token != "" {
		req.Header.Set("Authorization", "Bearer "+e.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, apiMessage(data))
	}
	return string(data), nil
}

// RestartDeployment triggers a rolling restart by patching the pod
// template with a restart annotation, the same mechanism kubectl
// rollout restart uses.
func (c *Client) RestartDeployment(ctx context.Context, env, namespace, name string) error {
	e, err := c.environment(env)
	if err != nil {
		return err
	}
	if namespace == "" {
		namespace = "default"
	}

	patch := fmt.Sprintf(
		`{"spec":{"template":{"metadata":{"annotations":{"devspace.io/restartedAt":%q}}}}}`,
		time.Now().UTC().Format(time.RFC3339))
	path := fmt.Sprintf("/apis/apps/v1/namespaces/%s/deployments/%s",
		url.PathEscape(namespace), url.PathEscape(name))
	_, err = c.do(ctx, e, "PATCH", path, "application/strategic-merge-patch+json", []byte(patch))
	return err
}

// ScaleDeployment sets the deployment's replica count through the
// scale subresource.
func (c *Client) ScaleDeployment(ctx context.Context, env, namespace, name string, replicas int) error {
	e, err := c.environment(env)
	if err != nil {
		return err
	}
	if namespace == "" {
		namespace = "default"
	}
	if replicas < 0 {
		return fmt.Errorf("replicas must be non-negative, got %d", replicas)
	}

	patch := `{"spec":{"replicas":` + strconv.Itoa(replicas) + `}}`
	path := fmt.Sprintf("/apis/apps/v1/namespaces/%s/deployments/%s/scale",
		url.PathEscape(namespace), url.PathEscape(name))
	_, err = c.do(ctx, e, "PATCH", path, "application/merge-patch+json", []byte(patch))
	return err
}

// ApplyResult reports one applied manifest document.
type ApplyResult struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

// ApplyManifest applies every document of a multi-document YAML
// manifest via server-side apply. Documents are applied in order and
// the first failure aborts the rest.
func (c *Client) ApplyManifest(ctx context.Context, env, manifest string) ([]ApplyResult, error) {
	e, err := c.environment(env)
	if err != nil {
		return nil, err
	}

	docs, err := ParseManifest(manifest)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("manifest contains no documents")
	}

	results := make([]ApplyResult, 0, len(docs))
	for _, doc := range docs {
		path, err := doc.apiPath()
		if err != nil {
			return results, err
		}
		_, err = c.do(ctx, e, "PATCH", path+"?fieldManager=devspaced&force=true",
			"application/apply-patch+yaml", []byte(doc.Raw))
		if err != nil {
			return results, fmt.Errorf("apply %s/%s: %w", doc.Kind, doc.Name, err)
		}
		results = append(results, ApplyResult{Kind: doc.Kind, Name: doc.Name, Namespace: doc.Namespace})
		c.logger.Info("applied manifest document",
			"environment", env, "kind", doc.Kind, "name", doc.Name, "namespace", doc.Namespace)
	}
	return results, nil
}
