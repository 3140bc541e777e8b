package cluster

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xxflyingknife/devspace/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(map[string]config.EnvironmentConfig{
		"test": {APIURL: server.URL, Token: "secret-token"},
	}, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestListResourcesPods(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/namespaces/shop/pods" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("authorization = %q", got)
		}
		io.WriteString(w, `{"items":[
			{"metadata":{"name":"web-1"},"status":{"phase":"Running"}},
			{"metadata":{"name":"web-2"},"status":{"phase":"CrashLoopBackOff"}}
		]}`)
	}))

	resources, err := client.ListResources(context.Background(), "test", "shop", "pods")
	if err != nil {
		t.Fatalf("ListResources failed: %v", err)
	}
	if len(resources) != 2 {
		t.Fatalf("got %d resources, want 2", len(resources))
	}
	if resources[0].Name != "web-1" || resources[0].Status != "Running" {
		t.Errorf("first resource = %+v", resources[0])
	}
}

func TestListResourcesDeploymentsStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/apis/apps/v1/namespaces/default/deployments" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, `{"items":[
			{"metadata":{"name":"web"},"spec":{"replicas":3},"status":{"readyReplicas":2}}
		]}`)
	}))

	// Empty namespace defaults to "default".
	resources, err := client.ListResources(context.Background(), "test", "", "deployments")
	if err != nil {
		t.Fatal(err)
	}
	if resources[0].Status != "2/3 ready" {
		t.Errorf("deployment status = %q, want 2/3 ready", resources[0].Status)
	}
}

func TestListResourcesErrors(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"namespaces \"shop\" not found"}`, http.StatusNotFound)
	}))

	if _, err := client.ListResources(context.Background(), "test", "shop", "pods"); err == nil {
		t.Error("expected error from 404 response")
	}
	if _, err := client.ListResources(context.Background(), "test", "shop", "widgets"); err == nil {
		t.Error("expected error for unsupported kind")
	}
	if _, err := client.ListResources(context.Background(), "nope", "shop", "pods"); err == nil {
		t.Error("expected error for unknown environment")
	}
}

func TestPodLogs(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/namespaces/shop/pods/web-1/log" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("tailLines"); got != "50" {
			t.Errorf("tailLines = %q, want 50", got)
		}
		io.WriteString(w, "line one\nline two\n")
	}))

	logs, err := client.PodLogs(context.Background(), "test", "shop", "web-1", 50)
	if err != nil {
		t.Fatalf("PodLogs failed: %v", err)
	}
	if !strings.Contains(logs, "line two") {
		t.Errorf("logs = %q", logs)
	}
}

func TestScaleDeployment(t *testing.T) {
	var gotBody string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "PATCH" || r.URL.Path != "/apis/apps/v1/namespaces/shop/deployments/web/scale" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		io.WriteString(w, `{}`)
	}))

	if err := client.ScaleDeployment(context.Background(), "test", "shop", "web", 5); err != nil {
		t.Fatalf("ScaleDeployment failed: %v", err)
	}
	if gotBody != `{"spec":{"replicas":5}}` {
		t.Errorf("patch body = %s", gotBody)
	}

	if err := client.ScaleDeployment(context.Background(), "test", "shop", "web", -1); err == nil {
		t.Error("negative replicas must error")
	}
}

func TestRestartDeployment(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "PATCH" || r.URL.Path != "/apis/apps/v1/namespaces/shop/deployments/web" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "restartedAt") {
			t.Errorf("patch body = %s", body)
		}
		io.WriteString(w, `{}`)
	}))

	if err := client.RestartDeployment(context.Background(), "test", "shop", "web"); err != nil {
		t.Fatalf("RestartDeployment failed: %v", err)
	}
}

func TestApplyManifest(t *testing.T) {
	var paths []string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if ct := r.Header.Get("Content-Type"); ct != "application/apply-patch+yaml" {
			t.Errorf("content type = %q", ct)
		}
		io.WriteString(w, `{}`)
	}))

	results, err := client.ApplyManifest(context.Background(), "test", multiDocManifest)
	if err != nil {
		t.Fatalf("ApplyManifest failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("applied %d documents, want 3", len(results))
	}
	if paths[0] != "/apis/apps/v1/namespaces/shop/deployments/web" {
		t.Errorf("first apply path = %s", paths[0])
	}

	if _, err := client.ApplyManifest(context.Background(), "test", "   "); err == nil {
		t.Error("empty manifest must error")
	}
}

func TestApplyManifestStopsOnFailure(t *testing.T) {
	var calls int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			http.Error(w, `{"message":"denied"}`, http.StatusForbidden)
			return
		}
		io.WriteString(w, `{}`)
	}))

	results, err := client.ApplyManifest(context.Background(), "test", multiDocManifest)
	if err == nil {
		t.Fatal("expected failure on second document")
	}
	if len(results) != 1 {
		t.Errorf("got %d successful results before the failure, want 1", len(results))
	}
	if calls != 2 {
		t.Errorf("made %d calls, want apply to stop at the failure", calls)
	}
}
