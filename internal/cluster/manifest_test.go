package cluster

import (
	"strings"
	"testing"
)

const multiDocManifest = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
  namespace: shop
spec:
  replicas: 2
---
apiVersion: v1
kind: Service
metadata:
  name: web
---
apiVersion: v1
kind: Namespace
metadata:
  name: shop
`

func TestParseManifestMultiDocument(t *testing.T) {
	docs, err := ParseManifest(multiDocManifest)
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d documents, want 3", len(docs))
	}

	dep := docs[0]
	if dep.Kind != "Deployment" || dep.Name != "web" || dep.Namespace != "shop" {
		t.Errorf("deployment doc = %+v", dep)
	}

	// Namespaced kind without a namespace defaults to "default".
	svc := docs[1]
	if svc.Namespace != "default" {
		t.Errorf("service namespace = %q, want default", svc.Namespace)
	}

	// Cluster-scoped kinds get no namespace.
	ns := docs[2]
	if ns.Namespace != "" {
		t.Errorf("namespace doc namespace = %q, want empty", ns.Namespace)
	}
}

func TestParseManifestValidation(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{"missing kind", "apiVersion: v1\nmetadata:\n  name: x\n"},
		{"missing name", "apiVersion: v1\nkind: Service\nmetadata: {}\n"},
		{"not yaml", "kind: [unclosed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseManifest(tt.manifest); err == nil {
				t.Errorf("ParseManifest(%s) succeeded, want error", tt.name)
			}
		})
	}
}

func TestParseManifestSkipsEmptyDocuments(t *testing.T) {
	docs, err := ParseManifest("---\n\n---\napiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: cfg\n---\n")
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}
	if len(docs) != 1 || docs[0].Kind != "ConfigMap" {
		t.Errorf("docs = %+v, want the single ConfigMap", docs)
	}
}

func TestAPIPath(t *testing.T) {
	tests := []struct {
		name string
		doc  ManifestDoc
		want string
	}{
		{
			"core namespaced",
			ManifestDoc{APIVersion: "v1", Kind: "Service", Name: "web", Namespace: "shop"},
			"/api/v1/namespaces/shop/services/web",
		},
		{
			"apps group",
			ManifestDoc{APIVersion: "apps/v1", Kind: "Deployment", Name: "web", Namespace: "shop"},
			"/apis/apps/v1/namespaces/shop/deployments/web",
		},
		{
			"cluster scoped",
			ManifestDoc{APIVersion: "v1", Kind: "Namespace", Name: "shop"},
			"/api/v1/namespaces/shop",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.doc.apiPath()
			if err != nil {
				t.Fatalf("apiPath failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("apiPath = %q, want %q", got, tt.want)
			}
		})
	}

	bad := ManifestDoc{APIVersion: "v1", Kind: "Sasquatch", Name: "x"}
	if _, err := bad.apiPath(); err == nil || !strings.Contains(err.Error(), "unsupported kind") {
		t.Errorf("unsupported kind error = %v", err)
	}
}
