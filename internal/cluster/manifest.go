package cluster

import (
	"fmt"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestDoc is one document of a Kubernetes manifest, with the
// fields needed to route it to an API path. Raw keeps the original
// YAML for server-side apply.
type ManifestDoc struct {
	APIVersion string
	Kind       string
	Name       string
	Namespace  string
	Raw        string
}

// kindPlurals maps the kinds the assistant may apply to their REST
// plural. Cluster-scoped kinds are marked by an empty namespace
// segment.
var kindPlurals = map[string]struct {
	plural     string
	namespaced bool
}{
	"Pod":         {"pods", true},
	"Deployment":  {"deployments", true},
	"Service":     {"services", true},
	"ConfigMap":   {"configmaps", true},
	"Secret":      {"secrets", true},
	"StatefulSet": {"statefulsets", true},
	"DaemonSet":   {"daemonsets", true},
	"Ingress":     {"ingresses", true},
	"Job":         {"jobs", true},
	"CronJob":     {"cronjobs", true},
	"Namespace":   {"namespaces", false},
}

// ParseManifest splits a possibly multi-document YAML manifest and
// validates that every document carries apiVersion, kind and a name.
// A missing namespace on a namespaced kind defaults to "default".
func ParseManifest(manifest string) ([]ManifestDoc, error) {
	var docs []ManifestDoc
	for i, raw := range splitDocuments(manifest) {
		var head struct {
			APIVersion string `yaml:"apiVersion"`
			Kind       string `yaml:"kind"`
			Metadata   struct {
				Name      string `yaml:"name"`
				Namespace string `yaml:"namespace"`
			} `yaml:"metadata"`
		}
		if err := yaml.Unmarshal([]byte(raw), &head); err != nil {
			return nil, fmt.Errorf("manifest document %d: %w", i+1, err)
		}
		if head.APIVersion == "" || head.Kind == "" {
			return nil, fmt.Errorf("manifest document %d: apiVersion and kind are required", i+1)
		}
		if head.Metadata.Name == "" {
			return nil, fmt.Errorf("manifest document %d (%s): metadata.name is required", i+1, head.Kind)
		}

		doc := ManifestDoc{
			APIVersion: head.APIVersion,
			Kind:       head.Kind,
			Name:       head.Metadata.Name,
			Namespace:  head.Metadata.Namespace,
			Raw:        raw,
		}
		if info, ok := kindPlurals[doc.Kind]; ok && info.namespaced && doc.Namespace == "" {
			doc.Namespace = "default"
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// splitDocuments separates YAML documents on "---" lines, dropping
// empty ones.
func splitDocuments(manifest string) []string {
	var out []string
	for _, part := range strings.Split(manifest, "\n---") {
		part = strings.TrimPrefix(part, "---")
		if strings.TrimSpace(part) == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// apiPath builds the REST path for the document's target object.
func (d ManifestDoc) apiPath() (string, error) {
	info, ok := kindPlurals[d.Kind]
	if !ok {
		return "", fmt.Errorf("unsupported kind %q", d.Kind)
	}

	var prefix string
	if d.APIVersion == "v1" {
		prefix = "/api/v1"
	} else {
		prefix = "/apis/" + d.APIVersion
	}

	if info.namespaced {
		return fmt.Sprintf("%s/namespaces/%s/%s/%s",
			prefix, url.PathEscape(d.Namespace), info.plural, url.PathEscape(d.Name)), nil
	}
	return fmt.Sprintf("%s/%s/%s", prefix, info.plural, url.PathEscape(d.Name)), nil
}
