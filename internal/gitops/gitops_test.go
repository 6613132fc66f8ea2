package gitops

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestHTTPProber_AnyResponseIsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/version", r.URL.Path)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	require.NoError(t, NewHTTPProber(time.Second).Probe(context.Background(), srv.URL))
}

func TestHTTPProber_UntrustedCertificateIsReachable(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	require.NoError(t, NewHTTPProber(time.Second).Probe(context.Background(), srv.URL))
}

func TestHTTPProber_ClosedPortIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	assert.Error(t, NewHTTPProber(time.Second).Probe(context.Background(), url))
	assert.Error(t, NewHTTPProber(time.Second).Probe(context.Background(), ""))
}

func TestHelmInstaller_RunsChartsInOrder(t *testing.T) {
	var calls []string
	h := NewHelmInstaller("helm", "eu-west-1", time.Minute)
	h.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, name+" "+strings.Join(args, " "))
		return nil, nil
	}

	inst, err := h.Install(context.Background(), Release{Cluster: "ci", Namespace: "argo", Version: "7.3.4"})
	require.NoError(t, err)
	assert.Equal(t, "argo", inst.Namespace)
	assert.Contains(t, inst.URLs, "cd")
	assert.Contains(t, inst.URLs, "workflows")

	require.Len(t, calls, 4)
	assert.True(t, strings.HasPrefix(calls[0], "helm repo add argo"))
	assert.Contains(t, calls[1], "upgrade --install argocd argo/argo-cd --namespace argo")
	assert.Contains(t, calls[1], "--version 7.3.4")
	assert.Contains(t, calls[2], "argo-workflows")
	assert.NotContains(t, calls[2], "--version")
	assert.Contains(t, calls[3], "upgrade --install argo-events argo/argo-events")
	for _, c := range calls[1:] {
		assert.Contains(t, c, "--kube-context ci")
		assert.NotContains(t, c, "--kubeconfig")
	}
}

func TestHelmInstaller_EndpointUsesGeneratedKubeconfig(t *testing.T) {
	var paths []string
	var doc kubeconfig
	h := NewHelmInstaller("helm", "eu-west-1", time.Minute)
	h.run = func(_ context.Context, _ string, args ...string) ([]byte, error) {
		for i, a := range args {
			if a == "--kubeconfig" && i+1 < len(args) {
				paths = append(paths, args[i+1])
			}
		}
		if len(paths) == 1 && doc.CurrentContext == "" {
			raw, err := os.ReadFile(paths[0])
			require.NoError(t, err)
			require.NoError(t, yaml.Unmarshal(raw, &doc))
		}
		return nil, nil
	}

	_, err := h.Install(context.Background(), Release{
		Cluster:   "ci",
		Namespace: "argo",
		Endpoint:  "https://ABC.gr7.eu-west-1.eks.amazonaws.com",
		CAData:    "LS0tLS1CRUdJTg==",
	})
	require.NoError(t, err)

	require.Len(t, paths, 3)
	assert.Equal(t, paths[0], paths[2])
	assert.Equal(t, "ci", doc.CurrentContext)
	require.Len(t, doc.Clusters, 1)
	assert.Equal(t, "https://ABC.gr7.eu-west-1.eks.amazonaws.com", doc.Clusters[0].Cluster.Server)
	assert.Equal(t, "LS0tLS1CRUdJTg==", doc.Clusters[0].Cluster.CAData)
	require.Len(t, doc.Users, 1)
	assert.Equal(t, "aws", doc.Users[0].User.Exec.Command)
	assert.Equal(t, []string{"eks", "get-token", "--cluster-name", "ci", "--region", "eu-west-1"}, doc.Users[0].User.Exec.Args)

	_, err = os.Stat(paths[0])
	assert.True(t, os.IsNotExist(err), "kubeconfig should be removed after install")
}

func TestHelmInstaller_FailureCarriesOutput(t *testing.T) {
	h := NewHelmInstaller("helm", "eu-west-1", time.Minute)
	h.run = func(_ context.Context, _ string, args ...string) ([]byte, error) {
		if args[0] == "upgrade" {
			return []byte("Error: timed out waiting for the condition"), errors.New("exit status 1")
		}
		return nil, nil
	}

	_, err := h.Install(context.Background(), Release{Cluster: "ci", Namespace: "argo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out waiting for the condition")
}
