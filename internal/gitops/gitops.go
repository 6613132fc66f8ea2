// Package gitops installs the GitOps controller (Argo CD, Argo Workflows and
// Argo Events) onto a provisioned cluster.
package gitops

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Release describes one install request.
type Release struct {
	Cluster   string
	Endpoint  string
	CAData    string
	Namespace string
	Version   string
}

// Installation is what the agent reports back after a successful install.
type Installation struct {
	Namespace string            `json:"namespace"`
	URLs      map[string]string `json:"urls"`
}

// Installer performs the actual install. Errors from Install mean the
// cluster was reachable but the install did not complete.
type Installer interface {
	Install(ctx context.Context, rel Release) (*Installation, error)
}

// Prober checks that a cluster API endpoint answers at all.
type Prober interface {
	Probe(ctx context.Context, endpoint string) error
}

// HTTPProber treats any HTTP response, or a TLS handshake with an untrusted
// certificate, as proof that the endpoint is reachable. No credentials are sent.
type HTTPProber struct {
	client *http.Client
}

func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProber{client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProber) Probe(ctx context.Context, endpoint string) error {
	if endpoint == "" {
		return errors.New("cluster has no API endpoint")
	}
	url := strings.TrimRight(endpoint, "/") + "/version"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if untrustedButListening(err) {
			return nil
		}
		return err
	}
	resp.Body.Close()
	return nil
}

func untrustedButListening(err error) bool {
	var unknownAuthority x509.UnknownAuthorityError
	var verifyErr *tls.CertificateVerificationError
	var hostnameErr x509.HostnameError
	return errors.As(err, &unknownAuthority) || errors.As(err, &verifyErr) || errors.As(err, &hostnameErr)
}

// ServiceURLs returns the in-cluster addresses of the Argo CD and Argo
// Workflows servers installed into namespace.
func ServiceURLs(namespace string) map[string]string {
	return map[string]string{
		"cd":        fmt.Sprintf("https://argocd-server.%s.svc.cluster.local", namespace),
		"workflows": fmt.Sprintf("https://argo-workflows-server.%s.svc.cluster.local:2746", namespace),
	}
}
