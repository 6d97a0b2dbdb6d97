// Package coordinator talks to the system-of-record for tenants and
// tokens. Client is the worker-side HTTP client consulted on cache
// misses; Server exposes the same contract off a registry so the
// coordinator personality is runnable end to end.
//
// The client keeps two error kinds rigorously apart: a definitive 404 is
// a terminal fact about the message (fault.NotFound / invalid token),
// while any transport-level failure is fault.Communication and therefore
// retryable. Conflating the two would either loop forever on dead
// tenants or drop messages during partitions.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"meniscus/internal/fault"
	"meniscus/internal/logging"
	"meniscus/internal/tenant"
)

// TokenHeader carries the presented credential on authority calls.
const TokenHeader = "MESSAGE-TOKEN"

// HostnameHeader identifies the requesting worker.
const HostnameHeader = "X-Meniscus-Hostname"

// DefaultTimeout bounds each authority call. Kept low: a slow
// coordinator should surface as a retryable communication fault quickly
// rather than stall a worker.
const DefaultTimeout = 2 * time.Second

// Config holds client configuration.
type Config struct {
	// URI is the coordinator base, e.g. "http://coordinator:8080/v1".
	URI string

	// Timeout per request; DefaultTimeout when zero.
	Timeout time.Duration

	// HTTPClient overrides the transport (tests). When set, Timeout is
	// ignored.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client queries the remote authority over HTTP.
type Client struct {
	uri    string
	http   *http.Client
	logger *slog.Logger
}

// New creates a coordinator client.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		uri:    strings.TrimRight(cfg.URI, "/"),
		http:   hc,
		logger: logging.Default(cfg.Logger).With("component", "coordinator_client"),
	}
}

// ValidateToken asks the authority whether the presented credential is
// valid for the tenant. A definitive 404 means invalid; any transport
// failure or unexpected status is a communication fault.
func (c *Client) ValidateToken(ctx context.Context, tenantID, token, hostname string) (bool, error) {
	url := fmt.Sprintf("%s/tenant/%s/token", c.uri, tenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, fault.Wrap(fault.Communication, tenantID, err, "building token request")
	}
	req.Header.Set(TokenHeader, token)
	req.Header.Set(HostnameHeader, hostname)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fault.Wrap(fault.Communication, tenantID, err, "coordinator unreachable")
	}
	defer drain(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fault.New(fault.Communication, tenantID,
			"unexpected status %d validating token", resp.StatusCode)
	}
}

// GetTenant fetches the authoritative tenant record. 404 is a terminal
// not-found fault; any other non-200 outcome is a communication fault.
func (c *Client) GetTenant(ctx context.Context, tenantID, token, hostname string) (*tenant.Tenant, error) {
	url := fmt.Sprintf("%s/tenant/%s", c.uri, tenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fault.Wrap(fault.Communication, tenantID, err, "building tenant request")
	}
	req.Header.Set(TokenHeader, token)
	req.Header.Set(HostnameHeader, hostname)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.Communication, tenantID, err, "coordinator unreachable")
	}
	defer drain(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fault.New(fault.NotFound, tenantID, "tenant does not exist")
	default:
		return nil, fault.New(fault.Communication, tenantID,
			"unexpected status %d fetching tenant", resp.StatusCode)
	}

	var body struct {
		Tenant map[string]any `json:"tenant"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fault.Wrap(fault.Communication, tenantID, err, "decoding tenant response")
	}
	t, err := tenant.LoadTenantFromMap(body.Tenant)
	if err != nil {
		return nil, fault.Wrap(fault.Communication, tenantID, err, "malformed tenant response")
	}
	return t, nil
}

// drain discards any remaining body so the connection can be reused.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
