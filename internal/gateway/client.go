package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/perimetra/edgegate/internal/config"
)

const defaultProbeTimeout = 5 * time.Second

// Client talks to the private gateway over its internal HTTP contract.
// It holds no connection state; every call opens a fresh upstream request.
type Client struct {
	backend      *config.Backend
	httpClient   *http.Client
	logger       *slog.Logger
	probeTimeout time.Duration
}

// ClientOptions tune a Client. Zero values select defaults.
type ClientOptions struct {
	// HTTPClient overrides the transport, e.g. to dial through an
	// upstream SOCKS5 tunnel.
	HTTPClient *http.Client
	// ProbeTimeout bounds health probes. Defaults to 5s.
	ProbeTimeout time.Duration
}

func NewClient(backend *config.Backend, logger *slog.Logger, opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		backend:      backend,
		httpClient:   httpClient,
		logger:       logger.With("component", "gateway"),
		probeTimeout: probeTimeout,
	}
}

// Probe reports whether the gateway answers its health endpoint in time.
// Every failure mode collapses to false; the caller never sees an error.
func (c *Client) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.backend.BaseURL+"/health", nil)
	if err != nil {
		c.logger.Debug("probe request build failed", "error", err)
		return false
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("probe returned non-2xx", "status", resp.StatusCode)
		return false
	}
	return true
}

// Sync asks the gateway to re-sync its configuration.
func (c *Client) Sync(ctx context.Context) (json.RawMessage, error) {
	return c.doJSON(ctx, http.MethodPost, "/api/internal/sync", nil)
}

// Restart asks the gateway to restart itself.
func (c *Client) Restart(ctx context.Context) (json.RawMessage, error) {
	return c.doJSON(ctx, http.MethodPost, "/api/internal/restart", nil)
}

// Status fetches the gateway's internal status document.
func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	return c.doJSON(ctx, http.MethodGet, "/api/internal/status", nil)
}

// StatusError reports a non-success response from the gateway, with the
// body preserved verbatim for diagnostics.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway responded %d: %s", e.Status, e.Body)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", path, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.backend.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Status: resp.StatusCode, Body: string(raw)}
	}
	return json.RawMessage(raw), nil
}

func (c *Client) authorize(req *http.Request) {
	if c.backend.AuthToken != "" {
		req.Header.Set(config.AuthHeader, c.backend.AuthToken)
	}
}
