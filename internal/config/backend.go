package config

import (
	"net/url"
	"os"
	"strings"
)

// Environment variables describing the private gateway backend. The edge
// layer treats absence as "not configured", never as a hard error.
const (
	EnvMode         = "EDGEGATE_MODE"
	EnvGatewayURL   = "EDGEGATE_GATEWAY_URL"
	EnvGatewayWSURL = "EDGEGATE_GATEWAY_WS_URL"
	EnvGatewayToken = "EDGEGATE_GATEWAY_TOKEN"

	// ModeSelfHosted is the only deployment mode in which the edge layer
	// proxies to a gateway.
	ModeSelfHosted = "selfhosted"
)

// AuthHeader carries the internal gateway token on every backend-bound call.
const AuthHeader = "X-Gateway-Auth"

// Backend is the resolved description of the private gateway. It is derived
// fresh per request from the environment and never mutated or cached: the
// environment may change between deployments.
type Backend struct {
	BaseURL   string
	WSURL     string
	AuthToken string
}

// ResolveBackend derives the backend description from the given environment
// lookup. It returns nil when the deployment mode is not selfhosted or the
// gateway URL is absent; callers must treat nil as an expected
// "not configured" state and answer with a 503-class response.
func ResolveBackend(getenv func(string) string) *Backend {
	if getenv == nil {
		getenv = os.Getenv
	}
	if !strings.EqualFold(strings.TrimSpace(getenv(EnvMode)), ModeSelfHosted) {
		return nil
	}
	base := strings.TrimSpace(getenv(EnvGatewayURL))
	if base == "" {
		return nil
	}
	base = strings.TrimRight(base, "/")

	wsURL := strings.TrimSpace(getenv(EnvGatewayWSURL))
	if wsURL == "" {
		wsURL = deriveWSURL(base)
	}

	return &Backend{
		BaseURL:   base,
		WSURL:     strings.TrimRight(wsURL, "/"),
		AuthToken: getenv(EnvGatewayToken),
	}
}

// ResolveBackendFromEnv resolves against the process environment.
func ResolveBackendFromEnv() *Backend {
	return ResolveBackend(os.Getenv)
}

// MissingBackendSettings lists the names of required settings that are
// absent, for inclusion in "not configured" responses.
func MissingBackendSettings(getenv func(string) string) []string {
	if getenv == nil {
		getenv = os.Getenv
	}
	var missing []string
	if !strings.EqualFold(strings.TrimSpace(getenv(EnvMode)), ModeSelfHosted) {
		missing = append(missing, EnvMode)
	}
	if strings.TrimSpace(getenv(EnvGatewayURL)) == "" {
		missing = append(missing, EnvGatewayURL)
	}
	return missing
}

// deriveWSURL swaps the scheme for its WebSocket equivalent, preserving
// host, port and path. The WS scheme is secure iff the base scheme is.
func deriveWSURL(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return ""
	}
	return u.String()
}

// GatewayPort reports the port of the backend base URL, defaulting to the
// scheme's well-known port when unspecified.
func (b *Backend) GatewayPort() string {
	if b == nil {
		return ""
	}
	u, err := url.Parse(b.BaseURL)
	if err != nil {
		return ""
	}
	if port := u.Port(); port != "" {
		return port
	}
	if u.Scheme == "https" {
		return "443"
	}
	return "80"
}
