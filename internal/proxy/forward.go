package proxy

import (
	"io"
	"net/http"

	"github.com/perimetra/edgegate/internal/config"
	"github.com/perimetra/edgegate/internal/logger"
)

// Diagnostic headers attached to every relayed response. Observability
// only; the gateway's own headers pass through untouched.
const (
	headerProxied   = "X-Edgegate-Proxied"
	headerProxyPath = "X-Edgegate-Path"
	headerRequestID = "X-Edgegate-Request-Id"
)

// forwardHTTP relays one inbound request to the gateway verbatim: method
// and body stream through unchanged, the response comes back with its
// original status. Redirects are returned to the caller, never followed.
func (s *edgeServer) forwardHTTP(w http.ResponseWriter, r *http.Request, backend *config.Backend) {
	requestID := s.nextRequestID()
	ctx := logger.ContextWithRequestID(r.Context(), requestID)

	target := backend.BaseURL + r.URL.EscapedPath()
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	upstream, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		s.logger.WarnContext(ctx, "relay request build failed", "error", err, "path", r.URL.Path)
		s.writeJSONError(w, http.StatusBadGateway, "gateway_unreachable", err.Error())
		return
	}
	upstream.ContentLength = r.ContentLength

	// Copy headers; the Host header must not leak through or the gateway
	// routes the request against the edge's public hostname.
	upstream.Header = r.Header.Clone()
	upstream.Header.Del("Host")
	if cookie := r.Header.Get("Cookie"); cookie != "" {
		upstream.Header.Set("Cookie", cookie)
	}
	if backend.AuthToken != "" {
		upstream.Header.Set(config.AuthHeader, backend.AuthToken)
	}

	resp, err := s.httpClient.Do(upstream)
	if err != nil {
		s.metrics.httpForwardErrors.Inc()
		s.logger.WarnContext(ctx, "gateway unreachable", "error", err, "path", r.URL.Path)
		s.writeJSONError(w, http.StatusBadGateway, "gateway_unreachable", err.Error())
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	for key, values := range resp.Header {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	header.Set(headerProxied, "1")
	header.Set(headerProxyPath, r.URL.Path)
	header.Set(headerRequestID, requestID)

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.DebugContext(ctx, "relay body copy interrupted", "error", err, "path", r.URL.Path)
	}
	s.metrics.httpForwards.Inc()
}
