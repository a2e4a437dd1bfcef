package proxy

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/perimetra/edgegate/internal/config"
)

type healthzPayload struct {
	Status        string   `json:"status"`
	Service       string   `json:"service"`
	GatewayPort   string   `json:"gateway_port,omitempty"`
	SelfhostedURL string   `json:"selfhosted_url,omitempty"`
	Missing       []string `json:"missing,omitempty"`
}

type apiStatusPayload struct {
	OK     bool   `json:"ok"`
	Status string `json:"status"`
	Mode   string `json:"mode"`
	URL    string `json:"url,omitempty"`
}

func (s *edgeServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	backend := s.resolveBackend()
	if backend == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, healthzPayload{
			Status:  "unconfigured",
			Service: "edgegate",
			Missing: s.missingSettings(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, healthzPayload{
		Status:        "ok",
		Service:       "edgegate",
		GatewayPort:   backend.GatewayPort(),
		SelfhostedURL: backend.BaseURL,
	})
}

func (s *edgeServer) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	backend := s.resolveBackend()
	if backend == nil {
		s.writeJSON(w, http.StatusOK, apiStatusPayload{
			OK:     false,
			Status: "unconfigured",
			Mode:   "selfhosted",
		})
		return
	}
	status := "ready"
	ok := s.gatewayClient(backend).Probe(r.Context())
	if !ok {
		s.metrics.probeFailures.Inc()
		status = "starting"
	}
	s.writeJSON(w, http.StatusOK, apiStatusPayload{
		OK:     ok,
		Status: status,
		Mode:   "selfhosted",
		URL:    backend.BaseURL,
	})
}

// handleCatchAll is the health-gated proxy path: readiness is probed before
// any forwarding, and unhealthy outcomes answer the caller in its own
// dialect (interstitial HTML for browsers, structured JSON otherwise).
func (s *edgeServer) handleCatchAll(w http.ResponseWriter, r *http.Request) {
	backend := s.resolveBackend()
	if backend == nil {
		missing := s.missingSettings()
		if wantsHTML(r) {
			s.renderErrorPage(w, http.StatusServiceUnavailable,
				"Gateway not configured",
				"Set "+strings.Join(missing, ", ")+" and redeploy the edge.")
			return
		}
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":   "not_configured",
			"missing": missing,
		})
		return
	}

	if !s.gatewayClient(backend).Probe(r.Context()) {
		s.metrics.probeFailures.Inc()
		if wantsHTML(r) {
			s.renderLoadingPage(w)
			return
		}
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "gateway_unavailable",
			"hint":  "The gateway is starting or unreachable; retry shortly.",
		})
		return
	}

	if websocket.IsWebSocketUpgrade(r) {
		s.relayWebSocket(w, r, backend, pairingHint)
		return
	}
	s.forwardHTTP(w, r, backend)
}

func (s *edgeServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response encode failed", "error", err)
	}
}

func (s *edgeServer) writeJSONError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}

func (s *edgeServer) renderLoadingPage(w http.ResponseWriter) {
	retry := config.GetIntEnv("EDGEGATE_LOADING_RETRY_SECONDS", 5)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	w.WriteHeader(http.StatusServiceUnavailable)
	if err := s.loadingTmpl.Execute(w, map[string]any{"RetrySeconds": retry}); err != nil {
		s.logger.Warn("loading page render failed", "error", err)
	}
}

func (s *edgeServer) renderErrorPage(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := s.errorTmpl.Execute(w, map[string]any{"Title": title, "Detail": detail}); err != nil {
		s.logger.Warn("error page render failed", "error", err)
	}
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
