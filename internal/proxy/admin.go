package proxy

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"regexp"

	"github.com/perimetra/edgegate/internal/access"
	"github.com/perimetra/edgegate/internal/config"
	"github.com/perimetra/edgegate/internal/gateway"
)

// deviceIDPattern bounds what may ever reach a gateway command line as a
// device request identifier.
var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// gatewayCLI is the binary the exec bridge invokes for device operations.
const gatewayCLI = "gateway"

type adminResult struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Stdout  string          `json:"stdout,omitempty"`
	Stderr  string          `json:"stderr,omitempty"`
	Device  json.RawMessage `json:"device,omitempty"`
}

// requireUser wraps admin handlers behind the access gate. The identity
// provider verified the caller upstream; here we only consume the asserted
// identity and enforce the allowlist.
func (s *edgeServer) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.auth.Authenticate(r)
		if err != nil {
			s.metrics.authFailures.Inc()
			status := http.StatusUnauthorized
			code := "unauthenticated"
			if errors.Is(err, access.ErrForbidden) {
				status = http.StatusForbidden
				code = "forbidden"
			}
			s.logger.Warn("admin access denied", "error", err, "path", r.URL.Path, "remote", r.RemoteAddr)
			s.writeJSONError(w, status, code, err.Error())
			return
		}
		next(w, r.WithContext(access.WithUser(r.Context(), user)))
	}
}

func (s *edgeServer) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	backend := s.resolveBackend()
	if backend == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ok":      false,
			"status":  "unconfigured",
			"missing": s.missingSettings(),
		})
		return
	}

	client := s.gatewayClient(backend)
	healthy := client.Probe(r.Context())
	if !healthy {
		s.metrics.probeFailures.Inc()
	}

	payload := map[string]any{
		"ok":        healthy,
		"url":       backend.BaseURL,
		"resources": s.resources.snapshot(),
	}
	if healthy {
		if status, err := client.Status(r.Context()); err == nil {
			payload["gateway"] = status
		} else {
			s.logger.Warn("gateway status fetch failed", "error", err)
			payload["gateway_error"] = err.Error()
		}
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *edgeServer) handleAdminSync(w http.ResponseWriter, r *http.Request) {
	s.runInternalOp(w, r, "sync", func(client *gateway.Client) (json.RawMessage, error) {
		return client.Sync(r.Context())
	})
}

func (s *edgeServer) handleAdminRestart(w http.ResponseWriter, r *http.Request) {
	s.runInternalOp(w, r, "restart", func(client *gateway.Client) (json.RawMessage, error) {
		return client.Restart(r.Context())
	})
}

func (s *edgeServer) runInternalOp(w http.ResponseWriter, r *http.Request, name string, op func(*gateway.Client) (json.RawMessage, error)) {
	backend := s.resolveBackend()
	if backend == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "not_configured", "gateway backend is not configured")
		return
	}
	user, _ := access.UserFrom(r.Context())
	result, err := op(s.gatewayClient(backend))
	if err != nil {
		s.logger.Warn("gateway operation failed", "op", name, "error", err, "user", userEmail(user))
		s.writeJSON(w, http.StatusBadGateway, adminResult{
			Success: false,
			Message: name + " failed: " + err.Error(),
		})
		return
	}
	s.logger.Info("gateway operation succeeded", "op", name, "user", userEmail(user))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": name + " completed",
		"result":  result,
	})
}

// handleDeviceApprove runs the gateway's device approval CLI through the
// exec bridge. The identifier is validated and passed as a structured
// argument, never interpolated into a command string.
func (s *edgeServer) handleDeviceApprove(w http.ResponseWriter, r *http.Request) {
	backend := s.resolveBackend()
	if backend == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "not_configured", "gateway backend is not configured")
		return
	}

	id := r.PathValue("id")
	if !deviceIDPattern.MatchString(id) {
		s.writeJSONError(w, http.StatusBadRequest, "invalid_device_id", "device request id must match "+deviceIDPattern.String())
		return
	}

	user, _ := access.UserFrom(r.Context())
	s.metrics.execRequests.Inc()

	execTimeout := config.GetDurationEnv("EDGEGATE_EXEC_TIMEOUT", 0)
	result, err := s.gatewayClient(backend).ExecuteArgs(r.Context(), []string{gatewayCLI, "devices", "approve", id}, execTimeout)
	if err != nil {
		s.logger.Warn("device approval failed", "device", id, "error", err, "user", userEmail(user))
		payload := adminResult{
			Success: false,
			Message: "device approval failed: " + err.Error(),
		}
		var cmdErr *gateway.CommandError
		if errors.As(err, &cmdErr) {
			payload.Stderr = cmdErr.Body
		}
		s.writeJSON(w, http.StatusBadGateway, payload)
		return
	}

	payload := adminResult{
		Success: result.ExitCode == 0,
		Message: "device approval completed",
		Stdout:  result.Stdout,
		Stderr:  result.Stderr,
	}
	if !payload.Success {
		payload.Message = "device approval command exited nonzero"
	}
	// Best effort: the CLI prints the approved device as JSON somewhere in
	// its output.
	if device, ok := gateway.ExtractJSONObject(result.Stdout); ok {
		payload.Device = device
	}

	s.logger.Info("device approval executed", "device", id, "exit", result.ExitCode, "user", userEmail(user))
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *edgeServer) handleAdminPage(w http.ResponseWriter, r *http.Request) {
	backend := s.resolveBackend()
	bootstrap := map[string]any{
		"configured": backend != nil,
	}
	if backend != nil {
		bootstrap["url"] = backend.BaseURL
		bootstrap["healthy"] = s.gatewayClient(backend).Probe(r.Context())
	} else {
		bootstrap["missing"] = s.missingSettings()
	}
	encoded, err := json.Marshal(bootstrap)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "render_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := s.adminTmpl.Execute(w, map[string]any{"Bootstrap": template.JS(encoded)}); err != nil {
		s.logger.Warn("admin page render failed", "error", err)
	}
}

func userEmail(user *access.User) string {
	if user == nil {
		return ""
	}
	return user.Email
}
