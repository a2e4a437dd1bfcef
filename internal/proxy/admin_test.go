package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/perimetra/edgegate/internal/access"
)

func adminRequest(t *testing.T, method, url, email string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if email != "" {
		req.Header.Set(access.DefaultEmailHeader, email)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp
}

func TestAdminRequiresIdentity(t *testing.T) {
	s := newTestEdgeServer(t, nil)
	edgeTS := httptest.NewServer(s.routes())
	defer edgeTS.Close()

	resp := adminRequest(t, http.MethodGet, edgeTS.URL+"/admin/api/status", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["error"] != "unauthenticated" {
		t.Errorf("error code = %q", payload["error"])
	}
}

func TestAdminRejectsUnlistedEmail(t *testing.T) {
	s := newTestEdgeServer(t, nil)
	edgeTS := httptest.NewServer(s.routes())
	defer edgeTS.Close()

	resp := adminRequest(t, http.MethodGet, edgeTS.URL+"/admin/api/status", "intruder@example.com")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestAdminStatusHealthyGateway(t *testing.T) {
	backendTS := httptest.NewServer(healthyMux(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/internal/status" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"devices":3,"uptime":"2h"}`)
	})))
	defer backendTS.Close()

	s := newTestEdgeServer(t, backendFor(backendTS, ""))
	edgeTS := httptest.NewServer(s.routes())
	defer edgeTS.Close()

	resp := adminRequest(t, http.MethodGet, edgeTS.URL+"/admin/api/status", "admin@example.com")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload struct {
		OK      bool            `json:"ok"`
		URL     string          `json:"url"`
		Gateway json.RawMessage `json:"gateway"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.OK || payload.URL != backendTS.URL {
		t.Errorf("payload = %+v", payload)
	}
	if !strings.Contains(string(payload.Gateway), `"devices":3`) {
		t.Errorf("gateway status = %s", payload.Gateway)
	}
}

func TestAdminSync(t *testing.T) {
	backendTS := httptest.NewServer(healthyMux(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/internal/sync" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"synced":true}`)
	})))
	defer backendTS.Close()

	s := newTestEdgeServer(t, backendFor(backendTS, ""))
	edgeTS := httptest.NewServer(s.routes())
	defer edgeTS.Close()

	resp := adminRequest(t, http.MethodPost, edgeTS.URL+"/admin/api/sync", "admin@example.com")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload struct {
		Success bool            `json:"success"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.Success || !strings.Contains(string(payload.Result), `"synced":true`) {
		t.Errorf("payload = %+v", payload)
	}
}

func TestAdminSyncGatewayFailure(t *testing.T) {
	backendTS := httptest.NewServer(healthyMux(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "sync exploded", http.StatusInternalServerError)
	})))
	defer backendTS.Close()

	s := newTestEdgeServer(t, backendFor(backendTS, ""))
	edgeTS := httptest.NewServer(s.routes())
	defer edgeTS.Close()

	resp := adminRequest(t, http.MethodPost, edgeTS.URL+"/admin/api/sync", "admin@example.com")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	var payload adminResult
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Success {
		t.Error("success = true for failed sync")
	}
	if !strings.Contains(payload.Message, "sync failed") {
		t.Errorf("message = %q", payload.Message)
	}
}

func TestDeviceApprove(t *testing.T) {
	var gotCommand string
	backendTS := httptest.NewServer(healthyMux(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/internal/exec" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Command string `json:"command"`
			Timeout int64  `json:"timeout"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotCommand = req.Command
		json.NewEncoder(w).Encode(map[string]any{
			"stdout":   "approving device\n{\"id\":\"req-42\",\"name\":\"kiosk\"}\ndone",
			"stderr":   "",
			"exitCode": 0,
		})
	})))
	defer backendTS.Close()

	s := newTestEdgeServer(t, backendFor(backendTS, ""))
	edgeTS := httptest.NewServer(s.routes())
	defer edgeTS.Close()

	resp := adminRequest(t, http.MethodPost, edgeTS.URL+"/admin/api/devices/req-42/approve", "admin@example.com")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if gotCommand != "gateway devices approve req-42" {
		t.Errorf("exec command = %q", gotCommand)
	}

	var payload adminResult
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.Success {
		t.Errorf("payload = %+v", payload)
	}
	var device struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload.Device, &device); err != nil {
		t.Fatalf("decode extracted device: %v", err)
	}
	if device.ID != "req-42" {
		t.Errorf("device id = %q", device.ID)
	}
}

func TestDeviceApproveRejectsBadID(t *testing.T) {
	backendTS := httptest.NewServer(healthyMux(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("exec bridge must not be reached for an invalid id")
	})))
	defer backendTS.Close()

	s := newTestEdgeServer(t, backendFor(backendTS, ""))
	edgeTS := httptest.NewServer(s.routes())
	defer edgeTS.Close()

	resp := adminRequest(t, http.MethodPost, edgeTS.URL+"/admin/api/devices/req!42/approve", "admin@example.com")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["error"] != "invalid_device_id" {
		t.Errorf("error code = %q", payload["error"])
	}
}

func TestDeviceApproveExecFailure(t *testing.T) {
	backendTS := httptest.NewServer(healthyMux(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "exec backend down", http.StatusInternalServerError)
	})))
	defer backendTS.Close()

	s := newTestEdgeServer(t, backendFor(backendTS, ""))
	edgeTS := httptest.NewServer(s.routes())
	defer edgeTS.Close()

	resp := adminRequest(t, http.MethodPost, edgeTS.URL+"/admin/api/devices/req-42/approve", "admin@example.com")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	var payload adminResult
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Success {
		t.Error("success = true for failed exec")
	}
	if !strings.Contains(payload.Stderr, "exec backend down") {
		t.Errorf("stderr = %q, want gateway body preserved", payload.Stderr)
	}
}

func TestAdminPageBootstrap(t *testing.T) {
	backendTS := httptest.NewServer(healthyMux(nil))
	defer backendTS.Close()

	s := newTestEdgeServer(t, backendFor(backendTS, ""))
	edgeTS := httptest.NewServer(s.routes())
	defer edgeTS.Close()

	resp := adminRequest(t, http.MethodGet, edgeTS.URL+"/admin/", "admin@example.com")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Fatalf("content type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"configured":true`) {
		t.Fatalf("bootstrap missing from page: %s", body)
	}
}
