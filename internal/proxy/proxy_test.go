package proxy

import (
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/perimetra/edgegate/internal/access"
	"github.com/perimetra/edgegate/internal/config"
)

// newTestEdgeServer builds an edgeServer wired against the given backend
// (nil means "not configured") with a private metrics registry so tests can
// run in any order.
func newTestEdgeServer(t *testing.T, backend *config.Backend) *edgeServer {
	t.Helper()

	tmpls, err := template.ParseFS(embeddedTemplates, "templates/*.html")
	if err != nil {
		t.Fatalf("parse templates: %v", err)
	}

	return &edgeServer{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		opts:    &serverOptions{listen: ":0", requestIDMode: "uuid"},
		metrics: newEdgeMetrics(prometheus.NewRegistry()),
		auth: &access.HeaderAuthenticator{
			AllowedEmails: []string{"admin@example.com"},
		},
		resolveBackend: func() *config.Backend { return backend },
		missingSettings: func() []string {
			return []string{config.EnvMode, config.EnvGatewayURL}
		},
		httpClient: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		wsDialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		probeTimeout: 500 * time.Millisecond,
		idGen:        uuid.NewString,
		loadingTmpl:  tmpls.Lookup("loading.html"),
		errorTmpl:    tmpls.Lookup("error.html"),
		adminTmpl:    tmpls.Lookup("admin.html"),
	}
}

func backendFor(ts *httptest.Server, token string) *config.Backend {
	return &config.Backend{
		BaseURL:   ts.URL,
		WSURL:     "ws" + ts.URL[len("http"):],
		AuthToken: token,
	}
}

// healthyMux wraps a handler with a 200 /health endpoint so the readiness
// gate passes.
func healthyMux(handler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if handler != nil {
		mux.Handle("/", handler)
	}
	return mux
}

func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
