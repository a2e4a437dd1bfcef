package proxy

import (
	"context"
	"crypto/tls"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lucsky/cuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/acme/autocert"
	xproxy "golang.org/x/net/proxy"

	"github.com/perimetra/edgegate/internal/access"
	"github.com/perimetra/edgegate/internal/config"
	"github.com/perimetra/edgegate/internal/gateway"
)

//go:embed templates/*.html
var embeddedTemplates embed.FS

// fileConfig is the optional YAML file passed via --config. Identity
// settings live here rather than in flags so secrets managers can template
// one file.
type fileConfig struct {
	AllowedEmails []string `yaml:"allowedEmails"`
	EmailHeader   string   `yaml:"emailHeader"`
	NameHeader    string   `yaml:"nameHeader"`
}

type edgeServer struct {
	logger    *slog.Logger
	opts      *serverOptions
	metrics   *edgeMetrics
	auth      access.Authenticator
	resources *resourceTracker

	// resolveBackend is called per request; the environment may change
	// between deployments and the result is never cached.
	resolveBackend  func() *config.Backend
	missingSettings func() []string

	httpClient *http.Client
	wsDialer   *websocket.Dialer
	upgrader   websocket.Upgrader

	probeTimeout time.Duration
	idGen        func() string

	loadingTmpl *template.Template
	errorTmpl   *template.Template
	adminTmpl   *template.Template

	acmeManager *autocert.Manager
	httpSrv     *http.Server
	metricsSrv  *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func newEdgeServer(logger *slog.Logger, opts *serverOptions) (*edgeServer, error) {
	var fileCfg fileConfig
	if err := config.LoadYAML(opts.configPath, &fileCfg); err != nil {
		return nil, err
	}

	var idGen func() string
	switch mode := strings.ToLower(strings.TrimSpace(opts.requestIDMode)); mode {
	case "", "uuid":
		idGen = uuid.NewString
	case "cuid":
		idGen = cuid.New
	default:
		return nil, fmt.Errorf("unsupported request id mode %q (use uuid or cuid)", opts.requestIDMode)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	wsDialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if opts.upstreamSocks != "" {
		socksDialer, err := xproxy.SOCKS5("tcp", opts.upstreamSocks, nil, xproxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("upstream socks dialer: %w", err)
		}
		contextDialer, ok := socksDialer.(xproxy.ContextDialer)
		if !ok {
			return nil, errors.New("upstream socks dialer does not support contexts")
		}
		transport.DialContext = contextDialer.DialContext
		transport.Proxy = nil
		wsDialer.NetDialContext = contextDialer.DialContext
	}

	var acmeManager *autocert.Manager
	if len(opts.acmeHosts) > 0 {
		if opts.acmeCache != "" {
			if err := os.MkdirAll(opts.acmeCache, 0o750); err != nil {
				return nil, fmt.Errorf("create acme cache: %w", err)
			}
		}
		acmeManager = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(opts.acmeHosts...),
			Email:      opts.acmeEmail,
		}
		if opts.acmeCache != "" {
			acmeManager.Cache = autocert.DirCache(opts.acmeCache)
		}
	}

	tmpls, err := template.ParseFS(embeddedTemplates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse embedded templates: %w", err)
	}

	return &edgeServer{
		logger:          logger,
		opts:            opts,
		metrics:         newEdgeMetrics(prometheus.DefaultRegisterer),
		resources:       newResourceTracker(),
		resolveBackend:  config.ResolveBackendFromEnv,
		missingSettings: func() []string { return config.MissingBackendSettings(nil) },
		auth: &access.HeaderAuthenticator{
			EmailHeader:   fileCfg.EmailHeader,
			NameHeader:    fileCfg.NameHeader,
			AllowedEmails: fileCfg.AllowedEmails,
		},
		httpClient: &http.Client{
			Transport: transport,
			// Redirects belong to the caller's own security context; hand
			// them back instead of chasing them from the edge.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		wsDialer: wsDialer,
		upgrader: websocket.Upgrader{
			HandshakeTimeout:  10 * time.Second,
			EnableCompression: false,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		probeTimeout: config.GetDurationEnv("EDGEGATE_PROBE_TIMEOUT", 5*time.Second),
		idGen:        idGen,
		loadingTmpl:  tmpls.Lookup("loading.html"),
		errorTmpl:    tmpls.Lookup("error.html"),
		adminTmpl:    tmpls.Lookup("admin.html"),
		acmeManager:  acmeManager,
	}, nil
}

// gatewayClient builds a fresh client for the resolved backend. Clients are
// cheap; no connection state is shared between requests.
func (s *edgeServer) gatewayClient(backend *config.Backend) *gateway.Client {
	return gateway.NewClient(backend, s.logger, gateway.ClientOptions{
		HTTPClient:   s.httpClient,
		ProbeTimeout: s.probeTimeout,
	})
}

func (s *edgeServer) nextRequestID() string {
	if s.idGen != nil {
		return s.idGen()
	}
	return uuid.NewString()
}

func (s *edgeServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/status", s.handleAPIStatus)

	mux.HandleFunc("GET /admin/", s.requireUser(s.handleAdminPage))
	mux.HandleFunc("GET /admin/api/status", s.requireUser(s.handleAdminStatus))
	mux.HandleFunc("POST /admin/api/sync", s.requireUser(s.handleAdminSync))
	mux.HandleFunc("POST /admin/api/restart", s.requireUser(s.handleAdminRestart))
	mux.HandleFunc("POST /admin/api/devices/{id}/approve", s.requireUser(s.handleDeviceApprove))

	mux.HandleFunc("/", s.handleCatchAll)
	return mux
}

func (s *edgeServer) run(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	if s.resources != nil {
		s.resources.start(s.ctx)
	}

	errCh := make(chan error, 1)
	sendErr := func(err error) {
		if err == nil {
			return
		}
		select {
		case errCh <- err:
		default:
		}
	}

	s.httpSrv = &http.Server{
		Addr:              s.opts.listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.acmeManager != nil {
		s.httpSrv.TLSConfig = s.acmeManager.TLSConfig()
		go func() {
			ln, err := net.Listen("tcp", s.opts.listen)
			if err != nil {
				sendErr(fmt.Errorf("listen: %w", err))
				return
			}
			s.logger.Info("edge listening", "addr", s.opts.listen, "tls", true, "hosts", strings.Join(s.opts.acmeHosts, ","))
			tlsListener := tls.NewListener(ln, s.httpSrv.TLSConfig)
			if err := s.httpSrv.Serve(tlsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				sendErr(fmt.Errorf("edge serve: %w", err))
			}
		}()
	} else {
		go func() {
			s.logger.Info("edge listening", "addr", s.opts.listen, "tls", false)
			if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				sendErr(fmt.Errorf("edge serve: %w", err))
			}
		}()
	}

	if s.opts.metricsListen != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		s.metricsSrv = &http.Server{
			Addr:              s.opts.metricsListen,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			s.logger.Info("metrics listening", "addr", s.opts.metricsListen)
			if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				sendErr(fmt.Errorf("metrics serve: %w", err))
			}
		}()
	}

	var err error
	select {
	case err = <-errCh:
	case <-s.ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if errShutdown := s.httpSrv.Shutdown(shutdownCtx); errShutdown != nil {
			s.logger.Warn("edge shutdown", "error", errShutdown)
		}
	}
	if s.metricsSrv != nil {
		if errShutdown := s.metricsSrv.Shutdown(shutdownCtx); errShutdown != nil {
			s.logger.Warn("metrics shutdown", "error", errShutdown)
		}
	}

	return err
}
