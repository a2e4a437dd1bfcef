package proxy

import "github.com/prometheus/client_golang/prometheus"

type edgeMetrics struct {
	httpForwards      prometheus.Counter
	httpForwardErrors prometheus.Counter
	wsSessions        prometheus.Gauge
	wsMessages        *prometheus.CounterVec
	wsBytes           *prometheus.CounterVec
	probeFailures     prometheus.Counter
	execRequests      prometheus.Counter
	authFailures      prometheus.Counter
}

func newEdgeMetrics(reg prometheus.Registerer) *edgeMetrics {
	m := &edgeMetrics{
		httpForwards: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgegate_http_forwards_total",
			Help: "Number of HTTP requests relayed to the gateway",
		}),
		httpForwardErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgegate_http_forward_errors_total",
			Help: "Number of HTTP relay attempts that failed to reach the gateway",
		}),
		wsSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgegate_ws_sessions",
			Help: "Number of WebSocket relay sessions currently open",
		}),
		wsMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgegate_ws_messages_total",
			Help: "Number of WebSocket messages relayed, by direction",
		}, []string{"direction"}),
		wsBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgegate_ws_bytes_total",
			Help: "Number of WebSocket payload bytes relayed, by direction",
		}, []string{"direction"}),
		probeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgegate_probe_failures_total",
			Help: "Number of gateway health probes that reported unhealthy",
		}),
		execRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgegate_exec_requests_total",
			Help: "Number of remote exec calls issued to the gateway",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgegate_auth_failures_total",
			Help: "Number of admin requests rejected by the access gate",
		}),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.httpForwards,
		m.httpForwardErrors,
		m.wsSessions,
		m.wsMessages,
		m.wsBytes,
		m.probeFailures,
		m.execRequests,
		m.authFailures,
	)

	return m
}
