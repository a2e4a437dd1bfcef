package proxy

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/perimetra/edgegate/internal/observability"
	"github.com/perimetra/edgegate/internal/runtime"
	"github.com/perimetra/edgegate/internal/util"
)

type serverOptions struct {
	listen        string
	metricsListen string
	configPath    string
	requestIDMode string
	upstreamSocks string
	acmeHosts     []string
	acmeEmail     string
	acmeCache     string
	trace         bool
	traceExporter string
	traceEndpoint string
	traceInsecure bool
}

func NewCommand(globals *runtime.Options) *cobra.Command {
	opts := &serverOptions{
		listen:        ":8787",
		requestIDMode: "uuid",
		traceExporter: "stdout",
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the public edge in front of the private gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if globals.Logger() == nil {
				if err := globals.SetupLogger(); err != nil {
					return err
				}
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := util.WithSignalContext(ctx)
			defer stop()

			shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
				Enabled:  opts.trace,
				Exporter: opts.traceExporter,
				Endpoint: opts.traceEndpoint,
				Insecure: opts.traceInsecure,
			})
			if err != nil {
				return err
			}
			defer func() { _ = shutdownTracing(context.Background()) }()

			server, err := newEdgeServer(globals.Logger().With("component", "edge"), opts)
			if err != nil {
				return err
			}
			return server.run(ctx)
		},
	}

	cmd.Flags().StringVar(&opts.listen, "listen", opts.listen, "listen address for the public edge")
	cmd.Flags().StringVar(&opts.metricsListen, "metrics-listen", "", "optional listen address for the Prometheus /metrics endpoint")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to YAML file with access-gate settings")
	cmd.Flags().StringVar(&opts.requestIDMode, "request-id-mode", opts.requestIDMode, "request identifier generator (uuid or cuid)")
	cmd.Flags().StringVar(&opts.upstreamSocks, "upstream-socks", "", "optional SOCKS5 address for reaching the gateway through the outbound tunnel")
	cmd.Flags().StringSliceVar(&opts.acmeHosts, "acme-host", nil, "hostnames for Let's Encrypt certificates (repeatable, enables TLS)")
	cmd.Flags().StringVar(&opts.acmeEmail, "acme-email", "", "contact email for Let's Encrypt registration")
	cmd.Flags().StringVar(&opts.acmeCache, "acme-cache", "", "directory for ACME certificate cache")
	cmd.Flags().BoolVar(&opts.trace, "trace", false, "enable OpenTelemetry tracing")
	cmd.Flags().StringVar(&opts.traceExporter, "trace-exporter", opts.traceExporter, "tracing exporter (stdout, otlp-grpc, otlp-http)")
	cmd.Flags().StringVar(&opts.traceEndpoint, "trace-endpoint", "", "override for the OTLP endpoint")
	cmd.Flags().BoolVar(&opts.traceInsecure, "trace-insecure", false, "disable TLS on the OTLP exporter")

	return cmd
}
