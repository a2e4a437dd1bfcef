package cli

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/perimetra/edgegate/internal/config"
	"github.com/perimetra/edgegate/internal/proxy"
	"github.com/perimetra/edgegate/internal/runtime"
	"github.com/perimetra/edgegate/internal/version"
)

func Execute() error {
	// Best effort: a missing .env is the normal case in production.
	_ = godotenv.Load(".env")

	opts := &runtime.Options{
		JSONLogs: config.GetBoolEnv("EDGEGATE_JSON_LOGS", false),
		LogLevel: config.GetStringEnv("EDGEGATE_LOG_LEVEL", "info"),
	}
	cmd := newRootCommand(opts)
	return cmd.Execute()
}

func newRootCommand(opts *runtime.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "edgegate",
		Short:        "Edge reverse proxy bridging public clients to a private gateway",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.SetupLogger()
		},
	}

	cmd.PersistentFlags().BoolVar(&opts.JSONLogs, "json-logs", false, "emit logs in JSON format")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "log level (debug, info, warn, error)")

	cmd.AddCommand(proxy.NewCommand(opts))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	})

	return cmd
}
