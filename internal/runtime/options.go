package runtime

import (
	"log/slog"

	"github.com/perimetra/edgegate/internal/logger"
	"github.com/perimetra/edgegate/internal/version"
)

type Options struct {
	JSONLogs bool
	LogLevel string

	logger *slog.Logger
}

func (o *Options) SetupLogger() error {
	format := logger.FormatText
	if o.JSONLogs {
		format = logger.FormatJSON
	}
	log, err := logger.New(logger.Config{
		Format:      format,
		Level:       o.LogLevel,
		ServiceName: "edgegate",
		Version:     version.Version,
	})
	if err != nil {
		return err
	}
	o.logger = log.Logger
	return nil
}

func (o *Options) Logger() *slog.Logger {
	return o.logger
}
