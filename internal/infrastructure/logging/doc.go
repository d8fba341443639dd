// Package logging provides structured logging using uber/zap.
//
// Production mode emits JSON; development mode emits colored console
// output with debug level enabled.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("engine starting", zap.String("host_app", cfg.HostAppName))
//	logger.Error("resolution failed", zap.Error(err))
package logging
