// Package applog constructs the zap loggers used across filemesh's
// components. Grounded on the shape of the retrieved
// anniemaybytes-chihaya log package (a small set of named,
// pre-configured loggers built once at process start) but built on
// zap, the structured logging library exercised by the retrieved
// mcheviron-bittorrent example, instead of a bare *log.Logger.
package applog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger for a component, tagged with name. Pass
// development=true for human-readable console output during local
// runs; false for JSON output suited to a production deployment.
func New(name string, development bool) *zap.Logger {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	logger, err := cfg.Build()
	if err != nil {
		// Logger construction only fails on bad config; fall back to a
		// no-op logger rather than taking down the process over logging.
		logger = zap.NewNop()
	}
	return logger.Named(name)
}

// Nop returns a logger that discards everything, for use in tests that
// don't want to assert on log output but still need to satisfy a
// *zap.Logger-typed constructor argument.
func Nop() *zap.Logger {
	return zap.NewNop()
}
