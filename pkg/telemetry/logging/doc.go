// Package logging builds the gateway's structured logger.
//
// Loggers are plain *slog.Logger values. New selects the level and the
// handler format, and installs a ReplaceAttr hook that redacts credentials
// before they reach the output:
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json", Redact: true})
//	logger.Info("upstream call", "authorization", "Bearer sk-abc123") // authorization=Bear***
//
// Request-scoped fields travel in the context. WithRequestID stores the ID
// and FromContext returns a logger carrying it.
package logging
