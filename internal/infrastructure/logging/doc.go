// Package logging provides structured logging for the Casambi bridge.
//
// It wraps Go's standard log/slog package so every component logs
// through the same handler with consistent default fields.
//
// # Configuration
//
// Logging is configured via the LoggingConfig section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("wire opened", "network", netID, "wire", wireID)
//	logger.Error("login failed", "error", err)
//
// Never log credentials, session tokens, or the API key.
package logging
