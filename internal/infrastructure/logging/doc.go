// Package logging provides structured logging for the Atomberg core.
//
// It wraps log/slog so that every entry carries the service name and
// build version, with JSON output for production and text for development.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("cloud").Info("token refreshed", "account", id)
//
// Attributes named api_key, refresh_token, access_token, token, password or
// authorization are masked with Redact before they are written.
package logging
