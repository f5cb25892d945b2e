// Package logging builds the zap logger shared by every component of the
// relay.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// New builds a production-configured zap logger at the given level
// ("debug", "info", "warn", "error").
func New(logLevel string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(logLevel) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return nil, fmt.Errorf("invalid log_level: %s", logLevel)
	}
	return cfg.Build()
}
