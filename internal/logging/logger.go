// Package logging builds the zap logger shared by the daemon and its
// background loops.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a production zap logger at the given level. The level is
// parsed case-insensitively and an empty string means info; an unknown level
// is rejected so a typo in the configuration fails startup instead of
// silently hiding debug output. Cache probes, fetch resolutions, and dropped
// batches all log at debug.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	parsed := zapcore.InfoLevel
	if trimmed := strings.TrimSpace(level); trimmed != "" {
		var err error
		parsed, err = zapcore.ParseLevel(trimmed)
		if err != nil {
			return nil, fmt.Errorf("logging: unknown level %q", level)
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(parsed)

	return cfg.Build()
}
