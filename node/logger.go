package node

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/supernova-chain/supernova/node/checkpoint"
)

// NewLogger builds the process-wide zap logger from cfg.LogLevel, matching
// the level names accepted by ValidateConfig.
func NewLogger(cfg Config) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.LogLevel))); err != nil {
		return nil, fmt.Errorf("log_level %q: %w", cfg.LogLevel, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	return zcfg.Build()
}

// CheckpointEnforcement maps the config string onto the checkpoint
// package's enforcement level.
func CheckpointEnforcement(cfg Config) (checkpoint.Enforcement, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Checkpoint.Enforcement)) {
	case "strict", "":
		return checkpoint.Strict, nil
	case "warn":
		return checkpoint.Warn, nil
	case "disabled":
		return checkpoint.Disabled, nil
	default:
		return checkpoint.Strict, fmt.Errorf("invalid checkpoint enforcement %q", cfg.Checkpoint.Enforcement)
	}
}
