// Package logging builds the module's structured logger, using zap
// for structured, leveled output across every cascade stage.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-profile zap logger at the given level name
// (debug|info|warn|error, case-insensitive; unknown values fall back
// to info). Callers that don't want logging can pass zap.NewNop().
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// Nop returns a logger that discards everything, the default an
// Engine falls back to when constructed without one.
func Nop() *zap.Logger {
	return zap.NewNop()
}
