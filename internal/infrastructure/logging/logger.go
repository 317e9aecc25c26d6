package logging

import (
	"fmt"

	"github.com/hilthontt/nearchat/internal/infrastructure/configs"
)

type Logger interface {
	Debug(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Debugf(template string, args ...any)

	Info(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Infof(template string, args ...any)

	Warn(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Warnf(template string, args ...any)

	Error(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Errorf(template string, args ...any)

	Fatal(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Fatalf(template string, args ...any)

	Sync() error
}

// NewLogger builds the backend named by cfg.Backend.
func NewLogger(cfg configs.LoggerConfig) (Logger, error) {
	switch cfg.Backend {
	case "", "zap":
		return newZapLogger(cfg)
	case "zerolog":
		return newZeroLogger(cfg), nil
	}

	return nil, fmt.Errorf("logger not supported: %q (supported loggers: [zap, zerolog])", cfg.Backend)
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return &zapLogger{logger: zapNop()}
}
