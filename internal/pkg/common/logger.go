package common

import (
	"fmt"

	"github.com/samber/do/v2"
	"go.uber.org/zap"
)

func NewLogger(i do.Injector) (*zap.Logger, error) {
	logLevel := do.MustInvokeNamed[string](i, "log-level")

	level, err := zap.ParseAtomicLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}

	config := zap.NewProductionConfig()
	config.Level = level

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}
