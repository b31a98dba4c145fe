package inject

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/classinject/inject/internal/rewrite"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the inject package's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the logger for planning and rewriting.
// This must be called before any transform runs.
func SetLogger(l *zap.Logger) {
	logger = l
	rewrite.SetLogger(l.Named("rewrite"))
}
