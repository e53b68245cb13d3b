// Package logger holds the zap logger shared by every renderer package.
//
// The renderer is silent by default: until Set is called the logger is a
// no-op and log calls cost nothing beyond the level check.
package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var ptr atomic.Pointer[zap.Logger]

func init() {
	ptr.Store(zap.NewNop())
}

// L returns the active logger.
func L() *zap.Logger {
	return ptr.Load()
}

// Set installs l as the active logger. Passing nil restores the no-op logger.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	ptr.Store(l)
}
