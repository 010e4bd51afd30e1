// Package goroutine holds small helpers for goroutine hygiene.
package goroutine

import (
	"runtime/debug"

	"go.uber.org/zap"
)

// Recover logs a recovered panic with a stack trace instead of letting it
// take the process down. Use as `defer goroutine.Recover("component", logger)`
// at the top of long-lived goroutines.
func Recover(component string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		logger.Errorw("Recovered from panic in goroutine",
			"component", component,
			"panic", r,
			"stack", string(debug.Stack()))
	}
}
