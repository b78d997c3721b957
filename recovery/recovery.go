// Package recovery contains panics raised by user callbacks so that one
// misbehaving handler, timeout callback or cron task cannot stop the loop.
package recovery

import (
	"fmt"
	"runtime/debug"

	"github.com/cyberinferno/udpev/logger"
)

// Guard runs fn and recovers any panic it raises, logging it with the stack.
//
// Parameters:
//   - log: Where to report a recovered panic; nil drops the report
//   - name: What fn is, e.g. "handler" or "cron"
//   - fn: The callback to run
//   - fields: Extra context attached to the log entry
//
// Returns:
//   - The recovered value, or nil if fn returned normally
func Guard(log logger.Logger, name string, fn func(), fields ...logger.Field) (recovered any) {
	defer func() {
		if recovered = recover(); recovered != nil && log != nil {
			all := append([]logger.Field{
				{Key: "callback", Value: name},
				{Key: "panic", Value: fmt.Sprintf("%v", recovered)},
				{Key: "stack", Value: string(debug.Stack())},
			}, fields...)
			log.Error("panic recovered", all...)
		}
	}()

	fn()
	return nil
}
