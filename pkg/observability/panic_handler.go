package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with the full stack trace.
// Call it in a defer:
//
//	defer observability.RecoverPanic(logger, "provider reload")
//
// The panic is not re-raised; long-running loops like the configuration
// watcher use this to survive a bad reload.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// RecoverPanicWithCallback recovers from a panic, logs it, and then runs the
// callback. The callback only runs when a panic actually occurred; use it to
// close channels or release state the panicking goroutine would otherwise
// leave hanging.
func RecoverPanicWithCallback(logger *Logger, context string, callback func()) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
		if callback != nil {
			callback()
		}
	}
}

// MustRecover converts a recovered panic value into an error:
//
//	defer func() {
//		err = observability.MustRecover(recover())
//	}()
//
// Returns nil when r is nil. The stack trace is not included; use
// RecoverPanic where the trace matters.
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
