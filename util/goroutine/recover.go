package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

const stackBufferSize = 4096

// Recover logs a recovered panic with a stack trace. Use as
// `defer goroutine.Recover("name", logger)` at the top of background
// goroutines. A nil logger falls back to stderr so the panic is never
// silently swallowed.
func Recover(name string, logger *zap.SugaredLogger) {
	r := recover()
	if r == nil {
		return
	}
	buf := make([]byte, stackBufferSize)
	n := runtime.Stack(buf, false)
	if logger != nil {
		logger.Errorw("goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", string(buf[:n]))
		return
	}
	fmt.Fprintf(os.Stderr, "panic in goroutine %s: %v\n%s\n", name, r, buf[:n])
}

// Go runs fn on a new goroutine guarded by Recover. Fire-and-forget work
// (persistence, notification dispatch) must never take the event
// pipeline down with it.
func Go(name string, logger *zap.SugaredLogger, fn func()) {
	go func() {
		defer Recover(name, logger)
		fn()
	}()
}
