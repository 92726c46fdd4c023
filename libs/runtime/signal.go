package runtime

import (
	"context"
	"os/signal"
	"syscall"
)

// SignalContext derives a context from parent that is cancelled on SIGINT or SIGTERM. A second
// signal after stop is called kills the process as usual.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
