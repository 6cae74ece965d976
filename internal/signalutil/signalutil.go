// Package signalutil ties process signals to context cancellation.
package signalutil

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// NotifyContext cancels the returned context on SIGINT or SIGTERM so
// the daemon can drain the in-flight turn and close the store before
// exiting. The stop function releases the signal registration.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
