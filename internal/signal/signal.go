// Package signal ties process interrupts to turn cancellation.
package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// NotifyContext returns a context that is cancelled when SIGINT or SIGTERM is received.
// The returned stop function should be called to release resources.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// OnCancel runs fn once ctx is done, unless stop is called first. Headless
// callers use it to abort the running turn on interrupt. stop may be called
// more than once.
func OnCancel(ctx context.Context, fn func()) (stop func()) {
	cancel := context.AfterFunc(ctx, fn)
	return func() { cancel() }
}
