package shell

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SignalContext - canceled on SIGINT or SIGTERM
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
