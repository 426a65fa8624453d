package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// forceExit is replaced in tests.
var forceExit = func() { os.Exit(1) }

// shutdownContext cancels the returned context on the first SIGINT or
// SIGTERM. A second signal calls forceExit, so a hung upload in `put --watch`
// can still be abandoned. onStop runs once, after the first signal.
func shutdownContext(parent context.Context, logger *slog.Logger, onStop func()) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		stopping := false

		for {
			select {
			case sig := <-sigCh:
				if stopping {
					logger.Warn("second signal, exiting now", slog.String("signal", sig.String()))
					forceExit()

					return
				}

				stopping = true
				logger.Info("stopping watch", slog.String("signal", sig.String()))
				cancel()

				if onStop != nil {
					onStop()
				}
			case <-parent.Done():
				cancel()
				return
			}
		}
	}()

	return ctx
}
