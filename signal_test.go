package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Not parallel: signals are process wide.
func TestShutdownContext_SignalsStopThenForce(t *testing.T) {
	forced := make(chan struct{}, 1)
	orig := forceExit
	forceExit = func() { forced <- struct{}{} }
	t.Cleanup(func() { forceExit = orig })

	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stops atomic.Int32
	ctx := shutdownContext(parent, quietLogger(), func() { stops.Add(1) })

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after SIGINT")
	}

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	select {
	case <-forced:
	case <-time.After(2 * time.Second):
		t.Fatal("second SIGINT did not force exit")
	}

	assert.Equal(t, int32(1), stops.Load())
}

func TestShutdownContext_ParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx := shutdownContext(parent, quietLogger(), nil)

	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after parent cancel")
	}
}
