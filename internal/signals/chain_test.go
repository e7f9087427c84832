//go:build unix

// SPDX-License-Identifier: Apache-2.0

package signals

import (
	"context"
	"io"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAddRejectsUncatchableSignals(t *testing.T) {
	c := NewChain(discardLogger())
	noop := func(context.Context, os.Signal) {}

	assert.ErrorIs(t, c.Add(syscall.SIGKILL, noop), ErrUncatchableSignal)
	assert.ErrorIs(t, c.Add(syscall.SIGSTOP, noop), ErrUncatchableSignal)
	assert.ErrorIs(t, c.SetFallback(syscall.SIGKILL, FallbackIgnore), ErrUncatchableSignal)
	assert.NoError(t, c.Add(syscall.SIGUSR1, noop))
}

func TestDispatchRunsNewestHandlerFirst(t *testing.T) {
	c := NewChain(discardLogger())

	var order []string
	require.NoError(t, c.Add(syscall.SIGUSR1, func(context.Context, os.Signal) { order = append(order, "old") }))
	require.NoError(t, c.Add(syscall.SIGUSR1, func(context.Context, os.Signal) { order = append(order, "new") }))

	fallback := c.Dispatch(context.Background(), syscall.SIGUSR1)

	assert.Equal(t, []string{"new", "old"}, order)
	assert.Equal(t, FallbackDefault, fallback)
}

func TestDispatchUsesConfiguredFallback(t *testing.T) {
	c := NewChain(discardLogger())
	require.NoError(t, c.SetFallback(syscall.SIGHUP, FallbackIgnore))
	require.NoError(t, c.Add(syscall.SIGHUP, LogHandler(discardLogger())))

	assert.Equal(t, FallbackIgnore, c.Dispatch(context.Background(), syscall.SIGHUP))
	assert.Equal(t, FallbackDefault, c.Dispatch(context.Background(), syscall.SIGUSR2))
}

func TestStartShutdownFallbackCancelsContext(t *testing.T) {
	c := NewChain(discardLogger())

	handled := make(chan os.Signal, 1)
	require.NoError(t, c.Add(syscall.SIGUSR2, func(_ context.Context, sig os.Signal) { handled <- sig }))
	require.NoError(t, c.SetFallback(syscall.SIGUSR2, FallbackShutdown))

	ctx, cancel := c.Start(context.Background())
	defer cancel()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR2))

	select {
	case sig := <-handled:
		assert.Equal(t, syscall.SIGUSR2, sig)
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("expected shutdown fallback to cancel context")
	}
}

func TestStartDefaultFallbackReraises(t *testing.T) {
	c := NewChain(discardLogger())

	reraised := make(chan os.Signal, 1)
	c.reraise = func(sig os.Signal) error {
		reraised <- sig
		return nil
	}
	require.NoError(t, c.Add(syscall.SIGUSR1, LogHandler(discardLogger())))

	_, cancel := c.Start(context.Background())
	defer cancel()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	select {
	case sig := <-reraised:
		assert.Equal(t, syscall.SIGUSR1, sig)
	case <-time.After(5 * time.Second):
		t.Fatal("expected default fallback to re-raise")
	}
}

func TestCatchableSignalsExcludesReservedSignals(t *testing.T) {
	for _, sig := range CatchableSignals() {
		assert.NotEqual(t, syscall.SIGKILL, sig)
		assert.NotEqual(t, syscall.SIGSTOP, sig)
		assert.NotEqual(t, syscall.SIGINT, sig)
		assert.NotEqual(t, syscall.SIGSEGV, sig)
	}
}

func TestServiceFallbacksApplyToChain(t *testing.T) {
	c := NewChain(discardLogger())
	for sig, fb := range ServiceFallbacks() {
		require.NoError(t, c.SetFallback(sig, fb))
	}

	assert.Equal(t, FallbackShutdown, c.Dispatch(context.Background(), syscall.SIGTERM))
	assert.Equal(t, FallbackShutdown, c.Dispatch(context.Background(), os.Interrupt))
	assert.Equal(t, FallbackIgnore, c.Dispatch(context.Background(), syscall.SIGPIPE))
	assert.Equal(t, FallbackDefault, c.Dispatch(context.Background(), syscall.SIGTSTP))
}
