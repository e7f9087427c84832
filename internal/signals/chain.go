// SPDX-License-Identifier: Apache-2.0

// Package signals chains OS signal handlers. Handlers added for a signal run
// newest first, then the signal's fallback disposition applies.
package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
)

var ErrUncatchableSignal = errors.New("signal cannot be caught")

// Handler reacts to a received signal.
type Handler func(ctx context.Context, sig os.Signal)

// Fallback is what happens after every handler for a signal has run.
type Fallback int

const (
	// FallbackIgnore does nothing more.
	FallbackIgnore Fallback = iota
	// FallbackShutdown cancels the context returned by Start.
	FallbackShutdown
	// FallbackDefault restores the OS default action and re-raises the signal.
	FallbackDefault
)

func (f Fallback) String() string {
	switch f {
	case FallbackShutdown:
		return "shutdown"
	case FallbackDefault:
		return "default"
	default:
		return "ignore"
	}
}

type Chain struct {
	logger *slog.Logger

	mu        sync.Mutex
	handlers  map[os.Signal][]Handler
	fallbacks map[os.Signal]Fallback

	reraise func(os.Signal) error
}

func NewChain(logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		logger:    logger,
		handlers:  make(map[os.Signal][]Handler),
		fallbacks: make(map[os.Signal]Fallback),
		reraise:   reraise,
	}
}

// Add registers h for sig in front of any handler already present.
func (c *Chain) Add(sig os.Signal, h Handler) error {
	if isUncatchable(sig) {
		return fmt.Errorf("%w: %s", ErrUncatchableSignal, sig)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing := len(c.handlers[sig]); existing > 0 {
		c.logger.Info("chaining existing handler for signal", "signal", sig.String(), "existing", existing)
	}
	c.handlers[sig] = append([]Handler{h}, c.handlers[sig]...)
	if _, ok := c.fallbacks[sig]; !ok {
		c.fallbacks[sig] = FallbackDefault
	}
	return nil
}

// SetFallback overrides the disposition applied after handlers for sig run.
// Signals default to FallbackDefault.
func (c *Chain) SetFallback(sig os.Signal, f Fallback) error {
	if isUncatchable(sig) {
		return fmt.Errorf("%w: %s", ErrUncatchableSignal, sig)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallbacks[sig] = f
	return nil
}

// Dispatch runs every handler for sig and returns the fallback to apply.
func (c *Chain) Dispatch(ctx context.Context, sig os.Signal) Fallback {
	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[sig]...)
	fallback, ok := c.fallbacks[sig]
	c.mu.Unlock()

	if !ok {
		fallback = FallbackDefault
	}
	for _, h := range handlers {
		h(ctx, sig)
	}
	return fallback
}

func (c *Chain) signals() []os.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]os.Signal, 0, len(c.fallbacks))
	for sig := range c.fallbacks {
		out = append(out, sig)
	}
	return out
}

// Start subscribes to every signal that has a handler or fallback. The
// returned context is canceled when a FallbackShutdown signal arrives or when
// the returned cancel func is called.
func (c *Chain) Start(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigs := c.signals()
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, sigs...)

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				switch c.Dispatch(ctx, sig) {
				case FallbackShutdown:
					c.logger.Info("shutdown requested by signal", "signal", sig.String())
					cancel()
				case FallbackDefault:
					signal.Reset(sig)
					if err := c.reraise(sig); err != nil {
						c.logger.Error("re-raise signal failed", "signal", sig.String(), "error", err)
					}
					signal.Notify(ch, sig)
				}
			}
		}
	}()

	return ctx, cancel
}

// LogHandler records every received signal.
func LogHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(_ context.Context, sig os.Signal) {
		logger.Info("received signal", "signal", sig.String())
	}
}
