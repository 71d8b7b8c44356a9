// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package shutdown runs teardown hooks once, newest first.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dotandev/ilpatch/internal/logger"
)

type HookFunc func(context.Context) error

type hook struct {
	name string
	fn   HookFunc
}

// Coordinator collects teardown hooks: sinks to flush, journals to close,
// exporters to stop. Run executes them in LIFO order exactly once.
type Coordinator struct {
	mu    sync.Mutex
	hooks []hook
	ran   bool
}

func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Register adds a hook. It reports false when fn is nil or Run already
// happened.
func (c *Coordinator) Register(name string, fn HookFunc) bool {
	if fn == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ran {
		return false
	}
	c.hooks = append(c.hooks, hook{name: name, fn: fn})
	return true
}

// Names lists registered hooks in the order Run will call them.
func (c *Coordinator) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.hooks))
	for i := len(c.hooks) - 1; i >= 0; i-- {
		out = append(out, c.hooks[i].name)
	}
	return out
}

// Ran reports whether Run has been called.
func (c *Coordinator) Ran() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ran
}

// Run calls every hook even when earlier ones fail and joins the errors.
// A deadline on ctx is shared evenly between the hooks still to run.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()
		return nil
	}
	c.ran = true
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()

	log := logger.For("shutdown")
	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		hookCtx, cancel := share(ctx, i+1)
		err := h.fn(hookCtx)
		cancel()
		if err != nil {
			log.Warn("teardown hook failed", "hook", h.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		log.Debug("teardown hook done", "hook", h.name)
	}
	return errors.Join(errs...)
}

func share(ctx context.Context, remaining int) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return ctx, func() {}
	}
	left := time.Until(deadline)
	if left <= 0 {
		return context.WithTimeout(ctx, time.Millisecond)
	}
	return context.WithTimeout(ctx, left/time.Duration(remaining))
}
