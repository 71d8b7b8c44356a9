// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_LIFOAndOnce(t *testing.T) {
	c := NewCoordinator()
	var order []string
	for _, name := range []string{"trace", "journal", "telemetry"} {
		name := name
		require.True(t, c.Register(name, func(context.Context) error {
			order = append(order, name)
			return nil
		}))
	}
	assert.Equal(t, []string{"telemetry", "journal", "trace"}, c.Names())

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{"telemetry", "journal", "trace"}, order)
	assert.True(t, c.Ran())

	order = nil
	require.NoError(t, c.Run(context.Background()))
	assert.Empty(t, order)
	assert.False(t, c.Register("late", func(context.Context) error { return nil }))
}

func TestRun_JoinsErrors(t *testing.T) {
	c := NewCoordinator()
	boom := errors.New("boom")
	ran := 0
	c.Register("a", func(context.Context) error { ran++; return boom })
	c.Register("b", func(context.Context) error { ran++; return nil })
	assert.False(t, c.Register("nil", nil))

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "a: boom")
	assert.Equal(t, 2, ran)
}

func TestRun_SharesDeadline(t *testing.T) {
	c := NewCoordinator()
	var budgets []time.Duration
	for i := 0; i < 2; i++ {
		c.Register("h", func(ctx context.Context) error {
			d, ok := ctx.Deadline()
			require.True(t, ok)
			budgets = append(budgets, time.Until(d))
			return nil
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))
	require.Len(t, budgets, 2)
	assert.LessOrEqual(t, budgets[0], time.Second+10*time.Millisecond, "first hook gets half")
}
