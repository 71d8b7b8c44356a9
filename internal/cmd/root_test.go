// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandev/ilpatch/internal/shutdown"
)

func TestExecuteWithSignals_InterruptReturnsSentinelAndRunsShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	coordinator := shutdown.NewCoordinator()
	ranShutdownHook := make(chan struct{}, 1)
	coordinator.Register("test-hook", func(ctx context.Context) error {
		ranShutdownHook <- struct{}{}
		return nil
	})

	done := make(chan error, 1)
	go func() {
		done <- executeWithSignals(ctx, cancel, sigCh, coordinator, func(execCtx context.Context) error {
			<-execCtx.Done()
			return execCtx.Err()
		})
	}()

	time.Sleep(30 * time.Millisecond)
	sigCh <- os.Interrupt

	select {
	case err := <-done:
		assert.True(t, IsInterrupted(err), "expected interrupt error, got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for executeWithSignals to return")
	}

	select {
	case <-ranShutdownHook:
	case <-time.After(1 * time.Second):
		t.Fatal("expected shutdown hook to run")
	}
}

func TestExecuteWithSignals_NoInterruptReturnsExecError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coordinator := shutdown.NewCoordinator()
	err := executeWithSignals(ctx, cancel, make(chan os.Signal, 1), coordinator, func(context.Context) error {
		return context.DeadlineExceeded
	})
	assert.Equal(t, context.DeadlineExceeded, err)
	assert.True(t, coordinator.Ran())
}

func TestIsCancellation(t *testing.T) {
	assert.True(t, IsCancellation(context.Canceled))
	assert.False(t, IsCancellation(ErrInterrupted))
}

// execute runs the root command with args against an isolated
// configuration and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("ILPATCH_CONFIG", filepath.Join(t.TempDir(), "absent.toml"))
	t.Setenv("ILPATCH_TELEMETRY", "")
	resetFlags()
	t.Cleanup(resetFlags)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func resetFlags() {
	ConfigFlag, LogLevelFlag, DebugLogFlag, JournalFlag, TelemetryFlag = "", "", "", "", ""
	DebugFlag = false
	demoSnapshotFlag, demoRestoreFlag, demoUnpatchFlag = "", "", false
	disasmPatchedFlag, disasmNoColorFlag = false, false
	historyMethodFlag, historyEngineFlag, historyOwnerFlag = "", "", ""
	historyLimitFlag, historyHooksFlag = 20, false
	settings = nil
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	t.Setenv("ILPATCH_CONFIG", filepath.Join(t.TempDir(), "absent.toml"))
	resetFlags()
	t.Cleanup(resetFlags)

	file := filepath.Join(t.TempDir(), "ilpatch.toml")
	require.NoError(t, os.WriteFile(file, []byte("log_level = \"warn\"\npointer_size = 4\n"), 0o644))
	ConfigFlag = file
	JournalFlag = "/tmp/j.db"
	DebugLogFlag = "/tmp/trace.txt"

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 4, cfg.PointerSize)
	assert.Equal(t, "/tmp/j.db", cfg.JournalPath)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "/tmp/trace.txt", cfg.DebugLogPath)
	assert.Len(t, vmOptions(cfg), 1)

	LogLevelFlag = "loud"
	_, err = loadConfig()
	assert.Error(t, err)
}

func TestRootRejectsBadConfig(t *testing.T) {
	_, err := execute(t, "version", "--log-level", "loud")
	assert.ErrorContains(t, err, "log_level")
}
