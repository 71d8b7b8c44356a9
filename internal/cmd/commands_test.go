// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandev/ilpatch/internal/patch"
)

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ilpatch version dev")
	assert.Contains(t, out, "engine "+patch.Version)
	assert.Contains(t, out, "snapshot format "+patch.SnapshotFormat)
}

func TestDisasmCommand(t *testing.T) {
	out, err := execute(t, "disasm", "--no-color", "SafeDivide")
	require.NoError(t, err)
	assert.Contains(t, out, "System.Int32 Sample.Calculator::SafeDivide(System.Int32)")
	assert.Contains(t, out, ".local")
	assert.Contains(t, out, ".TRY")
	assert.Contains(t, out, ".CATCH System.DivideByZeroException")
	assert.Contains(t, out, ".END")
	assert.Contains(t, out, "IL_0000: ldc.i4 100")
}

func TestDisasmCommand_AllAndPatched(t *testing.T) {
	out, err := execute(t, "disasm", "--no-color")
	require.NoError(t, err)
	for _, name := range []string{"Double", "SafeDivide", "Clamp", "Audit"} {
		assert.Contains(t, out, "::"+name+"(")
	}

	out, err = execute(t, "disasm", "--no-color", "--patched", "Calculator::Double")
	require.NoError(t, err)
	assert.Contains(t, out, "Double_Patch1")
	assert.Contains(t, out, "call System.Boolean Sample.Guards::Clamp(System.Int32&)")
	assert.Contains(t, out, "call System.Void Sample.Guards::Audit(System.Int32)")
	assert.Contains(t, out, "ldarga")
}

func TestDisasmCommand_UnknownMethod(t *testing.T) {
	_, err := execute(t, "disasm", "Nope")
	assert.ErrorContains(t, err, `unknown method "Nope"`)
}

func TestDemoCommand(t *testing.T) {
	out, err := execute(t, "demo", "--unpatch")
	require.NoError(t, err)

	before, rest, ok := strings.Cut(out, "After patching:")
	require.True(t, ok)
	after, unpatched, ok := strings.Cut(rest, "After unpatching:")
	require.True(t, ok)

	assert.Regexp(t, `Double\(500\)\s+= 1000`, before)
	assert.Regexp(t, `audited calls  = 0`, before)

	assert.Regexp(t, `Double\(21\)\s+= 42`, after)
	assert.Regexp(t, `Double\(500\)\s+= 200`, after)
	assert.Regexp(t, `SafeDivide\(0\)\s+= -1`, after)
	assert.Contains(t, after, "audited calls  = 4 (last -1)")
	assert.Contains(t, after, "trace: SafeDivide entered")

	assert.Regexp(t, `Double\(500\)\s+= 1000`, unpatched)
	assert.Contains(t, out, "generation 1")
	assert.Contains(t, out, "generation 2")
}

func TestDemoCommand_SnapshotRestoreAndHistory(t *testing.T) {
	dir := t.TempDir()
	snap := filepath.Join(dir, "patches.cbor")
	db := filepath.Join(dir, "journal.db")

	out, err := execute(t, "demo", "--snapshot", snap, "--journal", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Snapshot written to "+snap)
	info, err := os.Stat(snap)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	out, err = execute(t, "demo", "--restore", snap, "--journal", db)
	require.NoError(t, err)
	assert.Regexp(t, `Double\(500\)\s+= 200`, out)

	out, err = execute(t, "history", "--journal", db, "--owner", `^sample\.clamp$`, "--hooks")
	require.NoError(t, err)
	assert.Contains(t, out, "GEN")
	assert.Equal(t, 2, strings.Count(out, "Sample.Calculator::Double(System.Int32)"))
	assert.NotContains(t, out, "SafeDivide")
	assert.Contains(t, out, "prefix     Sample.Guards::Clamp(System.Int32&) (owner sample.clamp, priority 600)")

	out, err = execute(t, "history", "--journal", db, "--method", "Nope")
	require.NoError(t, err)
	assert.Contains(t, out, "No generations recorded.")
}

func TestDemoCommand_DebugTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.txt")
	_, err := execute(t, "demo", "--debug-log", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "### Patch Sample.Calculator::Double(System.Int32)")
	assert.Contains(t, string(data), "### Patch Sample.Calculator::SafeDivide(System.Int32)")
}

func TestCompletionCommand(t *testing.T) {
	out, err := execute(t, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "__start_ilpatch")

	_, err = execute(t, "completion", "tcsh")
	assert.Error(t, err)
}
