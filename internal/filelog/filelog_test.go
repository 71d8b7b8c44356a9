// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package filelog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestBufferedWithIndent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.txt")
	l := New(path)

	l.LogBuffered("### Patch T::M")
	l.ChangeIndent(1)
	l.LogBuffered("IL_0000: ldarg.0")
	l.ChangeIndent(-5)
	l.LogBuffered("DONE")

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "nothing is written before flush")

	l.FlushBuffer()
	assert.Equal(t, []string{"### Patch T::M", "\tIL_0000: ldarg.0", "DONE"}, readLines(t, path))

	l.Log("direct")
	assert.Len(t, readLines(t, path), 4)
}

func TestLogBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bytes.txt")
	l := New(path)

	l.LogBytes([]byte{0x48, 0xB8, 1, 2, 3, 4, 5, 6, 7, 8, 0xFF, 0xE0})

	lines := readLines(t, path)
	require.Len(t, lines, 3)
	assert.Equal(t, "#  48 B8 01 02  03 04 05 06", lines[0])
	assert.Equal(t, "#  07 08 FF E0", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "HASH: "))
	assert.Len(t, strings.TrimPrefix(lines[2], "HASH: "), 32)
}

func TestResetAndNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reset.txt")
	l := New(path)
	l.Log("x")
	l.LogBuffered("pending")
	l.Reset()
	l.FlushBuffer()

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	var none *Log
	assert.NotPanics(t, func() {
		none.Log("x")
		none.LogBuffered("x")
		none.ChangeIndent(2)
		none.FlushBuffer()
		none.LogBytes([]byte{1})
		none.Reset()
	})
	assert.Equal(t, "", none.Path())
}

func TestUnwritablePathIsBestEffort(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "missing", "dir", "trace.txt"))
	assert.NotPanics(t, func() {
		l.Log("lost")
		l.Log("lost again")
	})
	assert.True(t, l.warned)
}
