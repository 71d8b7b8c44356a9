// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package native

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestProcess_WriteJumpIntoMappedPage(t *testing.T) {
	p := Process{}
	page, err := unix.Mmap(-1, 0, p.PageSize(), unix.PROT_READ|unix.PROT_EXEC, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		t.Skipf("mmap unavailable: %v", err)
	}
	defer unix.Munmap(page)

	addr := uint64(uintptr(unsafe.Pointer(&page[0])))
	if err := p.Unprotect(addr+16, Stub64Size); err != nil {
		t.Skipf("W+X pages refused: %v", err)
	}
	require.NoError(t, WriteJump(p, addr+16, 0xDEADBEEF, 8))

	got, err := p.Read(addr+16, Stub64Size)
	require.NoError(t, err)
	dest, _, ok := DecodeJump(got)
	assert.True(t, ok)
	assert.Equal(t, uint64(0xDEADBEEF), dest)
}
