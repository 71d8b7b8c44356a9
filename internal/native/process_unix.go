// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package native

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func (p Process) Unprotect(addr uint64, size int) error {
	start, length := PageSpan(addr, size, p.PageSize())
	pages := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(start))), length)
	return unix.Mprotect(pages, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC)
}
