// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package native

import "golang.org/x/sys/windows"

func (p Process) Unprotect(addr uint64, size int) error {
	start, length := PageSpan(addr, size, p.PageSize())
	var old uint32
	return windows.VirtualProtect(uintptr(start), uintptr(length), windows.PAGE_EXECUTE_READWRITE, &old)
}
