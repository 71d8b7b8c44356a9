// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package native

import (
	"fmt"
	"os"
	"unsafe"
)

// Process is the memory of the running process. Addresses are raw
// pointers; callers must pass addresses of mapped code.
type Process struct{}

func (Process) PageSize() int {
	return os.Getpagesize()
}

func (Process) Write(addr uint64, b []byte) error {
	if addr == 0 {
		return fmt.Errorf("write to null address")
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(b)), b)
	return nil
}

func (Process) Read(addr uint64, n int) ([]byte, error) {
	if addr == 0 {
		return nil, fmt.Errorf("read from null address")
	}
	out := make([]byte, n)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), n))
	return out, nil
}
