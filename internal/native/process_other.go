// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

//go:build !unix && !windows

package native

import "fmt"

func (Process) Unprotect(addr uint64, size int) error {
	return fmt.Errorf("changing page protection is not supported on this platform")
}
