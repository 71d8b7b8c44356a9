// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package native writes the machine-code jump that redirects a compiled
// method's entry point to its replacement.
package native

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/dotandev/ilpatch/internal/errors"
)

// Memory is a region of executable code addressed by absolute address.
type Memory interface {
	PageSize() int
	// Unprotect makes every page overlapping [addr, addr+size) writable
	// and executable.
	Unprotect(addr uint64, size int) error
	Write(addr uint64, b []byte) error
	Read(addr uint64, n int) ([]byte, error)
}

const (
	// Stub64Size is the length of the 64-bit stub: mov rax, imm64; jmp rax.
	Stub64Size = 12
	// Stub32Size is the length of the 32-bit stub: push imm32; ret.
	Stub32Size = 6
)

// HostPointerSize is the pointer width of the running process.
func HostPointerSize() int {
	return int(unsafe.Sizeof(uintptr(0)))
}

// StubSize returns the stub length for a pointer width.
func StubSize(pointerSize int) int {
	if pointerSize == 8 {
		return Stub64Size
	}
	return Stub32Size
}

// JumpStub encodes an unconditional absolute jump to dest.
func JumpStub(dest uint64, pointerSize int) ([]byte, error) {
	switch pointerSize {
	case 8:
		b := make([]byte, Stub64Size)
		b[0], b[1] = 0x48, 0xB8
		binary.LittleEndian.PutUint64(b[2:], dest)
		b[10], b[11] = 0xFF, 0xE0
		return b, nil
	case 4:
		if dest > 0xFFFFFFFF {
			return nil, fmt.Errorf("destination 0x%x does not fit 32 bits", dest)
		}
		b := make([]byte, Stub32Size)
		b[0] = 0x68
		binary.LittleEndian.PutUint32(b[1:], uint32(dest))
		b[5] = 0xC3
		return b, nil
	}
	return nil, fmt.Errorf("unsupported pointer size %d", pointerSize)
}

// DecodeJump recognizes a stub written by JumpStub at the start of b.
func DecodeJump(b []byte) (dest uint64, size int, ok bool) {
	if len(b) >= Stub64Size && b[0] == 0x48 && b[1] == 0xB8 && b[10] == 0xFF && b[11] == 0xE0 {
		return binary.LittleEndian.Uint64(b[2:]), Stub64Size, true
	}
	if len(b) >= Stub32Size && b[0] == 0x68 && b[5] == 0xC3 {
		return uint64(binary.LittleEndian.Uint32(b[1:])), Stub32Size, true
	}
	return 0, 0, false
}

// WriteJump overwrites the code at from with a jump to to. Failures are
// reported as redirection errors; the target is left as it was when the
// page could not be unprotected.
func WriteJump(mem Memory, from, to uint64, pointerSize int) error {
	if from == 0 || to == 0 {
		return errors.WrapRedirection(fmt.Errorf("null address (from 0x%x, to 0x%x)", from, to))
	}
	stub, err := JumpStub(to, pointerSize)
	if err != nil {
		return errors.WrapRedirection(err)
	}
	if err := mem.Unprotect(from, len(stub)); err != nil {
		return errors.WrapRedirection(fmt.Errorf("unprotect 0x%x: %w", from, err))
	}
	if err := mem.Write(from, stub); err != nil {
		return errors.WrapRedirection(fmt.Errorf("write 0x%x: %w", from, err))
	}
	return nil
}

// PageSpan returns the page-aligned start and length covering
// [addr, addr+size).
func PageSpan(addr uint64, size, pageSize int) (uint64, int) {
	ps := uint64(pageSize)
	start := addr &^ (ps - 1)
	end := (addr + uint64(size) + ps - 1) &^ (ps - 1)
	return start, int(end - start)
}
