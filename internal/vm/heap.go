// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"fmt"
	"sync"
)

// Protection is a page access mask.
type Protection uint8

const (
	ProtRead Protection = 1 << iota
	ProtWrite
	ProtExec
)

const (
	heapPageSize = 4096
	entrySize    = 32
)

// prologue fills a fresh entry so it never decodes as a jump stub.
var prologue = []byte{0x55, 0x48, 0x89, 0xE5, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x5D, 0xC3}

// CodeHeap is simulated executable memory. Entry points live here and
// pages start out read+execute, so redirection has to unprotect them the
// way it would on a real code page.
type CodeHeap struct {
	mu   sync.Mutex
	base uint64
	mem  []byte
	prot []Protection
	// DenyUnprotect makes every Unprotect fail.
	DenyUnprotect bool
}

func NewCodeHeap(base uint64) *CodeHeap {
	return &CodeHeap{base: base}
}

func (h *CodeHeap) PageSize() int {
	return heapPageSize
}

// Alloc reserves size bytes aligned to 16 and fills them with a prologue.
func (h *CodeHeap) Alloc(size int) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	start := (len(h.mem) + 15) &^ 15
	end := start + size
	for len(h.prot)*heapPageSize < end {
		h.prot = append(h.prot, ProtRead|ProtExec)
	}
	if cap(h.mem) < len(h.prot)*heapPageSize {
		grown := make([]byte, end, len(h.prot)*heapPageSize)
		copy(grown, h.mem)
		h.mem = grown
	} else {
		h.mem = h.mem[:end]
	}
	for i := start; i < end; i++ {
		h.mem[i] = 0xCC
	}
	copy(h.mem[start:end], prologue)
	return h.base + uint64(start)
}

func (h *CodeHeap) span(addr uint64, n int) (int, int, error) {
	if addr < h.base || n < 0 {
		return 0, 0, fmt.Errorf("address 0x%x outside code heap", addr)
	}
	start := int(addr - h.base)
	if start+n > len(h.mem) {
		return 0, 0, fmt.Errorf("range 0x%x+%d outside code heap", addr, n)
	}
	return start, start + n, nil
}

func (h *CodeHeap) Unprotect(addr uint64, size int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.DenyUnprotect {
		return fmt.Errorf("page protection change refused at 0x%x", addr)
	}
	start, end, err := h.span(addr, size)
	if err != nil {
		return err
	}
	for p := start / heapPageSize; p <= (end-1)/heapPageSize; p++ {
		h.prot[p] = ProtRead | ProtWrite | ProtExec
	}
	return nil
}

// Protect restores read+execute on the pages covering the range.
func (h *CodeHeap) Protect(addr uint64, size int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	start, end, err := h.span(addr, size)
	if err != nil {
		return err
	}
	for p := start / heapPageSize; p <= (end-1)/heapPageSize; p++ {
		h.prot[p] = ProtRead | ProtExec
	}
	return nil
}

// Protection reports the mask of the page holding addr.
func (h *CodeHeap) Protection(addr uint64) Protection {
	h.mu.Lock()
	defer h.mu.Unlock()
	start, _, err := h.span(addr, 0)
	if err != nil {
		return 0
	}
	return h.prot[start/heapPageSize]
}

func (h *CodeHeap) Write(addr uint64, b []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	start, end, err := h.span(addr, len(b))
	if err != nil {
		return err
	}
	for p := start / heapPageSize; p <= (end-1)/heapPageSize; p++ {
		if h.prot[p]&ProtWrite == 0 {
			return fmt.Errorf("write to protected page at 0x%x", h.base+uint64(p*heapPageSize))
		}
	}
	copy(h.mem[start:end], b)
	return nil
}

func (h *CodeHeap) Read(addr uint64, n int) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	start, end, err := h.span(addr, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, h.mem[start:end])
	return out, nil
}
