// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package patch

import (
	"time"

	"github.com/dotandev/ilpatch/internal/cil"
)

// Generation is one replacement installed over an original.
type Generation struct {
	Number      int
	Original    *cil.Method
	Replacement *cil.Method
	// From is the original's entry address, To the replacement's.
	From      uint64
	To        uint64
	Info      *PatchInfo
	Installed time.Time
}

// Registry holds the patch set of every patched original and every
// replacement ever installed for it. Old replacements are retained since
// a thread may still be executing in one.
//
// Registry does no locking of its own; the owning Engine serializes all
// access.
type Registry struct {
	infos       map[*cil.Method]*PatchInfo
	generations map[*cil.Method][]*Generation
	order       []*cil.Method
}

func NewRegistry() *Registry {
	return &Registry{
		infos:       map[*cil.Method]*PatchInfo{},
		generations: map[*cil.Method][]*Generation{},
	}
}

// PatchInfo returns the live patch set of original.
func (r *Registry) PatchInfo(original *cil.Method) (*PatchInfo, bool) {
	pi, ok := r.infos[original]
	return pi, ok
}

// Next is the number the next generation of original will get.
func (r *Registry) Next(original *cil.Method) int {
	return len(r.generations[original]) + 1
}

// Commit records an installed generation and makes its patch set current.
func (r *Registry) Commit(g *Generation) {
	if _, ok := r.infos[g.Original]; !ok {
		r.order = append(r.order, g.Original)
	}
	r.infos[g.Original] = g.Info
	r.generations[g.Original] = append(r.generations[g.Original], g)
}

// Generations lists every installed generation of original, oldest first.
func (r *Registry) Generations(original *cil.Method) []*Generation {
	return append([]*Generation(nil), r.generations[original]...)
}

// Current is the newest generation of original.
func (r *Registry) Current(original *cil.Method) (*Generation, bool) {
	gens := r.generations[original]
	if len(gens) == 0 {
		return nil, false
	}
	return gens[len(gens)-1], true
}

// Methods lists patched originals in the order they were first patched.
func (r *Registry) Methods() []*cil.Method {
	return append([]*cil.Method(nil), r.order...)
}

// Len is the number of patched originals.
func (r *Registry) Len() int {
	return len(r.order)
}
