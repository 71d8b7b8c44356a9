// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package patch

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/hashicorp/go-version"

	"github.com/dotandev/ilpatch/internal/cil"
	"github.com/dotandev/ilpatch/internal/errors"
	"github.com/dotandev/ilpatch/internal/transpile"
)

// SnapshotFormat is the version written into every snapshot.
const SnapshotFormat = "1.0.0"

// SnapshotConstraint is the range of formats Restore accepts.
const SnapshotConstraint = ">= 1.0, < 2.0"

var (
	cborEncMode      cbor.EncMode
	snapshotAccepted version.Constraints
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("patch: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
	snapshotAccepted = version.MustConstraints(version.NewConstraint(SnapshotConstraint))
}

// Snapshot is the serialized form of every patch set of an engine. Hooks
// are stored by name and resolved again on restore.
type Snapshot struct {
	Format  string           `cbor:"1,keyasint"`
	Engine  string           `cbor:"2,keyasint"`
	Version string           `cbor:"3,keyasint"`
	Methods []MethodSnapshot `cbor:"4,keyasint"`
}

type MethodSnapshot struct {
	Method      string          `cbor:"1,keyasint"`
	Prefixes    []PatchSnapshot `cbor:"2,keyasint,omitempty"`
	Postfixes   []PatchSnapshot `cbor:"3,keyasint,omitempty"`
	Transpilers []PatchSnapshot `cbor:"4,keyasint,omitempty"`
}

type PatchSnapshot struct {
	Index    int      `cbor:"1,keyasint"`
	Owner    string   `cbor:"2,keyasint"`
	Priority int      `cbor:"3,keyasint"`
	Before   []string `cbor:"4,keyasint,omitempty"`
	After    []string `cbor:"5,keyasint,omitempty"`
	Hook     string   `cbor:"6,keyasint"`
	Requires string   `cbor:"7,keyasint,omitempty"`
}

func snapshotPatches(in []*Patch) []PatchSnapshot {
	out := make([]PatchSnapshot, 0, len(in))
	for _, p := range in {
		out = append(out, PatchSnapshot{
			Index:    p.Index,
			Owner:    p.Owner,
			Priority: p.Priority,
			Before:   p.Before,
			After:    p.After,
			Hook:     p.Hook.Key(),
			Requires: p.Hook.Requires,
		})
	}
	return out
}

// SnapshotOf records one patch set.
func SnapshotOf(original *cil.Method, info *PatchInfo) MethodSnapshot {
	return MethodSnapshot{
		Method:      original.FullName(),
		Prefixes:    snapshotPatches(info.Prefixes),
		Postfixes:   snapshotPatches(info.Postfixes),
		Transpilers: snapshotPatches(info.Transpilers),
	}
}

// MarshalSnapshot serializes s to canonical CBOR.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot decodes a snapshot and checks that its format is one
// this engine reads.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("patch: unmarshal snapshot: %w", err)
	}
	v, err := version.NewVersion(s.Format)
	if err != nil || !snapshotAccepted.Check(v) {
		return nil, errors.WrapSnapshotVersion(s.Format, SnapshotConstraint)
	}
	return &s, nil
}

// Resolver maps snapshot names back to live methods and transpilers.
type Resolver interface {
	Method(name string) (*cil.Method, bool)
	Transpiler(name string) (transpile.Func, bool)
}

// Catalog is a map-backed Resolver.
type Catalog struct {
	methods     map[string]*cil.Method
	transpilers map[string]transpile.Func
}

func NewCatalog() *Catalog {
	return &Catalog{methods: map[string]*cil.Method{}, transpilers: map[string]transpile.Func{}}
}

// AddMethods registers methods under their full names.
func (c *Catalog) AddMethods(ms ...*cil.Method) *Catalog {
	for _, m := range ms {
		c.methods[m.FullName()] = m
	}
	return c
}

func (c *Catalog) AddTranspiler(name string, fn transpile.Func) *Catalog {
	c.transpilers[name] = fn
	return c
}

func (c *Catalog) Method(name string) (*cil.Method, bool) {
	m, ok := c.methods[name]
	return m, ok
}

func (c *Catalog) Transpiler(name string) (transpile.Func, bool) {
	fn, ok := c.transpilers[name]
	return fn, ok
}

// restoreInfo rebuilds a patch set, resolving every hook by name.
func restoreInfo(ms MethodSnapshot, r Resolver) (*PatchInfo, error) {
	info := NewPatchInfo()
	lists := []struct {
		kind Kind
		in   []PatchSnapshot
		out  *[]*Patch
	}{
		{KindPrefix, ms.Prefixes, &info.Prefixes},
		{KindPostfix, ms.Postfixes, &info.Postfixes},
		{KindTranspiler, ms.Transpilers, &info.Transpilers},
	}
	for _, l := range lists {
		for _, ps := range l.in {
			var h *Hook
			if l.kind == KindTranspiler {
				fn, ok := r.Transpiler(ps.Hook)
				if !ok {
					return nil, fmt.Errorf("transpiler %q of %s not found", ps.Hook, ms.Method)
				}
				h = NewTranspiler(ps.Hook, fn)
			} else {
				m, ok := r.Method(ps.Hook)
				if !ok {
					return nil, fmt.Errorf("%s %q of %s not found", l.kind, ps.Hook, ms.Method)
				}
				h = NewHook(m)
			}
			h.Priority, h.Before, h.After, h.Requires = ps.Priority, ps.Before, ps.After, ps.Requires
			*l.out = append(*l.out, &Patch{
				Index:    ps.Index,
				Owner:    ps.Owner,
				Priority: ps.Priority,
				Before:   ps.Before,
				After:    ps.After,
				Hook:     h,
			})
		}
	}
	return info, nil
}
