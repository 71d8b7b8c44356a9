// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package patch

import (
	"fmt"
	"sort"

	"github.com/dotandev/ilpatch/internal/cil"
	"github.com/dotandev/ilpatch/internal/transpile"
)

// Kind selects which list of a PatchInfo a hook belongs to.
type Kind uint8

const (
	KindPrefix Kind = iota
	KindPostfix
	KindTranspiler
	// KindAll addresses every list in Unpatch.
	KindAll
)

func (k Kind) String() string {
	switch k {
	case KindPrefix:
		return "prefix"
	case KindPostfix:
		return "postfix"
	case KindTranspiler:
		return "transpiler"
	case KindAll:
		return "all"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Hook is a caller-registered prefix, postfix or transpiler together with
// its ordering metadata.
//
// Prefixes and postfixes are methods the replacement calls; their
// parameters are bound by name (see Compose). Transpilers are Go functions
// over the decoded body.
type Hook struct {
	Method     *cil.Method
	Transpiler transpile.Func
	// Name identifies a transpiler in snapshots. Method hooks use the
	// method's full name.
	Name     string
	Priority int
	Before   []string
	After    []string
	// Requires is the engine version the hook was written against.
	Requires string
}

// NewHook wraps a prefix or postfix method.
func NewHook(m *cil.Method) *Hook {
	return &Hook{Method: m, Priority: Unset}
}

// NewTranspiler wraps a named transpiler function.
func NewTranspiler(name string, fn transpile.Func) *Hook {
	return &Hook{Name: name, Transpiler: fn, Priority: Unset}
}

func (h *Hook) WithPriority(p int) *Hook {
	h.Priority = p
	return h
}

// WithBefore makes the hook run before every hook of the given owners.
func (h *Hook) WithBefore(owners ...string) *Hook {
	h.Before = append(h.Before, owners...)
	return h
}

// WithAfter makes the hook run after every hook of the given owners.
func (h *Hook) WithAfter(owners ...string) *Hook {
	h.After = append(h.After, owners...)
	return h
}

func (h *Hook) WithRequires(v string) *Hook {
	h.Requires = v
	return h
}

// Key is the name a hook is stored under in snapshots.
func (h *Hook) Key() string {
	if h.Method != nil {
		return h.Method.FullName()
	}
	return h.Name
}

func (h *Hook) String() string {
	return h.Key()
}

// Patch is a hook registered on one original by one owner.
type Patch struct {
	Index    int
	Owner    string
	Priority int
	Before   []string
	After    []string
	Hook     *Hook
}

func (p *Patch) String() string {
	return fmt.Sprintf("%s#%d %s (priority %d)", p.Owner, p.Index, p.Hook, p.Priority)
}

// PatchInfo is every hook registered on one original method.
type PatchInfo struct {
	Prefixes    []*Patch
	Postfixes   []*Patch
	Transpilers []*Patch
}

func NewPatchInfo() *PatchInfo {
	return &PatchInfo{}
}

func (pi *PatchInfo) list(kind Kind) *[]*Patch {
	switch kind {
	case KindPrefix:
		return &pi.Prefixes
	case KindPostfix:
		return &pi.Postfixes
	case KindTranspiler:
		return &pi.Transpilers
	}
	return nil
}

func kinds(kind Kind) []Kind {
	if kind == KindAll {
		return []Kind{KindPrefix, KindPostfix, KindTranspiler}
	}
	return []Kind{kind}
}

// Add registers hooks for owner. Nil hooks are skipped.
func (pi *PatchInfo) Add(kind Kind, owner string, hooks ...*Hook) error {
	l := pi.list(kind)
	if l == nil {
		return fmt.Errorf("cannot add hooks of kind %s", kind)
	}
	for _, h := range hooks {
		if h == nil {
			continue
		}
		if kind == KindTranspiler && h.Transpiler == nil {
			return fmt.Errorf("transpiler %q has no function", h.Name)
		}
		if kind != KindTranspiler && h.Method == nil {
			return fmt.Errorf("%s hook has no method", kind)
		}
		*l = append(*l, &Patch{
			Index:    len(*l),
			Owner:    owner,
			Priority: effectivePriority(h.Priority),
			Before:   append([]string(nil), h.Before...),
			After:    append([]string(nil), h.After...),
			Hook:     h,
		})
	}
	return nil
}

// Remove drops the hooks of owner from the lists kind selects. An empty
// owner removes every owner's hooks.
func (pi *PatchInfo) Remove(kind Kind, owner string) int {
	removed := 0
	for _, k := range kinds(kind) {
		l := pi.list(k)
		kept := (*l)[:0]
		for _, p := range *l {
			if owner == "" || p.Owner == owner {
				removed++
				continue
			}
			kept = append(kept, p)
		}
		*l = kept
	}
	return removed
}

// RemoveHook drops every registration of h.
func (pi *PatchInfo) RemoveHook(h *Hook) int {
	removed := 0
	for _, k := range kinds(KindAll) {
		l := pi.list(k)
		kept := (*l)[:0]
		for _, p := range *l {
			if p.Hook == h {
				removed++
				continue
			}
			kept = append(kept, p)
		}
		*l = kept
	}
	return removed
}

// Clone copies the lists and patches. Hooks are shared.
func (pi *PatchInfo) Clone() *PatchInfo {
	cp := func(in []*Patch) []*Patch {
		if in == nil {
			return nil
		}
		out := make([]*Patch, len(in))
		for i, p := range in {
			c := *p
			c.Before = append([]string(nil), p.Before...)
			c.After = append([]string(nil), p.After...)
			out[i] = &c
		}
		return out
	}
	return &PatchInfo{
		Prefixes:    cp(pi.Prefixes),
		Postfixes:   cp(pi.Postfixes),
		Transpilers: cp(pi.Transpilers),
	}
}

// Owners lists the distinct owners, sorted.
func (pi *PatchInfo) Owners() []string {
	seen := map[string]bool{}
	var out []string
	for _, k := range kinds(KindAll) {
		for _, p := range *pi.list(k) {
			if !seen[p.Owner] {
				seen[p.Owner] = true
				out = append(out, p.Owner)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (pi *PatchInfo) Empty() bool {
	return len(pi.Prefixes) == 0 && len(pi.Postfixes) == 0 && len(pi.Transpilers) == 0
}
