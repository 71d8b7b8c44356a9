// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package patch

import (
	"github.com/dotandev/ilpatch/internal/cil"
	"github.com/dotandev/ilpatch/internal/native"
)

// Runtime is the host whose methods are patched. It supplies method
// bodies, allocates dynamic methods, compiles methods to entry addresses
// and exposes the memory those entries live in.
type Runtime interface {
	cil.MethodSource
	NewDynamicMethod(original *cil.Method, suffix string) (cil.DynamicMethod, error)
	// EntryAddress compiles m if needed and returns its first code byte.
	EntryAddress(m *cil.Method) (uint64, error)
	Memory() native.Memory
	PointerSize() int
	// MethodFromHandle is a static method turning a ldtoken handle into
	// a method object.
	MethodFromHandle() *cil.Method
}
