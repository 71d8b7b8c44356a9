// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"fmt"

	"github.com/dotandev/ilpatch/internal/cil"
)

// Value is an evaluation stack slot. Integers up to 32 bits are int32,
// 64-bit integers int64, floats float64, null is nil. References are
// string, *Object, *Array, *Ref, *Exception or a metadata handle.
type Value = any

// Object is a heap instance with named fields.
type Object struct {
	Type   *cil.Type
	Fields map[string]Value
}

func NewObject(t *cil.Type) *Object {
	return &Object{Type: t, Fields: map[string]Value{}}
}

// Array is a single-dimension zero-based array.
type Array struct {
	Elem  *cil.Type
	Items []Value
}

// Ref is a managed pointer to a storage slot.
type Ref struct {
	load  func() Value
	store func(Value)
}

func (r *Ref) Load() Value {
	return r.load()
}

func (r *Ref) Store(v Value) {
	r.store(v)
}

// NewRef returns a pointer to a standalone cell holding v.
func NewRef(v Value) *Ref {
	cell := v
	return &Ref{load: func() Value { return cell }, store: func(nv Value) { cell = nv }}
}

func slotRef(slots []Value, i int) *Ref {
	return &Ref{load: func() Value { return slots[i] }, store: func(v Value) { slots[i] = v }}
}

// Exception is a thrown managed exception. Natives return it as an error
// to throw into the calling method.
type Exception struct {
	Type    *cil.Type
	Message string
	Object  *Object
}

func NewException(t *cil.Type, message string) *Exception {
	return &Exception{Type: t, Message: message}
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return e.Type.FullName()
	}
	return e.Type.FullName() + ": " + e.Message
}

// Handle is what ldtoken pushes.
type Handle struct {
	Member cil.Member
}

func (h Handle) String() string {
	return fmt.Sprintf("handle(%s)", h.Member.FullName())
}

// zero is the default value of a local or field of type t.
func zero(t *cil.Type) Value {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case cil.KindBool, cil.KindChar, cil.KindInt8, cil.KindUInt8, cil.KindInt16,
		cil.KindUInt16, cil.KindInt32, cil.KindUInt32, cil.KindEnum:
		return int32(0)
	case cil.KindInt64, cil.KindUInt64, cil.KindIntPtr, cil.KindUIntPtr, cil.KindPointer:
		return int64(0)
	case cil.KindFloat32, cil.KindFloat64:
		return float64(0)
	case cil.KindStruct:
		return NewObject(t)
	}
	return nil
}

// Coerce converts a Go value to its stack representation for type t.
func Coerce(v any, t *cil.Type) Value {
	switch x := v.(type) {
	case bool:
		if x {
			return int32(1)
		}
		return int32(0)
	case int:
		return fitInt(int64(x), t)
	case int8:
		return int32(x)
	case int16:
		return int32(x)
	case uint8:
		return int32(x)
	case uint16:
		return int32(x)
	case uint32:
		return int32(x)
	case int64:
		return fitInt(x, t)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

func fitInt(v int64, t *cil.Type) Value {
	if t != nil {
		switch t.Kind {
		case cil.KindInt64, cil.KindUInt64, cil.KindIntPtr, cil.KindUIntPtr, cil.KindPointer:
			return v
		case cil.KindFloat32, cil.KindFloat64:
			return float64(v)
		}
	}
	return int32(v)
}

// AsInt reads any integer slot as int64.
func AsInt(v Value) (int64, bool) {
	switch x := v.(type) {
	case int32:
		return int64(x), true
	case int64:
		return x, true
	}
	return 0, false
}

// Truthy is the brtrue test.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case int32:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	}
	return true
}
