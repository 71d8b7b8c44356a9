// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cil

import "fmt"

// LocalBuilder is a local declared on a Generator.
type LocalBuilder struct {
	Index  int
	Type   *Type
	Pinned bool
}

func (l *LocalBuilder) String() string {
	return fmt.Sprintf("%s (%d)", l.Type, l.Index)
}

// Generator is the target code stream a body is emitted into. It mirrors
// the overload set of a runtime IL generator: one method per operand shape.
type Generator interface {
	DefineLabel() Label
	MarkLabel(l Label) error
	DeclareLocal(t *Type, pinned bool) *LocalBuilder
	// Offset is the current position in the stream.
	Offset() int

	Emit(op OpCode) error
	EmitLabel(op OpCode, l Label) error
	EmitLabels(op OpCode, ls []Label) error
	EmitLocal(op OpCode, l *LocalBuilder) error
	EmitField(op OpCode, f *Field) error
	EmitMethod(op OpCode, m *Method) error
	EmitType(op OpCode, t *Type) error
	EmitString(op OpCode, s string) error
	EmitSignature(op OpCode, s *Signature) error
	// EmitInt encodes v at the width the opcode's operand kind dictates.
	EmitInt(op OpCode, v int64) error
	EmitFloat(op OpCode, v float64) error

	BeginExceptionBlock() Label
	BeginCatchBlock(t *Type) error
	BeginExceptFilterBlock() error
	BeginFaultBlock() error
	BeginFinallyBlock() error
	EndExceptionBlock() error
}

// DynamicMethod is a method whose body is emitted at run time.
type DynamicMethod interface {
	Method() *Method
	Generator() Generator
	// Complete finalizes the emitted body and makes the method callable.
	Complete() error
}
