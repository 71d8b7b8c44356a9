// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cil

import (
	"fmt"
	"strings"
)

// ExceptionBlockType marks a boundary of a protected region.
type ExceptionBlockType uint8

const (
	BeginExceptionBlock ExceptionBlockType = iota
	BeginCatchBlock
	BeginExceptFilterBlock
	BeginFaultBlock
	BeginFinallyBlock
	EndExceptionBlock
)

func (t ExceptionBlockType) String() string {
	switch t {
	case BeginExceptionBlock:
		return "TRY"
	case BeginCatchBlock:
		return "CATCH"
	case BeginExceptFilterBlock:
		return "FILTER"
	case BeginFaultBlock:
		return "FAULT"
	case BeginFinallyBlock:
		return "FINALLY"
	case EndExceptionBlock:
		return "END"
	}
	return "BLOCK(?)"
}

// ExceptionBlock is a region marker attached to an instruction.
type ExceptionBlock struct {
	Type      ExceptionBlockType
	CatchType *Type
}

// IsBegin reports whether the marker opens a region or handler.
func (b ExceptionBlock) IsBegin() bool {
	return b.Type != EndExceptionBlock
}

func (b ExceptionBlock) String() string {
	if b.Type == BeginCatchBlock && b.CatchType != nil {
		return "CATCH " + b.CatchType.FullName()
	}
	return b.Type.String()
}

// Instruction is one decoded instruction.
//
// Raw holds the operand as encoded: an absolute target offset for
// branches, a token, an index or an immediate. Operand is the resolved
// reference and Argument the value handed to a Generator. Meta carries
// extension data attached by later passes.
type Instruction struct {
	OpCode    OpCode
	Offset    int
	Raw       int64
	RawSwitch []int32
	Operand   Operand
	Argument  Operand
	Labels    []Label
	Blocks    []ExceptionBlock
	Meta      map[string]any
}

func NewInstruction(op OpCode, operand Operand) *Instruction {
	return &Instruction{OpCode: op, Operand: operand, Argument: operand}
}

// Size is the encoded size in bytes.
func (in *Instruction) Size() int {
	n := int(in.OpCode.Size)
	if in.OpCode.Operand != InlineSwitch {
		return n + in.OpCode.Operand.Width()
	}
	count := len(in.RawSwitch)
	switch v := in.Operand.(type) {
	case Targets:
		count = len(v)
	case Labels:
		count = len(v)
	}
	return n + 4 + 4*count
}

// End is the offset just past the instruction.
func (in *Instruction) End() int {
	return in.Offset + in.Size()
}

func (in *Instruction) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "IL_%04x: %s", in.Offset, in.OpCode.Name)
	if in.Operand != nil {
		b.WriteByte(' ')
		b.WriteString(FormatOperand(in.Operand))
	}
	return b.String()
}
