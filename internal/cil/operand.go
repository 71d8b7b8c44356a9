// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cil

import (
	"fmt"
	"strconv"
	"strings"
)

// Operand is the closed set of values an instruction can carry. Every
// variant is declared in this file; consumers switch over them exhaustively.
type Operand interface {
	operand()
}

// Label names a position in a code stream being emitted.
type Label int

// Labels is a switch jump table after label assignment.
type Labels []Label

// Targets is a switch jump table before label assignment.
type Targets []*Instruction

type (
	String  string
	Int8    int8
	UInt8   uint8
	Int16   int16
	Int32   int32
	Int64   int64
	Float32 float32
	Float64 float64
)

func (Label) operand()         {}
func (Labels) operand()        {}
func (Targets) operand()       {}
func (*Instruction) operand()  {}
func (*LocalBuilder) operand() {}
func (*LocalVar) operand()     {}
func (*Param) operand()        {}
func (*Field) operand()        {}
func (*Method) operand()       {}
func (*Type) operand()         {}
func (*Signature) operand()    {}
func (String) operand()        {}
func (Int8) operand()          {}
func (UInt8) operand()         {}
func (Int16) operand()         {}
func (Int32) operand()         {}
func (Int64) operand()         {}
func (Float32) operand()       {}
func (Float64) operand()       {}

func (l Label) String() string {
	return fmt.Sprintf("Label%d", int(l))
}

// FormatOperand renders an operand for listings and debug traces.
func FormatOperand(op Operand) string {
	switch v := op.(type) {
	case nil:
		return ""
	case Label:
		return v.String()
	case Labels:
		parts := make([]string, len(v))
		for i, l := range v {
			parts[i] = l.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case *Instruction:
		return fmt.Sprintf("IL_%04x", v.Offset)
	case Targets:
		parts := make([]string, len(v))
		for i, t := range v {
			parts[i] = fmt.Sprintf("IL_%04x", t.Offset)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case *LocalBuilder:
		return v.String()
	case *LocalVar:
		return v.String()
	case *Param:
		return v.Name
	case *Field:
		return v.String()
	case *Method:
		return v.String()
	case *Type:
		return v.FullName()
	case *Signature:
		return v.String()
	case String:
		return strconv.Quote(string(v))
	case Int8:
		return strconv.Itoa(int(v))
	case UInt8:
		return strconv.Itoa(int(v))
	case Int16:
		return strconv.Itoa(int(v))
	case Int32:
		return strconv.Itoa(int(v))
	case Int64:
		return strconv.FormatInt(int64(v), 10)
	case Float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case Float64:
		return strconv.FormatFloat(float64(v), 'g', -1, 64)
	}
	return fmt.Sprintf("%v", op)
}

// IntValue extracts an integer from any integer variant.
func IntValue(op Operand) (int64, bool) {
	switch v := op.(type) {
	case Int8:
		return int64(v), true
	case UInt8:
		return int64(v), true
	case Int16:
		return int64(v), true
	case Int32:
		return int64(v), true
	case Int64:
		return int64(v), true
	}
	return 0, false
}
