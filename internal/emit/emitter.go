// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package emit renders instruction sequences into a cil.Generator.
package emit

import (
	"fmt"

	"github.com/dotandev/ilpatch/internal/cil"
	"github.com/dotandev/ilpatch/internal/errors"
	"github.com/dotandev/ilpatch/internal/filelog"
	"github.com/dotandev/ilpatch/internal/transpile"
)

// Emitter wraps a Generator and traces every call to an optional debug log.
type Emitter struct {
	gen   cil.Generator
	trace *filelog.Log
}

func New(gen cil.Generator, trace *filelog.Log) *Emitter {
	return &Emitter{gen: gen, trace: trace}
}

func (e *Emitter) Generator() cil.Generator {
	return e.gen
}

func (e *Emitter) codePos() string {
	return fmt.Sprintf("L_%04x: ", e.gen.Offset())
}

func (e *Emitter) DefineLabel() cil.Label {
	return e.gen.DefineLabel()
}

func (e *Emitter) DeclareLocal(t *cil.Type, pinned bool) *cil.LocalBuilder {
	l := e.gen.DeclareLocal(t, pinned)
	e.trace.LogBuffered(fmt.Sprintf("%sLocal var %d: %s%s", e.codePos(), l.Index, t.FullName(), pinnedSuffix(pinned)))
	return l
}

func pinnedSuffix(pinned bool) string {
	if pinned {
		return "(pinned)"
	}
	return ""
}

func (e *Emitter) MarkLabel(l cil.Label) error {
	e.trace.LogBuffered(e.codePos() + l.String())
	return e.gen.MarkLabel(l)
}

// MarkBlockBefore opens the region or handler a begin marker names.
// End markers are handled by MarkBlockAfter and ignored here.
func (e *Emitter) MarkBlockBefore(b cil.ExceptionBlock) error {
	switch b.Type {
	case cil.BeginExceptionBlock:
		e.trace.LogBuffered(".try")
		e.trace.LogBuffered("{")
		e.trace.ChangeIndent(1)
		e.gen.BeginExceptionBlock()
		return nil
	case cil.BeginCatchBlock:
		e.closeBrace()
		e.trace.LogBuffered("catch " + b.CatchType.FullName())
		e.openBrace()
		return e.gen.BeginCatchBlock(b.CatchType)
	case cil.BeginExceptFilterBlock:
		e.closeBrace()
		e.trace.LogBuffered("filter")
		e.openBrace()
		return e.gen.BeginExceptFilterBlock()
	case cil.BeginFaultBlock:
		e.closeBrace()
		e.trace.LogBuffered("fault")
		e.openBrace()
		return e.gen.BeginFaultBlock()
	case cil.BeginFinallyBlock:
		e.closeBrace()
		e.trace.LogBuffered("finally")
		e.openBrace()
		return e.gen.BeginFinallyBlock()
	}
	return nil
}

// MarkBlockAfter closes the region an end marker names.
func (e *Emitter) MarkBlockAfter(b cil.ExceptionBlock) error {
	if b.Type != cil.EndExceptionBlock {
		return nil
	}
	e.closeBrace()
	return e.gen.EndExceptionBlock()
}

func (e *Emitter) openBrace() {
	e.trace.LogBuffered("{")
	e.trace.ChangeIndent(1)
}

func (e *Emitter) closeBrace() {
	e.trace.ChangeIndent(-1)
	e.trace.LogBuffered("}")
}

// Emit writes one instruction, selecting the generator call from the
// operand variant. Variants that only exist before label assignment or
// without a generator are rejected.
func (e *Emitter) Emit(op cil.OpCode, arg cil.Operand) error {
	if op.Operand == cil.InlineNone {
		e.trace.LogBuffered(e.codePos() + op.Name)
		return e.gen.Emit(op)
	}
	if arg == nil {
		return errors.WrapUnsupportedOperand(op.Name, nil)
	}
	e.trace.LogBuffered(e.codePos() + op.Name + " " + cil.FormatOperand(arg))

	switch v := arg.(type) {
	case cil.Label:
		return e.gen.EmitLabel(op, v)
	case cil.Labels:
		return e.gen.EmitLabels(op, v)
	case *cil.LocalBuilder:
		return e.gen.EmitLocal(op, v)
	case *cil.Field:
		return e.gen.EmitField(op, v)
	case *cil.Method:
		return e.gen.EmitMethod(op, v)
	case *cil.Type:
		return e.gen.EmitType(op, v)
	case *cil.Signature:
		return e.gen.EmitSignature(op, v)
	case cil.String:
		return e.gen.EmitString(op, string(v))
	case cil.Int8:
		return e.gen.EmitInt(op, int64(v))
	case cil.UInt8:
		return e.gen.EmitInt(op, int64(v))
	case cil.Int16:
		return e.gen.EmitInt(op, int64(v))
	case cil.Int32:
		return e.gen.EmitInt(op, int64(v))
	case cil.Int64:
		return e.gen.EmitInt(op, int64(v))
	case cil.Float32:
		return e.gen.EmitFloat(op, float64(v))
	case cil.Float64:
		return e.gen.EmitFloat(op, float64(v))
	case *cil.Instruction, cil.Targets, *cil.LocalVar, *cil.Param:
		return errors.WrapUnsupportedOperand(op.Name, arg)
	}
	return errors.WrapUnsupportedOperand(op.Name, arg)
}

// EmitBody renders a finished sequence. A ret becomes a branch to a label
// marking the end of the method body; that label is appended to endLabels
// for the caller to mark.
func (e *Emitter) EmitBody(instrs []*transpile.CodeInstruction, endLabels *[]cil.Label) error {
	var retLabel *cil.Label
	for i, c := range instrs {
		for _, l := range c.Labels {
			if err := e.MarkLabel(l); err != nil {
				return fmt.Errorf("instruction %d: %w", i, err)
			}
		}
		for _, b := range c.Blocks {
			if err := e.MarkBlockBefore(b); err != nil {
				return fmt.Errorf("instruction %d: %w", i, err)
			}
		}

		op, arg := c.OpCode, c.Operand
		if op == cil.Ret {
			if retLabel == nil {
				l := e.gen.DefineLabel()
				retLabel = &l
				*endLabels = append(*endLabels, l)
			}
			op, arg = cil.Br, *retLabel
		}
		if err := e.Emit(op, arg); err != nil {
			return fmt.Errorf("instruction %d (%s): %w", i, c, err)
		}

		for _, b := range c.Blocks {
			if err := e.MarkBlockAfter(b); err != nil {
				return fmt.Errorf("instruction %d: %w", i, err)
			}
		}
	}
	return nil
}
