// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dotandev/ilpatch/internal/cil"
	"github.com/dotandev/ilpatch/internal/emit"
)

type fixup struct {
	at    int // position of the offset field
	base  int // position the offset is relative to
	label cil.Label
	short bool
}

type handlerState uint8

const (
	inTry handlerState = iota
	inFilter
	inHandler
)

// region tracks one open protected region and its current handler.
type region struct {
	end          cil.Label
	tryStart     int
	tryEnd       int
	state        handlerState
	kind         cil.ClauseKind
	catchType    *cil.Type
	filterStart  int
	handlerStart int
	handlers     int
}

// Assembler encodes CIL into a byte stream with an exception table. It is
// the code generator dynamic methods are emitted into.
type Assembler struct {
	module  *Module
	code    []byte
	last    cil.OpCode
	labels  []int
	fixups  []fixup
	locals  []*cil.LocalBuilder
	clauses []cil.ExceptionClause
	regions []*region
	err     error
}

func NewAssembler(module *Module) *Assembler {
	return &Assembler{module: module}
}

func (a *Assembler) Offset() int {
	return len(a.code)
}

func (a *Assembler) DefineLabel() cil.Label {
	a.labels = append(a.labels, -1)
	return cil.Label(len(a.labels) - 1)
}

func (a *Assembler) MarkLabel(l cil.Label) error {
	if err := a.defined(l); err != nil {
		return err
	}
	if a.labels[l] >= 0 {
		return fmt.Errorf("label %s marked twice", l)
	}
	a.labels[l] = len(a.code)
	return nil
}

func (a *Assembler) DeclareLocal(t *cil.Type, pinned bool) *cil.LocalBuilder {
	l := &cil.LocalBuilder{Index: len(a.locals), Type: t, Pinned: pinned}
	a.locals = append(a.locals, l)
	return l
}

func (a *Assembler) opcode(op cil.OpCode) {
	if op.Size == 2 {
		a.code = append(a.code, cil.TwoByteEscape, byte(op.Value))
	} else {
		a.code = append(a.code, byte(op.Value))
	}
	a.last = op
}

func (a *Assembler) u16(v uint16) { a.code = binary.LittleEndian.AppendUint16(a.code, v) }
func (a *Assembler) u32(v uint32) { a.code = binary.LittleEndian.AppendUint32(a.code, v) }
func (a *Assembler) u64(v uint64) { a.code = binary.LittleEndian.AppendUint64(a.code, v) }

func expect(op cil.OpCode, kinds ...cil.OperandKind) error {
	for _, k := range kinds {
		if op.Operand == k {
			return nil
		}
	}
	return fmt.Errorf("%s takes a %s operand", op.Name, op.Operand)
}

func (a *Assembler) Emit(op cil.OpCode) error {
	if err := expect(op, cil.InlineNone); err != nil {
		return err
	}
	a.opcode(op)
	return nil
}

func (a *Assembler) defined(l cil.Label) error {
	if int(l) < 0 || int(l) >= len(a.labels) {
		return fmt.Errorf("undefined label %s", l)
	}
	return nil
}

func (a *Assembler) EmitLabel(op cil.OpCode, l cil.Label) error {
	if err := expect(op, cil.InlineBrTarget, cil.ShortInlineBrTarget); err != nil {
		return err
	}
	if err := a.defined(l); err != nil {
		return err
	}
	a.opcode(op)
	at := len(a.code)
	if op.IsShortBranch() {
		a.code = append(a.code, 0)
		a.fixups = append(a.fixups, fixup{at: at, base: at + 1, label: l, short: true})
		return nil
	}
	a.u32(0)
	a.fixups = append(a.fixups, fixup{at: at, base: at + 4, label: l})
	return nil
}

func (a *Assembler) EmitLabels(op cil.OpCode, ls []cil.Label) error {
	if err := expect(op, cil.InlineSwitch); err != nil {
		return err
	}
	for _, l := range ls {
		if err := a.defined(l); err != nil {
			return err
		}
	}
	a.opcode(op)
	a.u32(uint32(len(ls)))
	base := len(a.code) + 4*len(ls)
	for _, l := range ls {
		a.fixups = append(a.fixups, fixup{at: len(a.code), base: base, label: l})
		a.u32(0)
	}
	return nil
}

func (a *Assembler) EmitLocal(op cil.OpCode, l *cil.LocalBuilder) error {
	return a.EmitInt(op, int64(l.Index))
}

func (a *Assembler) token(op cil.OpCode, v any, kinds ...cil.OperandKind) error {
	if err := expect(op, kinds...); err != nil {
		return err
	}
	tok, err := a.module.TokenFor(v)
	if err != nil {
		return err
	}
	a.opcode(op)
	a.u32(uint32(tok))
	return nil
}

func (a *Assembler) EmitField(op cil.OpCode, f *cil.Field) error {
	return a.token(op, f, cil.InlineField, cil.InlineTok)
}

func (a *Assembler) EmitMethod(op cil.OpCode, m *cil.Method) error {
	return a.token(op, m, cil.InlineMethod, cil.InlineTok)
}

func (a *Assembler) EmitType(op cil.OpCode, t *cil.Type) error {
	return a.token(op, t, cil.InlineType, cil.InlineTok)
}

func (a *Assembler) EmitString(op cil.OpCode, s string) error {
	return a.token(op, s, cil.InlineString)
}

func (a *Assembler) EmitSignature(op cil.OpCode, s *cil.Signature) error {
	return a.token(op, s, cil.InlineSig)
}

func (a *Assembler) EmitInt(op cil.OpCode, v int64) error {
	switch op.Operand {
	case cil.ShortInlineI:
		if v < math.MinInt8 || v > math.MaxUint8 {
			return fmt.Errorf("%s operand %d does not fit a byte", op.Name, v)
		}
		a.opcode(op)
		a.code = append(a.code, byte(v))
	case cil.ShortInlineVar:
		if v < 0 || v > math.MaxUint8 {
			return fmt.Errorf("%s index %d does not fit a byte", op.Name, v)
		}
		a.opcode(op)
		a.code = append(a.code, byte(v))
	case cil.InlineVar:
		if v < 0 || v > math.MaxUint16 {
			return fmt.Errorf("%s index %d out of range", op.Name, v)
		}
		a.opcode(op)
		a.u16(uint16(v))
	case cil.InlineI:
		if v < math.MinInt32 || v > math.MaxUint32 {
			return fmt.Errorf("%s operand %d does not fit 32 bits", op.Name, v)
		}
		a.opcode(op)
		a.u32(uint32(v))
	case cil.InlineI8:
		a.opcode(op)
		a.u64(uint64(v))
	default:
		return fmt.Errorf("%s takes a %s operand, not an integer", op.Name, op.Operand)
	}
	return nil
}

func (a *Assembler) EmitFloat(op cil.OpCode, v float64) error {
	switch op.Operand {
	case cil.ShortInlineR:
		a.opcode(op)
		a.u32(math.Float32bits(float32(v)))
	case cil.InlineR:
		a.opcode(op)
		a.u64(math.Float64bits(v))
	default:
		return fmt.Errorf("%s takes a %s operand, not a float", op.Name, op.Operand)
	}
	return nil
}

func (a *Assembler) top() (*region, error) {
	if len(a.regions) == 0 {
		return nil, fmt.Errorf("no open exception block")
	}
	return a.regions[len(a.regions)-1], nil
}

func (a *Assembler) BeginExceptionBlock() cil.Label {
	r := &region{end: a.DefineLabel(), tryStart: len(a.code)}
	a.regions = append(a.regions, r)
	return r.end
}

// leaveTo ends the try body or the current handler with a leave and
// records the handler that just closed.
func (a *Assembler) leaveTo(r *region) error {
	if err := a.EmitLabel(cil.Leave, r.end); err != nil {
		return err
	}
	a.closeHandler(r)
	return nil
}

func (a *Assembler) closeHandler(r *region) {
	if r.state == inTry {
		r.tryEnd = len(a.code)
		return
	}
	a.clauses = append(a.clauses, cil.ExceptionClause{
		Kind:          r.kind,
		TryOffset:     r.tryStart,
		TryLength:     r.tryEnd - r.tryStart,
		HandlerOffset: r.handlerStart,
		HandlerLength: len(a.code) - r.handlerStart,
		CatchType:     r.catchType,
		FilterOffset:  r.filterStart,
	})
	r.handlers++
}

func (a *Assembler) BeginCatchBlock(t *cil.Type) error {
	r, err := a.top()
	if err != nil {
		return err
	}
	if r.state == inFilter {
		if a.last != cil.Endfilter {
			a.opcode(cil.Endfilter)
		}
		r.state, r.handlerStart = inHandler, len(a.code)
		return nil
	}
	if err := a.leaveTo(r); err != nil {
		return err
	}
	r.state, r.kind, r.catchType = inHandler, cil.ClauseCatch, t
	r.handlerStart, r.filterStart = len(a.code), 0
	return nil
}

func (a *Assembler) BeginExceptFilterBlock() error {
	r, err := a.top()
	if err != nil {
		return err
	}
	if err := a.leaveTo(r); err != nil {
		return err
	}
	r.state, r.kind, r.catchType = inFilter, cil.ClauseFilter, nil
	r.filterStart = len(a.code)
	return nil
}

func (a *Assembler) beginFinallyOrFault(kind cil.ClauseKind) error {
	r, err := a.top()
	if err != nil {
		return err
	}
	if err := a.leaveTo(r); err != nil {
		return err
	}
	r.state, r.kind, r.catchType = inHandler, kind, nil
	r.handlerStart, r.filterStart = len(a.code), 0
	return nil
}

func (a *Assembler) BeginFaultBlock() error {
	return a.beginFinallyOrFault(cil.ClauseFault)
}

func (a *Assembler) BeginFinallyBlock() error {
	return a.beginFinallyOrFault(cil.ClauseFinally)
}

func (a *Assembler) EndExceptionBlock() error {
	r, err := a.top()
	if err != nil {
		return err
	}
	switch {
	case r.state == inTry:
		return fmt.Errorf("exception block has no handler")
	case r.state == inFilter:
		return fmt.Errorf("filter block has no handler")
	case r.kind == cil.ClauseFinally || r.kind == cil.ClauseFault:
		if a.last != cil.Endfinally {
			a.opcode(cil.Endfinally)
		}
		a.closeHandler(r)
	default:
		if err := a.leaveTo(r); err != nil {
			return err
		}
	}
	a.regions = a.regions[:len(a.regions)-1]
	return a.MarkLabel(r.end)
}

// Op emits one instruction, keeping the first error for Finish. It lets
// method bodies be written as a flat list of calls.
func (a *Assembler) Op(op cil.OpCode, arg ...cil.Operand) *Assembler {
	if a.err != nil {
		return a
	}
	var operand cil.Operand
	if len(arg) > 0 {
		operand = arg[0]
	}
	if err := emit.New(a, nil).Emit(op, operand); err != nil {
		a.err = fmt.Errorf("IL_%04x %s: %w", len(a.code), op.Name, err)
	}
	return a
}

// Mark marks l, keeping the first error for Finish.
func (a *Assembler) Mark(l cil.Label) *Assembler {
	if a.err == nil {
		a.err = a.MarkLabel(l)
	}
	return a
}

// Finish resolves branch offsets and returns the assembled body.
func (a *Assembler) Finish() (*cil.MethodBody, error) {
	if a.err != nil {
		return nil, a.err
	}
	if len(a.regions) > 0 {
		return nil, fmt.Errorf("%d exception blocks left open", len(a.regions))
	}
	for _, f := range a.fixups {
		target := a.labels[f.label]
		if target < 0 {
			return nil, fmt.Errorf("label %s is never marked", f.label)
		}
		delta := target - f.base
		if f.short {
			if delta < math.MinInt8 || delta > math.MaxInt8 {
				return nil, fmt.Errorf("short branch to %s out of range (%d)", f.label, delta)
			}
			a.code[f.at] = byte(int8(delta))
			continue
		}
		binary.LittleEndian.PutUint32(a.code[f.at:], uint32(int32(delta)))
	}
	locals := make([]*cil.LocalVar, len(a.locals))
	for i, l := range a.locals {
		locals[i] = &cil.LocalVar{Index: l.Index, Type: l.Type, Pinned: l.Pinned}
	}
	code := make([]byte, len(a.code))
	copy(code, a.code)
	clauses := make([]cil.ExceptionClause, len(a.clauses))
	copy(clauses, a.clauses)
	return &cil.MethodBody{IL: code, Locals: locals, Clauses: clauses, InitLocals: true}, nil
}
