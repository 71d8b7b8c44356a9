// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package methodbody decodes a method's CIL byte stream into instructions
// with resolved cross-references and exception region markers.
package methodbody

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/dotandev/ilpatch/internal/cil"
	"github.com/dotandev/ilpatch/internal/errors"
	"github.com/dotandev/ilpatch/internal/logger"
)

// Reader decodes one method body. When a Generator is supplied, locals
// are declared on it and instruction arguments reference the declared
// locals, ready for re-emission.
type Reader struct {
	method     *cil.Method
	body       *cil.MethodBody
	module     cil.Module
	generator  cil.Generator
	il         *cil.Reader
	typeArgs   []*cil.Type
	methodArgs []*cil.Type

	instructions []*cil.Instruction
	variables    []*cil.LocalBuilder
	log          *slog.Logger
}

// NewReader prepares a decode of m. body must come from the method's source.
func NewReader(m *cil.Method, body *cil.MethodBody, gen cil.Generator) (*Reader, error) {
	if m == nil {
		return nil, errors.WrapMalformedInput("method cannot be nil")
	}
	if body == nil {
		return nil, errors.WrapMalformedInput("method " + m.FullName() + " has no body")
	}
	if len(body.IL) == 0 {
		return nil, errors.WrapMalformedInput("cannot get instruction bytes of method " + m.FullName())
	}
	r := &Reader{
		method:       m,
		body:         body,
		module:       m.Module,
		generator:    gen,
		il:           cil.NewReader(body.IL),
		methodArgs:   m.GenericArgs,
		instructions: make([]*cil.Instruction, 0, (len(body.IL)+1)/2),
		log:          logger.For("methodbody"),
	}
	if m.DeclaringType != nil {
		r.typeArgs = m.DeclaringType.GenericArgs
	}
	return r, nil
}

// Decode reads m's body from src and decodes it without a generator.
func Decode(src cil.MethodSource, m *cil.Method) ([]*cil.Instruction, error) {
	body, err := src.Body(m)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(m, body, nil)
	if err != nil {
		return nil, err
	}
	if err := r.ReadInstructions(); err != nil {
		return nil, err
	}
	return r.Instructions(), nil
}

// Instructions returns the decoded sequence.
func (r *Reader) Instructions() []*cil.Instruction {
	return r.instructions
}

// Variables returns the locals declared on the generator.
func (r *Reader) Variables() []*cil.LocalBuilder {
	return r.variables
}

// DeclareVariables declares the body's locals on the generator, or adopts
// existing ones declared by the caller in the same order.
func (r *Reader) DeclareVariables(existing []*cil.LocalBuilder) {
	if r.generator == nil {
		return
	}
	if existing != nil {
		r.variables = existing
		return
	}
	r.variables = make([]*cil.LocalBuilder, len(r.body.Locals))
	for i, l := range r.body.Locals {
		r.variables[i] = r.generator.DeclareLocal(l.Type, l.Pinned)
	}
}

// ReadInstructions decodes every instruction, then resolves branch
// targets and reconstructs exception regions.
func (r *Reader) ReadInstructions() error {
	for !r.il.EOF() {
		offset := r.il.Pos()
		op, err := r.readOpCode()
		if err != nil {
			return err
		}
		in := &cil.Instruction{OpCode: op, Offset: offset}
		if err := r.readOperand(in); err != nil {
			return fmt.Errorf("%s at IL_%04x: %w", op.Name, offset, err)
		}
		r.instructions = append(r.instructions, in)
	}
	if err := r.resolveBranches(); err != nil {
		return err
	}
	if err := r.parseExceptions(); err != nil {
		return err
	}
	r.log.Debug("decoded method body",
		"method", r.method.FullName(),
		"instructions", len(r.instructions),
		"clauses", len(r.body.Clauses))
	return nil
}

func (r *Reader) readOpCode() (cil.OpCode, error) {
	offset := r.il.Pos()
	b, err := r.il.ReadByte()
	if err != nil {
		return cil.OpCode{}, err
	}
	if b != cil.TwoByteEscape {
		op, ok := cil.LookupOneByte(b)
		if !ok {
			return cil.OpCode{}, errors.WrapMalformedInput(fmt.Sprintf("unknown opcode 0x%02x at IL_%04x", b, offset))
		}
		return op, nil
	}
	b2, err := r.il.ReadByte()
	if err != nil {
		return cil.OpCode{}, err
	}
	op, ok := cil.LookupTwoByte(b2)
	if !ok {
		return cil.OpCode{}, errors.WrapMalformedInput(fmt.Sprintf("unknown opcode 0xfe%02x at IL_%04x", b2, offset))
	}
	return op, nil
}

func (r *Reader) readOperand(in *cil.Instruction) error {
	switch in.OpCode.Operand {
	case cil.InlineNone:
		return nil

	case cil.ShortInlineBrTarget:
		v, err := r.il.ReadSByte()
		if err != nil {
			return err
		}
		in.Raw = int64(v) + int64(r.il.Pos())
		return nil

	case cil.InlineBrTarget:
		v, err := r.il.ReadInt32()
		if err != nil {
			return err
		}
		in.Raw = int64(v) + int64(r.il.Pos())
		return nil

	case cil.ShortInlineI:
		if in.OpCode == cil.LdcI4S {
			v, err := r.il.ReadSByte()
			if err != nil {
				return err
			}
			in.Raw = int64(v)
			setOperand(in, cil.Int8(v))
			return nil
		}
		v, err := r.il.ReadByte()
		if err != nil {
			return err
		}
		in.Raw = int64(v)
		setOperand(in, cil.UInt8(v))
		return nil

	case cil.InlineI:
		v, err := r.il.ReadInt32()
		if err != nil {
			return err
		}
		in.Raw = int64(v)
		setOperand(in, cil.Int32(v))
		return nil

	case cil.InlineI8:
		v, err := r.il.ReadInt64()
		if err != nil {
			return err
		}
		in.Raw = v
		setOperand(in, cil.Int64(v))
		return nil

	case cil.ShortInlineR:
		v, err := r.il.ReadFloat32()
		if err != nil {
			return err
		}
		setOperand(in, cil.Float32(v))
		return nil

	case cil.InlineR:
		v, err := r.il.ReadFloat64()
		if err != nil {
			return err
		}
		setOperand(in, cil.Float64(v))
		return nil

	case cil.InlineSwitch:
		count, err := r.il.ReadInt32()
		if err != nil {
			return err
		}
		if count < 0 || int(count) > r.il.Remaining()/4 {
			return errors.WrapMalformedInput(fmt.Sprintf("switch table of %d entries exceeds body", count))
		}
		base := int32(r.il.Pos()) + 4*count
		targets := make([]int32, count)
		for i := range targets {
			v, err := r.il.ReadInt32()
			if err != nil {
				return err
			}
			targets[i] = v + base
		}
		in.RawSwitch = targets
		return nil

	case cil.InlineVar:
		v, err := r.il.ReadInt16()
		if err != nil {
			return err
		}
		in.Raw = int64(uint16(v))
		return r.resolveVariable(in, int(uint16(v)), cil.Int16(v))

	case cil.ShortInlineVar:
		v, err := r.il.ReadByte()
		if err != nil {
			return err
		}
		in.Raw = int64(v)
		return r.resolveVariable(in, int(v), cil.UInt8(v))
	}

	token, err := r.il.ReadInt32()
	if err != nil {
		return err
	}
	in.Raw = int64(token)
	return r.resolveToken(in, token)
}

func setOperand(in *cil.Instruction, op cil.Operand) {
	in.Operand = op
	in.Argument = op
}

func (r *Reader) resolveToken(in *cil.Instruction, token int32) error {
	if r.module == nil {
		return errors.WrapMalformedInput(fmt.Sprintf("token 0x%08x without a module", token))
	}
	var (
		op  cil.Operand
		err error
	)
	switch in.OpCode.Operand {
	case cil.InlineString:
		var s string
		s, err = r.module.ResolveString(token)
		op = cil.String(s)
	case cil.InlineField:
		op, err = r.module.ResolveField(token, r.typeArgs, r.methodArgs)
	case cil.InlineMethod:
		op, err = r.module.ResolveMethod(token, r.typeArgs, r.methodArgs)
	case cil.InlineType:
		op, err = r.module.ResolveType(token, r.typeArgs, r.methodArgs)
	case cil.InlineTok:
		op, err = r.module.ResolveMember(token, r.typeArgs, r.methodArgs)
	case cil.InlineSig:
		op, err = r.module.ResolveSignature(token)
	default:
		return errors.WrapMalformedInput("unhandled operand kind " + in.OpCode.Operand.String())
	}
	if err != nil {
		return errors.WrapMalformedInputErr(fmt.Errorf("resolve token 0x%08x: %w", token, err))
	}
	setOperand(in, op)
	return nil
}

var localOps = map[uint16]bool{
	cil.LdlocS.Value:  true,
	cil.LdlocaS.Value: true,
	cil.StlocS.Value:  true,
	cil.Ldloc.Value:   true,
	cil.Ldloca.Value:  true,
	cil.Stloc.Value:   true,
}

// IsLocalOp reports whether op's variable operand indexes locals.
func IsLocalOp(op cil.OpCode) bool {
	return localOps[op.Value]
}

func (r *Reader) resolveVariable(in *cil.Instruction, index int, raw cil.Operand) error {
	if IsLocalOp(in.OpCode) {
		if index >= len(r.body.Locals) {
			return errors.WrapMalformedInput(fmt.Sprintf("local %d out of range (%d declared)", index, len(r.body.Locals)))
		}
		in.Operand = r.body.Locals[index]
		if r.variables != nil && index < len(r.variables) {
			in.Argument = r.variables[index]
		} else {
			in.Argument = raw
		}
		return nil
	}
	p, ok := r.method.Arg(index)
	if !ok {
		return errors.WrapMalformedInput(fmt.Sprintf("argument %d out of range (%d slots)", index, r.method.ArgCount()))
	}
	in.Operand = p
	in.Argument = raw
	return nil
}

func (r *Reader) resolveBranches() error {
	for _, in := range r.instructions {
		switch in.OpCode.Operand {
		case cil.InlineBrTarget, cil.ShortInlineBrTarget:
			target, err := Find(r.instructions, int(in.Raw), false)
			if err != nil {
				return fmt.Errorf("%s at IL_%04x: %w", in.OpCode.Name, in.Offset, err)
			}
			in.Operand = target
			in.Argument = target
		case cil.InlineSwitch:
			targets := make(cil.Targets, len(in.RawSwitch))
			for i, off := range in.RawSwitch {
				target, err := Find(r.instructions, int(off), false)
				if err != nil {
					return fmt.Errorf("switch at IL_%04x case %d: %w", in.Offset, i, err)
				}
				targets[i] = target
			}
			in.Operand = targets
			in.Argument = targets
		}
	}
	return nil
}

func (r *Reader) parseExceptions() error {
	for i, c := range r.body.Clauses {
		if err := r.attachClause(c); err != nil {
			return fmt.Errorf("exception clause %d (%s): %w", i, c.Kind, err)
		}
	}
	return nil
}

func (r *Reader) attach(offset int, end bool, block cil.ExceptionBlock) error {
	in, err := Find(r.instructions, offset, end)
	if err != nil {
		return err
	}
	in.Blocks = append(in.Blocks, block)
	return nil
}

func (r *Reader) attachClause(c cil.ExceptionClause) error {
	if err := r.attach(c.TryOffset, false, cil.ExceptionBlock{Type: cil.BeginExceptionBlock}); err != nil {
		return err
	}
	if err := r.attach(c.HandlerOffset+c.HandlerLength-1, true, cil.ExceptionBlock{Type: cil.EndExceptionBlock}); err != nil {
		return err
	}
	switch c.Kind {
	case cil.ClauseCatch:
		return r.attach(c.HandlerOffset, false, cil.ExceptionBlock{Type: cil.BeginCatchBlock, CatchType: c.CatchType})
	case cil.ClauseFilter:
		if err := r.attach(c.FilterOffset, false, cil.ExceptionBlock{Type: cil.BeginExceptFilterBlock}); err != nil {
			return err
		}
		// The filtered handler is opened as an untyped catch.
		return r.attach(c.HandlerOffset, false, cil.ExceptionBlock{Type: cil.BeginCatchBlock})
	case cil.ClauseFinally:
		return r.attach(c.HandlerOffset, false, cil.ExceptionBlock{Type: cil.BeginFinallyBlock})
	case cil.ClauseFault:
		return r.attach(c.HandlerOffset, false, cil.ExceptionBlock{Type: cil.BeginFaultBlock})
	}
	return errors.WrapMalformedInput(fmt.Sprintf("unknown clause kind %d", c.Kind))
}

// Find locates the instruction at offset in an offset-sorted sequence.
// With end set it matches the instruction whose last byte is at offset.
func Find(instrs []*cil.Instruction, offset int, end bool) (*cil.Instruction, error) {
	key := func(in *cil.Instruction) int {
		if end {
			return in.Offset + in.Size() - 1
		}
		return in.Offset
	}
	i := sort.Search(len(instrs), func(i int) bool { return key(instrs[i]) >= offset })
	if i < len(instrs) && key(instrs[i]) == offset {
		return instrs[i], nil
	}
	return nil, errors.WrapMalformedInput(fmt.Sprintf("no instruction at offset %d", offset))
}

// AssignLabels replaces every branch and switch target with a label
// defined on the generator and attached to the target instruction.
func (r *Reader) AssignLabels() {
	if r.generator == nil {
		return
	}
	for _, in := range r.instructions {
		switch v := in.Operand.(type) {
		case *cil.Instruction:
			if !in.OpCode.Operand.IsBranch() {
				continue
			}
			l := r.generator.DefineLabel()
			v.Labels = append(v.Labels, l)
			in.Argument = l
		case cil.Targets:
			labels := make(cil.Labels, len(v))
			for i, target := range v {
				l := r.generator.DefineLabel()
				target.Labels = append(target.Labels, l)
				labels[i] = l
			}
			in.Argument = labels
		}
	}
}
