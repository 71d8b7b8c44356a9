// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package transpile runs instruction-sequence transformers over a decoded
// method body.
package transpile

import (
	"fmt"

	"github.com/dotandev/ilpatch/internal/cil"
)

// Context is what a transpiler may use besides the instructions.
type Context struct {
	Generator cil.Generator
	Original  *cil.Method
}

// Func rewrites an instruction sequence. It may return the input slice,
// mutate it in place, or build a new one.
type Func func(ctx *Context, instrs []*CodeInstruction) ([]*CodeInstruction, error)

type stage struct {
	name string
	fn   Func
}

// hidden holds the internal fields a CodeInstruction does not carry.
type hidden struct {
	offset    int
	raw       int64
	rawSwitch []int32
	resolved  cil.Operand
	argument  cil.Operand
	meta      map[string]any
}

// Pipeline applies transpilers in registration order.
type Pipeline struct {
	instructions []*cil.Instruction
	stages       []stage
}

func NewPipeline(instrs []*cil.Instruction) *Pipeline {
	return &Pipeline{instructions: instrs}
}

func (p *Pipeline) Add(name string, fn Func) {
	p.stages = append(p.stages, stage{name: name, fn: fn})
}

// Len is the number of registered transpilers.
func (p *Pipeline) Len() int {
	return len(p.stages)
}

// Instructions is the internal sequence after the last Result call.
func (p *Pipeline) Instructions() []*cil.Instruction {
	return p.instructions
}

// Result runs every transpiler and returns the final public sequence.
func (p *Pipeline) Result(ctx *Context) ([]*CodeInstruction, error) {
	for _, s := range p.stages {
		public, cache := toPublic(p.instructions)
		out, err := s.fn(ctx, public)
		if err != nil {
			return nil, fmt.Errorf("transpiler %s: %w", s.name, err)
		}
		p.instructions = toInternal(out, cache)
	}
	public, _ := toPublic(p.instructions)
	return public, nil
}

func toPublic(instrs []*cil.Instruction) ([]*CodeInstruction, map[*CodeInstruction]hidden) {
	out := make([]*CodeInstruction, len(instrs))
	cache := make(map[*CodeInstruction]hidden, len(instrs))
	for i, in := range instrs {
		c := &CodeInstruction{
			OpCode:  in.OpCode.LongForm(),
			Operand: in.Argument,
			Labels:  in.Labels,
			Blocks:  in.Blocks,
		}
		if in.OpCode.Operand == cil.InlineNone {
			c.Operand = nil
		}
		out[i] = c
		cache[c] = hidden{
			offset:    in.Offset,
			raw:       in.Raw,
			rawSwitch: in.RawSwitch,
			resolved:  in.Operand,
			argument:  in.Argument,
			meta:      in.Meta,
		}
	}
	return out, cache
}

func toInternal(public []*CodeInstruction, cache map[*CodeInstruction]hidden) []*cil.Instruction {
	out := make([]*cil.Instruction, 0, len(public))
	for _, c := range public {
		if c == nil {
			continue
		}
		in := &cil.Instruction{
			OpCode:   c.OpCode,
			Operand:  c.Operand,
			Argument: c.Operand,
			Labels:   c.Labels,
			Blocks:   c.Blocks,
		}
		if h, ok := cache[c]; ok {
			in.Offset = h.offset
			in.Raw = h.raw
			in.RawSwitch = h.rawSwitch
			in.Meta = h.meta
			if SameOperand(h.argument, c.Operand) {
				in.Operand = h.resolved
			}
		}
		out = append(out, in)
	}
	return out
}

// SameOperand compares operands without panicking on slice variants.
func SameOperand(a, b cil.Operand) bool {
	switch x := a.(type) {
	case cil.Labels:
		y, ok := b.(cil.Labels)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if x[i] != y[i] {
				return false
			}
		}
		return true
	case cil.Targets:
		y, ok := b.(cil.Targets)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if x[i] != y[i] {
				return false
			}
		}
		return true
	}
	switch b.(type) {
	case cil.Labels, cil.Targets:
		return false
	}
	return a == b
}

// StripTrailingReturns removes bare ret instructions from the tail and
// returns their labels, which now mean "end of method". A ret carrying
// region markers stops the stripping.
func StripTrailingReturns(instrs []*CodeInstruction) ([]*CodeInstruction, []cil.Label) {
	var endLabels []cil.Label
	for len(instrs) > 0 {
		last := instrs[len(instrs)-1]
		if last.OpCode != cil.Ret || len(last.Blocks) > 0 {
			break
		}
		endLabels = append(endLabels, last.Labels...)
		instrs = instrs[:len(instrs)-1]
	}
	return instrs, endLabels
}
