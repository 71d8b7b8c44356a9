// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package transpile

import (
	"fmt"
	"strings"

	"github.com/dotandev/ilpatch/internal/cil"
)

// CodeInstruction is the instruction form transpilers see and return.
// Branch operands are labels, local operands are declared locals.
type CodeInstruction struct {
	OpCode  cil.OpCode
	Operand cil.Operand
	Labels  []cil.Label
	Blocks  []cil.ExceptionBlock
}

func New(op cil.OpCode, operand cil.Operand) *CodeInstruction {
	return &CodeInstruction{OpCode: op, Operand: operand}
}

// Clone copies the instruction with fresh label and block slices.
func (c *CodeInstruction) Clone() *CodeInstruction {
	out := &CodeInstruction{OpCode: c.OpCode, Operand: c.Operand}
	out.Labels = append([]cil.Label(nil), c.Labels...)
	out.Blocks = append([]cil.ExceptionBlock(nil), c.Blocks...)
	return out
}

func (c *CodeInstruction) String() string {
	var b strings.Builder
	if len(c.Labels) > 0 {
		names := make([]string, len(c.Labels))
		for i, l := range c.Labels {
			names[i] = l.String()
		}
		fmt.Fprintf(&b, "[%s] ", strings.Join(names, ", "))
	}
	for _, blk := range c.Blocks {
		fmt.Fprintf(&b, "{%s} ", blk)
	}
	b.WriteString(c.OpCode.Name)
	if c.Operand != nil {
		b.WriteByte(' ')
		b.WriteString(cil.FormatOperand(c.Operand))
	}
	return b.String()
}
