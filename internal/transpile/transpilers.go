// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package transpile

import "github.com/dotandev/ilpatch/internal/cil"

// MethodReplacer redirects every call site of from to to.
func MethodReplacer(from, to *cil.Method) Func {
	return func(_ *Context, instrs []*CodeInstruction) ([]*CodeInstruction, error) {
		for _, c := range instrs {
			if m, ok := c.Operand.(*cil.Method); ok && m == from {
				c.Operand = to
			}
		}
		return instrs, nil
	}
}

// DebugLogger prepends a call of logMethod(text) to the body. logMethod
// must be static, take one string and return void.
func DebugLogger(text string, logMethod *cil.Method) Func {
	return func(_ *Context, instrs []*CodeInstruction) ([]*CodeInstruction, error) {
		out := make([]*CodeInstruction, 0, len(instrs)+2)
		out = append(out,
			New(cil.Ldstr, cil.String(text)),
			New(cil.Call, logMethod),
		)
		return append(out, instrs...), nil
	}
}
