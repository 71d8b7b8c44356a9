// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package patch

import (
	"fmt"

	"github.com/dotandev/ilpatch/internal/cil"
	"github.com/dotandev/ilpatch/internal/emit"
	"github.com/dotandev/ilpatch/internal/errors"
	"github.com/dotandev/ilpatch/internal/filelog"
	"github.com/dotandev/ilpatch/internal/methodbody"
	"github.com/dotandev/ilpatch/internal/transpile"
)

// Names of the hook parameters with special bindings.
const (
	InstanceParam       = "__instance"
	OriginalMethodParam = "__originalMethod"
	ResultParam         = "__result"
	StateParam          = "__state"
)

// Plan is the sorted input of one composition.
type Plan struct {
	Original    *cil.Method
	Prefixes    []*Hook
	Postfixes   []*Hook
	Transpilers []*Hook
	// Generation numbers the replacement; it ends up in its name.
	Generation int
}

type composer struct {
	rt       Runtime
	plan     Plan
	original *cil.Method
	em       *emit.Emitter
	trace    *filelog.Log

	result *cil.LocalBuilder
	state  map[string]*cil.LocalBuilder
}

// Compose builds the replacement for plan.Original: prefixes, then the
// transpiled original body, then postfixes. The returned method is
// complete and has an entry address; nothing is redirected yet.
func Compose(rt Runtime, plan Plan, trace *filelog.Log) (*cil.Method, error) {
	original := plan.Original
	if original == nil {
		return nil, errors.WrapMalformedInput("no original method")
	}
	dm, err := rt.NewDynamicMethod(original, fmt.Sprintf("_Patch%d", plan.Generation))
	if err != nil {
		return nil, err
	}
	c := &composer{
		rt:       rt,
		plan:     plan,
		original: original,
		em:       emit.New(dm.Generator(), trace),
		trace:    trace,
		state:    map[string]*cil.LocalBuilder{},
	}
	trace.LogBuffered("### Patch " + original.FullName())
	trace.FlushBuffer()

	if err := c.compose(dm.Generator()); err != nil {
		trace.FlushBuffer()
		return nil, err
	}
	trace.LogBuffered("DONE")
	trace.LogBuffered("")
	trace.FlushBuffer()

	if err := dm.Complete(); err != nil {
		return nil, err
	}
	return dm.Method(), nil
}

func (c *composer) compose(gen cil.Generator) error {
	body, err := c.rt.Body(c.original)
	if err != nil {
		return err
	}
	reader, err := methodbody.NewReader(c.original, body, gen)
	if err != nil {
		return err
	}
	reader.DeclareVariables(nil)

	ret := c.original.ReturnType()
	if len(c.plan.Prefixes)+len(c.plan.Postfixes) > 0 && !ret.IsVoid() {
		if c.result, err = c.declareInitialized(ret); err != nil {
			return err
		}
	}
	for _, h := range c.plan.Prefixes {
		if err := c.declareState(h.Method); err != nil {
			return err
		}
	}

	skip := c.em.DefineLabel()
	canSkip, err := c.emitPrefixes(skip)
	if err != nil {
		return err
	}

	if err := reader.ReadInstructions(); err != nil {
		return err
	}
	reader.AssignLabels()
	pipeline := transpile.NewPipeline(reader.Instructions())
	for _, h := range c.plan.Transpilers {
		pipeline.Add(h.Key(), h.Transpiler)
	}
	instrs, err := pipeline.Result(&transpile.Context{Generator: gen, Original: c.original})
	if err != nil {
		return err
	}
	instrs, endLabels := transpile.StripTrailingReturns(instrs)
	if err := c.em.EmitBody(instrs, &endLabels); err != nil {
		return err
	}

	for _, l := range endLabels {
		if err := c.em.MarkLabel(l); err != nil {
			return err
		}
	}
	if c.result != nil {
		if err := c.em.Emit(cil.Stloc, c.result); err != nil {
			return err
		}
	}
	if canSkip {
		if err := c.em.MarkLabel(skip); err != nil {
			return err
		}
	}
	if err := c.emitPostfixes(); err != nil {
		return err
	}
	if c.result != nil {
		if err := c.em.Emit(cil.Ldloc, c.result); err != nil {
			return err
		}
	}
	return c.em.Emit(cil.Ret, nil)
}

// declareInitialized declares a local of t and stores t's default value
// into it at the current position.
func (c *composer) declareInitialized(t *cil.Type) (*cil.LocalBuilder, error) {
	t = t.Deref()
	l := c.em.DeclareLocal(t, false)
	var err error
	switch {
	case t.IsStruct():
		if err = c.em.Emit(cil.Ldloca, l); err == nil {
			err = c.em.Emit(cil.Initobj, t)
		}
		return l, err
	case !t.IsPrimitive():
		err = c.em.Emit(cil.Ldnull, nil)
	case t.Kind == cil.KindFloat32:
		err = c.em.Emit(cil.LdcR4, cil.Float32(0))
	case t.Kind == cil.KindFloat64:
		err = c.em.Emit(cil.LdcR8, cil.Float64(0))
	case t.Kind == cil.KindInt64 || t.Kind == cil.KindUInt64:
		err = c.em.Emit(cil.LdcI8, cil.Int64(0))
	default:
		err = c.em.Emit(cil.LdcI40, nil)
	}
	if err != nil {
		return nil, err
	}
	return l, c.em.Emit(cil.Stloc, l)
}

func stateKey(m *cil.Method) string {
	if m.DeclaringType == nil {
		return ""
	}
	return m.DeclaringType.FullName()
}

// declareState gives each declaring type of a prefix asking for __state
// one shared state local.
func (c *composer) declareState(m *cil.Method) error {
	key := stateKey(m)
	if _, ok := c.state[key]; ok {
		return nil
	}
	p, ok := m.ParamNamed(StateParam)
	if !ok {
		return nil
	}
	l, err := c.declareInitialized(p.Type)
	if err != nil {
		return err
	}
	c.state[key] = l
	return nil
}

func (c *composer) emitPrefixes(skip cil.Label) (bool, error) {
	canSkip := false
	for _, h := range c.plan.Prefixes {
		m := h.Method
		ret := m.ReturnType()
		if !ret.IsVoid() && ret.Kind != cil.KindBool {
			return false, errors.WrapBinding(fmt.Sprintf("prefix %s has invalid return type %s, want void or bool", m.FullName(), ret))
		}
		if err := c.emitCallParameters(m); err != nil {
			return false, err
		}
		if err := c.em.Emit(cil.Call, m); err != nil {
			return false, err
		}
		if ret.Kind == cil.KindBool {
			if err := c.em.Emit(cil.Brfalse, skip); err != nil {
				return false, err
			}
			canSkip = true
		}
	}
	return canSkip, nil
}

func (c *composer) emitPostfixes() error {
	for _, h := range c.plan.Postfixes {
		m := h.Method
		if !m.ReturnType().IsVoid() {
			return errors.WrapBinding(fmt.Sprintf("postfix %s has invalid return type %s, want void", m.FullName(), m.ReturnType()))
		}
		if err := c.emitCallParameters(m); err != nil {
			return err
		}
		if err := c.em.Emit(cil.Call, m); err != nil {
			return err
		}
	}
	return nil
}

// emitCallParameters pushes one argument per parameter of hook.
func (c *composer) emitCallParameters(hook *cil.Method) error {
	if !hook.Static {
		return errors.WrapBinding(fmt.Sprintf("hook %s must be static", hook.FullName()))
	}
	for _, p := range hook.Params {
		if err := c.emitParameter(hook, p); err != nil {
			return err
		}
	}
	return nil
}

func (c *composer) emitParameter(hook *cil.Method, p *cil.Param) error {
	original := c.original
	switch p.Name {
	case OriginalMethodParam:
		fromHandle := c.rt.MethodFromHandle()
		if fromHandle == nil {
			return errors.WrapBinding("runtime cannot materialize " + OriginalMethodParam)
		}
		if err := c.em.Emit(cil.Ldtoken, original); err != nil {
			return err
		}
		return c.em.Emit(cil.Call, fromHandle)

	case InstanceParam:
		if original.Static {
			return c.em.Emit(cil.Ldnull, nil)
		}
		receiverIsRef := original.DeclaringType != nil && original.DeclaringType.IsStruct()
		switch {
		case receiverIsRef == p.IsByRef():
			return c.emitLdarg(0)
		case receiverIsRef:
			if err := c.emitLdarg(0); err != nil {
				return err
			}
			return c.em.Emit(cil.Ldobj, original.DeclaringType)
		default:
			return c.em.Emit(cil.Ldarga, cil.Int16(0))
		}

	case StateParam:
		l, ok := c.state[stateKey(hook)]
		if !ok {
			return errors.WrapBinding(fmt.Sprintf("%s of %s has no prefix declaring it", StateParam, hook.FullName()))
		}
		return c.emitLocal(l, p.IsByRef())

	case ResultParam:
		if original.ReturnType().IsVoid() {
			return errors.WrapBinding(fmt.Sprintf("cannot bind %s of %s: %s returns void", ResultParam, hook.FullName(), original.FullName()))
		}
		return c.emitLocal(c.result, p.IsByRef())
	}

	slot, target := paramIndex(original, originalName(hook, p))
	if target == nil {
		return errors.WrapBinding(fmt.Sprintf("parameter %q of %s not found in %s", p.Name, hook.FullName(), original.FullName()))
	}
	if !original.Static {
		slot++
	}
	switch origRef, hookRef := target.IsByRef(), p.IsByRef(); {
	case origRef == hookRef:
		return c.emitLdarg(slot)
	case hookRef:
		return c.em.Emit(cil.Ldarga, cil.Int16(slot))
	default:
		if err := c.emitLdarg(slot); err != nil {
			return err
		}
		elem := target.Type.Deref()
		if elem.IsStruct() {
			return c.em.Emit(cil.Ldobj, elem)
		}
		return c.em.Emit(LoadIndirect(elem), nil)
	}
}

// originalName resolves the original parameter a hook parameter binds
// to: its own rename, then renames on the hook method, then on its type.
func originalName(hook *cil.Method, p *cil.Param) string {
	if p.Rename != "" {
		return p.Rename
	}
	for _, r := range hook.ParamRenames {
		if r.NewName == p.Name {
			return r.OriginalName
		}
	}
	if hook.DeclaringType != nil {
		for _, r := range hook.DeclaringType.ParamRenames {
			if r.NewName == p.Name {
				return r.OriginalName
			}
		}
	}
	return p.Name
}

func paramIndex(m *cil.Method, name string) (int, *cil.Param) {
	for i, p := range m.Params {
		if p.Name == name {
			return i, p
		}
	}
	return -1, nil
}

func (c *composer) emitLdarg(slot int) error {
	switch {
	case slot < 4:
		return c.em.Emit([]cil.OpCode{cil.Ldarg0, cil.Ldarg1, cil.Ldarg2, cil.Ldarg3}[slot], nil)
	case slot <= 255:
		return c.em.Emit(cil.LdargS, cil.UInt8(slot))
	}
	return c.em.Emit(cil.Ldarg, cil.Int16(slot))
}

func (c *composer) emitLocal(l *cil.LocalBuilder, address bool) error {
	if address {
		return c.em.Emit(cil.Ldloca, l)
	}
	return c.em.Emit(cil.Ldloc, l)
}

// LoadIndirect picks the ldind variant that dereferences a pointer to t.
func LoadIndirect(t *cil.Type) cil.OpCode {
	switch t.Kind {
	case cil.KindEnum, cil.KindInt32:
		return cil.LdindI4
	case cil.KindFloat32:
		return cil.LdindR4
	case cil.KindFloat64:
		return cil.LdindR8
	case cil.KindUInt8, cil.KindBool:
		return cil.LdindU1
	case cil.KindUInt16, cil.KindChar:
		return cil.LdindU2
	case cil.KindUInt32:
		return cil.LdindU4
	case cil.KindInt64, cil.KindUInt64:
		return cil.LdindI8
	case cil.KindInt8:
		return cil.LdindI1
	case cil.KindInt16:
		return cil.LdindI2
	case cil.KindIntPtr, cil.KindUIntPtr:
		return cil.LdindI
	}
	return cil.LdindRef
}
