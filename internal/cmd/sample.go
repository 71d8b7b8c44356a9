// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dotandev/ilpatch/internal/cil"
	"github.com/dotandev/ilpatch/internal/patch"
	"github.com/dotandev/ilpatch/internal/transpile"
	"github.com/dotandev/ilpatch/internal/vm"
)

// sample is the small program the demo and disasm commands work on.
type sample struct {
	vm *vm.VM

	double *cil.Method // int Calculator.Double(int x)
	divide *cil.Method // int Calculator.SafeDivide(int d)
	clamp  *cil.Method // bool Guards.Clamp(ref int x)
	audit  *cil.Method // void Guards.Audit(int __result)
	trace  *cil.Method // void Console.Trace(string)

	calls *cil.Field
	last  *cil.Field

	mu    sync.Mutex
	lines []string
}

func newSample(opts ...vm.Option) (*sample, error) {
	s := &sample{vm: vm.New(opts...)}
	calculator := cil.ClassType("Sample", "Calculator")
	guards := cil.ClassType("Sample", "Guards")
	console := cil.ClassType("Sample", "Console")

	s.calls = &cil.Field{Name: "calls", DeclaringType: guards, Type: cil.TypeInt32, Static: true}
	s.last = &cil.Field{Name: "last", DeclaringType: guards, Type: cil.TypeInt32, Static: true}

	s.double = staticMethod(calculator, "Double", cil.TypeInt32, "x", cil.TypeInt32)
	s.divide = staticMethod(calculator, "SafeDivide", cil.TypeInt32, "d", cil.TypeInt32)
	s.clamp = staticMethod(guards, "Clamp", cil.TypeBool, "x", cil.ByRefOf(cil.TypeInt32))
	s.audit = staticMethod(guards, "Audit", cil.TypeVoid, patch.ResultParam, cil.TypeInt32)
	s.trace = staticMethod(console, "Trace", cil.TypeVoid, "text", cil.TypeString)

	s.vm.DefineNative(s.trace, func(args []vm.Value) (vm.Value, error) {
		text, _ := args[0].(string)
		s.mu.Lock()
		s.lines = append(s.lines, text)
		s.mu.Unlock()
		return nil, nil
	})

	steps := []struct {
		m     *cil.Method
		build func(a *vm.Assembler)
	}{
		{s.double, func(a *vm.Assembler) {
			a.Op(cil.Ldarg0).Op(cil.LdcI42).Op(cil.Mul).Op(cil.Ret)
		}},
		{s.divide, func(a *vm.Assembler) {
			r := a.DeclareLocal(cil.TypeInt32, false)
			a.BeginExceptionBlock()
			a.Op(cil.LdcI4, cil.Int32(100)).Op(cil.Ldarg0).Op(cil.Div).Op(cil.Stloc, r)
			if err := a.BeginCatchBlock(vm.DivideByZero); err != nil {
				return
			}
			a.Op(cil.Pop).Op(cil.LdcI4M1).Op(cil.Stloc, r)
			if err := a.EndExceptionBlock(); err != nil {
				return
			}
			a.Op(cil.Ldloc, r).Op(cil.Ret)
		}},
		{s.clamp, func(a *vm.Assembler) {
			ok := a.DefineLabel()
			a.Op(cil.Ldarg0).Op(cil.LdindI4).Op(cil.LdcI4S, cil.Int8(100)).Op(cil.Ble, ok).
				Op(cil.Ldarg0).Op(cil.LdcI4S, cil.Int8(100)).Op(cil.StindI4).
				Mark(ok).Op(cil.LdcI41).Op(cil.Ret)
		}},
		{s.audit, func(a *vm.Assembler) {
			a.Op(cil.Ldsfld, s.calls).Op(cil.LdcI41).Op(cil.Add).Op(cil.Stsfld, s.calls).
				Op(cil.Ldarg0).Op(cil.Stsfld, s.last).Op(cil.Ret)
		}},
	}
	for _, st := range steps {
		if err := s.vm.Assemble(st.m, st.build); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func staticMethod(owner *cil.Type, name string, ret *cil.Type, param string, pt *cil.Type) *cil.Method {
	return &cil.Method{
		Name:          name,
		DeclaringType: owner,
		Static:        true,
		Return:        ret,
		Params:        []*cil.Param{{Name: param, Type: pt}},
	}
}

// methods lists the IL-bodied sample methods by full name.
func (s *sample) methods() map[string]*cil.Method {
	out := map[string]*cil.Method{}
	for _, m := range []*cil.Method{s.double, s.divide, s.clamp, s.audit} {
		out[m.FullName()] = m
	}
	return out
}

// find matches name against full names, then plain "Type::Method" and
// method names.
func (s *sample) find(name string) (*cil.Method, error) {
	all := s.methods()
	if m, ok := all[name]; ok {
		return m, nil
	}
	var hits []*cil.Method
	for _, m := range all {
		short := m.DeclaringType.Name + "::" + m.Name
		if strings.EqualFold(name, m.Name) || strings.EqualFold(name, short) {
			hits = append(hits, m)
		}
	}
	switch len(hits) {
	case 1:
		return hits[0], nil
	case 0:
		return nil, fmt.Errorf("unknown method %q (have %s)", name, strings.Join(s.names(), ", "))
	}
	return nil, fmt.Errorf("method %q is ambiguous", name)
}

func (s *sample) names() []string {
	var out []string
	for name := range s.methods() {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// catalog resolves the sample's hooks by name for snapshot restores.
func (s *sample) catalog() *patch.Catalog {
	return patch.NewCatalog().
		AddMethods(s.double, s.divide, s.clamp, s.audit).
		AddTranspiler(traceTranspiler, s.traceTranspiler())
}

const (
	clampOwner      = "sample.clamp"
	traceOwner      = "sample.trace"
	traceTranspiler = "sample.trace.entered"
)

func (s *sample) traceTranspiler() transpile.Func {
	return transpile.DebugLogger("SafeDivide entered", s.trace)
}

// apply installs the sample patches: Double gets Clamp and Audit,
// SafeDivide gets the trace transpiler and Audit.
func (s *sample) apply(ctx context.Context, e *patch.Engine) ([]*patch.Generation, error) {
	var gens []*patch.Generation
	g, err := e.PatchAs(ctx, clampOwner, s.double, patch.NewHook(s.clamp).WithPriority(patch.High), patch.NewHook(s.audit), nil)
	if err != nil {
		return nil, err
	}
	gens = append(gens, g)
	g, err = e.PatchAs(ctx, traceOwner, s.divide, nil, patch.NewHook(s.audit),
		patch.NewTranspiler(traceTranspiler, s.traceTranspiler()))
	if err != nil {
		return nil, err
	}
	return append(gens, g), nil
}

func (s *sample) traced() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}
