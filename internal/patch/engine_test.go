// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package patch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dotandev/ilpatch/internal/cil"
	"github.com/dotandev/ilpatch/internal/errors"
	"github.com/dotandev/ilpatch/internal/filelog"
	"github.com/dotandev/ilpatch/internal/journal"
	"github.com/dotandev/ilpatch/internal/transpile"
	"github.com/dotandev/ilpatch/internal/vm"
)

var (
	calcType  = cil.ClassType("Demo", "Calc")
	hooksType = cil.ClassType("Demo", "Hooks")

	bodyRan  = &cil.Field{Name: "bodyRan", DeclaringType: calcType, Type: cil.TypeInt32, Static: true}
	observed = &cil.Field{Name: "observed", DeclaringType: hooksType, Type: cil.TypeInt32, Static: true}
	trail    = &cil.Field{Name: "trail", DeclaringType: hooksType, Type: cil.TypeInt32, Static: true}
)

func param(name string, t *cil.Type) *cil.Param {
	return &cil.Param{Name: name, Type: t}
}

func method(owner *cil.Type, name string, ret *cil.Type, params ...*cil.Param) *cil.Method {
	for i, p := range params {
		p.Position = i
	}
	return &cil.Method{Name: name, DeclaringType: owner, Static: true, Return: ret, Params: params}
}

// fixture is a VM with a patchable Double(x) = x*2 and a few hooks.
type fixture struct {
	t      *testing.T
	vm     *vm.VM
	engine *Engine

	double  *cil.Method
	pass    *cil.Method // bool Pass(int x) => x > 0
	veto    *cil.Method // bool Veto() => false
	observe *cil.Method // void Observe(int __result) => observed = __result
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{t: t, vm: vm.New()}

	f.double = f.define(method(calcType, "Double", cil.TypeInt32, param("x", cil.TypeInt32)), func(a *vm.Assembler) {
		a.Op(cil.LdcI41).Op(cil.Stsfld, bodyRan).
			Op(cil.Ldarg0).Op(cil.LdcI42).Op(cil.Mul).Op(cil.Ret)
	})
	f.pass = f.define(method(hooksType, "Pass", cil.TypeBool, param("x", cil.TypeInt32)), func(a *vm.Assembler) {
		a.Op(cil.Ldarg0).Op(cil.LdcI40).Op(cil.Cgt).Op(cil.Ret)
	})
	f.veto = f.define(method(hooksType, "Veto", cil.TypeBool), func(a *vm.Assembler) {
		a.Op(cil.LdcI40).Op(cil.Ret)
	})
	f.observe = f.define(method(hooksType, "Observe", cil.TypeVoid, param(ResultParam, cil.TypeInt32)), func(a *vm.Assembler) {
		a.Op(cil.Ldarg0).Op(cil.Stsfld, observed).Op(cil.Ret)
	})

	e, err := NewEngine("test.engine", f.vm, opts...)
	require.NoError(t, err)
	f.engine = e
	return f
}

func (f *fixture) define(m *cil.Method, build func(a *vm.Assembler)) *cil.Method {
	f.t.Helper()
	require.NoError(f.t, f.vm.Assemble(m, build))
	return m
}

func (f *fixture) invoke(m *cil.Method, args ...any) vm.Value {
	f.t.Helper()
	got, err := f.vm.Invoke(m, args...)
	require.NoError(f.t, err)
	return got
}

func TestPatch_PrefixPassesAndPostfixSeesResult(t *testing.T) {
	f := newFixture(t)
	g, err := f.engine.Patch(context.Background(), f.double, NewHook(f.pass), NewHook(f.observe), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, g.Number)
	assert.Equal(t, "Double_Patch1", g.Replacement.Name)

	assert.Equal(t, int32(42), f.invoke(f.double, 21))
	assert.Equal(t, int32(42), f.vm.Static(observed))
	assert.Equal(t, int32(1), f.vm.Static(bodyRan))
}

func TestPatch_FalsePrefixSkipsBody(t *testing.T) {
	f := newFixture(t)
	f.vm.SetStatic(observed, -5)
	_, err := f.engine.Patch(context.Background(), f.double, NewHook(f.veto), NewHook(f.observe), nil)
	require.NoError(t, err)

	assert.Equal(t, int32(0), f.invoke(f.double, 21), "result keeps its default")
	assert.Equal(t, int32(0), f.vm.Static(bodyRan), "body skipped")
	assert.Equal(t, int32(0), f.vm.Static(observed), "postfix still runs")
}

func TestPatch_PrefixOrder(t *testing.T) {
	f := newFixture(t)
	mark := func(name string, id int32) *cil.Method {
		return f.define(method(hooksType, name, cil.TypeVoid), func(a *vm.Assembler) {
			a.Op(cil.Ldsfld, trail).Op(cil.LdcI4S, cil.Int8(10)).Op(cil.Mul).
				Op(cil.LdcI4, cil.Int32(id)).Op(cil.Add).Op(cil.Stsfld, trail).Op(cil.Ret)
		})
	}
	a, b, c := mark("A", 1), mark("B", 2), mark("C", 3)

	ctx := context.Background()
	_, err := f.engine.PatchAs(ctx, "A", f.double, NewHook(a).WithPriority(100), nil, nil)
	require.NoError(t, err)
	_, err = f.engine.PatchAs(ctx, "B", f.double, NewHook(b).WithBefore("A"), nil, nil)
	require.NoError(t, err)
	_, err = f.engine.PatchAs(ctx, "C", f.double, NewHook(c).WithPriority(500), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, int32(14), f.invoke(f.double, 7))
	assert.Equal(t, int32(231), f.vm.Static(trail), "B, C, A")
	assert.Len(t, f.engine.Generations(f.double), 3)
	info, ok := f.engine.PatchInfo(f.double)
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B", "C"}, info.Owners())
}

func TestPatch_BindingErrorsLeaveOriginalUnpatched(t *testing.T) {
	touch := func(f *fixture) *cil.Method {
		return f.define(method(calcType, "Touch", cil.TypeVoid), func(a *vm.Assembler) {
			a.Op(cil.Ret)
		})
	}
	tests := []struct {
		name    string
		patch   func(f *fixture) (*cil.Method, *Hook, *Hook)
		message string
	}{
		{
			name: "unknown parameter",
			patch: func(f *fixture) (*cil.Method, *Hook, *Hook) {
				return f.double, nil, NewHook(method(hooksType, "Odd", cil.TypeVoid, param("missing", cil.TypeInt32)))
			},
			message: `parameter "missing"`,
		},
		{
			name: "prefix returning int",
			patch: func(f *fixture) (*cil.Method, *Hook, *Hook) {
				return f.double, NewHook(method(hooksType, "Count", cil.TypeInt32)), nil
			},
			message: "want void or bool",
		},
		{
			name: "postfix returning bool",
			patch: func(f *fixture) (*cil.Method, *Hook, *Hook) {
				return f.double, nil, NewHook(method(hooksType, "Check", cil.TypeBool))
			},
			message: "want void",
		},
		{
			name: "result of void original",
			patch: func(f *fixture) (*cil.Method, *Hook, *Hook) {
				return touch(f), nil, NewHook(f.observe)
			},
			message: "returns void",
		},
		{
			name: "state without prefix",
			patch: func(f *fixture) (*cil.Method, *Hook, *Hook) {
				return f.double, nil, NewHook(method(hooksType, "Late", cil.TypeVoid, param(StateParam, cil.TypeInt32)))
			},
			message: "no prefix declaring it",
		},
		{
			name: "instance hook",
			patch: func(f *fixture) (*cil.Method, *Hook, *Hook) {
				m := method(hooksType, "Member", cil.TypeVoid)
				m.Static = false
				return f.double, NewHook(m), nil
			},
			message: "must be static",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			original, prefix, postfix := tt.patch(f)
			_, err := f.engine.Patch(context.Background(), original, prefix, postfix, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrBinding), err.Error())
			assert.Contains(t, err.Error(), tt.message)
			assert.Contains(t, err.Error(), `engine "test.engine"`)

			_, ok := f.engine.PatchInfo(original)
			assert.False(t, ok)
			assert.Empty(t, f.engine.Generations(original))
			assert.Equal(t, int32(42), f.invoke(f.double, 21))
		})
	}
}

func TestPatch_ExceptionRegionsSurvive(t *testing.T) {
	f := newFixture(t)
	safeDivide := f.define(method(calcType, "SafeDivide", cil.TypeInt32, param("d", cil.TypeInt32)), func(a *vm.Assembler) {
		r := a.DeclareLocal(cil.TypeInt32, false)
		a.BeginExceptionBlock()
		a.Op(cil.LdcI4, cil.Int32(100)).Op(cil.Ldarg0).Op(cil.Div).Op(cil.Stloc, r)
		require.NoError(t, a.BeginCatchBlock(vm.DivideByZero))
		a.Op(cil.Pop).Op(cil.LdcI4M1).Op(cil.Stloc, r)
		require.NoError(t, a.EndExceptionBlock())
		a.Op(cil.Ldloc, r).Op(cil.Ret)
	})

	_, err := f.engine.Patch(context.Background(), safeDivide, nil, NewHook(f.observe), nil)
	require.NoError(t, err)

	assert.Equal(t, int32(20), f.invoke(safeDivide, 5))
	assert.Equal(t, int32(20), f.vm.Static(observed))
	assert.Equal(t, int32(-1), f.invoke(safeDivide, 0))
	assert.Equal(t, int32(-1), f.vm.Static(observed))
}

func TestPatch_InstanceAndState(t *testing.T) {
	f := newFixture(t)
	counter := cil.ClassType("Demo", "Counter")
	total := &cil.Field{Name: "total", DeclaringType: counter, Type: cil.TypeInt32}
	delta := &cil.Field{Name: "delta", DeclaringType: hooksType, Type: cil.TypeInt32, Static: true}

	add := &cil.Method{Name: "Add", DeclaringType: counter, Return: cil.TypeVoid,
		Params: []*cil.Param{param("n", cil.TypeInt32)}}
	f.define(add, func(a *vm.Assembler) {
		a.Op(cil.Ldarg0).Op(cil.Ldarg0).Op(cil.Ldfld, total).Op(cil.Ldarg1).Op(cil.Add).Op(cil.Stfld, total).Op(cil.Ret)
	})

	stateHooks := cil.ClassType("Demo", "StateHooks")
	before := f.define(method(stateHooks, "Before", cil.TypeVoid,
		param(InstanceParam, counter), param(StateParam, cil.ByRefOf(cil.TypeInt32))), func(a *vm.Assembler) {
		a.Op(cil.Ldarg1).Op(cil.Ldarg0).Op(cil.Ldfld, total).Op(cil.StindI4).Op(cil.Ret)
	})
	after := f.define(method(stateHooks, "After", cil.TypeVoid,
		param(InstanceParam, counter), param(StateParam, cil.TypeInt32)), func(a *vm.Assembler) {
		a.Op(cil.Ldarg0).Op(cil.Ldfld, total).Op(cil.Ldarg1).Op(cil.Sub).Op(cil.Stsfld, delta).Op(cil.Ret)
	})

	_, err := f.engine.Patch(context.Background(), add, NewHook(before), NewHook(after), nil)
	require.NoError(t, err)

	obj := vm.NewObject(counter)
	obj.Fields["total"] = int32(10)
	f.invoke(add, obj, 5)
	assert.Equal(t, int32(15), obj.Fields["total"])
	assert.Equal(t, int32(5), f.vm.Static(delta))
}

func TestPatch_OriginalMethodAndStaticInstance(t *testing.T) {
	f := newFixture(t)
	seen := &cil.Field{Name: "seen", DeclaringType: hooksType, Type: cil.TypeMethod, Static: true}
	self := &cil.Field{Name: "self", DeclaringType: hooksType, Type: cil.TypeObject, Static: true}
	who := f.define(method(hooksType, "Who", cil.TypeVoid,
		param(OriginalMethodParam, cil.TypeMethod), param(InstanceParam, cil.TypeObject)), func(a *vm.Assembler) {
		a.Op(cil.Ldarg0).Op(cil.Stsfld, seen).Op(cil.Ldarg1).Op(cil.Stsfld, self).Op(cil.Ret)
	})
	f.vm.SetStatic(self, "not yet")

	_, err := f.engine.Patch(context.Background(), f.double, NewHook(who), nil, nil)
	require.NoError(t, err)
	f.invoke(f.double, 1)
	assert.Same(t, f.double, f.vm.Static(seen))
	assert.Nil(t, f.vm.Static(self), "static originals have no instance")
}

func TestPatch_NamedParameterBinding(t *testing.T) {
	f := newFixture(t)

	scale := f.define(method(calcType, "Scale", cil.TypeInt32,
		param("x", cil.TypeInt32), param("factor", cil.TypeInt32)), func(a *vm.Assembler) {
		a.Op(cil.Ldarg0).Op(cil.Ldarg1).Op(cil.Mul).Op(cil.Ret)
	})
	renamed := &cil.Param{Name: "f", Type: cil.ByRefOf(cil.TypeInt32), Rename: "factor"}
	adjust := f.define(method(hooksType, "Adjust", cil.TypeVoid, renamed), func(a *vm.Assembler) {
		a.Op(cil.Ldarg0).Op(cil.LdcI43).Op(cil.StindI4).Op(cil.Ret)
	})
	_, err := f.engine.Patch(context.Background(), scale, NewHook(adjust), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(21), f.invoke(scale, 7, 2), "prefix writes the argument by reference")

	inc := f.define(method(calcType, "Inc", cil.TypeVoid, param("counter", cil.ByRefOf(cil.TypeInt32))), func(a *vm.Assembler) {
		a.Op(cil.Ldarg0).Op(cil.Ldarg0).Op(cil.LdindI4).Op(cil.LdcI41).Op(cil.Add).Op(cil.StindI4).Op(cil.Ret)
	})
	peek := f.define(method(hooksType, "Peek", cil.TypeVoid, param("counter", cil.TypeInt32)), func(a *vm.Assembler) {
		a.Op(cil.Ldarg0).Op(cil.Stsfld, observed).Op(cil.Ret)
	})
	_, err = f.engine.Patch(context.Background(), inc, nil, NewHook(peek), nil)
	require.NoError(t, err)
	ref := vm.NewRef(int32(5))
	f.invoke(inc, ref)
	assert.Equal(t, int32(6), ref.Load())
	assert.Equal(t, int32(6), f.vm.Static(observed), "by-ref original, by-value hook dereferences")

	renameHooks := cil.ClassType("Demo", "RenameHooks")
	renameHooks.ParamRenames = []cil.ParamRename{{OriginalName: "x", NewName: "typeLevel"}}
	byType := f.define(method(renameHooks, "ByType", cil.TypeVoid, param("typeLevel", cil.TypeInt32)), func(a *vm.Assembler) {
		a.Op(cil.Ldarg0).Op(cil.Stsfld, trail).Op(cil.Ret)
	})
	byMethod := method(renameHooks, "ByMethod", cil.TypeVoid, param("input", cil.TypeInt32))
	byMethod.ParamRenames = []cil.ParamRename{{OriginalName: "x", NewName: "input"}}
	f.define(byMethod, func(a *vm.Assembler) {
		a.Op(cil.Ldarg0).Op(cil.Stsfld, observed).Op(cil.Ret)
	})
	_, err = f.engine.Patch(context.Background(), f.double, NewHook(byType), NewHook(byMethod), nil)
	require.NoError(t, err)
	f.invoke(f.double, 9)
	assert.Equal(t, int32(9), f.vm.Static(trail))
	assert.Equal(t, int32(9), f.vm.Static(observed))
}

func TestPatch_Transpiler(t *testing.T) {
	f := newFixture(t)
	hello := f.define(method(calcType, "Hello", cil.TypeString), func(a *vm.Assembler) {
		a.Op(cil.Ldstr, cil.String("hello")).Op(cil.Ret)
	})
	bye := f.define(method(calcType, "Bye", cil.TypeString), func(a *vm.Assembler) {
		a.Op(cil.Ldstr, cil.String("bye")).Op(cil.Ret)
	})
	greet := f.define(method(calcType, "Greet", cil.TypeString), func(a *vm.Assembler) {
		a.Op(cil.Call, hello).Op(cil.Ret)
	})

	_, err := f.engine.Patch(context.Background(), greet, nil, nil,
		NewTranspiler("swap", transpile.MethodReplacer(hello, bye)))
	require.NoError(t, err)
	assert.Equal(t, "bye", f.invoke(greet))
	assert.Equal(t, "hello", f.invoke(hello))
}

func TestUnpatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	observeHook := NewHook(f.observe)
	_, err := f.engine.PatchAs(ctx, "A", f.double, NewHook(f.veto), nil, nil)
	require.NoError(t, err)
	_, err = f.engine.PatchAs(ctx, "B", f.double, nil, observeHook, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(0), f.invoke(f.double, 21))

	g, err := f.engine.Unpatch(ctx, f.double, KindPrefix, "A")
	require.NoError(t, err)
	assert.Equal(t, 3, g.Number)
	assert.Equal(t, int32(42), f.invoke(f.double, 21))
	assert.Equal(t, int32(42), f.vm.Static(observed))

	g, err = f.engine.UnpatchHook(ctx, f.double, observeHook)
	require.NoError(t, err)
	assert.Equal(t, 4, g.Number)
	assert.True(t, g.Info.Empty())
	f.vm.SetStatic(observed, 0)
	assert.Equal(t, int32(8), f.invoke(f.double, 4))
	assert.Equal(t, int32(0), f.vm.Static(observed))

	g, err = f.engine.Unpatch(ctx, f.double, KindAll, "nobody")
	require.NoError(t, err)
	assert.Equal(t, 4, g.Number, "nothing removed, nothing installed")

	_, err = f.engine.Unpatch(ctx, f.pass, KindAll, "")
	assert.True(t, errors.Is(err, errors.ErrNotPatched))
}

func TestPatch_GenerationsAreRetained(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.engine.Patch(ctx, f.double, NewHook(f.veto), nil, nil)
	require.NoError(t, err)
	second, err := f.engine.Unpatch(ctx, f.double, KindAll, "")
	require.NoError(t, err)

	assert.Equal(t, first.From, second.From)
	assert.NotEqual(t, first.To, second.To)
	assert.Equal(t, int32(42), f.invoke(f.double, 21))
	assert.Equal(t, int32(0), f.invoke(first.Replacement, 21), "the old replacement still runs")
	assert.Equal(t, []*cil.Method{f.double}, f.engine.PatchedMethods())
}

func TestPatch_RedirectionFailure(t *testing.T) {
	f := newFixture(t)
	f.vm.Heap().DenyUnprotect = true
	_, err := f.engine.Patch(context.Background(), f.double, NewHook(f.veto), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRedirection))
	_, ok := f.engine.PatchInfo(f.double)
	assert.False(t, ok)
	assert.Equal(t, int32(42), f.invoke(f.double, 21))
}

func TestSnapshotRestore(t *testing.T) {
	noop := func(_ *transpile.Context, in []*transpile.CodeInstruction) ([]*transpile.CodeInstruction, error) {
		return in, nil
	}
	ctx := context.Background()
	src := newFixture(t)
	_, err := src.engine.PatchAs(ctx, "A", src.double,
		NewHook(src.pass).WithPriority(High).WithRequires("1.0.0"),
		NewHook(src.observe).WithAfter("B"),
		NewTranspiler("noop", noop))
	require.NoError(t, err)
	data, err := src.engine.Snapshot()
	require.NoError(t, err)

	dst := newFixture(t)
	catalog := NewCatalog().AddMethods(dst.double, dst.pass, dst.observe).AddTranspiler("noop", noop)
	gens, err := dst.engine.Restore(ctx, data, catalog)
	require.NoError(t, err)
	require.Len(t, gens, 1)

	assert.Equal(t, int32(42), dst.invoke(dst.double, 21))
	assert.Equal(t, int32(42), dst.vm.Static(observed))
	info, ok := dst.engine.PatchInfo(dst.double)
	require.True(t, ok)
	require.Len(t, info.Prefixes, 1)
	assert.Equal(t, "A", info.Prefixes[0].Owner)
	assert.Equal(t, High, info.Prefixes[0].Priority)
	assert.Equal(t, "1.0.0", info.Prefixes[0].Hook.Requires)
	assert.Equal(t, []string{"B"}, info.Postfixes[0].After)
	assert.Len(t, info.Transpilers, 1)

	again, err := src.engine.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, data, again, "canonical encoding is deterministic")
}

func TestRestore_Rejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, format := range []string{"2.1.0", "garbage"} {
		data, err := MarshalSnapshot(&Snapshot{Format: format})
		require.NoError(t, err)
		_, err = f.engine.Restore(ctx, data, NewCatalog())
		assert.True(t, errors.Is(err, errors.ErrSnapshotVersion), format)
	}

	data, err := MarshalSnapshot(&Snapshot{Format: SnapshotFormat, Methods: []MethodSnapshot{{
		Method:   f.double.FullName(),
		Prefixes: []PatchSnapshot{{Owner: "A", Priority: Normal, Hook: "Demo.Hooks::Gone()"}},
	}}})
	require.NoError(t, err)
	_, err = f.engine.Restore(ctx, data, NewCatalog().AddMethods(f.double))
	assert.ErrorContains(t, err, "Gone")
	assert.Empty(t, f.engine.PatchedMethods(), "nothing installed")

	_, err = f.engine.Restore(ctx, []byte{0xFF}, NewCatalog())
	assert.Error(t, err)
}

type memRecorder struct {
	entries []journal.Entry
}

func (m *memRecorder) Record(_ context.Context, e journal.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func TestPatch_Journal(t *testing.T) {
	rec := &memRecorder{}
	f := newFixture(t, WithRecorder(rec))
	g, err := f.engine.Patch(context.Background(), f.double, NewHook(f.pass), NewHook(f.observe), nil)
	require.NoError(t, err)

	require.Len(t, rec.entries, 1)
	e := rec.entries[0]
	assert.Equal(t, "test.engine", e.Engine)
	assert.Equal(t, f.double.FullName(), e.Method)
	assert.Equal(t, 1, e.Generation)
	assert.Equal(t, "Double_Patch1", e.Replacement)
	assert.Equal(t, 1, e.Prefixes)
	assert.Equal(t, 1, e.Postfixes)
	assert.Equal(t, []string{"test.engine"}, e.Owners)
	assert.Equal(t, g.From, e.From)
	assert.Equal(t, g.To, e.To)

	s, err := UnmarshalSnapshot(e.Snapshot)
	require.NoError(t, err)
	require.Len(t, s.Methods, 1)
	assert.Equal(t, f.pass.FullName(), s.Methods[0].Prefixes[0].Hook)
}

func TestPatch_SQLiteJournal(t *testing.T) {
	store, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	f := newFixture(t, WithRecorder(store), WithTeardown("journal", func(context.Context) error {
		return store.Close()
	}))
	ctx := context.Background()
	_, err = f.engine.Patch(ctx, f.double, NewHook(f.veto), nil, nil)
	require.NoError(t, err)
	_, err = f.engine.Unpatch(ctx, f.double, KindAll, "")
	require.NoError(t, err)

	entries, err := store.Search(ctx, journal.Query{Method: f.double.FullName()})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries[0].Generation)
	assert.Equal(t, 0, entries[0].Prefixes)
	require.NoError(t, f.engine.Close(ctx))
}

func TestPatch_Spans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	f := newFixture(t, WithTracer(tp.Tracer("test")))

	_, err := f.engine.Patch(context.Background(), f.double, NewHook(f.pass), nil, nil)
	require.NoError(t, err)
	var names []string
	for _, s := range rec.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"ilpatch.compose", "ilpatch.redirect", "ilpatch.patch"}, names)

	_, err = f.engine.Patch(context.Background(), f.double, NewHook(method(hooksType, "Bad", cil.TypeInt32)), nil, nil)
	require.Error(t, err)
	ended := rec.Ended()
	last := ended[len(ended)-1]
	assert.Equal(t, "ilpatch.patch", last.Name())
	assert.Equal(t, codes.Error, last.Status().Code)
}

func TestPatch_DebugTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.log")
	f := newFixture(t, WithTrace(filelog.New(path)))
	_, err := f.engine.Patch(context.Background(), f.double, NewHook(f.pass), nil, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "### Patch Demo.Calc::Double(System.Int32)")
	assert.Contains(t, text, "call System.Boolean Demo.Hooks::Pass(System.Int32)")
	assert.Contains(t, text, "brfalse Label")
	assert.Contains(t, text, "DONE")
}

func TestVersionInfo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.PatchAs(ctx, "A", f.double, NewHook(f.pass).WithRequires("0.9.0"), nil, nil)
	require.NoError(t, err)
	_, err = f.engine.PatchAs(ctx, "A", f.double, nil, NewHook(f.observe).WithRequires("1.0.0"), nil)
	require.NoError(t, err)
	_, err = f.engine.PatchAs(ctx, "B", f.double, NewHook(f.veto), nil, nil)
	require.NoError(t, err)

	engine, owners := f.engine.VersionInfo()
	assert.Equal(t, Version, engine.String())
	require.Len(t, owners, 1)
	assert.Equal(t, "1.0.0", owners["A"].String())

	_, err = f.engine.Patch(ctx, f.double, NewHook(f.pass).WithRequires("2.0.0"), nil, nil)
	assert.True(t, errors.Is(err, errors.ErrValidation))
	_, err = f.engine.Patch(ctx, f.double, NewHook(f.pass).WithRequires("not-a-version"), nil, nil)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestEngine_Close(t *testing.T) {
	var order []string
	f := newFixture(t,
		WithTeardown("first", func(context.Context) error { order = append(order, "first"); return nil }),
		WithTeardown("second", func(context.Context) error { order = append(order, "second"); return nil }))

	require.NoError(t, f.engine.Close(context.Background()))
	assert.Equal(t, []string{"second", "first"}, order)
	_, err := f.engine.Patch(context.Background(), f.double, NewHook(f.pass), nil, nil)
	assert.ErrorContains(t, err, "closed")

	_, err = NewEngine("", f.vm)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}
