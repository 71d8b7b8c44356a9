// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package methodbody

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandev/ilpatch/internal/cil"
	"github.com/dotandev/ilpatch/internal/errors"
)

type fakeModule struct {
	strings map[int32]string
	members map[int32]cil.Member
}

func (m *fakeModule) Name() string { return "fake" }

func (m *fakeModule) member(token int32) (cil.Member, error) {
	v, ok := m.members[token]
	if !ok {
		return nil, fmt.Errorf("unknown token 0x%08x", token)
	}
	return v, nil
}

func (m *fakeModule) ResolveField(token int32, _, _ []*cil.Type) (*cil.Field, error) {
	v, err := m.member(token)
	if err != nil {
		return nil, err
	}
	f, ok := v.(*cil.Field)
	if !ok {
		return nil, fmt.Errorf("token 0x%08x is not a field", token)
	}
	return f, nil
}

func (m *fakeModule) ResolveMethod(token int32, _, _ []*cil.Type) (*cil.Method, error) {
	v, err := m.member(token)
	if err != nil {
		return nil, err
	}
	mm, ok := v.(*cil.Method)
	if !ok {
		return nil, fmt.Errorf("token 0x%08x is not a method", token)
	}
	return mm, nil
}

func (m *fakeModule) ResolveType(token int32, _, _ []*cil.Type) (*cil.Type, error) {
	v, err := m.member(token)
	if err != nil {
		return nil, err
	}
	t, ok := v.(*cil.Type)
	if !ok {
		return nil, fmt.Errorf("token 0x%08x is not a type", token)
	}
	return t, nil
}

func (m *fakeModule) ResolveMember(token int32, _, _ []*cil.Type) (cil.Member, error) {
	return m.member(token)
}

func (m *fakeModule) ResolveString(token int32) (string, error) {
	s, ok := m.strings[token]
	if !ok {
		return "", fmt.Errorf("unknown string 0x%08x", token)
	}
	return s, nil
}

func (m *fakeModule) ResolveSignature(token int32) (*cil.Signature, error) {
	return nil, fmt.Errorf("no signatures")
}

// countingGen declares locals and labels and ignores emission.
type countingGen struct {
	labels int
	locals []*cil.LocalBuilder
}

func (g *countingGen) DefineLabel() cil.Label {
	g.labels++
	return cil.Label(g.labels - 1)
}
func (g *countingGen) MarkLabel(cil.Label) error { return nil }
func (g *countingGen) DeclareLocal(t *cil.Type, pinned bool) *cil.LocalBuilder {
	l := &cil.LocalBuilder{Index: len(g.locals), Type: t, Pinned: pinned}
	g.locals = append(g.locals, l)
	return l
}
func (g *countingGen) Offset() int                                    { return 0 }
func (g *countingGen) Emit(cil.OpCode) error                          { return nil }
func (g *countingGen) EmitLabel(cil.OpCode, cil.Label) error          { return nil }
func (g *countingGen) EmitLabels(cil.OpCode, []cil.Label) error       { return nil }
func (g *countingGen) EmitLocal(cil.OpCode, *cil.LocalBuilder) error  { return nil }
func (g *countingGen) EmitField(cil.OpCode, *cil.Field) error         { return nil }
func (g *countingGen) EmitMethod(cil.OpCode, *cil.Method) error       { return nil }
func (g *countingGen) EmitType(cil.OpCode, *cil.Type) error           { return nil }
func (g *countingGen) EmitString(cil.OpCode, string) error            { return nil }
func (g *countingGen) EmitSignature(cil.OpCode, *cil.Signature) error { return nil }
func (g *countingGen) EmitInt(cil.OpCode, int64) error                { return nil }
func (g *countingGen) EmitFloat(cil.OpCode, float64) error            { return nil }
func (g *countingGen) BeginExceptionBlock() cil.Label                 { return g.DefineLabel() }
func (g *countingGen) BeginCatchBlock(*cil.Type) error                { return nil }
func (g *countingGen) BeginExceptFilterBlock() error                  { return nil }
func (g *countingGen) BeginFaultBlock() error                         { return nil }
func (g *countingGen) BeginFinallyBlock() error                       { return nil }
func (g *countingGen) EndExceptionBlock() error                       { return nil }

func staticMethod(mod cil.Module, params ...*cil.Param) *cil.Method {
	return &cil.Method{
		Name:          "Run",
		DeclaringType: cil.ClassType("Demo", "Worker"),
		Static:        true,
		Return:        cil.TypeInt32,
		Params:        params,
		Module:        mod,
	}
}

func decode(t *testing.T, m *cil.Method, body *cil.MethodBody) []*cil.Instruction {
	t.Helper()
	r, err := NewReader(m, body, nil)
	require.NoError(t, err)
	require.NoError(t, r.ReadInstructions())
	return r.Instructions()
}

func TestReadInstructions_StraightLine(t *testing.T) {
	m := staticMethod(nil, &cil.Param{Name: "x", Type: cil.TypeInt32})
	// ldarg.0; ldc.i4.s 5; add; ret
	instrs := decode(t, m, &cil.MethodBody{IL: []byte{0x02, 0x1F, 0x05, 0x58, 0x2A}})

	require.Len(t, instrs, 4)
	assert.Equal(t, cil.Ldarg0, instrs[0].OpCode)
	assert.Equal(t, cil.LdcI4S, instrs[1].OpCode)
	assert.Equal(t, cil.Int8(5), instrs[1].Operand)
	assert.Equal(t, cil.Add, instrs[2].OpCode)
	assert.Equal(t, cil.Ret, instrs[3].OpCode)

	offsets := make([]int, len(instrs))
	for i, in := range instrs {
		offsets[i] = in.Offset
	}
	assert.Equal(t, []int{0, 1, 3, 4}, offsets)
}

func TestReadInstructions_NegativeShortImmediate(t *testing.T) {
	m := staticMethod(nil)
	instrs := decode(t, m, &cil.MethodBody{IL: []byte{0x1F, 0xFE, 0x2A}})
	assert.Equal(t, cil.Int8(-2), instrs[0].Operand)
	assert.Equal(t, int64(-2), instrs[0].Raw)
}

func TestReadInstructions_ResolvesBranchTargets(t *testing.T) {
	m := staticMethod(nil, &cil.Param{Name: "flag", Type: cil.TypeBool})
	// 0 ldarg.0; 1 brfalse.s +2; 3 ldc.i4.1; 4 ret; 5 ldc.i4.0; 6 ret
	instrs := decode(t, m, &cil.MethodBody{IL: []byte{0x02, 0x2C, 0x02, 0x17, 0x2A, 0x16, 0x2A}})

	require.Len(t, instrs, 6)
	br := instrs[1]
	assert.Equal(t, int64(5), br.Raw)
	assert.Same(t, instrs[4], br.Operand)
	assert.Same(t, instrs[4], br.Argument)
}

func TestReadInstructions_BranchIntoInstructionIsMalformed(t *testing.T) {
	m := staticMethod(nil)
	// br.s +1 lands inside the ldc.i4 operand
	body := &cil.MethodBody{IL: []byte{0x2B, 0x01, 0x20, 0, 0, 0, 0, 0x2A}}
	r, err := NewReader(m, body, nil)
	require.NoError(t, err)

	err = r.ReadInstructions()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMalformedInput)
	assert.Contains(t, err.Error(), "br.s at IL_0000")
}

func TestReadInstructions_Switch(t *testing.T) {
	m := staticMethod(nil, &cil.Param{Name: "n", Type: cil.TypeInt32})
	il := []byte{
		0x02,
		0x45, 0x02, 0, 0, 0, 0x02, 0, 0, 0, 0x04, 0, 0, 0,
		0x16, 0x2A,
		0x17, 0x2A,
		0x18, 0x2A,
	}
	instrs := decode(t, m, &cil.MethodBody{IL: il})

	sw := instrs[1]
	assert.Equal(t, []int32{16, 18}, sw.RawSwitch)
	assert.Equal(t, 13, sw.Size())
	targets, ok := sw.Operand.(cil.Targets)
	require.True(t, ok)
	require.Len(t, targets, 2)
	assert.Equal(t, 16, targets[0].Offset)
	assert.Equal(t, 18, targets[1].Offset)
}

func TestReadInstructions_ResolvesTokens(t *testing.T) {
	callee := &cil.Method{Name: "Log", DeclaringType: cil.ClassType("Demo", "Out"), Static: true,
		Params: []*cil.Param{{Name: "s", Type: cil.TypeString}}}
	mod := &fakeModule{
		strings: map[int32]string{0x70000001: "hello"},
		members: map[int32]cil.Member{0x06000002: callee},
	}
	m := staticMethod(mod)
	il := []byte{0x72, 0x01, 0, 0, 0x70, 0x28, 0x02, 0, 0, 0x06, 0x16, 0x2A}
	instrs := decode(t, m, &cil.MethodBody{IL: il})

	assert.Equal(t, cil.String("hello"), instrs[0].Operand)
	assert.Same(t, callee, instrs[1].Operand)
	assert.Equal(t, int64(0x06000002), instrs[1].Raw)
}

func TestReadInstructions_UnresolvableTokenIsMalformed(t *testing.T) {
	m := staticMethod(&fakeModule{})
	_, err := Decode(staticSource{&cil.MethodBody{IL: []byte{0x28, 0x09, 0, 0, 0x06, 0x2A}}}, m)
	assert.ErrorIs(t, err, errors.ErrMalformedInput)

	m.Module = nil
	_, err = Decode(staticSource{&cil.MethodBody{IL: []byte{0x28, 0x09, 0, 0, 0x06, 0x2A}}}, m)
	assert.ErrorIs(t, err, errors.ErrMalformedInput)
}

type staticSource struct{ body *cil.MethodBody }

func (s staticSource) Body(*cil.Method) (*cil.MethodBody, error) { return s.body, nil }

func TestReadInstructions_UnknownOpcode(t *testing.T) {
	m := staticMethod(nil)
	r, err := NewReader(m, &cil.MethodBody{IL: []byte{0x00, 0x24}}, nil)
	require.NoError(t, err)
	err = r.ReadInstructions()
	assert.ErrorIs(t, err, errors.ErrMalformedInput)
	assert.Contains(t, err.Error(), "0x24")
}

func TestReadInstructions_TruncatedOperand(t *testing.T) {
	m := staticMethod(nil)
	r, err := NewReader(m, &cil.MethodBody{IL: []byte{0x20, 0x01, 0x02}}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, r.ReadInstructions(), errors.ErrMalformedInput)
}

func TestReadInstructions_Variables(t *testing.T) {
	m := staticMethod(nil, &cil.Param{Name: "a", Type: cil.TypeInt32})
	locals := []*cil.LocalVar{{Index: 0, Type: cil.TypeInt32}, {Index: 1, Type: cil.TypeString}}
	// ldarg.s 0; stloc.s 1; ldloc.s 1; ret
	body := &cil.MethodBody{IL: []byte{0x0E, 0x00, 0x13, 0x01, 0x11, 0x01, 0x2A}, Locals: locals}

	gen := &countingGen{}
	r, err := NewReader(m, body, gen)
	require.NoError(t, err)
	r.DeclareVariables(nil)
	require.NoError(t, r.ReadInstructions())
	instrs := r.Instructions()

	require.Len(t, gen.locals, 2)
	assert.Same(t, m.Params[0], instrs[0].Operand)
	assert.Equal(t, cil.UInt8(0), instrs[0].Argument)
	assert.Same(t, locals[1], instrs[1].Operand)
	assert.Same(t, gen.locals[1], instrs[1].Argument)
	assert.Same(t, r.Variables()[1], instrs[2].Argument)
}

func TestReadInstructions_VariableOutOfRange(t *testing.T) {
	m := staticMethod(nil)
	r, err := NewReader(m, &cil.MethodBody{IL: []byte{0x11, 0x03, 0x2A}}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, r.ReadInstructions(), errors.ErrMalformedInput)

	r, err = NewReader(m, &cil.MethodBody{IL: []byte{0x0E, 0x00, 0x2A}}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, r.ReadInstructions(), errors.ErrMalformedInput)
}

func TestReadInstructions_TryCatchMarkers(t *testing.T) {
	m := staticMethod(nil)
	// 0 nop; 1 leave.s 6; 3 pop; 4 leave.s 6; 6 ldc.i4.0; 7 ret
	body := &cil.MethodBody{
		IL: []byte{0x00, 0xDE, 0x03, 0x26, 0xDE, 0x00, 0x16, 0x2A},
		Clauses: []cil.ExceptionClause{{
			Kind: cil.ClauseCatch, TryOffset: 0, TryLength: 3,
			HandlerOffset: 3, HandlerLength: 3, CatchType: cil.TypeError,
		}},
	}
	instrs := decode(t, m, body)

	require.Len(t, instrs, 6)
	assert.Equal(t, []cil.ExceptionBlock{{Type: cil.BeginExceptionBlock}}, instrs[0].Blocks)
	assert.Equal(t, []cil.ExceptionBlock{{Type: cil.BeginCatchBlock, CatchType: cil.TypeError}}, instrs[2].Blocks)
	assert.Equal(t, []cil.ExceptionBlock{{Type: cil.EndExceptionBlock}}, instrs[3].Blocks)
	assert.Empty(t, instrs[4].Blocks)
}

func TestReadInstructions_FilterMarkers(t *testing.T) {
	m := staticMethod(nil)
	// 0 nop; 1 leave.s 10; 3 pop; 4 ldc.i4.1; 5 endfilter; 7 pop; 8 leave.s 10; 10 ldc.i4.0; 11 ret
	body := &cil.MethodBody{
		IL: []byte{0x00, 0xDE, 0x07, 0x26, 0x17, 0xFE, 0x11, 0x26, 0xDE, 0x00, 0x16, 0x2A},
		Clauses: []cil.ExceptionClause{{
			Kind: cil.ClauseFilter, TryOffset: 0, TryLength: 3,
			FilterOffset: 3, HandlerOffset: 7, HandlerLength: 3,
		}},
	}
	instrs := decode(t, m, body)

	require.Len(t, instrs, 9)
	assert.Equal(t, cil.BeginExceptFilterBlock, instrs[2].Blocks[0].Type)
	assert.Equal(t, cil.BeginCatchBlock, instrs[5].Blocks[0].Type)
	assert.Nil(t, instrs[5].Blocks[0].CatchType)
	assert.Equal(t, cil.EndExceptionBlock, instrs[6].Blocks[0].Type)
}

func TestReadInstructions_SharedTryNestsMarkers(t *testing.T) {
	m := staticMethod(nil)
	// 0 nop; 1 leave.s 8; 3 pop; 4 leave.s 8; 6 nop; 7 endfinally; 8 ret
	body := &cil.MethodBody{
		IL: []byte{0x00, 0xDE, 0x05, 0x26, 0xDE, 0x02, 0x00, 0xDC, 0x2A},
		Clauses: []cil.ExceptionClause{
			{Kind: cil.ClauseCatch, TryOffset: 0, TryLength: 3, HandlerOffset: 3, HandlerLength: 3, CatchType: cil.TypeError},
			{Kind: cil.ClauseFinally, TryOffset: 0, TryLength: 6, HandlerOffset: 6, HandlerLength: 2},
		},
	}
	instrs := decode(t, m, body)

	require.Len(t, instrs, 7)
	assert.Len(t, instrs[0].Blocks, 2, "both regions open at the shared start")
	assert.Equal(t, cil.EndExceptionBlock, instrs[3].Blocks[0].Type)
	assert.Equal(t, cil.BeginFinallyBlock, instrs[4].Blocks[0].Type)
	assert.Equal(t, cil.EndExceptionBlock, instrs[5].Blocks[0].Type)
}

func TestReadInstructions_ClauseOutsideBody(t *testing.T) {
	m := staticMethod(nil)
	body := &cil.MethodBody{
		IL:      []byte{0x00, 0x2A},
		Clauses: []cil.ExceptionClause{{Kind: cil.ClauseFinally, TryOffset: 0, TryLength: 1, HandlerOffset: 1, HandlerLength: 9}},
	}
	r, err := NewReader(m, body, nil)
	require.NoError(t, err)
	err = r.ReadInstructions()
	assert.ErrorIs(t, err, errors.ErrMalformedInput)
	assert.Contains(t, err.Error(), "exception clause 0")
}

func TestNewReader_Errors(t *testing.T) {
	_, err := NewReader(nil, &cil.MethodBody{IL: []byte{0x2A}}, nil)
	assert.ErrorIs(t, err, errors.ErrMalformedInput)

	m := staticMethod(nil)
	_, err = NewReader(m, nil, nil)
	assert.ErrorIs(t, err, errors.ErrMalformedInput)
	assert.Contains(t, err.Error(), "has no body")

	_, err = NewReader(m, &cil.MethodBody{}, nil)
	assert.ErrorIs(t, err, errors.ErrMalformedInput)
	assert.Contains(t, err.Error(), "cannot get instruction bytes")
}

func TestFind(t *testing.T) {
	instrs := []*cil.Instruction{
		{OpCode: cil.Nop, Offset: 0},
		{OpCode: cil.LdcI4, Offset: 1},
		{OpCode: cil.Ret, Offset: 6},
	}
	in, err := Find(instrs, 1, false)
	require.NoError(t, err)
	assert.Same(t, instrs[1], in)

	in, err = Find(instrs, 5, true)
	require.NoError(t, err)
	assert.Same(t, instrs[1], in)

	_, err = Find(instrs, 3, false)
	assert.ErrorIs(t, err, errors.ErrMalformedInput)
}

func TestAssignLabels(t *testing.T) {
	m := staticMethod(nil, &cil.Param{Name: "flag", Type: cil.TypeBool})
	body := &cil.MethodBody{IL: []byte{0x02, 0x2C, 0x02, 0x17, 0x2A, 0x16, 0x2A}}
	gen := &countingGen{}
	r, err := NewReader(m, body, gen)
	require.NoError(t, err)
	r.DeclareVariables(nil)
	require.NoError(t, r.ReadInstructions())
	r.AssignLabels()

	instrs := r.Instructions()
	assert.Equal(t, cil.Label(0), instrs[1].Argument)
	assert.Equal(t, []cil.Label{0}, instrs[4].Labels)
	assert.Same(t, instrs[4], instrs[1].Operand, "resolved target is kept")
	assert.Equal(t, 1, gen.labels)
}
