// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dotandev/ilpatch/internal/cil"
)

// Token table prefixes, as in ECMA-335 metadata.
const (
	tableType      int32 = 0x02000000
	tableField     int32 = 0x04000000
	tableMethod    int32 = 0x06000000
	tableSignature int32 = 0x11000000
	tableString    int32 = 0x70000000
	tableMask      int32 = 0x7F000000
)

// Module is an in-memory metadata scope. Tokens are assigned the first
// time an assembler references a member.
type Module struct {
	name string

	mu      sync.RWMutex
	members []cil.Member
	sigs    []*cil.Signature
	strs    []string
	tokens  map[any]int32
}

func NewModule(name string) *Module {
	return &Module{name: name, tokens: map[any]int32{}}
}

func (m *Module) Name() string {
	return m.name
}

// TokenFor returns the token of v, assigning one when v is new. Strings
// are interned by value, everything else by identity.
func (m *Module) TokenFor(v any) (int32, error) {
	key := v
	if s, ok := v.(string); ok {
		key = "str:" + s
	}
	m.mu.RLock()
	tok, ok := m.tokens[key]
	m.mu.RUnlock()
	if ok {
		return tok, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if tok, ok := m.tokens[key]; ok {
		return tok, nil
	}
	switch x := v.(type) {
	case string:
		m.strs = append(m.strs, x)
		tok = tableString | int32(len(m.strs))
	case *cil.Signature:
		m.sigs = append(m.sigs, x)
		tok = tableSignature | int32(len(m.sigs))
	case *cil.Type:
		m.members = append(m.members, x)
		tok = tableType | int32(len(m.members))
	case *cil.Field:
		m.members = append(m.members, x)
		tok = tableField | int32(len(m.members))
	case *cil.Method:
		m.members = append(m.members, x)
		tok = tableMethod | int32(len(m.members))
	default:
		return 0, fmt.Errorf("cannot assign a token to %T", v)
	}
	m.tokens[key] = tok
	return tok, nil
}

func (m *Module) lookup(token int32, table int32) (cil.Member, error) {
	if token&tableMask != table {
		return nil, fmt.Errorf("token 0x%08x is not in table 0x%02x", token, uint32(table)>>24)
	}
	row := int(token &^ tableMask)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if row < 1 || row > len(m.members) {
		return nil, fmt.Errorf("token 0x%08x out of range", token)
	}
	v := m.members[row-1]
	if tableOf(v) != table {
		return nil, fmt.Errorf("token 0x%08x names a %T", token, v)
	}
	return v, nil
}

func tableOf(v cil.Member) int32 {
	switch v.(type) {
	case *cil.Type:
		return tableType
	case *cil.Field:
		return tableField
	case *cil.Method:
		return tableMethod
	}
	return 0
}

func (m *Module) ResolveField(token int32, typeArgs, methodArgs []*cil.Type) (*cil.Field, error) {
	v, err := m.lookup(token, tableField)
	if err != nil {
		return nil, err
	}
	f := v.(*cil.Field)
	t := substitute(f.Type, typeArgs, methodArgs)
	if t == f.Type {
		return f, nil
	}
	cp := *f
	cp.Type = t
	return &cp, nil
}

func (m *Module) ResolveMethod(token int32, typeArgs, methodArgs []*cil.Type) (*cil.Method, error) {
	v, err := m.lookup(token, tableMethod)
	if err != nil {
		return nil, err
	}
	return v.(*cil.Method), nil
}

func (m *Module) ResolveType(token int32, typeArgs, methodArgs []*cil.Type) (*cil.Type, error) {
	v, err := m.lookup(token, tableType)
	if err != nil {
		return nil, err
	}
	return substitute(v.(*cil.Type), typeArgs, methodArgs), nil
}

func (m *Module) ResolveMember(token int32, typeArgs, methodArgs []*cil.Type) (cil.Member, error) {
	switch token & tableMask {
	case tableType:
		return m.ResolveType(token, typeArgs, methodArgs)
	case tableField:
		return m.ResolveField(token, typeArgs, methodArgs)
	case tableMethod:
		return m.ResolveMethod(token, typeArgs, methodArgs)
	}
	return nil, fmt.Errorf("token 0x%08x is not a member", token)
}

func (m *Module) ResolveString(token int32) (string, error) {
	if token&tableMask != tableString {
		return "", fmt.Errorf("token 0x%08x is not a string", token)
	}
	row := int(token &^ tableMask)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if row < 1 || row > len(m.strs) {
		return "", fmt.Errorf("string token 0x%08x out of range", token)
	}
	return m.strs[row-1], nil
}

func (m *Module) ResolveSignature(token int32) (*cil.Signature, error) {
	if token&tableMask != tableSignature {
		return nil, fmt.Errorf("token 0x%08x is not a signature", token)
	}
	row := int(token &^ tableMask)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if row < 1 || row > len(m.sigs) {
		return nil, fmt.Errorf("signature token 0x%08x out of range", token)
	}
	return m.sigs[row-1], nil
}

// GenericParam declares the index-th generic parameter of the declaring
// type, or of the method when method is set.
func GenericParam(index int, method bool) *cil.Type {
	prefix := "!"
	if method {
		prefix = "!!"
	}
	return &cil.Type{Name: prefix + strconv.Itoa(index), Kind: cil.KindGenericParam}
}

// substitute replaces generic parameters with the supplied arguments.
// Unbound parameters are kept.
func substitute(t *cil.Type, typeArgs, methodArgs []*cil.Type) *cil.Type {
	if t == nil || t.Kind != cil.KindGenericParam {
		return t
	}
	args := typeArgs
	name := t.Name
	if strings.HasPrefix(name, "!!") {
		args, name = methodArgs, name[2:]
	} else {
		name = strings.TrimPrefix(name, "!")
	}
	i, err := strconv.Atoi(name)
	if err != nil || i < 0 || i >= len(args) {
		return t
	}
	return args[i]
}
