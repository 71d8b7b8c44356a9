// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cil

import (
	"fmt"
	"strings"
)

// TypeKind classifies a type for emission and by-ref dereferencing.
type TypeKind uint8

const (
	KindVoid TypeKind = iota
	KindBool
	KindChar
	KindInt8
	KindUInt8
	KindInt16
	KindUInt16
	KindInt32
	KindUInt32
	KindInt64
	KindUInt64
	KindFloat32
	KindFloat64
	KindIntPtr
	KindUIntPtr
	KindString
	KindObject
	KindClass
	KindStruct
	KindEnum
	KindByRef
	KindPointer
	KindArray
	KindGenericParam
)

// Type is a resolved type reference.
type Type struct {
	Namespace   string
	Name        string
	Kind        TypeKind
	Elem        *Type
	GenericArgs []*Type
	// ParamRenames applies to hooks declared on this type.
	ParamRenames []ParamRename
}

var (
	TypeVoid    = &Type{Namespace: "System", Name: "Void", Kind: KindVoid}
	TypeBool    = &Type{Namespace: "System", Name: "Boolean", Kind: KindBool}
	TypeChar    = &Type{Namespace: "System", Name: "Char", Kind: KindChar}
	TypeSByte   = &Type{Namespace: "System", Name: "SByte", Kind: KindInt8}
	TypeByte    = &Type{Namespace: "System", Name: "Byte", Kind: KindUInt8}
	TypeInt16   = &Type{Namespace: "System", Name: "Int16", Kind: KindInt16}
	TypeUInt16  = &Type{Namespace: "System", Name: "UInt16", Kind: KindUInt16}
	TypeInt32   = &Type{Namespace: "System", Name: "Int32", Kind: KindInt32}
	TypeUInt32  = &Type{Namespace: "System", Name: "UInt32", Kind: KindUInt32}
	TypeInt64   = &Type{Namespace: "System", Name: "Int64", Kind: KindInt64}
	TypeUInt64  = &Type{Namespace: "System", Name: "UInt64", Kind: KindUInt64}
	TypeSingle  = &Type{Namespace: "System", Name: "Single", Kind: KindFloat32}
	TypeDouble  = &Type{Namespace: "System", Name: "Double", Kind: KindFloat64}
	TypeIntPtr  = &Type{Namespace: "System", Name: "IntPtr", Kind: KindIntPtr}
	TypeUIntPtr = &Type{Namespace: "System", Name: "UIntPtr", Kind: KindUIntPtr}
	TypeString  = &Type{Namespace: "System", Name: "String", Kind: KindString}
	TypeObject  = &Type{Namespace: "System", Name: "Object", Kind: KindObject}
	TypeMethod  = &Type{Namespace: "System.Reflection", Name: "MethodBase", Kind: KindClass}
	TypeHandle  = &Type{Namespace: "System", Name: "RuntimeMethodHandle", Kind: KindStruct}
	TypeError   = &Type{Namespace: "System", Name: "Exception", Kind: KindClass}
)

// ClassType declares a reference type.
func ClassType(namespace, name string) *Type {
	return &Type{Namespace: namespace, Name: name, Kind: KindClass}
}

// StructType declares a value type.
func StructType(namespace, name string) *Type {
	return &Type{Namespace: namespace, Name: name, Kind: KindStruct}
}

// ByRefOf returns the managed-pointer type to t.
func ByRefOf(t *Type) *Type {
	return &Type{Namespace: t.Namespace, Name: t.Name + "&", Kind: KindByRef, Elem: t}
}

// ArrayOf returns the single-dimension array type of t.
func ArrayOf(t *Type) *Type {
	return &Type{Namespace: t.Namespace, Name: t.Name + "[]", Kind: KindArray, Elem: t}
}

func (t *Type) FullName() string {
	if t == nil {
		return "<nil>"
	}
	name := t.Name
	if len(t.GenericArgs) > 0 {
		args := make([]string, len(t.GenericArgs))
		for i, a := range t.GenericArgs {
			args[i] = a.FullName()
		}
		name += "<" + strings.Join(args, ",") + ">"
	}
	if t.Namespace == "" {
		return name
	}
	return t.Namespace + "." + name
}

func (t *Type) String() string {
	return t.FullName()
}

func (t *Type) IsVoid() bool {
	return t == nil || t.Kind == KindVoid
}

func (t *Type) IsByRef() bool {
	return t != nil && t.Kind == KindByRef
}

// Deref strips one level of by-ref.
func (t *Type) Deref() *Type {
	if t.IsByRef() && t.Elem != nil {
		return t.Elem
	}
	return t
}

// IsClass reports reference semantics.
func (t *Type) IsClass() bool {
	switch t.Kind {
	case KindString, KindObject, KindClass, KindArray:
		return true
	}
	return false
}

// IsStruct reports a user value type that needs initobj.
func (t *Type) IsStruct() bool {
	return t.Kind == KindStruct
}

// IsPrimitive covers numeric, bool, char, pointer-sized and enum types.
func (t *Type) IsPrimitive() bool {
	switch t.Kind {
	case KindVoid, KindString, KindObject, KindClass, KindStruct, KindByRef, KindArray, KindGenericParam:
		return false
	}
	return true
}

// Equal compares by kind and full name.
func (t *Type) Equal(o *Type) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.Kind != o.Kind || t.FullName() != o.FullName() {
		return false
	}
	if t.Elem != nil || o.Elem != nil {
		return t.Elem.Equal(o.Elem)
	}
	return true
}

// ParamRename maps a hook parameter name onto an original parameter name.
type ParamRename struct {
	OriginalName string
	NewName      string
}

// Param describes one declared parameter. Position is zero-based among the
// declared parameters; the implicit receiver uses -1.
type Param struct {
	Name     string
	Type     *Type
	Position int
	In       bool
	Out      bool
	// Rename is the original-parameter name this hook parameter binds to.
	Rename string
}

// IsByRef reports whether the parameter is passed by reference.
func (p *Param) IsByRef() bool {
	return p.Out || p.Type.IsByRef()
}

func (p *Param) String() string {
	return fmt.Sprintf("%s %s", p.Type, p.Name)
}

// Field is a resolved field reference.
type Field struct {
	Name          string
	DeclaringType *Type
	Type          *Type
	Static        bool
}

func (f *Field) FullName() string {
	return f.DeclaringType.FullName() + "::" + f.Name
}

func (f *Field) String() string {
	return f.Type.FullName() + " " + f.FullName()
}

// Method is a resolved method or constructor reference.
type Method struct {
	Name          string
	DeclaringType *Type
	Static        bool
	Constructor   bool
	Return        *Type
	Params        []*Param
	GenericArgs   []*Type
	// Module scopes the tokens in this method's body.
	Module       Module
	ParamRenames []ParamRename

	this *Param
}

func (m *Method) FullName() string {
	params := make([]string, len(m.Params))
	for i, p := range m.Params {
		params[i] = p.Type.FullName()
	}
	return fmt.Sprintf("%s::%s(%s)", m.DeclaringType.FullName(), m.Name, strings.Join(params, ", "))
}

func (m *Method) String() string {
	return m.ReturnType().FullName() + " " + m.FullName()
}

// ReturnType is the declared return type, Void when unset.
func (m *Method) ReturnType() *Type {
	if m.Return == nil {
		return TypeVoid
	}
	return m.Return
}

// This is the implicit receiver parameter, nil for static methods.
func (m *Method) This() *Param {
	if m.Static {
		return nil
	}
	if m.this == nil {
		t := m.DeclaringType
		if t != nil && t.Kind == KindStruct {
			t = ByRefOf(t)
		}
		m.this = &Param{Name: "this", Type: t, Position: -1}
	}
	return m.this
}

// ArgCount counts CIL argument slots including the receiver.
func (m *Method) ArgCount() int {
	if m.Static {
		return len(m.Params)
	}
	return len(m.Params) + 1
}

// Arg maps a CIL argument slot to its parameter.
func (m *Method) Arg(index int) (*Param, bool) {
	if !m.Static {
		if index == 0 {
			return m.This(), true
		}
		index--
	}
	if index < 0 || index >= len(m.Params) {
		return nil, false
	}
	return m.Params[index], true
}

// ParamNamed finds a declared parameter by name.
func (m *Method) ParamNamed(name string) (*Param, bool) {
	for _, p := range m.Params {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// LocalVar is a declared local of a decoded body.
type LocalVar struct {
	Index  int
	Type   *Type
	Pinned bool
}

func (l *LocalVar) String() string {
	if l.Pinned {
		return fmt.Sprintf("V_%d (%s, pinned)", l.Index, l.Type)
	}
	return fmt.Sprintf("V_%d (%s)", l.Index, l.Type)
}

// ClauseKind is the kind of an exception handling clause.
type ClauseKind uint8

const (
	ClauseCatch   ClauseKind = 0
	ClauseFilter  ClauseKind = 1
	ClauseFinally ClauseKind = 2
	ClauseFault   ClauseKind = 4
)

func (k ClauseKind) String() string {
	switch k {
	case ClauseCatch:
		return "catch"
	case ClauseFilter:
		return "filter"
	case ClauseFinally:
		return "finally"
	case ClauseFault:
		return "fault"
	}
	return fmt.Sprintf("clause(%d)", uint8(k))
}

// ExceptionClause is one row of a body's exception table.
type ExceptionClause struct {
	Kind          ClauseKind
	TryOffset     int
	TryLength     int
	HandlerOffset int
	HandlerLength int
	CatchType     *Type
	FilterOffset  int
}

// MethodBody is the raw body a method source yields.
type MethodBody struct {
	IL         []byte
	Locals     []*LocalVar
	Clauses    []ExceptionClause
	MaxStack   int
	InitLocals bool
}

// Signature is a stand-alone call site signature.
type Signature struct {
	HasThis bool
	Return  *Type
	Params  []*Type
}

func (s *Signature) String() string {
	params := make([]string, len(s.Params))
	for i, p := range s.Params {
		params[i] = p.FullName()
	}
	return fmt.Sprintf("%s(%s)", s.Return.FullName(), strings.Join(params, ", "))
}

// Member is what an InlineTok operand resolves to.
type Member interface {
	Operand
	FullName() string
}

// Module resolves metadata tokens scoped to one module. The generic
// arguments are those of the declaring type and of the method.
type Module interface {
	Name() string
	ResolveField(token int32, typeArgs, methodArgs []*Type) (*Field, error)
	ResolveMethod(token int32, typeArgs, methodArgs []*Type) (*Method, error)
	ResolveType(token int32, typeArgs, methodArgs []*Type) (*Type, error)
	ResolveMember(token int32, typeArgs, methodArgs []*Type) (Member, error)
	ResolveString(token int32) (string, error)
	ResolveSignature(token int32) (*Signature, error)
}

// MethodSource yields the body of a method.
type MethodSource interface {
	Body(m *Method) (*MethodBody, error)
}
