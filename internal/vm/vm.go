// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package vm is a small CIL host: a metadata module, an assembler that
// implements the code generator, simulated code pages and an interpreter
// that enters methods through their native entry points, so redirected
// entries take effect on the next call.
package vm

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dotandev/ilpatch/internal/cil"
	"github.com/dotandev/ilpatch/internal/logger"
	"github.com/dotandev/ilpatch/internal/methodbody"
	"github.com/dotandev/ilpatch/internal/native"
)

// NativeFunc implements a method in Go. Returning an *Exception throws it
// into the caller.
type NativeFunc func(args []Value) (Value, error)

var (
	NullReference   = cil.ClassType("System", "NullReferenceException")
	DivideByZero    = cil.ClassType("System", "DivideByZeroException")
	IndexOutOfRange = cil.ClassType("System", "IndexOutOfRangeException")
)

type entry struct {
	method *cil.Method
	body   *cil.MethodBody
	native NativeFunc
	code   *compiled
	addr   uint64
}

// VM hosts methods. It is safe for concurrent use.
type VM struct {
	mu       sync.RWMutex
	module   *Module
	heap     *CodeHeap
	ptrSize  int
	maxDepth int
	entries  map[*cil.Method]*entry
	byAddr   map[uint64]*entry
	statics  map[string]Value
	dynamic  int

	fromHandle *cil.Method
	log        *slog.Logger
}

type Option func(*VM)

// WithPointerSize selects 4- or 8-byte entry stubs.
func WithPointerSize(n int) Option {
	return func(v *VM) { v.ptrSize = n }
}

// WithMaxDepth bounds the call depth.
func WithMaxDepth(n int) Option {
	return func(v *VM) { v.maxDepth = n }
}

func New(opts ...Option) *VM {
	v := &VM{
		module:   NewModule("vm"),
		ptrSize:  8,
		maxDepth: 256,
		entries:  map[*cil.Method]*entry{},
		byAddr:   map[uint64]*entry{},
		statics:  map[string]Value{},
		log:      logger.For("vm"),
	}
	for _, opt := range opts {
		opt(v)
	}
	base := uint64(0x7F3A_0000_0000)
	if v.ptrSize == 4 {
		base = 0x1000_0000
	}
	v.heap = NewCodeHeap(base)

	v.fromHandle = &cil.Method{
		Name:          "GetMethodFromHandle",
		DeclaringType: cil.TypeMethod,
		Static:        true,
		Return:        cil.TypeMethod,
		Params:        []*cil.Param{{Name: "handle", Type: cil.TypeHandle}},
	}
	v.DefineNative(v.fromHandle, func(args []Value) (Value, error) {
		h, ok := args[0].(Handle)
		if !ok {
			return nil, fmt.Errorf("GetMethodFromHandle: %T is not a handle", args[0])
		}
		return h.Member, nil
	})
	return v
}

func (v *VM) Module() *Module {
	return v.module
}

func (v *VM) Heap() *CodeHeap {
	return v.heap
}

func (v *VM) Memory() native.Memory {
	return v.heap
}

func (v *VM) PointerSize() int {
	return v.ptrSize
}

// MethodFromHandle is the static method mapping a method handle to the
// method object.
func (v *VM) MethodFromHandle() *cil.Method {
	return v.fromHandle
}

// Define registers m with an IL body. Methods without a module are
// scoped to the VM's module.
func (v *VM) Define(m *cil.Method, body *cil.MethodBody) error {
	if m == nil || body == nil {
		return fmt.Errorf("define: method and body are required")
	}
	if m.Module == nil {
		m.Module = v.module
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if e, ok := v.entries[m]; ok && e.addr != 0 {
		return fmt.Errorf("method %s is already compiled", m.FullName())
	}
	v.entries[m] = &entry{method: m, body: body}
	return nil
}

// Assemble builds m's body with an assembler and defines it.
func (v *VM) Assemble(m *cil.Method, build func(a *Assembler)) error {
	a := NewAssembler(v.module)
	build(a)
	body, err := a.Finish()
	if err != nil {
		return fmt.Errorf("assemble %s: %w", m.FullName(), err)
	}
	return v.Define(m, body)
}

// DefineNative implements m in Go.
func (v *VM) DefineNative(m *cil.Method, fn NativeFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[m] = &entry{method: m, native: fn}
}

// Body returns the IL body m was defined with.
func (v *VM) Body(m *cil.Method) (*cil.MethodBody, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.entries[m]
	if !ok {
		return nil, fmt.Errorf("method %s is not defined", m.FullName())
	}
	if e.native != nil {
		return nil, fmt.Errorf("method %s is implemented natively", m.FullName())
	}
	return e.body, nil
}

// EntryAddress compiles m on first use and returns its entry point.
func (v *VM) EntryAddress(m *cil.Method) (uint64, error) {
	v.mu.RLock()
	e, ok := v.entries[m]
	if ok && e.addr != 0 {
		v.mu.RUnlock()
		return e.addr, nil
	}
	v.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("method %s is not defined", m.FullName())
	}

	var code *compiled
	if e.native == nil {
		c, err := compile(m, e.body)
		if err != nil {
			return 0, fmt.Errorf("compile %s: %w", m.FullName(), err)
		}
		code = c
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if e.addr != 0 {
		return e.addr, nil
	}
	e.code = code
	e.addr = v.heap.Alloc(entrySize)
	v.byAddr[e.addr] = e
	v.log.Debug("compiled method", "method", m.FullName(), "entry", fmt.Sprintf("0x%x", e.addr))
	return e.addr, nil
}

// Resolve follows jump stubs from addr to the method finally entered.
func (v *VM) Resolve(addr uint64) (*cil.Method, error) {
	e, err := v.resolve(addr)
	if err != nil {
		return nil, err
	}
	return e.method, nil
}

func (v *VM) resolve(addr uint64) (*entry, error) {
	stub := native.StubSize(v.ptrSize)
	for hops := 0; hops < 16; hops++ {
		b, err := v.heap.Read(addr, stub)
		if err != nil {
			return nil, err
		}
		dest, _, ok := native.DecodeJump(b)
		if !ok {
			break
		}
		addr = dest
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.byAddr[addr]
	if !ok {
		return nil, fmt.Errorf("no method at 0x%x", addr)
	}
	return e, nil
}

// Invoke calls m through its entry point. Go ints, bools and float32
// arguments are converted to stack values by parameter type.
func (v *VM) Invoke(m *cil.Method, args ...any) (Value, error) {
	if len(args) != m.ArgCount() {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", m.FullName(), m.ArgCount(), len(args))
	}
	vals := make([]Value, len(args))
	for i, a := range args {
		var t *cil.Type
		if p, ok := m.Arg(i); ok {
			t = p.Type
		}
		vals[i] = Coerce(a, t)
	}
	return v.call(m, vals, 0)
}

func (v *VM) call(m *cil.Method, args []Value, depth int) (Value, error) {
	if depth > v.maxDepth {
		return nil, fmt.Errorf("call depth exceeded %d entering %s", v.maxDepth, m.FullName())
	}
	v.mu.RLock()
	_, defined := v.entries[m]
	v.mu.RUnlock()
	if !defined && m.Constructor {
		return nil, defaultConstructor(args)
	}

	addr, err := v.EntryAddress(m)
	if err != nil {
		return nil, err
	}
	e, err := v.resolve(addr)
	if err != nil {
		return nil, err
	}
	if e.native != nil {
		res, err := e.native(args)
		if err != nil {
			return nil, err
		}
		return Coerce(res, e.method.ReturnType()), nil
	}
	return v.execute(e, args, depth)
}

// defaultConstructor stands in for constructors with no definition. A
// leading string argument becomes the Message field.
func defaultConstructor(args []Value) error {
	obj, ok := args[0].(*Object)
	if !ok {
		return fmt.Errorf("constructor receiver is %T", args[0])
	}
	if len(args) > 1 {
		if s, ok := args[1].(string); ok {
			obj.Fields["Message"] = s
		}
	}
	return nil
}

// Static returns a static field value.
func (v *VM) Static(f *cil.Field) Value {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if val, ok := v.statics[f.FullName()]; ok {
		return val
	}
	return zero(f.Type)
}

// SetStatic stores a static field value.
func (v *VM) SetStatic(f *cil.Field, val any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statics[f.FullName()] = Coerce(val, f.Type)
}

// DynamicMethod is a static method emitted at run time. Instance
// originals get a leading object parameter for the receiver.
type DynamicMethod struct {
	vm     *VM
	method *cil.Method
	asm    *Assembler
}

var nameCleaner = strings.NewReplacer("<", "", ">", "")

// NewDynamicMethod declares a method with original's signature.
func (v *VM) NewDynamicMethod(original *cil.Method, suffix string) (cil.DynamicMethod, error) {
	if original == nil {
		return nil, fmt.Errorf("dynamic method needs an original")
	}
	var params []*cil.Param
	if !original.Static {
		params = append(params, &cil.Param{Name: "instance", Type: cil.TypeObject, Position: 0})
	}
	for _, p := range original.Params {
		cp := *p
		cp.Position = len(params)
		params = append(params, &cp)
	}
	v.mu.Lock()
	v.dynamic++
	v.mu.Unlock()
	m := &cil.Method{
		Name:          nameCleaner.Replace(original.Name + suffix),
		DeclaringType: original.DeclaringType,
		Static:        true,
		Return:        original.ReturnType(),
		Params:        params,
		Module:        v.module,
	}
	return &DynamicMethod{vm: v, method: m, asm: NewAssembler(v.module)}, nil
}

func (d *DynamicMethod) Method() *cil.Method {
	return d.method
}

func (d *DynamicMethod) Generator() cil.Generator {
	return d.asm
}

func (d *DynamicMethod) Complete() error {
	body, err := d.asm.Finish()
	if err != nil {
		return fmt.Errorf("finish %s: %w", d.method.Name, err)
	}
	if err := d.vm.Define(d.method, body); err != nil {
		return err
	}
	_, err = d.vm.EntryAddress(d.method)
	return err
}

// DynamicCount is the number of dynamic methods created.
func (v *VM) DynamicCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dynamic
}

// Disassemble decodes a defined method's body.
func (v *VM) Disassemble(m *cil.Method) ([]*cil.Instruction, error) {
	return methodbody.Decode(v, m)
}
