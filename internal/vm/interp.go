// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"fmt"

	"github.com/dotandev/ilpatch/internal/cil"
	"github.com/dotandev/ilpatch/internal/errors"
	"github.com/dotandev/ilpatch/internal/methodbody"
)

type compiled struct {
	instrs  []*cil.Instruction
	index   map[*cil.Instruction]int
	byOff   map[int]int
	clauses []cil.ExceptionClause
	locals  []*cil.LocalVar
}

func compile(m *cil.Method, body *cil.MethodBody) (*compiled, error) {
	r, err := methodbody.NewReader(m, body, nil)
	if err != nil {
		return nil, err
	}
	if err := r.ReadInstructions(); err != nil {
		return nil, err
	}
	c := &compiled{
		instrs:  r.Instructions(),
		index:   map[*cil.Instruction]int{},
		byOff:   map[int]int{},
		clauses: body.Clauses,
		locals:  body.Locals,
	}
	for i, in := range c.instrs {
		c.index[in] = i
		c.byOff[in.Offset] = i
	}
	return c, nil
}

type outcome uint8

const (
	outReturn outcome = iota
	outEndFinally
	outEndFilter
)

// stackFault aborts a frame on evaluation stack misuse.
type stackFault string

type frame struct {
	vm     *VM
	entry  *entry
	code   *compiled
	args   []Value
	locals []Value
	stack  []Value
	caught []*Exception
	depth  int

	halted bool
	out    outcome
	result Value
}

func (v *VM) execute(e *entry, args []Value, depth int) (res Value, err error) {
	f := &frame{vm: v, entry: e, code: e.code, args: args, depth: depth}
	f.locals = make([]Value, len(e.code.locals))
	for i, l := range e.code.locals {
		f.locals[i] = zero(l.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			fault, ok := r.(stackFault)
			if !ok {
				panic(r)
			}
			err = fmt.Errorf("%s: %s", e.method.FullName(), string(fault))
		}
	}()
	out, val, err := f.run(0)
	if err != nil {
		return nil, err
	}
	if out != outReturn {
		return nil, fmt.Errorf("%s: handler terminator outside a handler", e.method.FullName())
	}
	return val, nil
}

func (f *frame) push(v Value) {
	f.stack = append(f.stack, v)
}

func (f *frame) pop() Value {
	if len(f.stack) == 0 {
		panic(stackFault("evaluation stack underflow"))
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *frame) popN(n int) []Value {
	if len(f.stack) < n {
		panic(stackFault("evaluation stack underflow"))
	}
	out := make([]Value, n)
	copy(out, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return out
}

func (f *frame) popInt() int64 {
	v := f.pop()
	i, ok := AsInt(v)
	if !ok {
		panic(stackFault(fmt.Sprintf("expected an integer, found %T", v)))
	}
	return i
}

func (f *frame) halt(out outcome, v Value) {
	f.halted, f.out, f.result = true, out, v
}

func (f *frame) target(in *cil.Instruction) int {
	t, ok := in.Operand.(*cil.Instruction)
	if !ok {
		panic(stackFault(fmt.Sprintf("%s has no resolved target", in.OpCode.Name)))
	}
	return f.code.index[t]
}

func (f *frame) run(pc int) (outcome, Value, error) {
	for {
		if pc < 0 || pc >= len(f.code.instrs) {
			return 0, nil, fmt.Errorf("%s: execution ran past the end of the body", f.entry.method.FullName())
		}
		next, err := f.step(pc, f.code.instrs[pc])
		if err != nil {
			var exc *Exception
			if !errors.As(err, &exc) {
				return 0, nil, err
			}
			next, err = f.dispatch(pc, exc)
			if err != nil {
				return 0, nil, err
			}
		}
		if f.halted {
			f.halted = false
			return f.out, f.result, nil
		}
		pc = next
	}
}

func covers(start, length, off int) bool {
	return off >= start && off < start+length
}

func catches(t *cil.Type, exc *Exception) bool {
	if t == nil || t.Kind == cil.KindObject || t.FullName() == cil.TypeError.FullName() {
		return true
	}
	return exc.Type != nil && t.FullName() == exc.Type.FullName()
}

func (exc *Exception) value() Value {
	if exc.Object != nil {
		return exc.Object
	}
	return exc
}

// dispatch finds the handler for exc thrown at pc. Finally and fault
// handlers of the regions being unwound run before control enters the
// chosen handler; with no handler exc propagates to the caller.
func (f *frame) dispatch(pc int, exc *Exception) (int, error) {
	off := f.code.instrs[pc].Offset
	var unwind []cil.ExceptionClause
	for _, c := range f.code.clauses {
		if !covers(c.TryOffset, c.TryLength, off) {
			continue
		}
		switch c.Kind {
		case cil.ClauseFinally, cil.ClauseFault:
			unwind = append(unwind, c)
			continue
		case cil.ClauseCatch:
			if !catches(c.CatchType, exc) {
				continue
			}
		case cil.ClauseFilter:
			ok, err := f.runFilter(c, exc)
			if err != nil {
				return 0, err
			}
			if !ok {
				continue
			}
		}
		for _, u := range unwind {
			if err := f.runHandler(u.HandlerOffset); err != nil {
				return 0, err
			}
		}
		f.stack = append(f.stack[:0], exc.value())
		f.caught = append(f.caught, exc)
		return f.code.byOff[c.HandlerOffset], nil
	}
	for _, u := range unwind {
		if err := f.runHandler(u.HandlerOffset); err != nil {
			return 0, err
		}
	}
	return 0, exc
}

func (f *frame) runHandler(offset int) error {
	saved := f.stack
	f.stack = nil
	out, _, err := f.run(f.code.byOff[offset])
	f.stack = saved
	if err != nil {
		return err
	}
	if out != outEndFinally {
		return fmt.Errorf("%s: handler at IL_%04x did not end with endfinally", f.entry.method.FullName(), offset)
	}
	return nil
}

func (f *frame) runFilter(c cil.ExceptionClause, exc *Exception) (bool, error) {
	saved := f.stack
	f.stack = []Value{exc.value()}
	out, v, err := f.run(f.code.byOff[c.FilterOffset])
	f.stack = saved
	if err != nil {
		return false, err
	}
	if out != outEndFilter {
		return false, fmt.Errorf("%s: filter at IL_%04x did not end with endfilter", f.entry.method.FullName(), c.FilterOffset)
	}
	return Truthy(v), nil
}

// leave runs the finally handlers of every region the jump exits.
func (f *frame) leave(from, to *cil.Instruction) error {
	for _, c := range f.code.clauses {
		if c.Kind != cil.ClauseFinally {
			if covers(c.HandlerOffset, c.HandlerLength, from.Offset) && !covers(c.HandlerOffset, c.HandlerLength, to.Offset) && len(f.caught) > 0 {
				f.caught = f.caught[:len(f.caught)-1]
			}
			continue
		}
		if covers(c.TryOffset, c.TryLength, from.Offset) && !covers(c.TryOffset, c.TryLength, to.Offset) {
			if err := f.runHandler(c.HandlerOffset); err != nil {
				return err
			}
		}
	}
	f.stack = f.stack[:0]
	return nil
}

func throwValue(v Value) *Exception {
	switch x := v.(type) {
	case *Exception:
		return x
	case *Object:
		msg, _ := x.Fields["Message"].(string)
		return &Exception{Type: x.Type, Message: msg, Object: x}
	case nil:
		return NewException(NullReference, "throw of null")
	}
	return NewException(cil.TypeError, fmt.Sprintf("throw of %T", v))
}

func (f *frame) step(pc int, in *cil.Instruction) (int, error) {
	next := pc + 1
	op := in.OpCode
	switch op {
	case cil.Nop, cil.Break, cil.Volatile, cil.Tail, cil.Readonly, cil.Constrained, cil.Unaligned, cil.No:

	case cil.Ldarg0, cil.Ldarg1, cil.Ldarg2, cil.Ldarg3:
		f.push(f.arg(int(op.Value - cil.Ldarg0.Value)))
	case cil.LdargS, cil.Ldarg:
		f.push(f.arg(int(in.Raw)))
	case cil.LdargaS, cil.Ldarga:
		f.arg(int(in.Raw))
		f.push(slotRef(f.args, int(in.Raw)))
	case cil.StargS, cil.Starg:
		f.arg(int(in.Raw))
		f.args[in.Raw] = f.pop()

	case cil.Ldloc0, cil.Ldloc1, cil.Ldloc2, cil.Ldloc3:
		f.push(f.local(int(op.Value - cil.Ldloc0.Value)))
	case cil.LdlocS, cil.Ldloc:
		f.push(f.local(int(in.Raw)))
	case cil.LdlocaS, cil.Ldloca:
		f.local(int(in.Raw))
		f.push(slotRef(f.locals, int(in.Raw)))
	case cil.Stloc0, cil.Stloc1, cil.Stloc2, cil.Stloc3:
		i := int(op.Value - cil.Stloc0.Value)
		f.local(i)
		f.locals[i] = f.pop()
	case cil.StlocS, cil.Stloc:
		f.local(int(in.Raw))
		f.locals[in.Raw] = f.pop()

	case cil.Ldnull:
		f.push(nil)
	case cil.LdcI4M1, cil.LdcI40, cil.LdcI41, cil.LdcI42, cil.LdcI43, cil.LdcI44, cil.LdcI45, cil.LdcI46, cil.LdcI47, cil.LdcI48:
		f.push(int32(op.Value) - int32(cil.LdcI40.Value))
	case cil.LdcI4S, cil.LdcI4:
		f.push(int32(in.Raw))
	case cil.LdcI8:
		f.push(in.Raw)
	case cil.LdcR4:
		f.push(float64(in.Operand.(cil.Float32)))
	case cil.LdcR8:
		f.push(float64(in.Operand.(cil.Float64)))
	case cil.Ldstr:
		f.push(string(in.Operand.(cil.String)))
	case cil.Ldtoken:
		f.push(Handle{Member: in.Operand.(cil.Member)})

	case cil.Dup:
		v := f.pop()
		f.push(v)
		f.push(v)
	case cil.Pop:
		f.pop()

	case cil.Ret:
		var v Value
		if !f.entry.method.ReturnType().IsVoid() {
			v = f.pop()
		}
		f.halt(outReturn, v)

	case cil.Br, cil.BrS:
		return f.target(in), nil
	case cil.Brtrue, cil.BrtrueS:
		if Truthy(f.pop()) {
			return f.target(in), nil
		}
	case cil.Brfalse, cil.BrfalseS:
		if !Truthy(f.pop()) {
			return f.target(in), nil
		}
	case cil.Beq, cil.BeqS, cil.BneUn, cil.BneUnS, cil.Bge, cil.BgeS, cil.BgeUn, cil.BgeUnS,
		cil.Bgt, cil.BgtS, cil.BgtUn, cil.BgtUnS, cil.Ble, cil.BleS, cil.BleUn, cil.BleUnS,
		cil.Blt, cil.BltS, cil.BltUn, cil.BltUnS:
		b := f.pop()
		a := f.pop()
		ok, err := branchTaken(op.LongForm(), a, b)
		if err != nil {
			return next, err
		}
		if ok {
			return f.target(in), nil
		}
	case cil.Switch:
		i := f.popInt()
		targets := in.Operand.(cil.Targets)
		if i >= 0 && i < int64(len(targets)) {
			return f.code.index[targets[i]], nil
		}

	case cil.Ceq, cil.Cgt, cil.CgtUn, cil.Clt, cil.CltUn:
		b := f.pop()
		a := f.pop()
		v, err := compareOp(op, a, b)
		if err != nil {
			return next, err
		}
		f.push(v)

	case cil.Add, cil.Sub, cil.Mul, cil.Div, cil.DivUn, cil.Rem, cil.RemUn, cil.And, cil.Or, cil.Xor,
		cil.Shl, cil.Shr, cil.ShrUn, cil.AddOvf, cil.AddOvfUn, cil.SubOvf, cil.SubOvfUn, cil.MulOvf, cil.MulOvfUn:
		b := f.pop()
		a := f.pop()
		v, err := arith(op, a, b)
		if err != nil {
			return next, err
		}
		f.push(v)
	case cil.Neg, cil.Not:
		v, err := unary(op, f.pop())
		if err != nil {
			return next, err
		}
		f.push(v)

	case cil.ConvI1, cil.ConvI2, cil.ConvI4, cil.ConvI8, cil.ConvR4, cil.ConvR8, cil.ConvU4, cil.ConvU8,
		cil.ConvU2, cil.ConvU1, cil.ConvI, cil.ConvU, cil.ConvRUn,
		cil.ConvOvfI1, cil.ConvOvfU1, cil.ConvOvfI2, cil.ConvOvfU2, cil.ConvOvfI4, cil.ConvOvfU4,
		cil.ConvOvfI8, cil.ConvOvfU8, cil.ConvOvfI, cil.ConvOvfU,
		cil.ConvOvfI1Un, cil.ConvOvfI2Un, cil.ConvOvfI4Un, cil.ConvOvfI8Un,
		cil.ConvOvfU1Un, cil.ConvOvfU2Un, cil.ConvOvfU4Un, cil.ConvOvfU8Un, cil.ConvOvfIUn, cil.ConvOvfUUn:
		v, err := convert(op, f.pop())
		if err != nil {
			return next, err
		}
		f.push(v)

	case cil.Call, cil.Callvirt:
		m := in.Operand.(*cil.Method)
		args := f.popN(m.ArgCount())
		if op == cil.Callvirt && !m.Static && args[0] == nil {
			return next, NewException(NullReference, "callvirt on null receiver of "+m.FullName())
		}
		res, err := f.vm.call(m, args, f.depth+1)
		if err != nil {
			return next, err
		}
		if !m.ReturnType().IsVoid() {
			f.push(res)
		}
	case cil.Newobj:
		m := in.Operand.(*cil.Method)
		obj := NewObject(m.DeclaringType)
		args := append([]Value{obj}, f.popN(len(m.Params))...)
		if _, err := f.vm.call(m, args, f.depth+1); err != nil {
			return next, err
		}
		f.push(obj)

	case cil.Ldfld:
		fld := in.Operand.(*cil.Field)
		obj, err := object(f.pop())
		if err != nil {
			return next, err
		}
		v, ok := obj.Fields[fld.Name]
		if !ok {
			v = zero(fld.Type)
		}
		f.push(v)
	case cil.Ldflda:
		fld := in.Operand.(*cil.Field)
		obj, err := object(f.pop())
		if err != nil {
			return next, err
		}
		if _, ok := obj.Fields[fld.Name]; !ok {
			obj.Fields[fld.Name] = zero(fld.Type)
		}
		f.push(&Ref{
			load:  func() Value { return obj.Fields[fld.Name] },
			store: func(v Value) { obj.Fields[fld.Name] = v },
		})
	case cil.Stfld:
		fld := in.Operand.(*cil.Field)
		v := f.pop()
		obj, err := object(f.pop())
		if err != nil {
			return next, err
		}
		obj.Fields[fld.Name] = v
	case cil.Ldsfld:
		f.push(f.vm.Static(in.Operand.(*cil.Field)))
	case cil.Ldsflda:
		fld := in.Operand.(*cil.Field)
		f.push(&Ref{
			load:  func() Value { return f.vm.Static(fld) },
			store: func(v Value) { f.vm.SetStatic(fld, v) },
		})
	case cil.Stsfld:
		f.vm.SetStatic(in.Operand.(*cil.Field), f.pop())

	case cil.Box, cil.UnboxAny, cil.Castclass:
	case cil.Isinst:
		t := in.Operand.(*cil.Type)
		v := f.pop()
		if !instanceOf(v, t) {
			v = nil
		}
		f.push(v)
	case cil.Initobj:
		f.ref().Store(zero(in.Operand.(*cil.Type)))
	case cil.Ldobj:
		f.push(f.ref().Load())
	case cil.Stobj:
		v := f.pop()
		f.ref().Store(v)

	case cil.LdindI1, cil.LdindU1, cil.LdindI2, cil.LdindU2, cil.LdindI4, cil.LdindU4, cil.LdindI8,
		cil.LdindI, cil.LdindR4, cil.LdindR8, cil.LdindRef:
		v := f.ref().Load()
		if op != cil.LdindRef {
			var err error
			if v, err = convert(loadConversion[op.Value], v); err != nil {
				return next, err
			}
		}
		f.push(v)
	case cil.StindRef, cil.StindI1, cil.StindI2, cil.StindI4, cil.StindI8, cil.StindR4, cil.StindR8, cil.StindI:
		v := f.pop()
		f.ref().Store(v)

	case cil.Newarr:
		n := f.popInt()
		if n < 0 {
			return next, NewException(IndexOutOfRange, "negative array size")
		}
		t := in.Operand.(*cil.Type)
		arr := &Array{Elem: t, Items: make([]Value, n)}
		for i := range arr.Items {
			arr.Items[i] = zero(t)
		}
		f.push(arr)
	case cil.Ldlen:
		arr, err := array(f.pop())
		if err != nil {
			return next, err
		}
		f.push(int32(len(arr.Items)))
	case cil.LdelemI1, cil.LdelemU1, cil.LdelemI2, cil.LdelemU2, cil.LdelemI4, cil.LdelemU4, cil.LdelemI8,
		cil.LdelemI, cil.LdelemR4, cil.LdelemR8, cil.LdelemRef, cil.Ldelem:
		i := f.popInt()
		arr, err := array(f.pop())
		if err != nil {
			return next, err
		}
		if i < 0 || i >= int64(len(arr.Items)) {
			return next, NewException(IndexOutOfRange, fmt.Sprintf("index %d outside [0, %d)", i, len(arr.Items)))
		}
		f.push(arr.Items[i])
	case cil.StelemI, cil.StelemI1, cil.StelemI2, cil.StelemI4, cil.StelemI8, cil.StelemR4, cil.StelemR8,
		cil.StelemRef, cil.Stelem:
		v := f.pop()
		i := f.popInt()
		arr, err := array(f.pop())
		if err != nil {
			return next, err
		}
		if i < 0 || i >= int64(len(arr.Items)) {
			return next, NewException(IndexOutOfRange, fmt.Sprintf("index %d outside [0, %d)", i, len(arr.Items)))
		}
		arr.Items[i] = v

	case cil.Throw:
		return next, throwValue(f.pop())
	case cil.Rethrow:
		if len(f.caught) == 0 {
			return next, fmt.Errorf("%s: rethrow outside a catch handler", f.entry.method.FullName())
		}
		return next, f.caught[len(f.caught)-1]
	case cil.Leave, cil.LeaveS:
		to := in.Operand.(*cil.Instruction)
		if err := f.leave(in, to); err != nil {
			return next, err
		}
		return f.code.index[to], nil
	case cil.Endfinally:
		f.halt(outEndFinally, nil)
	case cil.Endfilter:
		f.halt(outEndFilter, f.pop())

	default:
		return next, errors.WrapUnsupportedOpcode(op.Name)
	}
	return next, nil
}

func (f *frame) arg(i int) Value {
	if i < 0 || i >= len(f.args) {
		panic(stackFault(fmt.Sprintf("argument %d out of range", i)))
	}
	return f.args[i]
}

func (f *frame) local(i int) Value {
	if i < 0 || i >= len(f.locals) {
		panic(stackFault(fmt.Sprintf("local %d out of range", i)))
	}
	return f.locals[i]
}

func (f *frame) ref() *Ref {
	v := f.pop()
	r, ok := v.(*Ref)
	if !ok {
		panic(stackFault(fmt.Sprintf("expected a managed pointer, found %T", v)))
	}
	return r
}

func object(v Value) (*Object, error) {
	switch x := v.(type) {
	case *Object:
		return x, nil
	case *Ref:
		return object(x.Load())
	case *Exception:
		if x.Object != nil {
			return x.Object, nil
		}
	case nil:
		return nil, NewException(NullReference, "field access on null")
	}
	return nil, fmt.Errorf("field access on %T", v)
}

func array(v Value) (*Array, error) {
	switch x := v.(type) {
	case *Array:
		return x, nil
	case nil:
		return nil, NewException(NullReference, "array access on null")
	}
	return nil, fmt.Errorf("array access on %T", v)
}

func instanceOf(v Value, t *cil.Type) bool {
	if v == nil {
		return false
	}
	if t.Kind == cil.KindObject {
		return true
	}
	switch x := v.(type) {
	case *Object:
		return x.Type.FullName() == t.FullName()
	case *Exception:
		return catches(t, x)
	case string:
		return t.Kind == cil.KindString
	case *Array:
		return t.Kind == cil.KindArray
	}
	return false
}

var loadConversion = map[uint16]cil.OpCode{
	cil.LdindI1.Value: cil.ConvI1,
	cil.LdindU1.Value: cil.ConvU1,
	cil.LdindI2.Value: cil.ConvI2,
	cil.LdindU2.Value: cil.ConvU2,
	cil.LdindI4.Value: cil.ConvI4,
	cil.LdindU4.Value: cil.ConvU4,
	cil.LdindI8.Value: cil.ConvI8,
	cil.LdindI.Value:  cil.ConvI,
	cil.LdindR4.Value: cil.ConvR4,
	cil.LdindR8.Value: cil.ConvR8,
}
