// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"fmt"
	"math"

	"github.com/dotandev/ilpatch/internal/cil"
)

type numKind uint8

const (
	numI4 numKind = iota
	numI8
	numF
)

// promote brings two operands to a common numeric representation.
func promote(a, b Value) (numKind, int64, int64, float64, float64, error) {
	switch x := a.(type) {
	case int32:
		switch y := b.(type) {
		case int32:
			return numI4, int64(x), int64(y), 0, 0, nil
		case int64:
			return numI8, int64(x), y, 0, 0, nil
		}
	case int64:
		switch y := b.(type) {
		case int32:
			return numI8, x, int64(y), 0, 0, nil
		case int64:
			return numI8, x, y, 0, 0, nil
		}
	case float64:
		if y, ok := b.(float64); ok {
			return numF, 0, 0, x, y, nil
		}
	}
	return 0, 0, 0, 0, 0, fmt.Errorf("operands %T and %T are not numeric", a, b)
}

func narrow(k numKind, v int64) Value {
	if k == numI4 {
		return int32(v)
	}
	return v
}

func unsigned(k numKind, v int64) uint64 {
	if k == numI4 {
		return uint64(uint32(v))
	}
	return uint64(v)
}

func arith(op cil.OpCode, a, b Value) (Value, error) {
	if op == cil.Shl || op == cil.Shr || op == cil.ShrUn {
		return shift(op, a, b)
	}
	k, x, y, fx, fy, err := promote(a, b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op.Name, err)
	}
	if k == numF {
		switch op {
		case cil.Add, cil.AddOvf, cil.AddOvfUn:
			return fx + fy, nil
		case cil.Sub, cil.SubOvf, cil.SubOvfUn:
			return fx - fy, nil
		case cil.Mul, cil.MulOvf, cil.MulOvfUn:
			return fx * fy, nil
		case cil.Div:
			return fx / fy, nil
		case cil.Rem:
			return math.Mod(fx, fy), nil
		}
		return nil, fmt.Errorf("%s is not defined on floats", op.Name)
	}
	switch op {
	case cil.Add, cil.AddOvf, cil.AddOvfUn:
		return narrow(k, x+y), nil
	case cil.Sub, cil.SubOvf, cil.SubOvfUn:
		return narrow(k, x-y), nil
	case cil.Mul, cil.MulOvf, cil.MulOvfUn:
		return narrow(k, x*y), nil
	case cil.And:
		return narrow(k, x&y), nil
	case cil.Or:
		return narrow(k, x|y), nil
	case cil.Xor:
		return narrow(k, x^y), nil
	}
	if y == 0 {
		return nil, NewException(DivideByZero, "attempted to divide by zero")
	}
	switch op {
	case cil.Div:
		return narrow(k, x/y), nil
	case cil.Rem:
		return narrow(k, x%y), nil
	case cil.DivUn:
		return narrow(k, int64(unsigned(k, x)/unsigned(k, y))), nil
	case cil.RemUn:
		return narrow(k, int64(unsigned(k, x)%unsigned(k, y))), nil
	}
	return nil, fmt.Errorf("unhandled arithmetic %s", op.Name)
}

func shift(op cil.OpCode, a, b Value) (Value, error) {
	n, ok := AsInt(b)
	if !ok {
		return nil, fmt.Errorf("%s: shift amount is %T", op.Name, b)
	}
	switch x := a.(type) {
	case int32:
		switch op {
		case cil.Shl:
			return x << (n & 31), nil
		case cil.Shr:
			return x >> (n & 31), nil
		default:
			return int32(uint32(x) >> (n & 31)), nil
		}
	case int64:
		switch op {
		case cil.Shl:
			return x << (n & 63), nil
		case cil.Shr:
			return x >> (n & 63), nil
		default:
			return int64(uint64(x) >> (n & 63)), nil
		}
	}
	return nil, fmt.Errorf("%s: cannot shift %T", op.Name, a)
}

func unary(op cil.OpCode, v Value) (Value, error) {
	switch x := v.(type) {
	case int32:
		if op == cil.Neg {
			return -x, nil
		}
		return ^x, nil
	case int64:
		if op == cil.Neg {
			return -x, nil
		}
		return ^x, nil
	case float64:
		if op == cil.Neg {
			return -x, nil
		}
	}
	return nil, fmt.Errorf("%s: unsupported operand %T", op.Name, v)
}

// compare orders a and b. ok is false for unordered floats.
func compare(a, b Value, unsignedInts bool) (c int, ok bool, err error) {
	k, x, y, fx, fy, err := promote(a, b)
	if err != nil {
		return 0, false, err
	}
	switch {
	case k == numF:
		if math.IsNaN(fx) || math.IsNaN(fy) {
			return 0, false, nil
		}
		switch {
		case fx < fy:
			return -1, true, nil
		case fx > fy:
			return 1, true, nil
		}
		return 0, true, nil
	case unsignedInts:
		ux, uy := unsigned(k, x), unsigned(k, y)
		switch {
		case ux < uy:
			return -1, true, nil
		case ux > uy:
			return 1, true, nil
		}
		return 0, true, nil
	}
	switch {
	case x < y:
		return -1, true, nil
	case x > y:
		return 1, true, nil
	}
	return 0, true, nil
}

func equal(a, b Value) bool {
	if c, ok, err := compare(a, b, false); err == nil {
		return ok && c == 0
	}
	switch a.(type) {
	case *Array, *Object, *Exception, *Ref, string, nil:
		return a == b
	}
	return false
}

func branchTaken(op cil.OpCode, a, b Value) (bool, error) {
	switch op {
	case cil.Beq:
		return equal(a, b), nil
	case cil.BneUn:
		return !equal(a, b), nil
	}
	un := op == cil.BgeUn || op == cil.BgtUn || op == cil.BleUn || op == cil.BltUn
	c, ok, err := compare(a, b, un)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op.Name, err)
	}
	if !ok {
		return un, nil
	}
	switch op {
	case cil.Bge, cil.BgeUn:
		return c >= 0, nil
	case cil.Bgt, cil.BgtUn:
		return c > 0, nil
	case cil.Ble, cil.BleUn:
		return c <= 0, nil
	case cil.Blt, cil.BltUn:
		return c < 0, nil
	}
	return false, fmt.Errorf("unhandled branch %s", op.Name)
}

func boolValue(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func compareOp(op cil.OpCode, a, b Value) (Value, error) {
	if op == cil.Ceq {
		return boolValue(equal(a, b)), nil
	}
	if op == cil.CgtUn && b == nil {
		return boolValue(a != nil), nil
	}
	un := op == cil.CgtUn || op == cil.CltUn
	c, ok, err := compare(a, b, un)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op.Name, err)
	}
	if !ok {
		return boolValue(un), nil
	}
	if op == cil.Cgt || op == cil.CgtUn {
		return boolValue(c > 0), nil
	}
	return boolValue(c < 0), nil
}

func convert(op cil.OpCode, v Value) (Value, error) {
	var (
		i     int64
		f     float64
		isF   bool
		isInt bool
	)
	switch x := v.(type) {
	case int32:
		i, isInt = int64(x), true
	case int64:
		i, isInt = x, true
	case float64:
		f, isF = x, true
	}
	if !isInt && !isF {
		return nil, fmt.Errorf("%s: cannot convert %T", op.Name, v)
	}
	if isF {
		i = int64(f)
	} else {
		f = float64(i)
	}
	switch op {
	case cil.ConvI1, cil.ConvOvfI1, cil.ConvOvfI1Un:
		return int32(int8(i)), nil
	case cil.ConvU1, cil.ConvOvfU1, cil.ConvOvfU1Un:
		return int32(uint8(i)), nil
	case cil.ConvI2, cil.ConvOvfI2, cil.ConvOvfI2Un:
		return int32(int16(i)), nil
	case cil.ConvU2, cil.ConvOvfU2, cil.ConvOvfU2Un:
		return int32(uint16(i)), nil
	case cil.ConvI4, cil.ConvU4, cil.ConvOvfI4, cil.ConvOvfU4, cil.ConvOvfI4Un, cil.ConvOvfU4Un:
		return int32(i), nil
	case cil.ConvI8, cil.ConvU8, cil.ConvI, cil.ConvU, cil.ConvOvfI8, cil.ConvOvfU8, cil.ConvOvfI8Un,
		cil.ConvOvfU8Un, cil.ConvOvfI, cil.ConvOvfU, cil.ConvOvfIUn, cil.ConvOvfUUn:
		if !isF {
			if _, small := v.(int32); small && (op == cil.ConvU8 || op == cil.ConvU) {
				return int64(uint32(i)), nil
			}
		}
		return i, nil
	case cil.ConvR4:
		return float64(float32(f)), nil
	case cil.ConvR8:
		return f, nil
	case cil.ConvRUn:
		return float64(uint64(i)), nil
	}
	return nil, fmt.Errorf("unhandled conversion %s", op.Name)
}
