// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cil

import "strings"

// OperandKind is the category of inline data that follows an opcode.
type OperandKind uint8

const (
	InlineNone OperandKind = iota
	ShortInlineI
	InlineI
	InlineI8
	ShortInlineR
	InlineR
	InlineString
	InlineField
	InlineMethod
	InlineType
	InlineTok
	InlineSig
	InlineSwitch
	InlineBrTarget
	ShortInlineBrTarget
	InlineVar
	ShortInlineVar
)

var operandKindNames = [...]string{
	InlineNone:          "InlineNone",
	ShortInlineI:        "ShortInlineI",
	InlineI:             "InlineI",
	InlineI8:            "InlineI8",
	ShortInlineR:        "ShortInlineR",
	InlineR:             "InlineR",
	InlineString:        "InlineString",
	InlineField:         "InlineField",
	InlineMethod:        "InlineMethod",
	InlineType:          "InlineType",
	InlineTok:           "InlineTok",
	InlineSig:           "InlineSig",
	InlineSwitch:        "InlineSwitch",
	InlineBrTarget:      "InlineBrTarget",
	ShortInlineBrTarget: "ShortInlineBrTarget",
	InlineVar:           "InlineVar",
	ShortInlineVar:      "ShortInlineVar",
}

func (k OperandKind) String() string {
	if int(k) < len(operandKindNames) {
		return operandKindNames[k]
	}
	return "OperandKind(?)"
}

// Width is the encoded operand size in bytes. InlineSwitch returns -1
// because its size depends on the leading target count.
func (k OperandKind) Width() int {
	switch k {
	case InlineNone:
		return 0
	case ShortInlineI, ShortInlineBrTarget, ShortInlineVar:
		return 1
	case InlineVar:
		return 2
	case InlineI8, InlineR:
		return 8
	case InlineSwitch:
		return -1
	default:
		return 4
	}
}

// IsBranch reports whether the operand is a relative branch target.
func (k OperandKind) IsBranch() bool {
	return k == InlineBrTarget || k == ShortInlineBrTarget
}

// IsToken reports whether the operand is a metadata token.
func (k OperandKind) IsToken() bool {
	switch k {
	case InlineString, InlineField, InlineMethod, InlineType, InlineTok, InlineSig:
		return true
	}
	return false
}

// FlowControl describes how an instruction affects control flow.
type FlowControl uint8

const (
	FlowNext FlowControl = iota
	FlowBranch
	FlowCondBranch
	FlowReturn
	FlowCall
	FlowThrow
	FlowBreak
	FlowMeta
)

// TwoByteEscape introduces the second opcode table.
const TwoByteEscape = 0xFE

// OpCode is one entry of the fixed CIL opcode catalogue.
type OpCode struct {
	Name    string
	Value   uint16
	Size    uint8
	Operand OperandKind
	Flow    FlowControl
}

func (o OpCode) String() string {
	return o.Name
}

// Valid reports whether o came from the catalogue.
func (o OpCode) Valid() bool {
	return o.Name != ""
}

// EncodedSize is the size of the opcode bytes plus any fixed-width operand.
// Switch operands contribute only their count field.
func (o OpCode) EncodedSize() int {
	w := o.Operand.Width()
	if w < 0 {
		w = 4
	}
	return int(o.Size) + w
}

// LongForm returns the long-offset variant of a short branch, or o itself.
func (o OpCode) LongForm() OpCode {
	if l, ok := shortToLong[o.Value]; ok {
		return l
	}
	return o
}

// IsShortBranch reports whether o has a one-byte branch offset.
func (o OpCode) IsShortBranch() bool {
	return o.Operand == ShortInlineBrTarget
}

var (
	oneByte   [256]OpCode
	twoByte   [256]OpCode
	byName    = map[string]OpCode{}
	catalogue []OpCode
)

func op1(name string, b byte, k OperandKind, f FlowControl) OpCode {
	o := OpCode{Name: name, Value: uint16(b), Size: 1, Operand: k, Flow: f}
	oneByte[b] = o
	byName[name] = o
	catalogue = append(catalogue, o)
	return o
}

func op2(name string, b byte, k OperandKind, f FlowControl) OpCode {
	o := OpCode{Name: name, Value: TwoByteEscape<<8 | uint16(b), Size: 2, Operand: k, Flow: f}
	twoByte[b] = o
	byName[name] = o
	catalogue = append(catalogue, o)
	return o
}

// LookupOneByte returns the single-byte opcode encoded as b.
func LookupOneByte(b byte) (OpCode, bool) {
	o := oneByte[b]
	return o, o.Valid()
}

// LookupTwoByte returns the opcode encoded as 0xFE b.
func LookupTwoByte(b byte) (OpCode, bool) {
	o := twoByte[b]
	return o, o.Valid()
}

// LookupName finds an opcode by its ECMA-335 mnemonic.
func LookupName(name string) (OpCode, bool) {
	o, ok := byName[strings.ToLower(name)]
	return o, ok
}

// Catalogue returns every known opcode in declaration order.
func Catalogue() []OpCode {
	out := make([]OpCode, len(catalogue))
	copy(out, catalogue)
	return out
}

var (
	Nop     = op1("nop", 0x00, InlineNone, FlowNext)
	Break   = op1("break", 0x01, InlineNone, FlowBreak)
	Ldarg0  = op1("ldarg.0", 0x02, InlineNone, FlowNext)
	Ldarg1  = op1("ldarg.1", 0x03, InlineNone, FlowNext)
	Ldarg2  = op1("ldarg.2", 0x04, InlineNone, FlowNext)
	Ldarg3  = op1("ldarg.3", 0x05, InlineNone, FlowNext)
	Ldloc0  = op1("ldloc.0", 0x06, InlineNone, FlowNext)
	Ldloc1  = op1("ldloc.1", 0x07, InlineNone, FlowNext)
	Ldloc2  = op1("ldloc.2", 0x08, InlineNone, FlowNext)
	Ldloc3  = op1("ldloc.3", 0x09, InlineNone, FlowNext)
	Stloc0  = op1("stloc.0", 0x0A, InlineNone, FlowNext)
	Stloc1  = op1("stloc.1", 0x0B, InlineNone, FlowNext)
	Stloc2  = op1("stloc.2", 0x0C, InlineNone, FlowNext)
	Stloc3  = op1("stloc.3", 0x0D, InlineNone, FlowNext)
	LdargS  = op1("ldarg.s", 0x0E, ShortInlineVar, FlowNext)
	LdargaS = op1("ldarga.s", 0x0F, ShortInlineVar, FlowNext)
	StargS  = op1("starg.s", 0x10, ShortInlineVar, FlowNext)
	LdlocS  = op1("ldloc.s", 0x11, ShortInlineVar, FlowNext)
	LdlocaS = op1("ldloca.s", 0x12, ShortInlineVar, FlowNext)
	StlocS  = op1("stloc.s", 0x13, ShortInlineVar, FlowNext)
	Ldnull  = op1("ldnull", 0x14, InlineNone, FlowNext)
	LdcI4M1 = op1("ldc.i4.m1", 0x15, InlineNone, FlowNext)
	LdcI40  = op1("ldc.i4.0", 0x16, InlineNone, FlowNext)
	LdcI41  = op1("ldc.i4.1", 0x17, InlineNone, FlowNext)
	LdcI42  = op1("ldc.i4.2", 0x18, InlineNone, FlowNext)
	LdcI43  = op1("ldc.i4.3", 0x19, InlineNone, FlowNext)
	LdcI44  = op1("ldc.i4.4", 0x1A, InlineNone, FlowNext)
	LdcI45  = op1("ldc.i4.5", 0x1B, InlineNone, FlowNext)
	LdcI46  = op1("ldc.i4.6", 0x1C, InlineNone, FlowNext)
	LdcI47  = op1("ldc.i4.7", 0x1D, InlineNone, FlowNext)
	LdcI48  = op1("ldc.i4.8", 0x1E, InlineNone, FlowNext)
	LdcI4S  = op1("ldc.i4.s", 0x1F, ShortInlineI, FlowNext)
	LdcI4   = op1("ldc.i4", 0x20, InlineI, FlowNext)
	LdcI8   = op1("ldc.i8", 0x21, InlineI8, FlowNext)
	LdcR4   = op1("ldc.r4", 0x22, ShortInlineR, FlowNext)
	LdcR8   = op1("ldc.r8", 0x23, InlineR, FlowNext)
	Dup     = op1("dup", 0x25, InlineNone, FlowNext)
	Pop     = op1("pop", 0x26, InlineNone, FlowNext)
	Jmp     = op1("jmp", 0x27, InlineMethod, FlowCall)
	Call    = op1("call", 0x28, InlineMethod, FlowCall)
	Calli   = op1("calli", 0x29, InlineSig, FlowCall)
	Ret     = op1("ret", 0x2A, InlineNone, FlowReturn)

	BrS      = op1("br.s", 0x2B, ShortInlineBrTarget, FlowBranch)
	BrfalseS = op1("brfalse.s", 0x2C, ShortInlineBrTarget, FlowCondBranch)
	BrtrueS  = op1("brtrue.s", 0x2D, ShortInlineBrTarget, FlowCondBranch)
	BeqS     = op1("beq.s", 0x2E, ShortInlineBrTarget, FlowCondBranch)
	BgeS     = op1("bge.s", 0x2F, ShortInlineBrTarget, FlowCondBranch)
	BgtS     = op1("bgt.s", 0x30, ShortInlineBrTarget, FlowCondBranch)
	BleS     = op1("ble.s", 0x31, ShortInlineBrTarget, FlowCondBranch)
	BltS     = op1("blt.s", 0x32, ShortInlineBrTarget, FlowCondBranch)
	BneUnS   = op1("bne.un.s", 0x33, ShortInlineBrTarget, FlowCondBranch)
	BgeUnS   = op1("bge.un.s", 0x34, ShortInlineBrTarget, FlowCondBranch)
	BgtUnS   = op1("bgt.un.s", 0x35, ShortInlineBrTarget, FlowCondBranch)
	BleUnS   = op1("ble.un.s", 0x36, ShortInlineBrTarget, FlowCondBranch)
	BltUnS   = op1("blt.un.s", 0x37, ShortInlineBrTarget, FlowCondBranch)
	Br       = op1("br", 0x38, InlineBrTarget, FlowBranch)
	Brfalse  = op1("brfalse", 0x39, InlineBrTarget, FlowCondBranch)
	Brtrue   = op1("brtrue", 0x3A, InlineBrTarget, FlowCondBranch)
	Beq      = op1("beq", 0x3B, InlineBrTarget, FlowCondBranch)
	Bge      = op1("bge", 0x3C, InlineBrTarget, FlowCondBranch)
	Bgt      = op1("bgt", 0x3D, InlineBrTarget, FlowCondBranch)
	Ble      = op1("ble", 0x3E, InlineBrTarget, FlowCondBranch)
	Blt      = op1("blt", 0x3F, InlineBrTarget, FlowCondBranch)
	BneUn    = op1("bne.un", 0x40, InlineBrTarget, FlowCondBranch)
	BgeUn    = op1("bge.un", 0x41, InlineBrTarget, FlowCondBranch)
	BgtUn    = op1("bgt.un", 0x42, InlineBrTarget, FlowCondBranch)
	BleUn    = op1("ble.un", 0x43, InlineBrTarget, FlowCondBranch)
	BltUn    = op1("blt.un", 0x44, InlineBrTarget, FlowCondBranch)
	Switch   = op1("switch", 0x45, InlineSwitch, FlowCondBranch)

	LdindI1  = op1("ldind.i1", 0x46, InlineNone, FlowNext)
	LdindU1  = op1("ldind.u1", 0x47, InlineNone, FlowNext)
	LdindI2  = op1("ldind.i2", 0x48, InlineNone, FlowNext)
	LdindU2  = op1("ldind.u2", 0x49, InlineNone, FlowNext)
	LdindI4  = op1("ldind.i4", 0x4A, InlineNone, FlowNext)
	LdindU4  = op1("ldind.u4", 0x4B, InlineNone, FlowNext)
	LdindI8  = op1("ldind.i8", 0x4C, InlineNone, FlowNext)
	LdindI   = op1("ldind.i", 0x4D, InlineNone, FlowNext)
	LdindR4  = op1("ldind.r4", 0x4E, InlineNone, FlowNext)
	LdindR8  = op1("ldind.r8", 0x4F, InlineNone, FlowNext)
	LdindRef = op1("ldind.ref", 0x50, InlineNone, FlowNext)
	StindRef = op1("stind.ref", 0x51, InlineNone, FlowNext)
	StindI1  = op1("stind.i1", 0x52, InlineNone, FlowNext)
	StindI2  = op1("stind.i2", 0x53, InlineNone, FlowNext)
	StindI4  = op1("stind.i4", 0x54, InlineNone, FlowNext)
	StindI8  = op1("stind.i8", 0x55, InlineNone, FlowNext)
	StindR4  = op1("stind.r4", 0x56, InlineNone, FlowNext)
	StindR8  = op1("stind.r8", 0x57, InlineNone, FlowNext)

	Add   = op1("add", 0x58, InlineNone, FlowNext)
	Sub   = op1("sub", 0x59, InlineNone, FlowNext)
	Mul   = op1("mul", 0x5A, InlineNone, FlowNext)
	Div   = op1("div", 0x5B, InlineNone, FlowNext)
	DivUn = op1("div.un", 0x5C, InlineNone, FlowNext)
	Rem   = op1("rem", 0x5D, InlineNone, FlowNext)
	RemUn = op1("rem.un", 0x5E, InlineNone, FlowNext)
	And   = op1("and", 0x5F, InlineNone, FlowNext)
	Or    = op1("or", 0x60, InlineNone, FlowNext)
	Xor   = op1("xor", 0x61, InlineNone, FlowNext)
	Shl   = op1("shl", 0x62, InlineNone, FlowNext)
	Shr   = op1("shr", 0x63, InlineNone, FlowNext)
	ShrUn = op1("shr.un", 0x64, InlineNone, FlowNext)
	Neg   = op1("neg", 0x65, InlineNone, FlowNext)
	Not   = op1("not", 0x66, InlineNone, FlowNext)

	ConvI1 = op1("conv.i1", 0x67, InlineNone, FlowNext)
	ConvI2 = op1("conv.i2", 0x68, InlineNone, FlowNext)
	ConvI4 = op1("conv.i4", 0x69, InlineNone, FlowNext)
	ConvI8 = op1("conv.i8", 0x6A, InlineNone, FlowNext)
	ConvR4 = op1("conv.r4", 0x6B, InlineNone, FlowNext)
	ConvR8 = op1("conv.r8", 0x6C, InlineNone, FlowNext)
	ConvU4 = op1("conv.u4", 0x6D, InlineNone, FlowNext)
	ConvU8 = op1("conv.u8", 0x6E, InlineNone, FlowNext)

	Callvirt  = op1("callvirt", 0x6F, InlineMethod, FlowCall)
	Cpobj     = op1("cpobj", 0x70, InlineType, FlowNext)
	Ldobj     = op1("ldobj", 0x71, InlineType, FlowNext)
	Ldstr     = op1("ldstr", 0x72, InlineString, FlowNext)
	Newobj    = op1("newobj", 0x73, InlineMethod, FlowCall)
	Castclass = op1("castclass", 0x74, InlineType, FlowNext)
	Isinst    = op1("isinst", 0x75, InlineType, FlowNext)
	ConvRUn   = op1("conv.r.un", 0x76, InlineNone, FlowNext)
	Unbox     = op1("unbox", 0x79, InlineType, FlowNext)
	Throw     = op1("throw", 0x7A, InlineNone, FlowThrow)
	Ldfld     = op1("ldfld", 0x7B, InlineField, FlowNext)
	Ldflda    = op1("ldflda", 0x7C, InlineField, FlowNext)
	Stfld     = op1("stfld", 0x7D, InlineField, FlowNext)
	Ldsfld    = op1("ldsfld", 0x7E, InlineField, FlowNext)
	Ldsflda   = op1("ldsflda", 0x7F, InlineField, FlowNext)
	Stsfld    = op1("stsfld", 0x80, InlineField, FlowNext)
	Stobj     = op1("stobj", 0x81, InlineType, FlowNext)

	ConvOvfI1Un = op1("conv.ovf.i1.un", 0x82, InlineNone, FlowNext)
	ConvOvfI2Un = op1("conv.ovf.i2.un", 0x83, InlineNone, FlowNext)
	ConvOvfI4Un = op1("conv.ovf.i4.un", 0x84, InlineNone, FlowNext)
	ConvOvfI8Un = op1("conv.ovf.i8.un", 0x85, InlineNone, FlowNext)
	ConvOvfU1Un = op1("conv.ovf.u1.un", 0x86, InlineNone, FlowNext)
	ConvOvfU2Un = op1("conv.ovf.u2.un", 0x87, InlineNone, FlowNext)
	ConvOvfU4Un = op1("conv.ovf.u4.un", 0x88, InlineNone, FlowNext)
	ConvOvfU8Un = op1("conv.ovf.u8.un", 0x89, InlineNone, FlowNext)
	ConvOvfIUn  = op1("conv.ovf.i.un", 0x8A, InlineNone, FlowNext)
	ConvOvfUUn  = op1("conv.ovf.u.un", 0x8B, InlineNone, FlowNext)

	Box      = op1("box", 0x8C, InlineType, FlowNext)
	Newarr   = op1("newarr", 0x8D, InlineType, FlowNext)
	Ldlen    = op1("ldlen", 0x8E, InlineNone, FlowNext)
	Ldelema  = op1("ldelema", 0x8F, InlineType, FlowNext)
	LdelemI1 = op1("ldelem.i1", 0x90, InlineNone, FlowNext)
	LdelemU1 = op1("ldelem.u1", 0x91, InlineNone, FlowNext)
	LdelemI2 = op1("ldelem.i2", 0x92, InlineNone, FlowNext)
	LdelemU2 = op1("ldelem.u2", 0x93, InlineNone, FlowNext)
	LdelemI4 = op1("ldelem.i4", 0x94, InlineNone, FlowNext)
	LdelemU4 = op1("ldelem.u4", 0x95, InlineNone, FlowNext)
	LdelemI8 = op1("ldelem.i8", 0x96, InlineNone, FlowNext)
	LdelemI  = op1("ldelem.i", 0x97, InlineNone, FlowNext)
	LdelemR4 = op1("ldelem.r4", 0x98, InlineNone, FlowNext)
	LdelemR8 = op1("ldelem.r8", 0x99, InlineNone, FlowNext)

	LdelemRef = op1("ldelem.ref", 0x9A, InlineNone, FlowNext)
	StelemI   = op1("stelem.i", 0x9B, InlineNone, FlowNext)
	StelemI1  = op1("stelem.i1", 0x9C, InlineNone, FlowNext)
	StelemI2  = op1("stelem.i2", 0x9D, InlineNone, FlowNext)
	StelemI4  = op1("stelem.i4", 0x9E, InlineNone, FlowNext)
	StelemI8  = op1("stelem.i8", 0x9F, InlineNone, FlowNext)
	StelemR4  = op1("stelem.r4", 0xA0, InlineNone, FlowNext)
	StelemR8  = op1("stelem.r8", 0xA1, InlineNone, FlowNext)
	StelemRef = op1("stelem.ref", 0xA2, InlineNone, FlowNext)
	Ldelem    = op1("ldelem", 0xA3, InlineType, FlowNext)
	Stelem    = op1("stelem", 0xA4, InlineType, FlowNext)
	UnboxAny  = op1("unbox.any", 0xA5, InlineType, FlowNext)

	ConvOvfI1 = op1("conv.ovf.i1", 0xB3, InlineNone, FlowNext)
	ConvOvfU1 = op1("conv.ovf.u1", 0xB4, InlineNone, FlowNext)
	ConvOvfI2 = op1("conv.ovf.i2", 0xB5, InlineNone, FlowNext)
	ConvOvfU2 = op1("conv.ovf.u2", 0xB6, InlineNone, FlowNext)
	ConvOvfI4 = op1("conv.ovf.i4", 0xB7, InlineNone, FlowNext)
	ConvOvfU4 = op1("conv.ovf.u4", 0xB8, InlineNone, FlowNext)
	ConvOvfI8 = op1("conv.ovf.i8", 0xB9, InlineNone, FlowNext)
	ConvOvfU8 = op1("conv.ovf.u8", 0xBA, InlineNone, FlowNext)
	Refanyval = op1("refanyval", 0xC2, InlineType, FlowNext)
	Ckfinite  = op1("ckfinite", 0xC3, InlineNone, FlowNext)
	Mkrefany  = op1("mkrefany", 0xC6, InlineType, FlowNext)
	Ldtoken   = op1("ldtoken", 0xD0, InlineTok, FlowNext)
	ConvU2    = op1("conv.u2", 0xD1, InlineNone, FlowNext)
	ConvU1    = op1("conv.u1", 0xD2, InlineNone, FlowNext)
	ConvI     = op1("conv.i", 0xD3, InlineNone, FlowNext)
	ConvOvfI  = op1("conv.ovf.i", 0xD4, InlineNone, FlowNext)
	ConvOvfU  = op1("conv.ovf.u", 0xD5, InlineNone, FlowNext)
	AddOvf    = op1("add.ovf", 0xD6, InlineNone, FlowNext)
	AddOvfUn  = op1("add.ovf.un", 0xD7, InlineNone, FlowNext)
	MulOvf    = op1("mul.ovf", 0xD8, InlineNone, FlowNext)
	MulOvfUn  = op1("mul.ovf.un", 0xD9, InlineNone, FlowNext)
	SubOvf    = op1("sub.ovf", 0xDA, InlineNone, FlowNext)
	SubOvfUn  = op1("sub.ovf.un", 0xDB, InlineNone, FlowNext)

	Endfinally = op1("endfinally", 0xDC, InlineNone, FlowReturn)
	Leave      = op1("leave", 0xDD, InlineBrTarget, FlowBranch)
	LeaveS     = op1("leave.s", 0xDE, ShortInlineBrTarget, FlowBranch)
	StindI     = op1("stind.i", 0xDF, InlineNone, FlowNext)
	ConvU      = op1("conv.u", 0xE0, InlineNone, FlowNext)

	Arglist     = op2("arglist", 0x00, InlineNone, FlowNext)
	Ceq         = op2("ceq", 0x01, InlineNone, FlowNext)
	Cgt         = op2("cgt", 0x02, InlineNone, FlowNext)
	CgtUn       = op2("cgt.un", 0x03, InlineNone, FlowNext)
	Clt         = op2("clt", 0x04, InlineNone, FlowNext)
	CltUn       = op2("clt.un", 0x05, InlineNone, FlowNext)
	Ldftn       = op2("ldftn", 0x06, InlineMethod, FlowNext)
	Ldvirtftn   = op2("ldvirtftn", 0x07, InlineMethod, FlowNext)
	Ldarg       = op2("ldarg", 0x09, InlineVar, FlowNext)
	Ldarga      = op2("ldarga", 0x0A, InlineVar, FlowNext)
	Starg       = op2("starg", 0x0B, InlineVar, FlowNext)
	Ldloc       = op2("ldloc", 0x0C, InlineVar, FlowNext)
	Ldloca      = op2("ldloca", 0x0D, InlineVar, FlowNext)
	Stloc       = op2("stloc", 0x0E, InlineVar, FlowNext)
	Localloc    = op2("localloc", 0x0F, InlineNone, FlowNext)
	Endfilter   = op2("endfilter", 0x11, InlineNone, FlowReturn)
	Unaligned   = op2("unaligned.", 0x12, ShortInlineI, FlowMeta)
	Volatile    = op2("volatile.", 0x13, InlineNone, FlowMeta)
	Tail        = op2("tail.", 0x14, InlineNone, FlowMeta)
	Initobj     = op2("initobj", 0x15, InlineType, FlowNext)
	Constrained = op2("constrained.", 0x16, InlineType, FlowMeta)
	Cpblk       = op2("cpblk", 0x17, InlineNone, FlowNext)
	Initblk     = op2("initblk", 0x18, InlineNone, FlowNext)
	No          = op2("no.", 0x19, ShortInlineI, FlowMeta)
	Rethrow     = op2("rethrow", 0x1A, InlineNone, FlowThrow)
	Sizeof      = op2("sizeof", 0x1C, InlineType, FlowNext)
	Refanytype  = op2("refanytype", 0x1D, InlineNone, FlowNext)
	Readonly    = op2("readonly.", 0x1E, InlineNone, FlowMeta)
)

var shortToLong = map[uint16]OpCode{
	BrS.Value:      Br,
	BrfalseS.Value: Brfalse,
	BrtrueS.Value:  Brtrue,
	BeqS.Value:     Beq,
	BgeS.Value:     Bge,
	BgtS.Value:     Bgt,
	BleS.Value:     Ble,
	BltS.Value:     Blt,
	BneUnS.Value:   BneUn,
	BgeUnS.Value:   BgeUn,
	BgtUnS.Value:   BgtUn,
	BleUnS.Value:   BleUn,
	BltUnS.Value:   BltUn,
	LeaveS.Value:   Leave,
}
