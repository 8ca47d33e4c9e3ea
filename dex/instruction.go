// Copyright 2014 The go-dexguard Authors
// This file is part of the go-dexguard library.
//
// The go-dexguard library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-dexguard library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-dexguard library. If not, see <http://www.gnu.org/licenses/>.

// Package dex fixes the shape of the decoded-instruction cursor the
// verifier consumes and ships a small reference decoder over a
// representative, non-exhaustive opcode subset. Parsing the real Dex binary
// instruction stream is explicitly out of scope; this package
// exists only to give the verifier's data-flow pass something concrete to
// walk in tests and the CLI.
package dex

// Opcode mnemonics, named after their real Dex counterparts. Numeric values
// are this package's own and carry no relation to the on-disk encoding.
type Opcode uint16

const (
	OpNop Opcode = iota
	OpMove
	OpMoveWide
	OpMoveObject
	OpMoveResult
	OpMoveResultWide
	OpMoveResultObject
	OpMoveException
	OpReturnVoid
	OpReturn
	OpReturnWide
	OpReturnObject
	OpConst4
	OpConst
	OpConstWide
	OpConstString
	OpConstClass
	OpMonitorEnter
	OpMonitorExit
	OpCheckCast
	OpInstanceOf
	OpNewInstance
	OpNewArray
	OpFilledNewArray
	OpFillArrayData
	OpFillArrayDataPayload
	OpThrow
	OpGoto
	OpPackedSwitch
	OpPackedSwitchPayload
	OpSparseSwitch
	OpSparseSwitchPayload
	OpIfEqz
	OpIfNez
	OpIfLtz
	OpIfGez
	OpIfGtz
	OpIfLez
	OpIfEq
	OpIfNe
	OpIfLt
	OpIfGe
	OpIfGt
	OpIfLe
	OpAget
	OpAgetWide
	OpAgetObject
	OpAgetBoolean
	OpAgetByte
	OpAgetChar
	OpAgetShort
	OpAput
	OpAputWide
	OpAputObject
	OpAputBoolean
	OpAputByte
	OpAputChar
	OpAputShort
	OpIget
	OpIgetWide
	OpIgetObject
	OpIgetBoolean
	OpIgetByte
	OpIgetChar
	OpIgetShort
	OpIput
	OpIputWide
	OpIputObject
	OpIputBoolean
	OpIputByte
	OpIputChar
	OpIputShort
	OpSget
	OpSgetWide
	OpSgetObject
	OpSgetBoolean
	OpSgetByte
	OpSgetChar
	OpSgetShort
	OpSput
	OpSputWide
	OpSputObject
	OpSputBoolean
	OpSputByte
	OpSputChar
	OpSputShort
	OpInvokeVirtual
	OpInvokeSuper
	OpInvokeDirect
	OpInvokeStatic
	OpInvokeInterface
	OpAddInt
	OpAddInt2Addr
	OpAddLong
	OpAddFloat
	OpAddDouble
)

// Format is the Dex instruction-format tag. Only used for
// generic, format-driven validation (e.g. "does this opcode carry a
// var-arg register list").
type Format string

const (
	Format10x Format = "10x" // no operands
	Format11x Format = "11x" // vA
	Format12x Format = "12x" // vA, vB (4-bit each)
	Format11n Format = "11n" // vA (4-bit), literal (4-bit signed)
	Format21s Format = "21s" // vA (8-bit), 16-bit signed literal
	Format21c Format = "21c" // vA (8-bit), 16-bit pool index
	Format22c Format = "22c" // vA, vB (4-bit each), 16-bit pool index
	Format21t Format = "21t" // vA (8-bit), 16-bit signed branch offset
	Format22t Format = "22t" // vA, vB (4-bit each), 16-bit signed branch offset
	Format10t Format = "10t" // 8-bit signed branch offset
	Format23x Format = "23x" // vA, vB, vC (8-bit each)
	Format35c Format = "35c" // vararg registers + 16-bit pool index
	Format3rc  Format = "3rc" // register range + 16-bit pool index
	Format31t Format = "31t" // vA (8-bit), 32-bit signed offset (switch/array-data payload)
	FormatPayload Format = "payload"
)

// VerifyFlags marks which operand fields of an instruction carry an index
// that the static pass must range-check.
type VerifyFlags uint32

const (
	VerifyRegA VerifyFlags = 1 << iota
	VerifyRegB
	VerifyRegC
	VerifyField
	VerifyMethod
	VerifyType
	VerifyString
	VerifyNewInstance
	VerifyNewArray
	VerifyFilledNewArray
	VerifyVarArg
	VerifyVarArgRange
)

// ExtraVerifyFlags marks the branch/switch/array-data shape of an
// instruction.
type ExtraVerifyFlags uint32

const (
	VerifyArrayData ExtraVerifyFlags = 1 << iota
	VerifyBranchTarget
	VerifySwitchTargets
	VerifyNonZero
)

// info is the per-opcode static metadata a verifier consults without a
// giant switch statement, the same lookup-table idiom the lattice tables
// use.
type info struct {
	format    Format
	verify    VerifyFlags
	extra     ExtraVerifyFlags
	width     int // width in code units; NewCursor lays out dex-pcs from it
	canThrow  bool
}

var opcodeInfo = map[Opcode]info{
	OpNop:                  {Format10x, 0, 0, 1, false},
	OpMove:                 {Format12x, VerifyRegA | VerifyRegB, 0, 1, false},
	OpMoveWide:             {Format12x, VerifyRegA | VerifyRegB, 0, 1, false},
	OpMoveObject:           {Format12x, VerifyRegA | VerifyRegB, 0, 1, false},
	OpMoveResult:           {Format11x, VerifyRegA, 0, 1, false},
	OpMoveResultWide:       {Format11x, VerifyRegA, 0, 1, false},
	OpMoveResultObject:     {Format11x, VerifyRegA, 0, 1, false},
	OpMoveException:        {Format11x, VerifyRegA, 0, 1, false},
	OpReturnVoid:           {Format10x, 0, 0, 1, false},
	OpReturn:               {Format11x, VerifyRegA, 0, 1, false},
	OpReturnWide:           {Format11x, VerifyRegA, 0, 1, false},
	OpReturnObject:         {Format11x, VerifyRegA, 0, 1, false},
	OpConst4:               {Format11n, VerifyRegA, 0, 1, false},
	OpConst:                {Format21s, VerifyRegA, 0, 2, false},
	OpConstWide:            {Format21s, VerifyRegA, 0, 3, false},
	OpConstString:          {Format21c, VerifyRegA | VerifyString, 0, 2, true},
	OpConstClass:           {Format21c, VerifyRegA | VerifyType, 0, 2, true},
	OpMonitorEnter:         {Format11x, VerifyRegA, 0, 1, true},
	OpMonitorExit:          {Format11x, VerifyRegA, 0, 1, true},
	OpCheckCast:            {Format21c, VerifyRegA | VerifyType, 0, 2, true},
	OpInstanceOf:           {Format22c, VerifyRegA | VerifyRegB | VerifyType, 0, 2, true},
	OpNewInstance:          {Format21c, VerifyRegA | VerifyNewInstance, 0, 2, true},
	OpNewArray:             {Format22c, VerifyRegA | VerifyRegB | VerifyNewArray, 0, 2, true},
	OpFilledNewArray:       {Format35c, VerifyFilledNewArray | VerifyVarArg, 0, 3, true},
	OpFillArrayData:        {Format31t, VerifyRegA, VerifyArrayData, 3, true},
	OpFillArrayDataPayload: {FormatPayload, 0, 0, 0, false},
	OpThrow:                {Format11x, VerifyRegA, 0, 1, true},
	OpGoto:                 {Format10t, 0, VerifyBranchTarget, 1, false},
	OpPackedSwitch:         {Format31t, VerifyRegA, VerifySwitchTargets, 3, false},
	OpPackedSwitchPayload:  {FormatPayload, 0, 0, 0, false},
	OpSparseSwitch:         {Format31t, VerifyRegA, VerifySwitchTargets, 3, false},
	OpSparseSwitchPayload:  {FormatPayload, 0, 0, 0, false},
	OpIfEqz:                {Format21t, VerifyRegA, VerifyBranchTarget, 2, false},
	OpIfNez:                {Format21t, VerifyRegA, VerifyBranchTarget, 2, false},
	OpIfLtz:                {Format21t, VerifyRegA, VerifyBranchTarget, 2, false},
	OpIfGez:                {Format21t, VerifyRegA, VerifyBranchTarget, 2, false},
	OpIfGtz:                {Format21t, VerifyRegA, VerifyBranchTarget, 2, false},
	OpIfLez:                {Format21t, VerifyRegA, VerifyBranchTarget, 2, false},
	OpIfEq:                 {Format22t, VerifyRegA | VerifyRegB, VerifyBranchTarget, 2, false},
	OpIfNe:                 {Format22t, VerifyRegA | VerifyRegB, VerifyBranchTarget, 2, false},
	OpIfLt:                 {Format22t, VerifyRegA | VerifyRegB, VerifyBranchTarget, 2, false},
	OpIfGe:                 {Format22t, VerifyRegA | VerifyRegB, VerifyBranchTarget, 2, false},
	OpIfGt:                 {Format22t, VerifyRegA | VerifyRegB, VerifyBranchTarget, 2, false},
	OpIfLe:                 {Format22t, VerifyRegA | VerifyRegB, VerifyBranchTarget, 2, false},
	OpAget:                 {Format23x, VerifyRegA | VerifyRegB | VerifyRegC, 0, 2, true},
	OpAgetWide:             {Format23x, VerifyRegA | VerifyRegB | VerifyRegC, 0, 2, true},
	OpAgetObject:           {Format23x, VerifyRegA | VerifyRegB | VerifyRegC, 0, 2, true},
	OpAgetBoolean:          {Format23x, VerifyRegA | VerifyRegB | VerifyRegC, 0, 2, true},
	OpAgetByte:             {Format23x, VerifyRegA | VerifyRegB | VerifyRegC, 0, 2, true},
	OpAgetChar:             {Format23x, VerifyRegA | VerifyRegB | VerifyRegC, 0, 2, true},
	OpAgetShort:            {Format23x, VerifyRegA | VerifyRegB | VerifyRegC, 0, 2, true},
	OpAput:                 {Format23x, VerifyRegA | VerifyRegB | VerifyRegC, 0, 2, true},
	OpAputWide:             {Format23x, VerifyRegA | VerifyRegB | VerifyRegC, 0, 2, true},
	OpAputObject:           {Format23x, VerifyRegA | VerifyRegB | VerifyRegC, 0, 2, true},
	OpAputBoolean:          {Format23x, VerifyRegA | VerifyRegB | VerifyRegC, 0, 2, true},
	OpAputByte:             {Format23x, VerifyRegA | VerifyRegB | VerifyRegC, 0, 2, true},
	OpAputChar:             {Format23x, VerifyRegA | VerifyRegB | VerifyRegC, 0, 2, true},
	OpAputShort:            {Format23x, VerifyRegA | VerifyRegB | VerifyRegC, 0, 2, true},
	OpIget:                 {Format22c, VerifyRegA | VerifyRegB | VerifyField, 0, 2, true},
	OpIgetWide:             {Format22c, VerifyRegA | VerifyRegB | VerifyField, 0, 2, true},
	OpIgetObject:           {Format22c, VerifyRegA | VerifyRegB | VerifyField, 0, 2, true},
	OpIgetBoolean:          {Format22c, VerifyRegA | VerifyRegB | VerifyField, 0, 2, true},
	OpIgetByte:             {Format22c, VerifyRegA | VerifyRegB | VerifyField, 0, 2, true},
	OpIgetChar:             {Format22c, VerifyRegA | VerifyRegB | VerifyField, 0, 2, true},
	OpIgetShort:            {Format22c, VerifyRegA | VerifyRegB | VerifyField, 0, 2, true},
	OpIput:                 {Format22c, VerifyRegA | VerifyRegB | VerifyField, 0, 2, true},
	OpIputWide:             {Format22c, VerifyRegA | VerifyRegB | VerifyField, 0, 2, true},
	OpIputObject:           {Format22c, VerifyRegA | VerifyRegB | VerifyField, 0, 2, true},
	OpIputBoolean:          {Format22c, VerifyRegA | VerifyRegB | VerifyField, 0, 2, true},
	OpIputByte:             {Format22c, VerifyRegA | VerifyRegB | VerifyField, 0, 2, true},
	OpIputChar:             {Format22c, VerifyRegA | VerifyRegB | VerifyField, 0, 2, true},
	OpIputShort:            {Format22c, VerifyRegA | VerifyRegB | VerifyField, 0, 2, true},
	OpSget:                 {Format21c, VerifyRegA | VerifyField, 0, 2, true},
	OpSgetWide:             {Format21c, VerifyRegA | VerifyField, 0, 2, true},
	OpSgetObject:           {Format21c, VerifyRegA | VerifyField, 0, 2, true},
	OpSgetBoolean:          {Format21c, VerifyRegA | VerifyField, 0, 2, true},
	OpSgetByte:             {Format21c, VerifyRegA | VerifyField, 0, 2, true},
	OpSgetChar:             {Format21c, VerifyRegA | VerifyField, 0, 2, true},
	OpSgetShort:            {Format21c, VerifyRegA | VerifyField, 0, 2, true},
	OpSput:                 {Format21c, VerifyRegA | VerifyField, 0, 2, true},
	OpSputWide:             {Format21c, VerifyRegA | VerifyField, 0, 2, true},
	OpSputObject:           {Format21c, VerifyRegA | VerifyField, 0, 2, true},
	OpSputBoolean:          {Format21c, VerifyRegA | VerifyField, 0, 2, true},
	OpSputByte:             {Format21c, VerifyRegA | VerifyField, 0, 2, true},
	OpSputChar:             {Format21c, VerifyRegA | VerifyField, 0, 2, true},
	OpSputShort:            {Format21c, VerifyRegA | VerifyField, 0, 2, true},
	OpInvokeVirtual:        {Format35c, VerifyMethod | VerifyVarArg, 0, 3, true},
	OpInvokeSuper:          {Format35c, VerifyMethod | VerifyVarArg, 0, 3, true},
	OpInvokeDirect:         {Format35c, VerifyMethod | VerifyVarArg, 0, 3, true},
	OpInvokeStatic:         {Format35c, VerifyMethod | VerifyVarArg, 0, 3, true},
	OpInvokeInterface:      {Format35c, VerifyMethod | VerifyVarArg, 0, 3, true},
	OpAddInt:                {Format23x, VerifyRegA | VerifyRegB | VerifyRegC, 0, 2, false},
	OpAddInt2Addr:           {Format12x, VerifyRegA | VerifyRegB, 0, 1, false},
	OpAddLong:               {Format23x, VerifyRegA | VerifyRegB | VerifyRegC, 0, 2, false},
	OpAddFloat:              {Format23x, VerifyRegA | VerifyRegB | VerifyRegC, 0, 2, false},
	OpAddDouble:             {Format23x, VerifyRegA | VerifyRegB | VerifyRegC, 0, 2, false},
}

// Format returns op's instruction-format tag.
func (op Opcode) Format() Format { return opcodeInfo[op].format }

// VerifyFlags returns op's index-bearing-field bitset.
func (op Opcode) VerifyFlags() VerifyFlags { return opcodeInfo[op].verify }

// ExtraVerifyFlags returns op's branch/switch/array-data shape bitset.
func (op Opcode) ExtraVerifyFlags() ExtraVerifyFlags { return opcodeInfo[op].extra }

// Width returns op's width in code units. NewCursor assigns each
// instruction's dex-pc from it, and the verifier steps between
// instructions by it.
func (op Opcode) Width() int { return opcodeInfo[op].width }

// CanThrow reports whether op may throw at runtime, the flag the static
// pass uses to decide try-range membership effects.
func (op Opcode) CanThrow() bool { return opcodeInfo[op].canThrow }

// Instruction is one decoded instruction: opcode, format, and the
// vA/vB/vC/vH operand extractors collapsed into
// plain fields since this reference decoder starts from a struct rather
// than a packed code-unit stream.
type Instruction struct {
	PC   uint32
	Op   Opcode
	A, B, C int
	// H carries whichever single extra value the opcode needs: a pool
	// index (type/field/method/string), a branch-target dex-pc, a literal,
	// or a switch/array-data payload's dex-pc.
	H int64
	// Args holds the receiver-then-argument register list for
	// invoke-*/filled-new-array (format 35c/3rc).
	Args []int
}

func (i Instruction) Format() Format               { return i.Op.Format() }
func (i Instruction) VerifyFlags() VerifyFlags     { return i.Op.VerifyFlags() }
func (i Instruction) ExtraVerifyFlags() ExtraVerifyFlags { return i.Op.ExtraVerifyFlags() }
func (i Instruction) Width() int                   { return i.Op.Width() }
func (i Instruction) CanThrow() bool               { return i.Op.CanThrow() }
