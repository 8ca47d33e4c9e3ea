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

package verifier

import (
	"fmt"

	"github.com/dexguard/go-dexguard/classresolver"
	"github.com/dexguard/go-dexguard/dex"
	"github.com/dexguard/go-dexguard/failsink"
	"github.com/dexguard/go-dexguard/regtype"
	"github.com/dexguard/go-dexguard/regtypecache"
	"github.com/dexguard/go-dexguard/registerline"
)

// verifyInstruction dispatches one instruction and reports how its caller
// should propagate the working line.
func (mv *MethodVerifier) verifyInstruction(pc uint32, insn dex.Instruction) (flow, error) {
	switch insn.Op {
	case dex.OpNop:
		return flow{fallsThrough: true}, nil

	case dex.OpMove, dex.OpMoveObject:
		return mv.doMove(pc, insn)
	case dex.OpMoveWide:
		return mv.doMoveWide(pc, insn)
	case dex.OpMoveResult, dex.OpMoveResultWide, dex.OpMoveResultObject:
		return mv.doMoveResult(pc, insn)
	case dex.OpMoveException:
		return mv.doMoveException(pc, insn)

	case dex.OpReturnVoid, dex.OpReturn, dex.OpReturnWide, dex.OpReturnObject:
		return mv.doReturn(pc, insn)

	case dex.OpConst4, dex.OpConst:
		mv.work.SetRegisterType(insn.A, mv.cache.GetFromRegKind(regtype.IntegerConstant), registerline.ClearLocks)
		return flow{fallsThrough: true}, nil
	case dex.OpConstWide:
		mv.work.SetRegisterTypeWide(insn.A, mv.cache.GetFromRegKind(regtype.ConstantLo), mv.cache.GetFromRegKind(regtype.ConstantHi))
		return flow{fallsThrough: true}, nil
	case dex.OpConstString:
		// const-string never needs the actual string value, only the lazily
		// resolved java.lang.String type.
		mv.work.SetRegisterType(insn.A, mv.cache.FromDescriptor("Ljava/lang/String;"), registerline.ClearLocks)
		return flow{fallsThrough: true}, nil
	case dex.OpConstClass:
		return mv.doConstClass(pc, insn)

	case dex.OpMonitorEnter:
		return mv.doMonitorEnter(pc, insn)
	case dex.OpMonitorExit:
		return mv.doMonitorExit(pc, insn)

	case dex.OpCheckCast:
		return mv.doCheckCast(pc, insn)
	case dex.OpInstanceOf:
		return mv.doInstanceOf(pc, insn)

	case dex.OpNewInstance:
		return mv.doNewInstance(pc, insn)
	case dex.OpNewArray:
		return mv.doNewArray(pc, insn)
	case dex.OpFilledNewArray:
		return mv.doFilledNewArray(pc, insn)
	case dex.OpFillArrayData:
		// The payload's element contents aren't typed any further than the
		// destination array register itself.
		return flow{fallsThrough: true}, nil

	case dex.OpThrow:
		return mv.doThrow(pc, insn)
	case dex.OpGoto:
		return flow{branches: []branchTarget{{pc: uint32(insn.H)}}}, nil
	case dex.OpPackedSwitch, dex.OpSparseSwitch:
		return mv.doSwitch(pc, insn)

	case dex.OpIfEqz, dex.OpIfNez, dex.OpIfLtz, dex.OpIfGez, dex.OpIfGtz, dex.OpIfLez:
		return mv.doIfZ(pc, insn)
	case dex.OpIfEq, dex.OpIfNe, dex.OpIfLt, dex.OpIfGe, dex.OpIfGt, dex.OpIfLe:
		if err := mv.checkOperand(pc, anyCategory1, insn.A, insn.B); err != nil {
			return flow{hardFail: true}, nil
		}
		return flow{branches: []branchTarget{{pc: uint32(insn.H)}}, fallsThrough: true}, nil

	case dex.OpAget, dex.OpAgetWide, dex.OpAgetObject, dex.OpAgetBoolean, dex.OpAgetByte, dex.OpAgetChar, dex.OpAgetShort:
		return mv.doAget(pc, insn)
	case dex.OpAput, dex.OpAputWide, dex.OpAputObject, dex.OpAputBoolean, dex.OpAputByte, dex.OpAputChar, dex.OpAputShort:
		return mv.doAput(pc, insn)

	case dex.OpIget, dex.OpIgetWide, dex.OpIgetObject, dex.OpIgetBoolean, dex.OpIgetByte, dex.OpIgetChar, dex.OpIgetShort:
		return mv.doIget(pc, insn)
	case dex.OpIput, dex.OpIputWide, dex.OpIputObject, dex.OpIputBoolean, dex.OpIputByte, dex.OpIputChar, dex.OpIputShort:
		return mv.doIput(pc, insn)
	case dex.OpSget, dex.OpSgetWide, dex.OpSgetObject, dex.OpSgetBoolean, dex.OpSgetByte, dex.OpSgetChar, dex.OpSgetShort:
		return mv.doSget(pc, insn)
	case dex.OpSput, dex.OpSputWide, dex.OpSputObject, dex.OpSputBoolean, dex.OpSputByte, dex.OpSputChar, dex.OpSputShort:
		return mv.doSput(pc, insn)

	case dex.OpInvokeVirtual, dex.OpInvokeSuper, dex.OpInvokeDirect, dex.OpInvokeStatic, dex.OpInvokeInterface:
		return mv.doInvoke(pc, insn)

	case dex.OpAddInt, dex.OpAddInt2Addr, dex.OpAddLong, dex.OpAddFloat, dex.OpAddDouble:
		return mv.doArithmetic(pc, insn)

	default:
		mv.fail(failsink.BadClassHard, pc, "unhandled opcode %v", insn.Op)
		return flow{hardFail: true}, nil
	}
}

func anyCategory1(k regtype.Kind) bool { return k != regtype.Undefined && !regtype.IsCategory2Types(k) }

// checkOperand hard-fails pc if any of regs fails pred, reporting the first
// offender.
func (mv *MethodVerifier) checkOperand(pc uint32, pred func(regtype.Kind) bool, regs ...int) error {
	for _, r := range regs {
		k := mv.work.GetRegisterType(r).Kind()
		if !pred(k) {
			err := fmt.Errorf("v%d has unexpected type %v", r, k)
			mv.fail(failsink.BadClassHard, pc, "%v", err)
			return err
		}
	}
	return nil
}

// verifyAssignable checks that src may flow into a slot requiring dest,
// splitting the UNRESOLVED_TYPE_CHECK soft-failure case (an unresolved
// operand on either side) from an outright BAD_CLASS_HARD mismatch.
func (mv *MethodVerifier) verifyAssignable(dest, src *regtypecache.Type, strict bool, pc uint32) bool {
	ok, err := mv.cache.Assignable(dest, src, strict, mv.deps)
	if err != nil {
		mv.fail(failsink.BadClassHard, pc, "%v", err)
		return false
	}
	if ok {
		return true
	}
	if regtype.IsUnresolvedTypes(dest.Kind()) || regtype.IsUnresolvedTypes(src.Kind()) {
		mv.fail(failsink.UnresolvedTypeCheck, pc, "cannot statically prove %s assignable from %s", dest.Descriptor(), src.Descriptor())
		return true
	}
	mv.fail(failsink.BadClassHard, pc, "%s is not assignable from %s", dest.Descriptor(), src.Descriptor())
	return false
}

func (mv *MethodVerifier) doMove(pc uint32, insn dex.Instruction) (flow, error) {
	if insn.Op == dex.OpMoveObject {
		src := mv.work.GetRegisterType(insn.B)
		if !regtype.IsReferenceTypes(src.Kind()) {
			mv.fail(failsink.BadClassHard, pc, "move-object source v%d is not a reference (%v)", insn.B, src.Kind())
			return flow{hardFail: true}, nil
		}
		mv.work.CopyReference(insn.A, insn.B, src)
		return flow{fallsThrough: true}, nil
	}
	if err := mv.work.CopyCat1(insn.A, insn.B); err != nil {
		mv.fail(failsink.BadClassHard, pc, "%v", err)
		return flow{hardFail: true}, nil
	}
	return flow{fallsThrough: true}, nil
}

func (mv *MethodVerifier) doMoveWide(pc uint32, insn dex.Instruction) (flow, error) {
	if err := mv.work.CopyCat2(insn.A, insn.B); err != nil {
		mv.fail(failsink.BadClassHard, pc, "%v", err)
		return flow{hardFail: true}, nil
	}
	return flow{fallsThrough: true}, nil
}

func (mv *MethodVerifier) doMoveResult(pc uint32, insn dex.Instruction) (flow, error) {
	lo, hi := mv.work.ResultTypes()
	switch insn.Op {
	case dex.OpMoveResultWide:
		mv.work.SetRegisterTypeWide(insn.A, lo, hi)
	case dex.OpMoveResultObject:
		if !regtype.IsReferenceTypes(lo.Kind()) {
			mv.fail(failsink.BadClassHard, pc, "move-result-object with a non-reference pending result (%v)", lo.Kind())
			return flow{hardFail: true}, nil
		}
		mv.work.SetRegisterType(insn.A, lo, registerline.ClearLocks)
	default:
		mv.work.SetRegisterType(insn.A, lo, registerline.ClearLocks)
	}
	mv.work.ClearResultRegisterType()
	return flow{fallsThrough: true}, nil
}

// doMoveException consumes whatever exception type propagateThrow
// (dataflow.go) merged into this handler pc, defaulting to Throwable.
func (mv *MethodVerifier) doMoveException(pc uint32, insn dex.Instruction) (flow, error) {
	t, ok := mv.handlerExceptionType[pc]
	if !ok {
		t = mv.cache.FromDescriptor("Ljava/lang/Throwable;")
	}
	mv.work.SetRegisterType(insn.A, t, registerline.ClearLocks)
	return flow{fallsThrough: true}, nil
}

func (mv *MethodVerifier) doReturn(pc uint32, insn dex.Instruction) (flow, error) {
	if err := mv.work.VerifyMonitorStackEmpty(); err != nil {
		mv.fail(failsink.Locking, pc, "%v", err)
	}
	if mv.def.IsConstructor && !mv.work.ThisInitialized() && mv.def.ClassDescriptor != "Ljava/lang/Object;" {
		mv.fail(failsink.BadClassHard, pc, "constructor returns without initializing this")
		return flow{hardFail: true}, nil
	}
	rt := mv.returnTypeOnce()
	switch insn.Op {
	case dex.OpReturnVoid:
		if rt.Kind() != regtype.Conflict {
			mv.fail(failsink.BadClassHard, pc, "return-void in a method with a non-void return type")
			return flow{hardFail: true}, nil
		}
	default:
		got := mv.work.GetRegisterType(insn.A)
		strict := insn.Op == dex.OpReturnObject
		if !mv.verifyAssignable(rt, got, strict, pc) {
			return flow{hardFail: true}, nil
		}
	}
	return flow{}, nil // a return instruction never falls through and has no branch edge
}

func (mv *MethodVerifier) doConstClass(pc uint32, insn dex.Instruction) (flow, error) {
	if _, err := mv.cache.FromTypeIndex(uint32(insn.H)); err != nil {
		mv.fail(failsink.NoClass, pc, "const-class: %v", err)
	}
	mv.work.SetRegisterType(insn.A, mv.cache.FromDescriptor("Ljava/lang/Class;"), registerline.ClearLocks)
	return flow{fallsThrough: true}, nil
}

func (mv *MethodVerifier) doMonitorEnter(pc uint32, insn dex.Instruction) (flow, error) {
	t := mv.work.GetRegisterType(insn.A)
	if !regtype.IsReferenceTypes(t.Kind()) {
		mv.fail(failsink.BadClassHard, pc, "monitor-enter on non-reference v%d (%v)", insn.A, t.Kind())
		return flow{hardFail: true}, nil
	}
	if err := mv.work.PushMonitor(insn.A, t, pc); err != nil {
		mv.fail(failsink.Locking, pc, "%v", err)
		return flow{hardFail: true}, nil
	}
	mv.aliasMonitorPeephole(pc, insn.A)
	return flow{fallsThrough: true}, nil
}

// aliasMonitorPeephole applies the monitor-enter aliasing peephole: a
// preceding move-object or matching const-class pair that also names the
// locked vreg gets the same lock-depth bit.
func (mv *MethodVerifier) aliasMonitorPeephole(pc uint32, v int) {
	prev, ok := mv.prevInsn(pc, 1)
	if !ok {
		return
	}
	switch prev.Op {
	case dex.OpMoveObject:
		if prev.A == v {
			mv.work.AliasMonitor(prev.B)
		}
	case dex.OpConstClass:
		prev2, ok2 := mv.prevInsn(pc, 2)
		if !ok2 || prev2.Op != dex.OpConstClass || prev2.H != prev.H {
			return
		}
		if prev.A == v {
			mv.work.AliasMonitor(prev2.A)
		} else if prev2.A == v {
			mv.work.AliasMonitor(prev.A)
		}
	}
}

// doMonitorExit strips the kThrow flag: the dataFlow loop never treats a
// monitor-exit as entering a try-handler, so a mismatched monitor-exit here
// is recorded as a soft Locking failure rather than stopping verification.
func (mv *MethodVerifier) doMonitorExit(pc uint32, insn dex.Instruction) (flow, error) {
	t := mv.work.GetRegisterType(insn.A)
	if err := mv.work.PopMonitor(insn.A, t); err != nil {
		mv.fail(failsink.Locking, pc, "%v", err)
	}
	return flow{fallsThrough: true}, nil
}

func (mv *MethodVerifier) doCheckCast(pc uint32, insn dex.Instruction) (flow, error) {
	src := mv.work.GetRegisterType(insn.A)
	if !regtype.IsReferenceTypes(src.Kind()) || regtype.IsUninitializedTypes(src.Kind()) {
		mv.fail(failsink.BadClassHard, pc, "check-cast operand v%d is not an initialized reference (%v)", insn.A, src.Kind())
		return flow{hardFail: true}, nil
	}
	target, err := mv.cache.FromTypeIndex(uint32(insn.H))
	if err != nil {
		mv.fail(failsink.NoClass, pc, "check-cast: %v", err)
		return flow{fallsThrough: true}, nil
	}
	if !regtype.IsReferenceTypes(target.Kind()) {
		mv.fail(failsink.BadClassHard, pc, "check-cast to non-reference type %v", target.Kind())
		return flow{hardFail: true}, nil
	}
	mv.work.SetRegisterType(insn.A, target, registerline.KeepLocks)
	return flow{fallsThrough: true}, nil
}

func (mv *MethodVerifier) doInstanceOf(pc uint32, insn dex.Instruction) (flow, error) {
	src := mv.work.GetRegisterType(insn.B)
	if !regtype.IsReferenceTypes(src.Kind()) || regtype.IsUninitializedTypes(src.Kind()) {
		mv.fail(failsink.BadClassHard, pc, "instance-of operand v%d is not an initialized reference (%v)", insn.B, src.Kind())
		return flow{hardFail: true}, nil
	}
	target, err := mv.cache.FromTypeIndex(uint32(insn.H))
	if err != nil {
		mv.fail(failsink.NoClass, pc, "instance-of: %v", err)
		target = mv.cache.MakeUnresolvedReference()
	} else if !regtype.IsReferenceTypes(target.Kind()) {
		mv.fail(failsink.BadClassHard, pc, "instance-of against a non-reference type %v", target.Kind())
		return flow{hardFail: true}, nil
	}
	mv.work.SetRegisterType(insn.A, mv.cache.GetFromRegKind(regtype.Boolean), registerline.ClearLocks)
	mv.lastInstanceOf = &instanceOfHint{pc: pc, dst: insn.A, src: insn.B, t: target}
	return flow{fallsThrough: true}, nil
}

// doIfZ implements if-eqz/if-nez/if-ltz/if-gez/if-gtz/if-lez, including the
// instance-of peephole for the eqz/nez pair.
func (mv *MethodVerifier) doIfZ(pc uint32, insn dex.Instruction) (flow, error) {
	opnd := mv.work.GetRegisterType(insn.A)
	if !regtype.IsReferenceTypes(opnd.Kind()) && !regtype.IsIntegralTypes(opnd.Kind()) {
		mv.fail(failsink.BadClassHard, pc, "if-*z operand v%d has an unexpected type %v", insn.A, opnd.Kind())
		return flow{hardFail: true}, nil
	}
	target := uint32(insn.H)
	plain := flow{branches: []branchTarget{{pc: target}}, fallsThrough: true}
	if insn.Op != dex.OpIfEqz && insn.Op != dex.OpIfNez {
		return plain, nil
	}
	hint := mv.lastInstanceOf
	if hint == nil || hint.dst != insn.A {
		return plain, nil
	}
	prev, ok := mv.prevInsn(pc, 1)
	if !ok || prev.PC != hint.pc {
		return plain, nil
	}
	srcReg := hint.src
	if back, ok2 := mv.prevInsn(hint.pc, 1); ok2 && back.Op == dex.OpMoveObject && back.A == hint.src {
		srcReg = back.B
	}
	sharpened := mv.work.Copy()
	sharpened.SetRegisterType(srcReg, hint.t, registerline.KeepLocks)
	// if-eqz branches on "comparison is zero", i.e. the instance-of check
	// was false; the sharpened type therefore holds on the opposite edge
	// from the branch (fall-through for if-eqz, taken for if-nez).
	if insn.Op == dex.OpIfEqz {
		return flow{branches: []branchTarget{{pc: target}}, fallsThrough: true, fallThroughLine: sharpened}, nil
	}
	return flow{branches: []branchTarget{{pc: target, line: sharpened}}, fallsThrough: true}, nil
}

func (mv *MethodVerifier) doNewInstance(pc uint32, insn dex.Instruction) (flow, error) {
	t, err := mv.cache.FromTypeIndex(uint32(insn.H))
	if err != nil {
		mv.fail(failsink.NoClass, pc, "new-instance: %v", err)
		mv.work.SetRegisterType(insn.A, mv.cache.GetFromRegKind(regtype.Conflict), registerline.ClearLocks)
		return flow{fallsThrough: true}, nil
	}
	switch t.Kind() {
	case regtype.Reference, regtype.JavaLangObject, regtype.UnresolvedReference:
	default:
		mv.fail(failsink.BadClassHard, pc, "new-instance of a non-reference type %v", t.Kind())
		return flow{hardFail: true}, nil
	}
	if h := t.ClassHandle(); h != nil && (h.IsInterface() || h.IsAbstract()) {
		mv.fail(failsink.Instantiation, pc, "cannot instantiate interface/abstract type %s", t.Descriptor())
	}
	uninit := mv.cache.Uninitialized(t)
	mv.work.SetRegisterTypeForNewInstance(insn.A, uninit, pc)
	return flow{fallsThrough: true}, nil
}

func (mv *MethodVerifier) doNewArray(pc uint32, insn dex.Instruction) (flow, error) {
	size := mv.work.GetRegisterType(insn.B)
	if !regtype.IsIntegralTypes(size.Kind()) {
		mv.fail(failsink.BadClassHard, pc, "new-array size v%d is not an integral type (%v)", insn.B, size.Kind())
		return flow{hardFail: true}, nil
	}
	t, err := mv.cache.FromTypeIndex(uint32(insn.H))
	if err != nil {
		mv.fail(failsink.NoClass, pc, "new-array: %v", err)
		mv.work.SetRegisterType(insn.A, mv.cache.GetFromRegKind(regtype.Conflict), registerline.ClearLocks)
		return flow{fallsThrough: true}, nil
	}
	if !t.IsArrayTypes() {
		mv.fail(failsink.BadClassHard, pc, "new-array type %s is not an array descriptor", t.Descriptor())
		return flow{hardFail: true}, nil
	}
	mv.work.SetRegisterType(insn.A, t, registerline.ClearLocks)
	return flow{fallsThrough: true}, nil
}

func (mv *MethodVerifier) doFilledNewArray(pc uint32, insn dex.Instruction) (flow, error) {
	t, err := mv.cache.FromTypeIndex(uint32(insn.H))
	if err != nil {
		mv.fail(failsink.FilledNewArray, pc, "filled-new-array: %v", err)
		mv.work.SetResultRegisterType(mv.cache.GetFromRegKind(regtype.Conflict), mv.cache.GetFromRegKind(regtype.Undefined))
		return flow{fallsThrough: true}, nil
	}
	if !t.IsArrayTypes() {
		mv.fail(failsink.BadClassHard, pc, "filled-new-array type %s is not an array descriptor", t.Descriptor())
		return flow{hardFail: true}, nil
	}
	if comp, cerr := mv.cache.GetComponentType(t); cerr == nil && regtype.IsReferenceTypes(comp.Kind()) {
		for _, r := range insn.Args {
			if !mv.verifyAssignable(comp, mv.work.GetRegisterType(r), false, pc) {
				return flow{hardFail: true}, nil
			}
		}
	}
	mv.work.SetResultRegisterType(t, mv.cache.GetFromRegKind(regtype.Undefined))
	return flow{fallsThrough: true}, nil
}

func (mv *MethodVerifier) doThrow(pc uint32, insn dex.Instruction) (flow, error) {
	t := mv.work.GetRegisterType(insn.A)
	if t.Kind() != regtype.Zero && !mv.verifyAssignable(mv.cache.FromDescriptor("Ljava/lang/Throwable;"), t, false, pc) {
		return flow{hardFail: true}, nil
	}
	return flow{}, nil // propagateThrow (dataflow.go) routes the saved pre-state to the enclosing handlers
}

func (mv *MethodVerifier) doSwitch(pc uint32, insn dex.Instruction) (flow, error) {
	key := mv.work.GetRegisterType(insn.A)
	if !regtype.IsIntegralTypes(key.Kind()) {
		mv.fail(failsink.BadClassHard, pc, "switch key v%d is not an integral type (%v)", insn.A, key.Kind())
		return flow{hardFail: true}, nil
	}
	payloadPC := uint32(insn.H)
	var offsets []int32
	switch insn.Op {
	case dex.OpPackedSwitch:
		p, err := mv.cursor.PackedSwitchPayload(payloadPC)
		if err != nil {
			mv.fail(failsink.BadClassHard, pc, "%v", err)
			return flow{hardFail: true}, nil
		}
		offsets = p.Targets
	case dex.OpSparseSwitch:
		p, err := mv.cursor.SparseSwitchPayload(payloadPC)
		if err != nil {
			mv.fail(failsink.BadClassHard, pc, "%v", err)
			return flow{hardFail: true}, nil
		}
		offsets = p.Targets
	}
	branches := make([]branchTarget, 0, len(offsets))
	for _, off := range offsets {
		branches = append(branches, branchTarget{pc: uint32(int64(pc) + int64(off))})
	}
	return flow{branches: branches, fallsThrough: true}, nil
}

// scalarKind classifies the component-type family an array/field opcode
// suffix expects.
type scalarKind int

const (
	scalarInt32 scalarKind = iota
	scalarWide
	scalarObject
	scalarBoolean
	scalarByte
	scalarChar
	scalarShort
)

var arrayOpScalar = map[dex.Opcode]scalarKind{
	dex.OpAget: scalarInt32, dex.OpAgetWide: scalarWide, dex.OpAgetObject: scalarObject,
	dex.OpAgetBoolean: scalarBoolean, dex.OpAgetByte: scalarByte, dex.OpAgetChar: scalarChar, dex.OpAgetShort: scalarShort,
	dex.OpAput: scalarInt32, dex.OpAputWide: scalarWide, dex.OpAputObject: scalarObject,
	dex.OpAputBoolean: scalarBoolean, dex.OpAputByte: scalarByte, dex.OpAputChar: scalarChar, dex.OpAputShort: scalarShort,
}

func (mv *MethodVerifier) defaultScalarType(sk scalarKind) *regtypecache.Type {
	switch sk {
	case scalarWide:
		return mv.cache.GetFromRegKind(regtype.LongLo)
	case scalarObject:
		return mv.cache.FromDescriptor("Ljava/lang/Object;")
	case scalarBoolean:
		return mv.cache.GetFromRegKind(regtype.Boolean)
	case scalarByte:
		return mv.cache.GetFromRegKind(regtype.Byte)
	case scalarChar:
		return mv.cache.GetFromRegKind(regtype.Char)
	case scalarShort:
		return mv.cache.GetFromRegKind(regtype.Short)
	default:
		return mv.cache.GetFromRegKind(regtype.Integer)
	}
}

// scalarMatches reports whether a resolved array component's kind is
// compatible with the family an aget*/aput* opcode suffix expects.
// aget/aput (plain) permit any narrow category-1 non-reference primitive to
// flow through.
func scalarMatches(sk scalarKind, k regtype.Kind) bool {
	switch sk {
	case scalarInt32:
		return k != regtype.Undefined && k != regtype.Conflict && !regtype.IsReferenceTypes(k) && !regtype.IsCategory2Types(k)
	case scalarWide:
		return regtype.IsLongTypes(k) || regtype.IsDoubleTypes(k)
	case scalarObject:
		return regtype.IsReferenceTypes(k)
	case scalarBoolean:
		return regtype.IsBooleanTypes(k)
	case scalarByte:
		return regtype.IsByteTypes(k)
	case scalarChar:
		return regtype.IsCharTypes(k)
	case scalarShort:
		return regtype.IsShortTypes(k)
	default:
		return false
	}
}

func (mv *MethodVerifier) doAget(pc uint32, insn dex.Instruction) (flow, error) {
	sk := arrayOpScalar[insn.Op]
	arr := mv.work.GetRegisterType(insn.B)
	idx := mv.work.GetRegisterType(insn.C)
	if !regtype.IsIntegralTypes(idx.Kind()) {
		mv.fail(failsink.BadClassHard, pc, "array index v%d is not an integral type (%v)", insn.C, idx.Kind())
		return flow{hardFail: true}, nil
	}
	var result *regtypecache.Type
	switch {
	case regtype.IsZeroOrNull(arr.Kind()):
		result = mv.defaultScalarType(sk)
	case !regtype.IsReferenceTypes(arr.Kind()) || !arr.IsArrayTypes():
		mv.fail(failsink.BadClassHard, pc, "aget* array v%d is not an array (%v)", insn.B, arr.Kind())
		return flow{hardFail: true}, nil
	default:
		comp, err := mv.cache.GetComponentType(arr)
		if err != nil {
			mv.fail(failsink.BadClassHard, pc, "%v", err)
			return flow{hardFail: true}, nil
		}
		if !scalarMatches(sk, comp.Kind()) {
			mv.fail(failsink.BadClassHard, pc, "aget* component type %v does not match the instruction", comp.Kind())
			return flow{hardFail: true}, nil
		}
		result = comp
	}
	if regtype.IsCategory2Types(result.Kind()) {
		mv.work.SetRegisterTypeWide(insn.A, result, mv.cache.GetFromRegKind(regtype.HighHalf(result.Kind())))
	} else {
		mv.work.SetRegisterType(insn.A, result, registerline.ClearLocks)
	}
	return flow{fallsThrough: true}, nil
}

func (mv *MethodVerifier) doAput(pc uint32, insn dex.Instruction) (flow, error) {
	sk := arrayOpScalar[insn.Op]
	arr := mv.work.GetRegisterType(insn.B)
	idx := mv.work.GetRegisterType(insn.C)
	if !regtype.IsIntegralTypes(idx.Kind()) {
		mv.fail(failsink.BadClassHard, pc, "array index v%d is not an integral type (%v)", insn.C, idx.Kind())
		return flow{hardFail: true}, nil
	}
	src := mv.work.GetRegisterType(insn.A)
	switch {
	case regtype.IsZeroOrNull(arr.Kind()):
		// nothing further can be checked against an unknown array
	case !regtype.IsReferenceTypes(arr.Kind()) || !arr.IsArrayTypes():
		mv.fail(failsink.BadClassHard, pc, "aput* array v%d is not an array (%v)", insn.B, arr.Kind())
		return flow{hardFail: true}, nil
	case sk == scalarObject:
		if !regtype.IsReferenceTypes(src.Kind()) {
			mv.fail(failsink.BadClassHard, pc, "aput-object value v%d is not a reference (%v)", insn.A, src.Kind())
			return flow{hardFail: true}, nil
		}
		// aput-object defers the exact element-type check to the runtime
		// ArrayStoreException rather than the array's resolved component.
	default:
		if comp, err := mv.cache.GetComponentType(arr); err == nil && !scalarMatches(sk, comp.Kind()) {
			mv.fail(failsink.BadClassHard, pc, "aput* value category does not match array component %v", comp.Kind())
			return flow{hardFail: true}, nil
		}
	}
	return flow{fallsThrough: true}, nil
}

func (mv *MethodVerifier) checkFieldAccess(pc uint32, f classresolver.FieldHandle) {
	if f.AccessFlags().Has(classresolver.AccPrivate) && f.DeclaringClass().Descriptor() != mv.def.ClassDescriptor {
		mv.fail(failsink.AccessField, pc, "private field %s not accessible from %s", f.Name(), mv.def.ClassDescriptor)
	}
}

func (mv *MethodVerifier) checkMethodAccess(pc uint32, m classresolver.MethodHandle) {
	if m.AccessFlags().Has(classresolver.AccPrivate) && m.DeclaringClass().Descriptor() != mv.def.ClassDescriptor {
		mv.fail(failsink.AccessMethod, pc, "private method %s not accessible from %s", m.Name(), mv.def.ClassDescriptor)
	}
}

func (mv *MethodVerifier) writeFieldResult(insn dex.Instruction, ft *regtypecache.Type) {
	if regtype.IsCategory2Types(ft.Kind()) {
		mv.work.SetRegisterTypeWide(insn.A, ft, mv.cache.GetFromRegKind(regtype.HighHalf(ft.Kind())))
	} else {
		mv.work.SetRegisterType(insn.A, ft, registerline.ClearLocks)
	}
}

// uninitializedThisField reports whether obj is the uninitialized
// this and f is declared in the method's own class, the one case where
// iget*/iput* may run before the superclass constructor has completed.
func uninitializedThisField(obj *regtypecache.Type, ownClass string, f classresolver.FieldHandle) bool {
	isThis := obj.Kind() == regtype.UninitializedThisReference || obj.Kind() == regtype.UnresolvedUninitializedThisReference
	return isThis && f.DeclaringClass().Descriptor() == ownClass
}

func (mv *MethodVerifier) doIget(pc uint32, insn dex.Instruction) (flow, error) {
	obj := mv.work.GetRegisterType(insn.B)
	initialized := regtype.IsReferenceTypes(obj.Kind()) && !regtype.IsUninitializedTypes(obj.Kind())
	uninitThis := obj.Kind() == regtype.UninitializedThisReference || obj.Kind() == regtype.UnresolvedUninitializedThisReference
	if !initialized && !uninitThis {
		mv.fail(failsink.BadClassHard, pc, "iget* receiver v%d is not an initialized reference (%v)", insn.B, obj.Kind())
		return flow{hardFail: true}, nil
	}
	f, err := mv.resolver.ResolveField(uint32(insn.H))
	if err != nil {
		mv.fail(failsink.NoField, pc, "iget*: %v", err)
		mv.work.SetRegisterType(insn.A, mv.cache.GetFromRegKind(regtype.Conflict), registerline.ClearLocks)
		return flow{fallsThrough: true}, nil
	}
	if f.IsStatic() {
		mv.fail(failsink.BadClassHard, pc, "iget* on static field %s", f.Name())
		return flow{hardFail: true}, nil
	}
	if uninitThis && !uninitializedThisField(obj, mv.def.ClassDescriptor, f) {
		mv.fail(failsink.BadClassHard, pc, "field %s not declared in current class, accessed through uninitialized this", f.Name())
		return flow{hardFail: true}, nil
	}
	mv.checkFieldAccess(pc, f)
	mv.writeFieldResult(insn, mv.cache.FromDescriptor(f.Descriptor()))
	return flow{fallsThrough: true}, nil
}

func (mv *MethodVerifier) doIput(pc uint32, insn dex.Instruction) (flow, error) {
	obj := mv.work.GetRegisterType(insn.B)
	initialized := regtype.IsReferenceTypes(obj.Kind()) && !regtype.IsUninitializedTypes(obj.Kind())
	uninitThis := obj.Kind() == regtype.UninitializedThisReference || obj.Kind() == regtype.UnresolvedUninitializedThisReference
	if !initialized && !uninitThis {
		mv.fail(failsink.BadClassHard, pc, "iput* receiver v%d is not an initialized reference (%v)", insn.B, obj.Kind())
		return flow{hardFail: true}, nil
	}
	f, err := mv.resolver.ResolveField(uint32(insn.H))
	if err != nil {
		mv.fail(failsink.NoField, pc, "iput*: %v", err)
		return flow{fallsThrough: true}, nil
	}
	if f.IsStatic() {
		mv.fail(failsink.BadClassHard, pc, "iput* on static field %s", f.Name())
		return flow{hardFail: true}, nil
	}
	if uninitThis && !uninitializedThisField(obj, mv.def.ClassDescriptor, f) {
		mv.fail(failsink.BadClassHard, pc, "field %s not declared in current class, accessed through uninitialized this", f.Name())
		return flow{hardFail: true}, nil
	}
	mv.checkFieldAccess(pc, f)
	ft := mv.cache.FromDescriptor(f.Descriptor())
	if !regtype.IsCategory2Types(ft.Kind()) {
		if !mv.verifyAssignable(ft, mv.work.GetRegisterType(insn.A), false, pc) {
			return flow{hardFail: true}, nil
		}
	}
	return flow{fallsThrough: true}, nil
}

func (mv *MethodVerifier) doSget(pc uint32, insn dex.Instruction) (flow, error) {
	f, err := mv.resolver.ResolveField(uint32(insn.H))
	if err != nil {
		mv.fail(failsink.NoField, pc, "sget*: %v", err)
		mv.work.SetRegisterType(insn.A, mv.cache.GetFromRegKind(regtype.Conflict), registerline.ClearLocks)
		return flow{fallsThrough: true}, nil
	}
	if !f.IsStatic() {
		mv.fail(failsink.BadClassHard, pc, "sget* on instance field %s", f.Name())
		return flow{hardFail: true}, nil
	}
	mv.checkFieldAccess(pc, f)
	mv.writeFieldResult(insn, mv.cache.FromDescriptor(f.Descriptor()))
	return flow{fallsThrough: true}, nil
}

func (mv *MethodVerifier) doSput(pc uint32, insn dex.Instruction) (flow, error) {
	f, err := mv.resolver.ResolveField(uint32(insn.H))
	if err != nil {
		mv.fail(failsink.NoField, pc, "sput*: %v", err)
		return flow{fallsThrough: true}, nil
	}
	if !f.IsStatic() {
		mv.fail(failsink.BadClassHard, pc, "sput* on instance field %s", f.Name())
		return flow{hardFail: true}, nil
	}
	mv.checkFieldAccess(pc, f)
	ft := mv.cache.FromDescriptor(f.Descriptor())
	if !regtype.IsCategory2Types(ft.Kind()) {
		if !mv.verifyAssignable(ft, mv.work.GetRegisterType(insn.A), false, pc) {
			return flow{hardFail: true}, nil
		}
	}
	return flow{fallsThrough: true}, nil
}

func invokeKindFor(op dex.Opcode) classresolver.InvokeKind {
	switch op {
	case dex.OpInvokeSuper:
		return classresolver.InvokeSuper
	case dex.OpInvokeDirect:
		return classresolver.InvokeDirect
	case dex.OpInvokeStatic:
		return classresolver.InvokeStatic
	case dex.OpInvokeInterface:
		return classresolver.InvokeInterface
	default:
		return classresolver.InvokeVirtual
	}
}

// checkInvokeKind checks the invoke-kind against the resolved method's
// flavor, with one exception: invoke-interface
// dispatching to a method actually declared on java.lang.Object (equals,
// hashCode, toString, ...) resolves through the class vtable, not an
// itable, so the kind mismatch there is expected rather than an error.
func (mv *MethodVerifier) checkInvokeKind(pc uint32, op dex.Opcode, m classresolver.MethodHandle) {
	want := invokeKindFor(op)
	got := m.InvokeKind()
	if want == got {
		return
	}
	if op == dex.OpInvokeInterface && m.DeclaringClass() != nil && m.DeclaringClass().IsObjectClass() {
		return
	}
	mv.fail(failsink.BadClassHard, pc, "invoke-kind %d used on a method resolved as kind %d", want, got)
}

// doInvoke verifies an invocation, including the invoke-direct <init>
// special case: the receiver must be uninitialized, and a successful call
// marks every vreg sharing that allocation as initialized. The receiver's
// exact declaring class is deliberately not re-checked against <init>'s
// declaring class; only "still uninitialized" is enforced.
func (mv *MethodVerifier) doInvoke(pc uint32, insn dex.Instruction) (flow, error) {
	kind := invokeKindFor(insn.Op)
	m, err := mv.resolver.ResolveMethod(uint32(insn.H), kind)
	if err != nil {
		mv.fail(failsink.NoMethod, pc, "%v", err)
		mv.work.SetResultRegisterType(mv.cache.GetFromRegKind(regtype.Conflict), mv.cache.GetFromRegKind(regtype.Undefined))
		return flow{fallsThrough: true}, nil
	}
	mv.checkMethodAccess(pc, m)
	mv.checkInvokeKind(pc, insn.Op, m)

	args := insn.Args
	isInit := m.IsConstructor()
	receiverReg := -1
	if insn.Op != dex.OpInvokeStatic {
		if len(args) == 0 {
			mv.fail(failsink.BadClassHard, pc, "invoke-* missing receiver argument")
			return flow{hardFail: true}, nil
		}
		receiverReg = args[0]
		recv := mv.work.GetRegisterType(receiverReg)
		if insn.Op == dex.OpInvokeDirect && isInit {
			if !regtype.IsUninitializedTypes(recv.Kind()) {
				mv.fail(failsink.BadClassHard, pc, "invoke-direct <init> receiver v%d is already initialized", receiverReg)
				return flow{hardFail: true}, nil
			}
		} else {
			if !regtype.IsReferenceTypes(recv.Kind()) || regtype.IsUninitializedTypes(recv.Kind()) {
				mv.fail(failsink.BadClassHard, pc, "invoke-* receiver v%d is not an initialized reference (%v)", receiverReg, recv.Kind())
				return flow{hardFail: true}, nil
			}
			declaring := mv.cache.FromDescriptor(m.DeclaringClass().Descriptor())
			if !mv.verifyAssignable(declaring, recv, false, pc) {
				return flow{hardFail: true}, nil
			}
		}
		args = args[1:]
	}

	// Each formal parameter consumes one argument register, or two for a
	// long/double, which must also be a consecutive pair.
	argIdx := 0
	for _, desc := range m.ParameterDescriptors() {
		pt := mv.cache.FromDescriptor(desc)
		if !regtype.IsCategory2Types(pt.Kind()) {
			if argIdx >= len(args) {
				mv.fail(failsink.BadClassHard, pc, "invoke-* has too few argument registers for its target")
				return flow{hardFail: true}, nil
			}
			if !mv.verifyAssignable(pt, mv.work.GetRegisterType(args[argIdx]), false, pc) {
				return flow{hardFail: true}, nil
			}
			argIdx++
			continue
		}
		if argIdx+1 >= len(args) {
			mv.fail(failsink.BadClassHard, pc, "invoke-* has too few argument registers for a wide parameter")
			return flow{hardFail: true}, nil
		}
		if args[argIdx+1] != args[argIdx]+1 {
			mv.fail(failsink.BadClassHard, pc, "wide argument must occupy consecutive registers, got v%d/v%d", args[argIdx], args[argIdx+1])
			return flow{hardFail: true}, nil
		}
		lo := mv.work.GetRegisterType(args[argIdx])
		hi := mv.work.GetRegisterType(args[argIdx+1])
		if !regtype.CheckWidePair(lo.Kind(), hi.Kind()) {
			mv.fail(failsink.BadClassHard, pc, "v%d/v%d do not hold a wide pair (%v/%v)", args[argIdx], args[argIdx+1], lo.Kind(), hi.Kind())
			return flow{hardFail: true}, nil
		}
		if !mv.verifyAssignable(pt, lo, false, pc) {
			return flow{hardFail: true}, nil
		}
		argIdx += 2
	}
	if argIdx != len(args) {
		mv.fail(failsink.BadClassHard, pc, "invoke-* argument register count mismatch: got %d, consumed %d", len(args), argIdx)
		return flow{hardFail: true}, nil
	}

	ret := mv.cache.FromDescriptor(m.ReturnDescriptor())
	if regtype.IsCategory2Types(ret.Kind()) {
		mv.work.SetResultRegisterType(ret, mv.cache.GetFromRegKind(regtype.HighHalf(ret.Kind())))
	} else {
		mv.work.SetResultRegisterType(ret, mv.cache.GetFromRegKind(regtype.Undefined))
	}

	if insn.Op == dex.OpInvokeDirect && isInit && receiverReg >= 0 {
		mv.work.MarkRefsAsInitialized(receiverReg)
	}
	return flow{fallsThrough: true}, nil
}

func (mv *MethodVerifier) doArithmetic(pc uint32, insn dex.Instruction) (flow, error) {
	switch insn.Op {
	case dex.OpAddInt:
		if mv.checkOperand(pc, regtype.IsIntegralTypes, insn.B, insn.C) != nil {
			return flow{hardFail: true}, nil
		}
		mv.work.SetRegisterType(insn.A, mv.cache.GetFromRegKind(regtype.Integer), registerline.ClearLocks)
	case dex.OpAddInt2Addr:
		if mv.checkOperand(pc, regtype.IsIntegralTypes, insn.A, insn.B) != nil {
			return flow{hardFail: true}, nil
		}
		mv.work.SetRegisterType(insn.A, mv.cache.GetFromRegKind(regtype.Integer), registerline.ClearLocks)
	case dex.OpAddLong:
		if mv.checkOperand(pc, regtype.IsLongTypes, insn.B, insn.C) != nil {
			return flow{hardFail: true}, nil
		}
		mv.work.SetRegisterTypeWide(insn.A, mv.cache.GetFromRegKind(regtype.LongLo), mv.cache.GetFromRegKind(regtype.LongHi))
	case dex.OpAddFloat:
		if mv.checkOperand(pc, regtype.IsFloatTypes, insn.B, insn.C) != nil {
			return flow{hardFail: true}, nil
		}
		mv.work.SetRegisterType(insn.A, mv.cache.GetFromRegKind(regtype.Float), registerline.ClearLocks)
	case dex.OpAddDouble:
		if mv.checkOperand(pc, regtype.IsDoubleTypes, insn.B, insn.C) != nil {
			return flow{hardFail: true}, nil
		}
		mv.work.SetRegisterTypeWide(insn.A, mv.cache.GetFromRegKind(regtype.DoubleLo), mv.cache.GetFromRegKind(regtype.DoubleHi))
	}
	return flow{fallsThrough: true}, nil
}
