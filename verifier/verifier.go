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
	"context"

	"github.com/google/uuid"

	"github.com/dexguard/go-dexguard/bitvec"
	"github.com/dexguard/go-dexguard/classresolver"
	"github.com/dexguard/go-dexguard/dex"
	"github.com/dexguard/go-dexguard/failsink"
	"github.com/dexguard/go-dexguard/regtype"
	"github.com/dexguard/go-dexguard/regtypecache"
	"github.com/dexguard/go-dexguard/registerline"
	"github.com/dexguard/go-dexguard/verifierdeps"
)

// apiLevelSV2 is the api level threshold gating the legacy
// treat-any-failure-as-throwing promotion: apps targeting this level or
// later never get it, since they were compiled expecting strict
// re-verification.
const apiLevelSV2 = 33

// MethodVerifier holds all per-method state for one VerifyMethod call:
// single-threaded, owns exactly one register-type cache, and discarded
// wholesale when Run returns.
type MethodVerifier struct {
	def      *MethodDef
	resolver classresolver.Resolver
	cursor   dex.InstructionCursor
	deps     verifierdeps.Recorder
	sink     *failsink.Collector

	cache *regtypecache.Cache
	id    uuid.UUID

	codeSize int

	isBoundary     *bitvec.Vector[uint32]
	isInTry        *bitvec.Vector[uint32]
	isBranchTarget *bitvec.Vector[uint32]
	changed        *bitvec.Vector[uint32]
	visited        *bitvec.Vector[uint32]

	order      []uint32       // executable instruction pcs, ascending, payload pseudo-ops excluded
	orderIndex map[uint32]int // pc -> index into order, for the syntactic lookback peepholes

	lastInstanceOf *instanceOfHint // most recent instance-of, for the if-eqz/if-nez peephole

	storedLines           map[uint32]*registerline.Line
	handlerExceptionType  map[uint32]*regtypecache.Type

	work      *registerline.Line
	savedLine *registerline.Line

	returnType     *regtypecache.Type
	haveReturnType bool

	hardStop bool
	// pendingThrow is the per-instruction "potentially-mark-runtime-throw"
	// flag: set whenever the current instruction's failure is
	// promoted to an unconditional throw, it tells dataFlow to drop this
	// instruction's ordinary branch/fall-through edges. Cleared at the end
	// of every instruction.
	pendingThrow bool
}

// NewMethodVerifier constructs the per-method verifier state. numTypeIndices
// sizes the register-type cache's dex type-index table; callers
// that don't track a real dex file may pass 0.
func NewMethodVerifier(def *MethodDef, resolver classresolver.Resolver, deps verifierdeps.Recorder, sink *failsink.Collector, numTypeIndices int) (*MethodVerifier, error) {
	cache, err := regtypecache.New(resolver, numTypeIndices)
	if err != nil {
		return nil, err
	}
	return &MethodVerifier{
		def:                  def,
		resolver:             resolver,
		cursor:               def.Code,
		deps:                 deps,
		sink:                 sink,
		cache:                cache,
		id:                   cache.ID(),
		storedLines:          make(map[uint32]*registerline.Line),
		handlerExceptionType: make(map[uint32]*regtypecache.Type),
	}, nil
}

// Run executes the verification phases: precondition checks, the two
// static passes, line-0 setup and the data-flow fixed point. The returned
// error is a Go-level failure (context cancellation, a collaborator error)
// rather than a verifier finding; findings always go to mv.sink and are
// read back via mv.sink.Reduce() by the caller.
func (mv *MethodVerifier) Run(ctx context.Context) error {
	methodsTotalCounter.Inc(1)

	if !mv.checkPreconditions() {
		return nil
	}
	if !mv.scanWidths() {
		return nil
	}
	if !mv.scanTries() {
		return nil
	}
	mv.staticChecks()
	mv.initLine0()

	if err := mv.dataFlow(ctx); err != nil {
		return err
	}

	switch mv.sink.Reduce() {
	case failsink.HardFailureKind:
		methodsHardFailureCounter.Inc(1)
	case failsink.SoftFailure, failsink.AccessChecksFailure, failsink.TypeChecksFailure:
		methodsSoftFailureCounter.Inc(1)
	}
	arenaBytesGauge.Update(int64(mv.estimateArenaBytes()))
	return nil
}

func (mv *MethodVerifier) estimateArenaBytes() int {
	// A rough, informational-only estimate from the number of stored
	// register lines and the method's code size.
	return 64*len(mv.storedLines) + 32*mv.codeSize
}

// checkPreconditions validates access-flag consistency and the basic shape
// of the code item before any instruction is decoded.
func (mv *MethodVerifier) checkPreconditions() bool {
	af := mv.def.AccessFlags
	visCount := 0
	for _, bit := range []classresolver.AccessFlags{classresolver.AccPublic, classresolver.AccProtected, classresolver.AccPrivate} {
		if af.Has(bit) {
			visCount++
		}
	}
	if visCount > 1 {
		mv.fail(failsink.BadClassHard, 0, "method has more than one visibility modifier")
		return false
	}
	if af.Has(classresolver.AccAbstract) {
		if af.Has(classresolver.AccPrivate) || af.Has(classresolver.AccStatic) || af.Has(classresolver.AccFinal) ||
			af.Has(classresolver.AccNative) || af.Has(classresolver.AccStrict) || af.Has(classresolver.AccSynchronized) {
			mv.fail(failsink.BadClassHard, 0, "abstract method carries an incompatible access flag")
			return false
		}
	}
	hasCode := mv.def.Code != nil
	if (af.Has(classresolver.AccNative) || af.Has(classresolver.AccAbstract)) && hasCode {
		mv.fail(failsink.BadClassHard, 0, "native or abstract method has a code item")
		return false
	}
	if !af.Has(classresolver.AccNative) && !af.Has(classresolver.AccAbstract) && !hasCode {
		mv.fail(failsink.BadClassHard, 0, "concrete method has no code item")
		return false
	}
	if !hasCode {
		return false // nothing further to verify for native/abstract methods
	}
	if mv.def.InsSize > mv.def.NumRegisters {
		mv.fail(failsink.BadClassHard, 0, "ins_size exceeds registers_size")
		return false
	}
	if mv.def.Code.CodeSize() == 0 {
		mv.fail(failsink.BadClassHard, 0, "method body has zero code units")
		return false
	}
	return true
}

// scanWidths walks the code-unit stream,
// recording every opcode boundary and skipping NOP-prefixed payloads by
// their own declared width rather than the owning opcode's width.
func (mv *MethodVerifier) scanWidths() bool {
	mv.codeSize = int(mv.def.Code.CodeSize())
	mv.isBoundary = bitvec.NewVector[uint32](mv.codeSize, false)
	mv.isInTry = bitvec.NewVector[uint32](mv.codeSize, false)
	mv.isBranchTarget = bitvec.NewVector[uint32](mv.codeSize, false)
	mv.changed = bitvec.NewVector[uint32](mv.codeSize, false)
	mv.visited = bitvec.NewVector[uint32](mv.codeSize, false)

	pc := uint32(0)
	for int(pc) < mv.codeSize {
		insn, err := mv.cursor.At(pc)
		if err != nil {
			mv.fail(failsink.BadClassHard, pc, "no instruction at pc %d: %v", pc, err)
			return false
		}
		mv.isBoundary.Set(int(pc))

		switch insn.Op {
		case dex.OpPackedSwitchPayload:
			p, perr := mv.cursor.PackedSwitchPayload(pc)
			if perr != nil {
				mv.fail(failsink.BadClassHard, pc, "missing packed-switch payload at %d", pc)
				return false
			}
			pc += p.Width()
			continue
		case dex.OpSparseSwitchPayload:
			p, perr := mv.cursor.SparseSwitchPayload(pc)
			if perr != nil {
				mv.fail(failsink.BadClassHard, pc, "missing sparse-switch payload at %d", pc)
				return false
			}
			pc += p.Width()
			continue
		case dex.OpFillArrayDataPayload:
			p, perr := mv.cursor.ArrayDataPayload(pc)
			if perr != nil {
				mv.fail(failsink.BadClassHard, pc, "missing array-data payload at %d", pc)
				return false
			}
			pc += p.Width()
			continue
		}

		width := uint32(insn.Width())
		if width == 0 {
			mv.fail(failsink.BadClassHard, pc, "zero-width instruction at %d", pc)
			return false
		}
		if int(pc+width) > mv.codeSize {
			mv.fail(failsink.BadClassHard, pc, "instruction at %d would cross the end of the code", pc)
			return false
		}
		mv.order = append(mv.order, pc)
		pc += width
	}
	mv.orderIndex = make(map[uint32]int, len(mv.order))
	for i, p := range mv.order {
		mv.orderIndex[p] = i
	}
	return true
}

// prevInsn returns the instruction back positions before pc in program
// order (not control-flow order), the syntactic lookback the monitor-enter
// and instance-of peepholes need.
func (mv *MethodVerifier) prevInsn(pc uint32, back int) (dex.Instruction, bool) {
	i, ok := mv.orderIndex[pc]
	if !ok || i-back < 0 {
		return dex.Instruction{}, false
	}
	insn, err := mv.cursor.At(mv.order[i-back])
	if err != nil {
		return dex.Instruction{}, false
	}
	return insn, true
}

// scanTries validates try ranges and catch handlers, marking every covered
// dex-pc as in-try.
func (mv *MethodVerifier) scanTries() bool {
	for _, t := range mv.def.Tries {
		if !(t.StartPC < t.EndPC && int(t.EndPC) <= mv.codeSize) {
			mv.fail(failsink.BadClassHard, t.StartPC, "try-item start/end out of range")
			return false
		}
		if !mv.isBoundary.IsSet(int(t.StartPC)) {
			mv.fail(failsink.BadClassHard, t.StartPC, "try-item start is not an opcode boundary")
			return false
		}
		for pc := t.StartPC; pc < t.EndPC; pc++ {
			mv.isInTry.Set(int(pc))
		}
		for _, h := range t.Handlers {
			if !mv.isBoundary.IsSet(int(h.HandlerPC)) {
				mv.fail(failsink.BadClassHard, h.HandlerPC, "catch handler is not an opcode boundary")
				return false
			}
			insn, err := mv.cursor.At(h.HandlerPC)
			if err != nil {
				mv.fail(failsink.BadClassHard, h.HandlerPC, "catch handler references missing instruction")
				return false
			}
			switch insn.Op {
			case dex.OpMoveResult, dex.OpMoveResultWide, dex.OpMoveResultObject:
				mv.fail(failsink.BadClassHard, h.HandlerPC, "catch handler targets a move-result*")
				return false
			}
			// A handler entry behaves like a branch target: the data-flow
			// loop must reseed its working line from the stored handler line
			// rather than carry over whatever preceded it in program order.
			mv.isBranchTarget.Set(int(h.HandlerPC))
			if h.TypeDescriptor != "" {
				if _, err := mv.resolver.FindClass(h.TypeDescriptor); err != nil {
					mv.fail(failsink.UnresolvedTypeCheck, h.HandlerPC, "unresolved handler type %s treated as Throwable", h.TypeDescriptor)
				}
			}
		}
	}
	return true
}

// staticChecks is the per-instruction static pass: register-index range
// checks and branch/switch target validation, marking every branch target.
func (mv *MethodVerifier) staticChecks() {
	for _, pc := range mv.order {
		insn, err := mv.cursor.At(pc)
		if err != nil {
			continue
		}
		flags := insn.VerifyFlags()
		regs := mv.def.NumRegisters
		checkReg := func(v int) {
			if v < 0 || v >= regs {
				mv.fail(failsink.BadClassHard, pc, "register index %d out of range (regs=%d)", v, regs)
			}
		}
		if flags&dex.VerifyRegA != 0 {
			checkReg(insn.A)
		}
		if flags&dex.VerifyRegB != 0 {
			checkReg(insn.B)
		}
		if flags&dex.VerifyRegC != 0 {
			checkReg(insn.C)
		}
		for _, r := range insn.Args {
			checkReg(r)
		}

		extra := insn.ExtraVerifyFlags()
		if extra&dex.VerifyBranchTarget != 0 {
			target := uint32(insn.H)
			if !mv.isBoundary.IsSet(int(target)) {
				mv.fail(failsink.BadClassHard, pc, "branch target %d is not an opcode boundary", target)
				continue
			}
			if target == pc && insn.Op != dex.OpGoto {
				mv.fail(failsink.BadClassHard, pc, "zero-offset branch is only legal for goto/32 self-loops")
			}
			if !mv.checkBranchableTarget(pc, target) {
				continue
			}
			mv.isBranchTarget.Set(int(target))
		}
		if extra&dex.VerifySwitchTargets != 0 {
			mv.markSwitchTargets(pc, insn)
		}
	}
}

// checkBranchableTarget rejects branch/switch edges onto instructions that
// may only be reached implicitly: move-result* must follow its invocation
// and move-exception must start a catch handler.
func (mv *MethodVerifier) checkBranchableTarget(pc, target uint32) bool {
	insn, err := mv.cursor.At(target)
	if err != nil {
		return false
	}
	switch insn.Op {
	case dex.OpMoveResult, dex.OpMoveResultWide, dex.OpMoveResultObject, dex.OpMoveException:
		mv.fail(failsink.BadClassHard, pc, "branch target %d is a move-result*/move-exception", target)
		return false
	}
	return true
}

func (mv *MethodVerifier) markSwitchTargets(pc uint32, insn dex.Instruction) {
	payloadPC := uint32(insn.H)
	switch insn.Op {
	case dex.OpPackedSwitch:
		p, err := mv.cursor.PackedSwitchPayload(payloadPC)
		if err != nil {
			mv.fail(failsink.BadClassHard, pc, "packed-switch payload missing at %d", payloadPC)
			return
		}
		for _, off := range p.Targets {
			target := uint32(int64(pc) + int64(off))
			if int(target) < 0 || int(target) >= mv.codeSize || !mv.isBoundary.IsSet(int(target)) {
				mv.fail(failsink.BadClassHard, pc, "packed-switch target %d is not an opcode boundary", target)
				continue
			}
			if !mv.checkBranchableTarget(pc, target) {
				continue
			}
			mv.isBranchTarget.Set(int(target))
		}
	case dex.OpSparseSwitch:
		p, err := mv.cursor.SparseSwitchPayload(payloadPC)
		if err != nil {
			mv.fail(failsink.BadClassHard, pc, "sparse-switch payload missing at %d", payloadPC)
			return
		}
		for _, off := range p.Targets {
			target := uint32(int64(pc) + int64(off))
			if int(target) < 0 || int(target) >= mv.codeSize || !mv.isBoundary.IsSet(int(target)) {
				mv.fail(failsink.BadClassHard, pc, "sparse-switch target %d is not an opcode boundary", target)
				continue
			}
			if !mv.checkBranchableTarget(pc, target) {
				continue
			}
			mv.isBranchTarget.Set(int(target))
		}
	}
}

// initLine0 seeds register line 0 from the method signature.
func (mv *MethodVerifier) initLine0() {
	line := registerline.New(mv.cache, mv.def.NumRegisters)
	idx := mv.def.NumRegisters - mv.def.InsSize

	if !mv.def.AccessFlags.Has(classresolver.AccStatic) {
		recv := mv.cache.FromDescriptor(mv.def.ClassDescriptor)
		if mv.def.IsConstructor && mv.def.ClassDescriptor != "Ljava/lang/Object;" {
			uninit := mv.cache.UninitializedThisArgument(recv)
			line.SetRegisterTypeForNewInstance(idx, uninit, 0)
		} else {
			line.SetRegisterType(idx, recv, registerline.ClearLocks)
		}
		idx++
	}
	for _, desc := range mv.def.ParameterDescriptors {
		t := mv.cache.FromDescriptor(desc)
		if regtype.IsCategory2Types(t.Kind()) {
			hi := mv.cache.GetFromRegKind(regtype.HighHalf(t.Kind()))
			line.SetRegisterTypeWide(idx, t, hi)
			idx += 2
		} else {
			line.SetRegisterType(idx, t, registerline.ClearLocks)
			idx++
		}
	}

	mv.storedLines[0] = line
	mv.changed.Set(0)
	mv.work = registerline.New(mv.cache, mv.def.NumRegisters)
}

// fail records a finding. Any non-hard kind recorded by an app targeting
// below apiLevelSV2 marks the rest of the current instruction's basic
// block unreachable, the legacy treat-as-throwing behavior newer targets
// no longer get.
func (mv *MethodVerifier) fail(kind failsink.Kind, pc uint32, format string, args ...interface{}) {
	if kind == failsink.BadClassHard {
		mv.sink.Fail(kind, pc, false, format, args...)
		mv.hardStop = true
		return
	}
	pending := mv.def.APILevel < apiLevelSV2
	mv.sink.Fail(kind, pc, pending, format, args...)
	if pending {
		mv.pendingThrow = true
	}
}

// failRuntimeThrow is the explicit runtime-throw hook: it always marks the
// instruction as throwing regardless of api
// level, since the caller has already proven the instruction unconditionally
// throws (e.g. a division that statically divides by the constant zero).
func (mv *MethodVerifier) failRuntimeThrow(pc uint32, format string, args ...interface{}) {
	mv.sink.Fail(failsink.RuntimeThrow, pc, true, format, args...)
	mv.pendingThrow = true
}

// returnTypeOnce resolves and caches the method's declared return type.
func (mv *MethodVerifier) returnTypeOnce() *regtypecache.Type {
	if !mv.haveReturnType {
		mv.returnType = mv.cache.FromDescriptor(mv.def.ReturnDescriptor)
		mv.haveReturnType = true
	}
	return mv.returnType
}
