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

// Package registerline implements the per-instruction abstract state: a
// vector of cache-ids (one per virtual register), the invocation result
// pseudo-register pair, the monitor-lock stack, and the per-register
// lock-depth bit mask.
package registerline

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/dexguard/go-dexguard/regtype"
	"github.com/dexguard/go-dexguard/regtypecache"
)

// maxMonitorDepth is the hard cap on simultaneously held monitors.
const maxMonitorDepth = 32

// LockOp selects whether set_register_type clears the destination's lock
// bits (the default) or preserves them, the narrow exception move-object
// needs when propagating references and Conflict.
type LockOp uint8

const (
	// ClearLocks erases the destination's lock-depth bits; the default for
	// every write that is not a reference-preserving copy.
	ClearLocks LockOp = iota
	// KeepLocks preserves the destination's lock-depth bits. Legal only
	// when the written type is a reference type or Conflict.
	KeepLocks
)

// Line is the abstract machine state at one instruction.
type Line struct {
	cache   *regtypecache.Cache
	numRegs int

	regs   []uint16
	result [2]uint16

	allocationDexPCs map[int]uint32

	monitors []uint32 // dex-pcs, in push order

	// lockDepths holds one 32-bit mask per vreg plus one extra "virtual
	// null slot" at index numRegs for null-induced lock aliasing.
	lockDepths []uint32

	thisInitialized bool
}

// New constructs a register line for a method with numRegs virtual
// registers, every slot initialized to Undefined.
func New(cache *regtypecache.Cache, numRegs int) *Line {
	undef := cache.GetFromRegKind(regtype.Undefined).CacheID()
	l := &Line{
		cache:      cache,
		numRegs:    numRegs,
		regs:       make([]uint16, numRegs),
		lockDepths: make([]uint32, numRegs+1),
	}
	for i := range l.regs {
		l.regs[i] = undef
	}
	l.result[0] = undef
	l.result[1] = undef
	return l
}

// NumRegs returns the number of virtual registers in the method.
func (l *Line) NumRegs() int { return l.numRegs }

// ThisInitialized reports whether the <init> chain on "this" has completed.
func (l *Line) ThisInitialized() bool { return l.thisInitialized }

// GetRegisterType returns the cached type currently held by vreg v.
func (l *Line) GetRegisterType(v int) *regtypecache.Type {
	return l.cache.GetFromID(l.regs[v])
}

// ResultTypes returns the pending invocation/filled-new-array result pair.
func (l *Line) ResultTypes() (*regtypecache.Type, *regtypecache.Type) {
	return l.cache.GetFromID(l.result[0]), l.cache.GetFromID(l.result[1])
}

// SetResultRegisterType records the result of an invocation or
// filled-new-array for later consumption by move-result*.
func (l *Line) SetResultRegisterType(lo, hi *regtypecache.Type) {
	l.result[0] = lo.CacheID()
	l.result[1] = hi.CacheID()
}

// ClearResultRegisterType resets the pending result to Undefined.
func (l *Line) ClearResultRegisterType() {
	undef := l.cache.GetFromRegKind(regtype.Undefined).CacheID()
	l.result[0] = undef
	l.result[1] = undef
}

// SetRegisterType writes t into vreg v. lockOp controls whether v's lock
// bits survive the write.
func (l *Line) SetRegisterType(v int, t *regtypecache.Type, lockOp LockOp) {
	if lockOp == KeepLocks {
		if t.Kind() != regtype.Conflict && !regtype.IsReferenceTypes(t.Kind()) {
			panic("registerline: KeepLocks only legal for reference types or Conflict")
		}
	} else {
		l.lockDepths[v] = 0
		delete(l.allocationDexPCs, v)
	}
	l.regs[v] = t.CacheID()
}

// SetRegisterTypeWide writes a category-2 pair into v and v+1.
func (l *Line) SetRegisterTypeWide(v int, lo, hi *regtypecache.Type) {
	if !regtype.CheckWidePair(lo.Kind(), hi.Kind()) {
		panic(fmt.Sprintf("registerline: SetRegisterTypeWide: %v/%v is not a valid wide pair", lo.Kind(), hi.Kind()))
	}
	l.regs[v] = lo.CacheID()
	l.regs[v+1] = hi.CacheID()
	l.lockDepths[v] = 0
	l.lockDepths[v+1] = 0
	delete(l.allocationDexPCs, v)
	delete(l.allocationDexPCs, v+1)
}

// SetRegisterTypeForNewInstance writes an uninitialized reference produced
// by new-instance into v and records the allocating dex-pc.
func (l *Line) SetRegisterTypeForNewInstance(v int, uninitType *regtypecache.Type, dexPC uint32) {
	for reg := 0; reg < l.numRegs; reg++ {
		if reg == v {
			continue
		}
		if l.regs[reg] == uninitType.CacheID() {
			if pc, ok := l.allocationDexPCs[reg]; ok && pc == dexPC {
				panic("registerline: two vregs already share this allocation dex-pc")
			}
		}
	}
	l.SetRegisterType(v, uninitType, ClearLocks)
	if l.allocationDexPCs == nil {
		l.allocationDexPCs = make(map[int]uint32)
	}
	l.allocationDexPCs[v] = dexPC
}

// CopyReference propagates type, lock-depth mask and allocation-dex-pc from
// vsrc to vdst, the semantics move-object needs for references and Conflict.
func (l *Line) CopyReference(vdst, vsrc int, t *regtypecache.Type) {
	l.regs[vdst] = t.CacheID()
	l.lockDepths[vdst] = l.lockDepths[vsrc]
	if pc, ok := l.allocationDexPCs[vsrc]; ok {
		if l.allocationDexPCs == nil {
			l.allocationDexPCs = make(map[int]uint32)
		}
		l.allocationDexPCs[vdst] = pc
	} else {
		delete(l.allocationDexPCs, vdst)
	}
}

// CopyCat1 copies a category-1 type from vsrc to vdst after verifying its
// category, clearing vdst's lock bits.
func (l *Line) CopyCat1(vdst, vsrc int) error {
	src := l.GetRegisterType(vsrc)
	if !regtype.IsCategory1Types(src.Kind()) {
		return fmt.Errorf("registerline: CopyCat1: v%d holds a category-2 type %v", vsrc, src.Kind())
	}
	l.regs[vdst] = l.regs[vsrc]
	l.lockDepths[vdst] = 0
	delete(l.allocationDexPCs, vdst)
	return nil
}

// CopyCat2 copies a category-2 pair from (vsrc, vsrc+1) to (vdst, vdst+1).
func (l *Line) CopyCat2(vdst, vsrc int) error {
	lo, hi := l.GetRegisterType(vsrc), l.GetRegisterType(vsrc+1)
	if !regtype.CheckWidePair(lo.Kind(), hi.Kind()) {
		return fmt.Errorf("registerline: CopyCat2: v%d/v%d is not a valid wide pair (%v/%v)", vsrc, vsrc+1, lo.Kind(), hi.Kind())
	}
	l.regs[vdst] = l.regs[vsrc]
	l.regs[vdst+1] = l.regs[vsrc+1]
	l.lockDepths[vdst] = 0
	l.lockDepths[vdst+1] = 0
	delete(l.allocationDexPCs, vdst)
	delete(l.allocationDexPCs, vdst+1)
	return nil
}

// MarkRefsAsInitialized transitions every vreg holding the same
// uninitialized value as v to its initialized counterpart. At
// least one vreg (v itself) must change, or this panics.
func (l *Line) MarkRefsAsInitialized(v int) {
	uninit := l.GetRegisterType(v)
	if !regtype.IsUninitializedTypes(uninit.Kind()) {
		panic(fmt.Sprintf("registerline: MarkRefsAsInitialized: v%d is not uninitialized (%v)", v, uninit.Kind()))
	}
	initialized := l.cache.FromUninitialized(uninit)
	isThis := uninit.Kind() == regtype.UninitializedThisReference || uninit.Kind() == regtype.UnresolvedUninitializedThisReference

	dexPC, havePC := l.allocationDexPCs[v]
	changed := 0
	for reg := 0; reg < l.numRegs; reg++ {
		if l.regs[reg] != uninit.CacheID() {
			continue
		}
		if !isThis {
			pc, ok := l.allocationDexPCs[reg]
			if !ok || !havePC || pc != dexPC {
				continue
			}
		}
		l.regs[reg] = initialized.CacheID()
		delete(l.allocationDexPCs, reg)
		changed++
	}
	if isThis {
		l.thisInitialized = true
	}
	if changed == 0 {
		panic("registerline: MarkRefsAsInitialized changed no vreg")
	}
	log.Trace("register line: marked uninitialized refs as initialized", "vreg", v, "count", changed)
}

// MonitorDepth returns the current number of unmatched monitor-enter
// instructions.
func (l *Line) MonitorDepth() int { return len(l.monitors) }

// MonitorEnterDexPCs returns the dex-pcs of every currently-held monitor,
// deepest last, the diagnostic surface FindLocksAtDexPC reports.
func (l *Line) MonitorEnterDexPCs() []uint32 {
	out := make([]uint32, len(l.monitors))
	copy(out, l.monitors)
	return out
}

func (l *Line) nullVirtualSlot() int { return l.numRegs }

// PushMonitor records a monitor-enter on vreg v at the current stack depth.
func (l *Line) PushMonitor(v int, t *regtypecache.Type, dexPC uint32) error {
	if len(l.monitors) >= maxMonitorDepth {
		return fmt.Errorf("registerline: monitor stack exceeds %d entries", maxMonitorDepth)
	}
	depth := uint32(len(l.monitors))
	if l.lockDepths[v]&(1<<depth) != 0 {
		return fmt.Errorf("registerline: v%d is already held at depth %d", v, depth)
	}
	l.lockDepths[v] |= 1 << depth
	if t.Kind() == regtype.Zero {
		l.lockDepths[l.nullVirtualSlot()] |= 1 << depth
	}
	l.monitors = append(l.monitors, dexPC)
	return nil
}

// PopMonitor matches a monitor-exit against the top of the stack.
func (l *Line) PopMonitor(v int, t *regtypecache.Type) error {
	if len(l.monitors) == 0 {
		return fmt.Errorf("registerline: monitor-exit with an empty monitor stack")
	}
	depth := uint32(len(l.monitors) - 1)
	mask := uint32(1) << depth
	held := l.lockDepths[v]&mask != 0
	if !held && t.Kind() == regtype.Zero && l.lockDepths[l.nullVirtualSlot()]&mask != 0 {
		held = true
	}
	if !held {
		return fmt.Errorf("registerline: v%d does not hold the lock at depth %d", v, depth)
	}
	l.monitors = l.monitors[:depth]
	for reg := range l.lockDepths {
		l.lockDepths[reg] &^= mask
	}
	log.Trace("register line: popped monitor", "vreg", v, "depth", depth)
	return nil
}

// AliasMonitor copies the current top-of-stack lock-depth bit onto vreg v as
// well, the peephole aliasing for a move-object or
// const-class pair that feeds the same lock as monitor-enter's operand.
func (l *Line) AliasMonitor(v int) error {
	if len(l.monitors) == 0 {
		return fmt.Errorf("registerline: AliasMonitor with an empty monitor stack")
	}
	depth := uint32(len(l.monitors) - 1)
	l.lockDepths[v] |= 1 << depth
	return nil
}

// HoldsLockAtDepth reports whether vreg v's lock-depth mask includes depth,
// the per-register query FindLocksAtDexPC uses to report
// every alias of a held monitor, not just its original holder.
func (l *Line) HoldsLockAtDepth(v int, depth int) bool {
	if depth < 0 || depth >= maxMonitorDepth {
		return false
	}
	return l.lockDepths[v]&(1<<uint(depth)) != 0
}

// VerifyMonitorStackEmpty returns an error if any monitor remains unmatched.
func (l *Line) VerifyMonitorStackEmpty() error {
	if len(l.monitors) != 0 {
		return fmt.Errorf("registerline: monitor stack non-empty at exit (%d entries)", len(l.monitors))
	}
	return nil
}

// Copy returns a deep, independent copy of l, the snapshot used to seed a
// branch target's stored line.
func (l *Line) Copy() *Line {
	out := &Line{
		cache:           l.cache,
		numRegs:         l.numRegs,
		regs:            append([]uint16(nil), l.regs...),
		result:          l.result,
		monitors:        append([]uint32(nil), l.monitors...),
		lockDepths:      append([]uint32(nil), l.lockDepths...),
		thisInitialized: l.thisInitialized,
	}
	if l.allocationDexPCs != nil {
		out.allocationDexPCs = make(map[int]uint32, len(l.allocationDexPCs))
		for k, v := range l.allocationDexPCs {
			out.allocationDexPCs[k] = v
		}
	}
	return out
}

// CopyFrom overwrites l's contents with a deep copy of other, reusing l's
// backing slices, the in-place variant the data-flow loop uses when
// re-seeding the working line from a stored branch-target line.
func (l *Line) CopyFrom(other *Line) {
	copy(l.regs, other.regs)
	l.result = other.result
	l.monitors = append(l.monitors[:0], other.monitors...)
	copy(l.lockDepths, other.lockDepths)
	l.thisInitialized = other.thisInitialized
	if other.allocationDexPCs == nil {
		l.allocationDexPCs = nil
	} else {
		l.allocationDexPCs = make(map[int]uint32, len(other.allocationDexPCs))
		for k, v := range other.allocationDexPCs {
			l.allocationDexPCs[k] = v
		}
	}
}
