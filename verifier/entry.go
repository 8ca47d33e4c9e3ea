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

	"github.com/dexguard/go-dexguard/classresolver"
	"github.com/dexguard/go-dexguard/failsink"
	"github.com/dexguard/go-dexguard/verifierdeps"
)

// Result is the outcome of one VerifyMethod call: the
// overall classification plus, for HardFailureKind, where and why.
type Result struct {
	Kind     failsink.FailureKind
	Messages []failsink.Message

	HardPC      uint32
	HardMessage string
}

// VerifyMethod runs the two static passes and the data-flow fixed-point
// loop over def and returns the overall classification. ctx is polled at
// the top of each iteration of the fixed-point loop; class resolution
// calls do not observe it. A cancelled context surfaces as a Go error, not
// a Result, since it reflects the caller giving up rather than a finding
// about the method.
func VerifyMethod(ctx context.Context, def *MethodDef, resolver classresolver.Resolver, deps verifierdeps.Recorder, numTypeIndices int) (*Result, error) {
	sink := failsink.NewCollector()
	mv, err := NewMethodVerifier(def, resolver, deps, sink, numTypeIndices)
	if err != nil {
		return nil, err
	}
	if err := mv.Run(ctx); err != nil {
		return nil, err
	}
	res := &Result{Kind: sink.Reduce(), Messages: sink.Messages()}
	res.HardPC, res.HardMessage, _ = sink.HardFailure()
	return res, nil
}

// FindLocksAtDexPC re-runs the data-flow pass and reports every monitor
// statically held at atPC. It returns an empty, non-nil slice if atPC is
// unreachable or the method never acquires a monitor there. The fixed-point
// loop stores a line at every pc it reaches, not only at join points
// (branch/switch targets, catch handlers, pc 0): a pc reached only by fall
// through gets the line its predecessor left.
func FindLocksAtDexPC(ctx context.Context, def *MethodDef, resolver classresolver.Resolver, deps verifierdeps.Recorder, numTypeIndices int, atPC uint32) ([]LockInfo, error) {
	sink := failsink.NewCollector()
	mv, err := NewMethodVerifier(def, resolver, deps, sink, numTypeIndices)
	if err != nil {
		return nil, err
	}
	if err := mv.Run(ctx); err != nil {
		return nil, err
	}
	line, ok := mv.storedLines[atPC]
	if !ok {
		return []LockInfo{}, nil
	}
	depth := line.MonitorDepth()
	pcs := line.MonitorEnterDexPCs()
	locks := make([]LockInfo, 0, depth)
	for d := 0; d < depth; d++ {
		locks = append(locks, LockInfo{
			MonitorEnterDexPC: pcs[d],
			Depth:             d,
			AliasedVRegs:      aliasedVRegsAtDepth(mv.def, line, d),
		})
	}
	return locks, nil
}

// aliasedVRegsAtDepth scans every vreg of line for one that aliases the
// lock held at depth d, the information FindLocksAtDexPC needs to
// report every alias of a held monitor rather than just its original
// holder.
func aliasedVRegsAtDepth(def *MethodDef, line registerLineLocker, d int) []int {
	var aliased []int
	for v := 0; v < def.NumRegisters; v++ {
		if line.HoldsLockAtDepth(v, d) {
			aliased = append(aliased, v)
		}
	}
	return aliased
}

// registerLineLocker is the narrow slice of registerline.Line's API
// aliasedVRegsAtDepth needs; kept as its own named type so this file does
// not import registerline just to spell out *registerline.Line twice.
type registerLineLocker interface {
	HoldsLockAtDepth(v int, depth int) bool
}
