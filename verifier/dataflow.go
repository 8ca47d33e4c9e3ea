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

	"github.com/ethereum/go-ethereum/log"

	"github.com/dexguard/go-dexguard/dex"
	"github.com/dexguard/go-dexguard/failsink"
	"github.com/dexguard/go-dexguard/registerline"
)

// branchTarget is one outgoing edge of an instruction. line is nil for the
// ordinary case (propagate mv.work unchanged); the if-eqz/if-nez
// instance-of peephole sets it to a sharpened copy so the
// branch-taken and fall-through edges can disagree about one register's
// type.
type branchTarget struct {
	pc   uint32
	line *registerline.Line
}

// flow describes how verifyInstruction's caller should propagate the
// working line after one instruction.
type flow struct {
	hardFail        bool
	branches        []branchTarget // goto/if-*/packed-switch/sparse-switch targets
	fallsThrough    bool
	fallThroughLine *registerline.Line // nil means propagate mv.work unchanged
}

// dataFlow runs the fixed-point loop over "changed" dex-pcs.
func (mv *MethodVerifier) dataFlow(ctx context.Context) error {
	for {
		pc, ok := mv.lowestChanged()
		if !ok {
			break
		}
		mv.changed.Clear(int(pc))

		// Cooperative yield point: top of the fixed-point loop.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if mv.isBranchTarget.IsSet(int(pc)) || pc == 0 {
			stored, ok := mv.storedLines[pc]
			if !ok {
				continue
			}
			mv.work.CopyFrom(stored)
		}

		insn, err := mv.cursor.At(pc)
		if err != nil {
			mv.fail(failsink.BadClassHard, pc, "instruction vanished at pc %d between passes", pc)
			break
		}

		mv.savedLine = nil
		inTry := mv.isInTry.IsSet(int(pc))
		// monitor-exit's kThrow flag is stripped: a throwing monitor-exit is
		// treated as if it had completed, so it never feeds a catch handler.
		canThrow := insn.CanThrow() && insn.Op != dex.OpMonitorExit
		if canThrow && inTry {
			mv.savedLine = mv.work.Copy()
		}

		f, err := mv.verifyInstruction(pc, insn)
		if err != nil {
			return err
		}
		mv.visited.Set(int(pc))
		if f.hardFail || mv.hardStop {
			break
		}

		if mv.savedLine != nil {
			mv.propagateThrow(pc)
		}

		if mv.pendingThrow {
			// This instruction is treated as unconditionally
			// throwing, so its ordinary branch/fall-through edges (handler
			// edges above are unaffected) are dead and never propagated.
			mv.pendingThrow = false
			continue
		}

		for _, b := range f.branches {
			line := b.line
			if line == nil {
				line = mv.work
			}
			mv.mergeInto(b.pc, line)
		}

		if f.fallsThrough {
			line := f.fallThroughLine
			if line == nil {
				line = mv.work
			}
			next := pc + uint32(insn.Width())
			if int(next) < mv.codeSize {
				if mv.isBranchTarget.IsSet(int(next)) {
					mv.mergeInto(next, line)
				} else if _, have := mv.storedLines[next]; have {
					mv.mergeInto(next, line)
				} else {
					mv.storedLines[next] = line.Copy()
					mv.changed.Set(int(next))
				}
			}
		}
	}
	return nil
}

// lowestChanged returns the lowest dex-pc with its changed bit set.
func (mv *MethodVerifier) lowestChanged() (uint32, bool) {
	it := mv.changed.Indexes()
	i, ok := it.Next()
	if !ok {
		return 0, false
	}
	return uint32(i), true
}

// mergeInto merges line into the stored line at targetPC, creating it if
// absent, and marks targetPC changed iff the merge altered anything.
func (mv *MethodVerifier) mergeInto(targetPC uint32, line *registerline.Line) {
	stored, ok := mv.storedLines[targetPC]
	if !ok {
		mv.storedLines[targetPC] = line.Copy()
		mv.changed.Set(int(targetPC))
		return
	}
	changed, err := stored.Merge(line)
	if err != nil {
		mv.fail(failsink.Locking, targetPC, "%v", err)
		return
	}
	if changed {
		log.Trace("verifier: merge changed target line", "cache", mv.id, "target_pc", targetPC)
		mv.changed.Set(int(targetPC))
	}
}

// propagateThrow merges the saved pre-instruction line into every
// enclosing catch handler.
func (mv *MethodVerifier) propagateThrow(pc uint32) {
	for _, t := range mv.def.Tries {
		if pc < t.StartPC || pc >= t.EndPC {
			continue
		}
		for _, h := range t.Handlers {
			mv.mergeInto(h.HandlerPC, mv.savedLine)
			mv.recordHandlerExceptionType(h)
		}
		return // a dex-pc belongs to at most one try range in this model
	}
}

func (mv *MethodVerifier) recordHandlerExceptionType(h CatchHandler) {
	desc := h.TypeDescriptor
	if desc == "" {
		desc = "Ljava/lang/Throwable;"
	}
	t := mv.cache.FromDescriptor(desc)
	existing, ok := mv.handlerExceptionType[h.HandlerPC]
	if !ok {
		mv.handlerExceptionType[h.HandlerPC] = t
		return
	}
	mv.handlerExceptionType[h.HandlerPC] = mv.cache.Merge(existing, t)
}
