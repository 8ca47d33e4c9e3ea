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

package registerline

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/dexguard/go-dexguard/regtype"
)

// Merge folds incoming into l in place (l is the stored line at a join
// point). It reports whether any
// vreg, the monitor map or this_initialized changed, and an error only for
// an unrecoverable LOCKING mismatch.
func (l *Line) Merge(incoming *Line) (changed bool, err error) {
	if l.numRegs != incoming.numRegs {
		return false, fmt.Errorf("registerline: Merge: register count mismatch (%d vs %d)", l.numRegs, incoming.numRegs)
	}

	conflict := l.cache.GetFromRegKind(regtype.Conflict)
	for v := 0; v < l.numRegs; v++ {
		if l.regs[v] == incoming.regs[v] {
			if l.needsAllocationMatch(v) {
				lpc, lok := l.allocationDexPCs[v]
				ipc, iok := incoming.allocationDexPCs[v]
				if lok && iok && lpc != ipc {
					l.regs[v] = conflict.CacheID()
					delete(l.allocationDexPCs, v)
					changed = true
				}
			}
			continue
		}
		lt, it := l.cache.GetFromID(l.regs[v]), l.cache.GetFromID(incoming.regs[v])
		merged := l.cache.Merge(lt, it)
		if merged.CacheID() != l.regs[v] {
			l.regs[v] = merged.CacheID()
			delete(l.allocationDexPCs, v)
			changed = true
		}
	}

	if monitorChanged, merr := l.mergeMonitors(incoming); merr != nil {
		return changed, merr
	} else if monitorChanged {
		changed = true
	}

	if l.thisInitialized && !incoming.thisInitialized {
		l.thisInitialized = false
		changed = true
	}

	if changed {
		log.Trace("register line: merge changed state")
	}
	return changed, nil
}

func (l *Line) needsAllocationMatch(v int) bool {
	return regtype.IsUninitializedTypes(l.cache.GetFromID(l.regs[v]).Kind())
}

// mergeMonitors merges the monitor state: depths must
// match in count; for differing per-vreg masks, an "alias" vreg at the same
// depth mask present in both lines lets the differing entry be dropped
// rather than failing.
func (l *Line) mergeMonitors(incoming *Line) (bool, error) {
	if len(l.monitors) != len(incoming.monitors) {
		return false, fmt.Errorf("registerline: Merge: monitor stack depth mismatch (%d vs %d)", len(l.monitors), len(incoming.monitors))
	}
	changed := false
	for v := range l.lockDepths {
		if l.lockDepths[v] == incoming.lockDepths[v] {
			continue
		}
		if l.hasAliasAtSameMask(v, incoming.lockDepths[v]) && incoming.hasAliasAtSameMask(v, l.lockDepths[v]) {
			l.lockDepths[v] = 0
			changed = true
			continue
		}
		return changed, fmt.Errorf("registerline: Merge: lock-depth mismatch at v%d (%#x vs %#x) with no alias", v, l.lockDepths[v], incoming.lockDepths[v])
	}
	return changed, nil
}

func (l *Line) hasAliasAtSameMask(v int, mask uint32) bool {
	if mask == 0 {
		return true
	}
	for other := range l.lockDepths {
		if other != v && l.lockDepths[other] == mask {
			return true
		}
	}
	return false
}
