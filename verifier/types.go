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

// Package verifier implements the method-verifier abstract interpreter:
// two static passes over a decoded method body followed by a
// data-flow fixed-point loop over a per-instruction register line.
package verifier

import (
	"github.com/dexguard/go-dexguard/classresolver"
	"github.com/dexguard/go-dexguard/dex"
	"github.com/dexguard/go-dexguard/regtypecache"
)

// CatchHandler is one exception handler entry of a TryItem.
type CatchHandler struct {
	// TypeDescriptor is the caught exception's descriptor; empty means a
	// catch-all handler.
	TypeDescriptor string
	HandlerPC      uint32
}

// TryItem is one try-block range: every dex-pc in [StartPC, EndPC) routes an
// in-flight exception to each of Handlers in order.
type TryItem struct {
	StartPC  uint32
	EndPC    uint32
	Handlers []CatchHandler
}

// MethodDef bundles the inputs of one VerifyMethod call: method index, access flags, declaring class, code item and api level collapsed
// into one struct since this reference implementation has no dex file to
// pull them from lazily.
type MethodDef struct {
	MethodIndex     uint32
	AccessFlags     classresolver.AccessFlags
	ClassDescriptor string
	IsConstructor   bool

	NumRegisters int
	InsSize      int // number of incoming argument registers, including the receiver slot for non-static methods

	ParameterDescriptors []string // explicit parameter descriptors, receiver excluded
	ReturnDescriptor     string

	Code  dex.InstructionCursor
	Tries []TryItem

	APILevel int
	AOTMode  bool
}

// instanceOfHint remembers the most recent instance-of result so the
// following if-eqz/if-nez can sharpen its operand's type on the branch that
// proves the check succeeded.
type instanceOfHint struct {
	pc  uint32 // the instance-of instruction's own dex-pc
	dst int    // the boolean result register
	src int    // the instance-of operand register
	t   *regtypecache.Type
}

// LockInfo is one held-monitor entry returned by FindLocksAtDexPC: the monitor-enter dex-pc and every vreg statically known to alias
// that lock at the query point.
type LockInfo struct {
	MonitorEnterDexPC uint32
	Depth             int
	AliasedVRegs      []int
}
