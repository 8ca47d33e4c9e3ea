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

package dex

// Magic signatures for the three NOP-prefixed payload instructions.
const (
	PackedSwitchSignature = 0x0100
	SparseSwitchSignature = 0x0200
	ArrayDataSignature    = 0x0300
)

// PackedSwitchPayload is the decoded packed-switch payload: header 4 code
// units + 2*N payload.
type PackedSwitchPayload struct {
	FirstKey int32
	Targets  []int32 // relative dex-pc offsets from the switch instruction
}

// Width returns the payload's size in code units.
func (p PackedSwitchPayload) Width() uint32 { return uint32(4 + 2*len(p.Targets)) }

// SparseSwitchPayload is the decoded sparse-switch payload: header 2 code
// units + 4*N payload.
type SparseSwitchPayload struct {
	Keys    []int32
	Targets []int32
}

// Width returns the payload's size in code units.
func (p SparseSwitchPayload) Width() uint32 { return uint32(2 + 4*len(p.Keys)) }

// ArrayDataPayload is the decoded fill-array-data payload: header 4 code
// units + ceil(N*W/2) payload.
type ArrayDataPayload struct {
	ElementWidth int // bytes per element: 1, 2, 4 or 8
	Data         []byte
}

// Width returns the payload's size in code units.
func (p ArrayDataPayload) Width() uint32 {
	n := len(p.Data)
	return uint32(4 + (n+1)/2)
}
