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

import "fmt"

// InstructionCursor is the decoded-instruction source the verifier walks.
// The verifier never parses code units itself; it only walks a cursor.
type InstructionCursor interface {
	// CodeSize returns the number of code units in the method body.
	CodeSize() uint32
	// At returns the decoded instruction starting at dex-pc pc. The caller
	// must have already established pc is an opcode boundary; At returns an
	// error if it is not.
	At(pc uint32) (Instruction, error)
	// PackedSwitchPayload returns the decoded payload at pc.
	PackedSwitchPayload(pc uint32) (PackedSwitchPayload, error)
	// SparseSwitchPayload returns the decoded payload at pc.
	SparseSwitchPayload(pc uint32) (SparseSwitchPayload, error)
	// ArrayDataPayload returns the decoded payload at pc.
	ArrayDataPayload(pc uint32) (ArrayDataPayload, error)
}

// Cursor is the reference InstructionCursor implementation: a flat,
// pre-decoded instruction list plus payload tables keyed by dex-pc. This is
// enrichment for tests/CLI, not a binary-format parser: the verifier core
// never reads raw code units.
type Cursor struct {
	byPC     map[uint32]Instruction
	codeSize uint32
	packed   map[uint32]PackedSwitchPayload
	sparse   map[uint32]SparseSwitchPayload
	arrays   map[uint32]ArrayDataPayload
}

// NewCursor lays out insns consecutively starting at dex-pc 0, using each
// opcode's declared Width to assign the next instruction's pc, and returns
// the resulting Cursor.
func NewCursor(insns []Instruction) *Cursor {
	c := &Cursor{
		byPC:   make(map[uint32]Instruction, len(insns)),
		packed: make(map[uint32]PackedSwitchPayload),
		sparse: make(map[uint32]SparseSwitchPayload),
		arrays: make(map[uint32]ArrayDataPayload),
	}
	pc := uint32(0)
	for _, insn := range insns {
		insn.PC = pc
		c.byPC[pc] = insn
		pc += uint32(insn.Width())
	}
	c.codeSize = pc
	return c
}

// PutPackedSwitchPayload registers a packed-switch payload at dex-pc pc.
func (c *Cursor) PutPackedSwitchPayload(pc uint32, p PackedSwitchPayload) {
	c.packed[pc] = p
	c.codeSize = maxU32(c.codeSize, pc+p.Width())
}

// PutSparseSwitchPayload registers a sparse-switch payload at dex-pc pc.
func (c *Cursor) PutSparseSwitchPayload(pc uint32, p SparseSwitchPayload) {
	c.sparse[pc] = p
	c.codeSize = maxU32(c.codeSize, pc+p.Width())
}

// PutArrayDataPayload registers a fill-array-data payload at dex-pc pc.
func (c *Cursor) PutArrayDataPayload(pc uint32, p ArrayDataPayload) {
	c.arrays[pc] = p
	c.codeSize = maxU32(c.codeSize, pc+p.Width())
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func (c *Cursor) CodeSize() uint32 { return c.codeSize }

func (c *Cursor) At(pc uint32) (Instruction, error) {
	insn, ok := c.byPC[pc]
	if !ok {
		return Instruction{}, fmt.Errorf("dex: no instruction at pc %d (not an opcode boundary)", pc)
	}
	return insn, nil
}

func (c *Cursor) PackedSwitchPayload(pc uint32) (PackedSwitchPayload, error) {
	p, ok := c.packed[pc]
	if !ok {
		return PackedSwitchPayload{}, fmt.Errorf("dex: no packed-switch payload at pc %d", pc)
	}
	return p, nil
}

func (c *Cursor) SparseSwitchPayload(pc uint32) (SparseSwitchPayload, error) {
	p, ok := c.sparse[pc]
	if !ok {
		return SparseSwitchPayload{}, fmt.Errorf("dex: no sparse-switch payload at pc %d", pc)
	}
	return p, nil
}

func (c *Cursor) ArrayDataPayload(pc uint32) (ArrayDataPayload, error) {
	p, ok := c.arrays[pc]
	if !ok {
		return ArrayDataPayload{}, fmt.Errorf("dex: no array-data payload at pc %d", pc)
	}
	return p, nil
}
