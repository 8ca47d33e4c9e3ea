package dex

import "testing"

func TestCursorLaysOutConsecutivePCs(t *testing.T) {
	c := NewCursor([]Instruction{
		{Op: OpConst4, A: 0, H: 2},
		{Op: OpAddInt2Addr, A: 0, B: 0},
		{Op: OpReturn, A: 0},
	})
	insn, err := c.At(0)
	if err != nil {
		t.Fatalf("At(0): %v", err)
	}
	if insn.Op != OpConst4 {
		t.Fatalf("At(0).Op = %v, want OpConst4", insn.Op)
	}
	insn1, err := c.At(1)
	if err != nil {
		t.Fatalf("At(1): %v", err)
	}
	if insn1.Op != OpAddInt2Addr {
		t.Fatalf("At(1).Op = %v, want OpAddInt2Addr", insn1.Op)
	}
	if _, err := c.At(2); err != nil {
		t.Fatalf("At(2): %v", err)
	}
	if got := c.CodeSize(); got != 3 {
		t.Fatalf("CodeSize() = %d, want 3", got)
	}
}

func TestCursorRejectsNonBoundaryPC(t *testing.T) {
	c := NewCursor([]Instruction{
		{Op: OpConst, A: 0, H: 100}, // width 2
		{Op: OpReturn, A: 0},
	})
	if _, err := c.At(1); err == nil {
		t.Fatalf("At(1) should fail: pc 1 is mid-instruction for a width-2 opcode")
	}
}

func TestPackedSwitchPayloadWidth(t *testing.T) {
	p := PackedSwitchPayload{FirstKey: 0, Targets: []int32{1, 2, 3}}
	if got := p.Width(); got != 10 {
		t.Fatalf("Width() = %d, want 10 (4 + 2*3)", got)
	}
}

func TestArrayDataPayloadWidth(t *testing.T) {
	p := ArrayDataPayload{ElementWidth: 1, Data: []byte{1, 2, 3}}
	if got := p.Width(); got != 6 {
		t.Fatalf("Width() = %d, want 6 (4 + ceil(3/2))", got)
	}
}
