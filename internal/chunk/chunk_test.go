package chunk

import (
	"testing"

	"dryad/internal/value"
)

func TestWriteAndReadBack(t *testing.T) {
	c := New("main", "test.dryad")
	idx := c.AddConstant(value.NewNumber(42))
	c.WriteOp(OpConstant, 1)
	c.Write(byte(idx), 1)
	c.WriteOp(OpReturn, 1)

	if len(c.Code) != 3 {
		t.Fatalf("expected 3 bytes of code, got %d", len(c.Code))
	}
	if OpCode(c.Code[0]) != OpConstant {
		t.Fatalf("expected first op to be OP_CONSTANT, got %s", OpCode(c.Code[0]))
	}
	if c.Constants[c.Code[1]].AsNumber() != 42 {
		t.Fatalf("expected constant 42")
	}
}

func TestPatchUint16JumpTarget(t *testing.T) {
	c := New("main", "test.dryad")
	c.WriteOp(OpJumpIfFalse, 1)
	placeholder := c.WriteUint16(0xFFFF, 1)
	c.WriteOp(OpPop, 2)
	target := uint16(len(c.Code))
	c.PatchUint16(placeholder, target)

	if got := c.ReadUint16(placeholder); got != target {
		t.Fatalf("expected patched jump target %d, got %d", target, got)
	}
}

func TestAddSubChunkReturnsSequentialIndex(t *testing.T) {
	c := New("main", "test.dryad")
	a := c.AddSubChunk(New("fnA", "test.dryad"))
	b := c.AddSubChunk(New("fnB", "test.dryad"))
	if a != 0 || b != 1 {
		t.Fatalf("expected sub chunk indices 0,1, got %d,%d", a, b)
	}
	if len(c.SubChunks) != 2 {
		t.Fatalf("expected 2 sub chunks stored")
	}
}
