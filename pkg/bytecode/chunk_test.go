package bytecode

import "testing"

func TestChunkWriteKeepsLineMapParallel(t *testing.T) {
	c := NewChunk()
	c.WriteOp(OpConstant, 1)
	c.Write(0, 1)
	c.WriteOp(OpReturn, 2)

	if len(c.Code) != len(c.Lines) {
		t.Fatalf("len(Code) = %d, len(Lines) = %d, want equal", len(c.Code), len(c.Lines))
	}
	if c.Line(0) != 1 || c.Line(1) != 1 || c.Line(2) != 2 {
		t.Errorf("lines = %v, want [1 1 2]", c.Lines)
	}
}

func TestChunkAddConstant(t *testing.T) {
	c := NewChunk()

	idx0 := c.AddConstant(NumberValue(1.2))
	if idx0 != 0 {
		t.Errorf("first constant index = %d, want 0", idx0)
	}

	idx1 := c.AddConstant(NumberValue(3.4))
	if idx1 != 1 {
		t.Errorf("second constant index = %d, want 1", idx1)
	}

	if got := c.Constants[0].AsNumber(); got != 1.2 {
		t.Errorf("Constants[0] = %v, want 1.2", got)
	}
}

func TestChunkUint16Operands(t *testing.T) {
	c := NewChunk()
	c.WriteOp(OpJump, 1)
	c.Write(0xFF, 1)
	c.Write(0xFF, 1)

	c.PatchUint16(1, 0x1234)
	if got := c.ReadUint16(1); got != 0x1234 {
		t.Errorf("ReadUint16 = %#x, want 0x1234", got)
	}
	// Big-endian byte order
	if c.Code[1] != 0x12 || c.Code[2] != 0x34 {
		t.Errorf("operand bytes = %#x %#x, want 0x12 0x34", c.Code[1], c.Code[2])
	}
}

func TestLineOutOfRange(t *testing.T) {
	c := NewChunk()
	if got := c.Line(5); got != 0 {
		t.Errorf("Line(5) on empty chunk = %d, want 0", got)
	}
}
