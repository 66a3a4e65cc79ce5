package bytecode

import (
	"strings"
	"testing"
)

func TestDisassembleSimpleChunk(t *testing.T) {
	c := NewChunk()
	idx := c.AddConstant(NumberValue(1.2))
	c.WriteOp(OpConstant, 123)
	c.Write(byte(idx), 123)
	c.WriteOp(OpReturn, 123)

	out := DisassembleChunk(c, "test")

	if !strings.Contains(out, "== test ==") {
		t.Errorf("missing header:\n%s", out)
	}
	if !strings.Contains(out, "CONSTANT") {
		t.Errorf("missing CONSTANT:\n%s", out)
	}
	if !strings.Contains(out, "'1.2'") {
		t.Errorf("missing constant value:\n%s", out)
	}
	if !strings.Contains(out, "RETURN") {
		t.Errorf("missing RETURN:\n%s", out)
	}
	// Repeated source line renders as a pipe
	if !strings.Contains(out, "   | ") {
		t.Errorf("missing same-line marker:\n%s", out)
	}
	if !strings.Contains(out, " 123 ") {
		t.Errorf("missing line number:\n%s", out)
	}
}

func TestDisassembleJumpTargets(t *testing.T) {
	c := NewChunk()
	c.WriteOp(OpJumpIfFalse, 1)
	c.Write(0, 1)
	c.Write(4, 1) // lands past the POPs below
	c.WriteOp(OpPop, 1)
	c.WriteOp(OpPop, 1)
	c.WriteOp(OpPop, 1)
	c.WriteOp(OpPop, 1)
	c.WriteOp(OpReturn, 1)

	line, length := DisassembleInstruction(c, 0)
	if length != 3 {
		t.Errorf("JUMP_IF_FALSE length = %d, want 3", length)
	}
	if !strings.Contains(line, "JUMP_IF_FALSE") || !strings.Contains(line, "-> 7") {
		t.Errorf("jump line = %q, want target 7", line)
	}
}

func TestDisassembleLoopTarget(t *testing.T) {
	c := NewChunk()
	c.WriteOp(OpNil, 1)
	c.WriteOp(OpLoop, 2)
	c.Write(0, 2)
	c.Write(4, 2)

	line, _ := DisassembleInstruction(c, 1)
	if !strings.Contains(line, "LOOP") || !strings.Contains(line, "-> 0") {
		t.Errorf("loop line = %q, want backward target 0", line)
	}
}

func TestDisassembleInvoke(t *testing.T) {
	c := NewChunk()
	idx := c.AddConstant(ObjValue(&fakeObj{name: "method"}))
	c.WriteOp(OpInvoke, 1)
	c.Write(byte(idx), 1)
	c.Write(2, 1)

	line, length := DisassembleInstruction(c, 0)
	if length != 3 {
		t.Errorf("INVOKE length = %d, want 3", length)
	}
	if !strings.Contains(line, "(2 args)") || !strings.Contains(line, "'method'") {
		t.Errorf("invoke line = %q", line)
	}
}
