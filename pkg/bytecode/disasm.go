package bytecode

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembler
// ---------------------------------------------------------------------------

// upvalueCounter is implemented by function objects so the disassembler can
// skip OpClosure's trailing upvalue descriptor pairs without depending on
// the vm package.
type upvalueCounter interface {
	UpvalueCount() int
}

// DisassembleChunk returns a human-readable listing of the whole chunk with
// a name header.
func DisassembleChunk(c *Chunk, name string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "== %s ==\n", name)

	for offset := 0; offset < len(c.Code); {
		line, length := DisassembleInstruction(c, offset)
		sb.WriteString(line)
		sb.WriteByte('\n')
		offset += length
	}

	return sb.String()
}

// DisassembleInstruction formats a single instruction at the given offset.
// Returns the formatted line and the instruction length in bytes.
func DisassembleInstruction(c *Chunk, offset int) (string, int) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%04d ", offset)

	if offset > 0 && c.Line(offset) == c.Line(offset-1) {
		sb.WriteString("   | ")
	} else {
		fmt.Fprintf(&sb, "%4d ", c.Line(offset))
	}

	op := Opcode(c.Code[offset])
	info := GetOpcodeInfo(op)

	switch op {
	case OpConstant, OpGetGlobal, OpDefineGlobal, OpSetGlobal,
		OpGetProperty, OpSetProperty, OpGetSuper, OpClass, OpMethod:
		idx := c.Code[offset+1]
		fmt.Fprintf(&sb, "%-16s %4d '%s'", info.Name, idx, constantString(c, int(idx)))
		return sb.String(), 2

	case OpGetLocal, OpSetLocal, OpGetUpvalue, OpSetUpvalue, OpCall:
		fmt.Fprintf(&sb, "%-16s %4d", info.Name, c.Code[offset+1])
		return sb.String(), 2

	case OpJump, OpJumpIfFalse:
		jump := int(c.ReadUint16(offset + 1))
		fmt.Fprintf(&sb, "%-16s %4d -> %d", info.Name, offset, offset+3+jump)
		return sb.String(), 3

	case OpLoop:
		jump := int(c.ReadUint16(offset + 1))
		fmt.Fprintf(&sb, "%-16s %4d -> %d", info.Name, offset, offset+3-jump)
		return sb.String(), 3

	case OpInvoke, OpSuperInvoke:
		idx := c.Code[offset+1]
		argc := c.Code[offset+2]
		fmt.Fprintf(&sb, "%-16s (%d args) %4d '%s'", info.Name, argc, idx, constantString(c, int(idx)))
		return sb.String(), 3

	case OpClosure:
		idx := c.Code[offset+1]
		fmt.Fprintf(&sb, "%-16s %4d %s", info.Name, idx, constantString(c, int(idx)))
		length := 2

		// Trailing (isLocal, index) pairs, one per upvalue
		if fn, ok := constantObj(c, int(idx)).(upvalueCounter); ok {
			for i := 0; i < fn.UpvalueCount(); i++ {
				isLocal := c.Code[offset+length]
				index := c.Code[offset+length+1]
				kind := "upvalue"
				if isLocal == 1 {
					kind = "local"
				}
				fmt.Fprintf(&sb, "\n%04d      |                     %s %d", offset+length, kind, index)
				length += 2
			}
		}
		return sb.String(), length

	default:
		sb.WriteString(info.Name)
		return sb.String(), 1 + maxInt(info.OperandLen, 0)
	}
}

// constantString renders a constant pool entry for listings.
func constantString(c *Chunk, idx int) string {
	if idx < 0 || idx >= len(c.Constants) {
		return fmt.Sprintf("<bad constant %d>", idx)
	}
	return c.Constants[idx].String()
}

// constantObj returns the object behind a constant, or nil.
func constantObj(c *Chunk, idx int) Obj {
	if idx < 0 || idx >= len(c.Constants) {
		return nil
	}
	v := c.Constants[idx]
	if !v.IsObj() {
		return nil
	}
	return v.AsObj()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
