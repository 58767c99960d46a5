package chunk

import "fmt"

// Disassemble prints a human-readable trace of the chunk's
// instruction stream, in the teacher's fmt.Printf disassembler style
// (internal/chunk/chunk.go's Disassemble/disassembleInstruction).
func (c *Chunk) Disassemble(name string) {
	fmt.Printf("== %s ==\n", name)
	for offset := 0; offset < len(c.Code); {
		offset = c.disassembleInstruction(offset)
	}
}

// DisassembleAll recurses into every sub-chunk after printing this
// one's instructions.
func (c *Chunk) DisassembleAll(name string) {
	c.Disassemble(name)
	for _, sub := range c.SubChunks {
		fmt.Println()
		c.DisassembleAllSub(sub)
	}
}

func (c *Chunk) DisassembleAllSub(sub *Chunk) {
	sub.DisassembleAll(sub.Name)
}

func (c *Chunk) disassembleInstruction(offset int) int {
	fmt.Printf("%04d ", offset)
	if offset > 0 && c.Lines[offset] == c.Lines[offset-1] {
		fmt.Printf("   | ")
	} else {
		fmt.Printf("%4d ", c.Lines[offset])
	}

	op := OpCode(c.Code[offset])
	switch op {
	case OpConstant, OpLoadGlobal, OpStoreGlobal, OpDefineGlobal,
		OpPropertyGet, OpPropertySet, OpClass, OpGetSuper:
		return c.byteConstantInstruction(op.String(), offset)
	case OpMethod:
		return c.methodInstruction(offset)
	case OpInvoke, OpSuperInvoke:
		return c.invokeInstruction(op.String(), offset)
	case OpLoadLocal, OpStoreLocal, OpLoadUpvalue, OpStoreUpvalue, OpCall, OpTailCall:
		return c.byteInstruction(op.String(), offset)
	case OpJump, OpJumpIfFalse, OpJumpIfTrue, OpLoop, OpMakeArray, OpMakeTuple, OpMakeObject,
		OpTryBegin, OpIterNext, OpSpawnThread:
		return c.shortInstruction(op.String(), offset)
	case OpClosure:
		return c.closureInstruction(offset)
	default:
		return c.simpleInstruction(op.String(), offset)
	}
}

func (c *Chunk) simpleInstruction(name string, offset int) int {
	fmt.Println(name)
	return offset + 1
}

func (c *Chunk) byteInstruction(name string, offset int) int {
	slot := c.Code[offset+1]
	fmt.Printf("%-18s %4d\n", name, slot)
	return offset + 2
}

func (c *Chunk) shortInstruction(name string, offset int) int {
	v := c.ReadUint16(offset + 1)
	fmt.Printf("%-18s %4d\n", name, v)
	return offset + 3
}

func (c *Chunk) byteConstantInstruction(name string, offset int) int {
	constant := c.Code[offset+1]
	fmt.Printf("%-18s %4d '%s'\n", name, constant, c.Constants[constant])
	return offset + 2
}

// methodInstruction decodes OP_METHOD's two operands: a name constant
// and a packed flags byte (MethodFlags), matching the "Method(name_k,
// kind)" shape spec §4.2 describes.
func (c *Chunk) methodInstruction(offset int) int {
	constant := c.Code[offset+1]
	flags := MethodFlags(c.Code[offset+2])
	fmt.Printf("%-18s %4d '%s' (%s)\n", "OP_METHOD", constant, c.Constants[constant], flags)
	return offset + 3
}

func (c *Chunk) invokeInstruction(name string, offset int) int {
	constant := c.Code[offset+1]
	argc := c.Code[offset+2]
	fmt.Printf("%-18s (%d args) %4d '%s'\n", name, argc, constant, c.Constants[constant])
	return offset + 3
}

func (c *Chunk) closureInstruction(offset int) int {
	constant := c.Code[offset+1]
	count := c.Code[offset+2]
	fmt.Printf("%-18s %4d '%s'\n", "OP_CLOSURE", constant, c.Constants[constant])
	offset += 3
	for i := byte(0); i < count; i++ {
		isLocal := c.Code[offset] != 0
		index := c.Code[offset+1]
		kind := "upvalue"
		if isLocal {
			kind = "local"
		}
		fmt.Printf("%04d      |                     %s %d\n", offset, kind, index)
		offset += 2
	}
	return offset
}
