package asmx

import (
	"encoding/binary"
	"strconv"
)

// regBits maps a register name to its 3-bit encoding plus whether it
// needs a REX extension bit (r8-r15 / r8d-r15d).
func regBits(reg string) (bits uint8, ext bool) {
	order := []string{"AX", "CX", "DX", "BX", "SP", "BP", "SI", "DI"}
	for i, name := range order {
		if reg == "R"+name || reg == "E"+name || reg == name {
			return uint8(i), false
		}
	}
	for i := 8; i <= 15; i++ {
		n := strconv.Itoa(i)
		if reg == "R"+n || reg == "R"+n+"D" {
			return uint8(i - 8), true
		}
	}
	return 0, false
}

func rex(w bool, r, x, b bool) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

func modrm(mod, reg, rm uint8) byte {
	return (mod << 6) | ((reg & 7) << 3) | (rm & 7)
}

func condCode(mnemonic string) (uint8, bool) {
	codes := map[string]uint8{
		"JO": 0x0, "JNO": 0x1, "JB": 0x2, "JAE": 0x3, "JE": 0x4, "JNE": 0x5,
		"JBE": 0x6, "JA": 0x7, "JS": 0x8, "JNS": 0x9, "JP": 0xA, "JNP": 0xB,
		"JL": 0xC, "JGE": 0xD, "JLE": 0xE, "JG": 0xF,
	}
	c, ok := codes[mnemonic]
	return c, ok
}

// sizeOf returns the byte size of a line assuming the given branch-size
// assumption ("short" or "near"); resolution of which assumption is
// correct happens in the fixed-point loop in Assemble.
func sizeOf(line Line, assumption string) (int, *AsmError) {
	switch line.Mnemonic {
	case "":
		return 0, nil
	case "NOP":
		return 1, nil
	case "RET":
		if len(line.Operands) == 0 {
			return 1, nil
		}
		return 3, nil
	case "PUSH", "POP":
		reg := line.Operands[0].Reg
		_, ext := regBits(reg)
		size := 1
		if ext {
			size++
		}
		return size, nil
	case "INC", "DEC":
		_, ext := regBits(line.Operands[0].Reg)
		size := 2
		if ext {
			size++
		}
		return size, nil
	case "XOR", "MOV", "ADD", "SUB", "CMP", "AND", "OR", "TEST":
		return sizeOfALU(line)
	case "LEA":
		return sizeOfLea(line)
	case "CALL":
		return 5, nil
	case "JMP":
		if assumption == "near" {
			return 5, nil
		}
		return 2, nil
	default:
		if _, ok := condCode(line.Mnemonic); ok {
			if assumption == "near" {
				return 6, nil
			}
			return 2, nil
		}
	}
	return 0, errAt(line.SourceLine, 1, "unsupported mnemonic %q", line.Mnemonic)
}

func sizeOfALU(line Line) (int, *AsmError) {
	if len(line.Operands) != 2 {
		return 0, errAt(line.SourceLine, 1, "%s requires two operands", line.Mnemonic)
	}
	dst, src := line.Operands[0], line.Operands[1]
	if dst.Kind != OpKindReg {
		return 0, errAt(line.SourceLine, 1, "%s destination must be a register", line.Mnemonic)
	}
	_, dstExt := regBits(dst.Reg)
	is64 := regSize(dst.Reg) == 8

	switch src.Kind {
	case OpKindReg:
		_, srcExt := regBits(src.Reg)
		prefix := 0
		if dstExt || srcExt || is64 {
			prefix = 1
		}
		return prefix + 2, nil // opcode + modrm
	case OpKindImm, OpKindLabel:
		if line.Mnemonic == "MOV" {
			if is64 {
				return 0, errAt(line.SourceLine, 1, "64-bit immediate mov is not supported")
			}
			prefix := 0
			if dstExt {
				prefix = 1
			}
			return prefix + 1 + 4, nil // B8+rd id : opcode+imm32, no modrm
		}
		prefix := 0
		if dstExt || is64 {
			prefix = 1
		}
		return prefix + 1 + 1 + 4, nil // opcode + modrm + imm32
	default:
		return 0, errAt(line.SourceLine, 1, "unsupported %s operand", line.Mnemonic)
	}
}

func sizeOfLea(line Line) (int, *AsmError) {
	if len(line.Operands) != 2 || line.Operands[1].Kind != OpKindRipLabel {
		return 0, errAt(line.SourceLine, 1, "lea only supports [rip+label] in this assembler")
	}
	return 7, nil // REX.W + 8D + modrm(00 reg 101) + disp32
}

// emit writes the encoded bytes for line into buf, given resolved label
// addresses and the final size assumption for branch instructions.
func emit(line Line, addr uint64, size int, assumption string, labels map[string]uint64) ([]byte, *AsmError) {
	switch line.Mnemonic {
	case "":
		return nil, nil
	case "NOP":
		return []byte{0x90}, nil
	case "RET":
		if len(line.Operands) == 0 {
			return []byte{0xC3}, nil
		}
		buf := []byte{0xC2, 0, 0}
		binary.LittleEndian.PutUint16(buf[1:], uint16(line.Operands[0].Imm))
		return buf, nil
	case "PUSH", "POP":
		bits, ext := regBits(line.Operands[0].Reg)
		base := byte(0x50)
		if line.Mnemonic == "POP" {
			base = 0x58
		}
		var out []byte
		if ext {
			out = append(out, rex(false, false, false, true))
		}
		out = append(out, base+bits)
		return out, nil
	case "INC", "DEC":
		bits, ext := regBits(line.Operands[0].Reg)
		reg := uint8(0)
		if line.Mnemonic == "DEC" {
			reg = 1
		}
		var out []byte
		if ext {
			out = append(out, rex(false, false, false, true))
		}
		out = append(out, 0xFF, modrm(3, reg, bits))
		return out, nil
	case "XOR", "MOV", "ADD", "SUB", "CMP", "AND", "OR", "TEST":
		return emitALU(line, addr, size, labels)
	case "LEA":
		return emitLea(line, addr, size, labels)
	case "CALL":
		target, err := resolveLabelOperand(line.Operands[0], labels, line.SourceLine)
		if err != nil {
			return nil, err
		}
		disp := int32(int64(target) - int64(addr+5))
		buf := make([]byte, 5)
		buf[0] = 0xE8
		binary.LittleEndian.PutUint32(buf[1:], uint32(disp))
		return buf, nil
	case "JMP":
		return emitJump(line, addr, size, labels, 0xEB, 0xE9, nil)
	default:
		if code, ok := condCode(line.Mnemonic); ok {
			return emitJump(line, addr, size, labels, 0x70+code, 0, []byte{0x0F, 0x80 + code})
		}
	}
	return nil, errAt(line.SourceLine, 1, "unsupported mnemonic %q", line.Mnemonic)
}

func resolveLabelOperand(op Operand, labels map[string]uint64, lineNo int) (uint64, *AsmError) {
	switch op.Kind {
	case OpKindLabel:
		va, ok := labels[op.Label]
		if !ok {
			return 0, errAt(lineNo, 1, "undefined label %q", op.Label)
		}
		return va, nil
	case OpKindImm:
		return uint64(op.Imm), nil
	default:
		return 0, errAt(lineNo, 1, "expected a label or immediate target")
	}
}

func emitJump(line Line, addr uint64, size int, labels map[string]uint64, shortOp byte, nearOp byte, nearPrefix []byte) ([]byte, *AsmError) {
	target, err := resolveLabelOperand(line.Operands[0], labels, line.SourceLine)
	if err != nil {
		return nil, err
	}
	if size == 2 {
		disp := int64(target) - int64(addr+2)
		if disp < -128 || disp > 127 {
			return nil, errAt(line.SourceLine, 1, "short jump out of range to %q", line.Operands[0].Label)
		}
		return []byte{shortOp, byte(int8(disp))}, nil
	}
	disp := int32(int64(target) - (int64(addr) + int64(size)))
	var buf []byte
	if len(nearPrefix) > 0 {
		buf = append(buf, nearPrefix...)
	} else {
		buf = append(buf, nearOp)
	}
	dispBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(dispBytes, uint32(disp))
	buf = append(buf, dispBytes...)
	return buf, nil
}

func emitALU(line Line, addr uint64, size int, labels map[string]uint64) ([]byte, *AsmError) {
	dst, src := line.Operands[0], line.Operands[1]
	dstBits, dstExt := regBits(dst.Reg)
	is64 := regSize(dst.Reg) == 8

	if src.Kind == OpKindReg {
		srcBits, srcExt := regBits(src.Reg)
		var out []byte
		if dstExt || srcExt || is64 {
			out = append(out, rex(is64, srcExt, false, dstExt))
		}
		op := aluRegOpcode(line.Mnemonic)
		out = append(out, op, modrm(3, srcBits, dstBits))
		return out, nil
	}

	// Immediate or resolved-label source.
	var imm int64
	if src.Kind == OpKindLabel {
		va, err := resolveLabelOperand(src, labels, line.SourceLine)
		if err != nil {
			return nil, err
		}
		imm = int64(va)
	} else {
		imm = src.Imm
	}

	var out []byte
	if line.Mnemonic == "MOV" {
		if is64 {
			return nil, errAt(line.SourceLine, 1, "64-bit immediate mov is not supported")
		}
		if dstExt {
			out = append(out, rex(false, false, false, true))
		}
		out = append(out, 0xB8+dstBits)
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(imm))
		out = append(out, buf...)
		return out, nil
	}

	if dstExt || is64 {
		out = append(out, rex(is64, false, false, dstExt))
	}
	reg := aluImmReg(line.Mnemonic)
	opcode := byte(0x81)
	if line.Mnemonic == "TEST" {
		opcode, reg = 0xF7, 0 // TEST r/m, imm32 is F7 /0
	}
	out = append(out, opcode, modrm(3, reg, dstBits))
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(imm))
	out = append(out, buf...)
	return out, nil
}

func aluRegOpcode(mnemonic string) byte {
	switch mnemonic {
	case "ADD":
		return 0x01
	case "OR":
		return 0x09
	case "AND":
		return 0x21
	case "SUB":
		return 0x29
	case "XOR":
		return 0x31
	case "CMP":
		return 0x39
	case "TEST":
		return 0x85
	case "MOV":
		return 0x89
	default:
		return 0x89
	}
}

func aluImmReg(mnemonic string) uint8 {
	switch mnemonic {
	case "ADD":
		return 0
	case "OR":
		return 1
	case "AND":
		return 4
	case "SUB":
		return 5
	case "XOR":
		return 6
	case "CMP":
		return 7
	default:
		return 0
	}
}

func emitLea(line Line, addr uint64, size int, labels map[string]uint64) ([]byte, *AsmError) {
	dstBits, dstExt := regBits(line.Operands[0].Reg)
	va, err := resolveLabelOperand(Operand{Kind: OpKindLabel, Label: line.Operands[1].Label}, labels, line.SourceLine)
	if err != nil {
		return nil, err
	}
	disp := int32(int64(va) - int64(addr+7))
	out := []byte{rex(true, dstExt, false, false), 0x8D, modrm(0, dstBits, 5)}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(disp))
	out = append(out, buf...)
	return out, nil
}
