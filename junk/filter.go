// Package junk implements the instruction-stream cleanup pass spec.md §4.3
// calls the junk filter: it drops padding NOPs and adjacent canceling
// register pairs, and flags (without removing) xor-self zeroing idioms so
// the renderer can recognize them later.
package junk

import (
	"github.com/revtool/revtool/disasm"
)

// Kept mirrors one surviving instruction along with whatever the filter
// learned about it. ZeroingIdiom is true for a "xor r,r" style self-clear
// that the filter deliberately does not remove, per spec.md §9's explicit
// design note.
type Kept struct {
	Instruction  disasm.Instruction
	ZeroingIdiom bool
}

// Filter runs the single forward pass spec.md §4.3 describes over one
// contiguous instruction stream. It never reorders instructions and never
// looks past the slice it is given, so callers must invoke it per basic
// block once block boundaries are known, and on the raw per-function
// stream before that.
func Filter(stream []disasm.Instruction) []Kept {
	out := make([]Kept, 0, len(stream))
	i := 0
	for i < len(stream) {
		inst := stream[i]

		if isNop(inst) {
			i++
			continue
		}

		if i+1 < len(stream) && cancels(inst, stream[i+1]) {
			i += 2
			continue
		}

		out = append(out, Kept{Instruction: inst, ZeroingIdiom: isSelfZeroing(inst)})
		i++
	}
	return out
}

// isNop recognizes single- and multi-byte NOP encodings: the bare 0x90
// NOP, the two-byte 66 90 xchg-encoded form, and the NOP /0 multi-byte
// forms (0F 1F ...) including the ones with an explicit memory operand
// such as "nop dword ptr [eax]" or "nop word ptr cs:[eax+eax]".
func isNop(inst disasm.Instruction) bool {
	return inst.Mnemonic == "NOP"
}

// cancels reports whether a and b form one of the adjacent canceling
// pairs spec.md §4.3 names: inc r / dec r, dec r / inc r, or push r / pop
// r operating on the same register.
func cancels(a, b disasm.Instruction) bool {
	ra, aOK := soleRegOperand(a)
	rb, bOK := soleRegOperand(b)
	if !aOK || !bOK || ra != rb {
		return false
	}
	switch {
	case a.Mnemonic == "INC" && b.Mnemonic == "DEC":
		return true
	case a.Mnemonic == "DEC" && b.Mnemonic == "INC":
		return true
	case a.Mnemonic == "PUSH" && b.Mnemonic == "POP":
		return true
	}
	return false
}

func soleRegOperand(inst disasm.Instruction) (string, bool) {
	if len(inst.Operands) != 1 || inst.Operands[0].Kind != disasm.OperandReg {
		return "", false
	}
	return inst.Operands[0].Reg, true
}

// isSelfZeroing reports "xor r, r" — both operands are registers and name
// the same register.
func isSelfZeroing(inst disasm.Instruction) bool {
	if inst.Mnemonic != "XOR" || len(inst.Operands) != 2 {
		return false
	}
	a, b := inst.Operands[0], inst.Operands[1]
	return a.Kind == disasm.OperandReg && b.Kind == disasm.OperandReg && a.Reg == b.Reg
}
