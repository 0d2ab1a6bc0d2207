// Package disasm lifts raw section bytes into a typed instruction stream
// using golang.org/x/arch/x86/x86asm as the underlying decoder, attaching
// RIP-relative targets the way spec.md §4.2 requires.
package disasm

import "golang.org/x/arch/x86/x86asm"

// OperandKind tags the small sum type spec.md §3 defines for Instruction
// operands.
type OperandKind int

const (
	OperandReg OperandKind = iota
	OperandImm
	OperandMem
	OperandRipRel
	OperandLabel
)

// MemOperand is a non-RIP-relative memory operand: [base + index*scale + disp].
type MemOperand struct {
	Base  string
	Index string
	Scale uint8
	Disp  int64
	Seg   string
	Bytes uint8 // access width in bytes, 0 if the decoder couldn't tell
}

// RipRelOperand is a [rip+disp32] operand, already resolved to an absolute
// target VA at decode time per spec.md §4.2.
type RipRelOperand struct {
	TargetVA     uint64
	Disp32       int32
	IsDataAccess bool
}

// Operand is the tagged union spec.md §3 specifies.
type Operand struct {
	Kind OperandKind

	Reg string // OperandReg
	Imm int64  // OperandImm
	Mem MemOperand
	Rip RipRelOperand
	Label string // OperandLabel — populated by later passes (C7/C9), never by the decoder
}

// Instruction is one decoded (or Undecoded) instruction, per spec.md §3.
// Invariant: instr.VA + uint64(instr.Length) is either the VA of the next
// element in the stream or exceeds the section end.
type Instruction struct {
	VA        uint64
	Length    uint8
	Mnemonic  string
	Operands  []Operand
	Raw       []byte
	Undecoded bool

	// inst is the underlying decode, kept for callers (junk filter, CFG
	// builder) that need library-level predicates (e.g. x86asm.Op
	// comparisons) without re-decoding.
	inst x86asm.Inst
}

// Op returns the underlying x86asm opcode, or x86asm.Op(0) for an
// Undecoded instruction.
func (i Instruction) Op() x86asm.Op { return i.inst.Op }

// NextVA is the address immediately following this instruction.
func (i Instruction) NextVA() uint64 { return i.VA + uint64(i.Length) }
