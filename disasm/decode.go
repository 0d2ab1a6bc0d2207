package disasm

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/revtool/revtool/peimg"
)

// Disassemble performs the single linear sweep spec.md §4.2 describes over
// one executable section's bytes. A byte that fails to decode becomes an
// Undecoded(va, bytes[:1]) placeholder and the sweep advances by one byte;
// decoding never stops early.
func Disassemble(img *peimg.Image, sec peimg.Section) []Instruction {
	mode := 32
	if img.IsPE32Plus {
		mode = 64
	}

	body := img.Data[sec.FOffset : sec.FOffset+sec.FSize]
	baseVA := img.ImageBase + uint64(sec.VAddr)

	var out []Instruction
	off := 0
	for off < len(body) {
		va := baseVA + uint64(off)
		remaining := body[off:]

		inst, err := x86asm.Decode(remaining, mode)
		if err != nil || inst.Len == 0 {
			out = append(out, Instruction{
				VA:        va,
				Length:    1,
				Mnemonic:  "(bad)",
				Raw:       append([]byte(nil), remaining[:1]...),
				Undecoded: true,
			})
			off++
			continue
		}

		length := inst.Len
		raw := append([]byte(nil), remaining[:length]...)
		operands := decodeOperands(inst, va, uint64(length))

		out = append(out, Instruction{
			VA:       va,
			Length:   uint8(length),
			Mnemonic: inst.Op.String(),
			Operands: operands,
			Raw:      raw,
			inst:     inst,
		})
		off += length
	}
	return out
}

// decodeOperands converts x86asm's Args into spec.md's operand sum type,
// resolving RIP-relative memory operands and relative branch/call targets
// to absolute VAs at decode time.
func decodeOperands(inst x86asm.Inst, va, length uint64) []Operand {
	var ops []Operand
	for _, a := range inst.Args {
		if a == nil {
			break
		}
		switch v := a.(type) {
		case x86asm.Reg:
			ops = append(ops, Operand{Kind: OperandReg, Reg: v.String()})
		case x86asm.Imm:
			ops = append(ops, Operand{Kind: OperandImm, Imm: int64(v)})
		case x86asm.Rel:
			target := va + length + uint64(int64(v))
			ops = append(ops, Operand{
				Kind: OperandRipRel,
				Rip:  RipRelOperand{TargetVA: target, Disp32: int32(v), IsDataAccess: false},
			})
		case x86asm.Mem:
			if v.Base == x86asm.RIP {
				isData := inst.Op != x86asm.CALL && inst.Op != x86asm.JMP
				target := va + length + uint64(v.Disp)
				ops = append(ops, Operand{
					Kind: OperandRipRel,
					Rip:  RipRelOperand{TargetVA: target, Disp32: int32(v.Disp), IsDataAccess: isData},
				})
				continue
			}
			ops = append(ops, Operand{
				Kind: OperandMem,
				Mem: MemOperand{
					Base:  regString(v.Base),
					Index: regString(v.Index),
					Scale: v.Scale,
					Disp:  v.Disp,
					Seg:   regString(v.Segment),
					Bytes: uint8(inst.MemBytes),
				},
			})
		}
	}
	return ops
}

func regString(r x86asm.Reg) string {
	if r == 0 {
		return ""
	}
	return r.String()
}

// IsRipRelativeCallOrJump reports whether inst is one of the two
// control-flow RIP-relative forms spec.md §4.2 singles out: FF /2 (call
// [rip+d]) or FF /4 (jmp [rip+d]).
func IsRipRelativeCallOrJump(inst Instruction) bool {
	op := inst.Op()
	if op != x86asm.CALL && op != x86asm.JMP {
		return false
	}
	for _, a := range inst.inst.Args {
		if m, ok := a.(x86asm.Mem); ok && m.Base == x86asm.RIP {
			return true
		}
	}
	return false
}
