package typeinfer

import (
	"fmt"

	"github.com/revtool/revtool/cfgbuild"
	"github.com/revtool/revtool/disasm"
	"github.com/revtool/revtool/funcdisco"
	"github.com/revtool/revtool/peimg"
)

type slotKey struct {
	fromRbp bool
	offset  int32
}

// Analyze runs the full C6 pass over one function: stack-slot recovery,
// type-hint derivation, calling-convention detection, and API call
// recognition.
func Analyze(fn *funcdisco.Function, g *cfgbuild.Graph, img *peimg.Image) *FunctionInfo {
	info := &FunctionInfo{Returns: TypeHint{Kind: TypeUnknown}}

	slots := make(map[slotKey]*Var)
	order := make([]slotKey, 0)
	signedHint := make(map[slotKey]bool)

	for idx, in := range fn.Instructions {
		for _, op := range in.Operands {
			if op.Kind != disasm.OperandMem {
				continue
			}
			key, isFrame := frameSlot(op.Mem)
			if !isFrame {
				continue
			}
			v, ok := slots[key]
			if !ok {
				v = &Var{Storage: storageFor(key), Size: int(op.Mem.Bytes)}
				slots[key] = v
				order = append(order, key)
			}
			applyWidth(v, op.Mem.Bytes)
			refineTypeHint(v, in, op)
			applyStringHint(v, fn.Instructions, idx, in, img)

			if in.Mnemonic == "CMP" {
				if signed, ok := compareSignedness(fn.Instructions, idx); ok {
					signedHint[key] = signed
				}
			}
		}
	}

	for _, key := range order {
		v := slots[key]
		if isParameterSlot(key) {
			v.Role = RoleParameter
			v.Name = fmt.Sprintf("param_%d", paramIndex(key))
		} else {
			v.Role = RoleLocal
			v.Name = fmt.Sprintf("local_%x", uint32(-key.offset))
		}
		if v.TypeHint.Kind == TypeUnknown {
			v.TypeHint = widthToType(v.Size, signedHint[key])
		}
		if v.Role == RoleParameter {
			info.Parameters = append(info.Parameters, *v)
		} else {
			info.Locals = append(info.Locals, *v)
		}
	}

	info.Convention = detectConvention(fn)
	info.Calls = collectCalls(fn, img)

	return info
}

// frameSlot reports whether mem is a constant-displacement access off
// rbp/ebp or rsp/esp, per spec.md §4.6, and returns its dedup key.
func frameSlot(mem disasm.MemOperand) (slotKey, bool) {
	if mem.Index != "" {
		return slotKey{}, false
	}
	switch mem.Base {
	case "RBP", "EBP":
		return slotKey{fromRbp: true, offset: int32(mem.Disp)}, true
	case "RSP", "ESP":
		return slotKey{fromRbp: false, offset: int32(mem.Disp)}, true
	default:
		return slotKey{}, false
	}
}

func storageFor(key slotKey) Storage {
	if key.fromRbp {
		return Storage{Kind: StorageStack, FromRbp: true, RbpOff: key.offset}
	}
	return Storage{Kind: StorageStack, FromRbp: false, RspOff: key.offset}
}

// isParameterSlot applies spec.md §4.6's rule: positive from rbp+16 (the
// classic frame-pointer parameter area, past the saved rbp and return
// address) is a parameter; everything else is a local.
func isParameterSlot(key slotKey) bool {
	return key.fromRbp && key.offset >= 16
}

func paramIndex(key slotKey) int {
	return int((key.offset-16)/8) + 1
}

func applyWidth(v *Var, bytes uint8) {
	if int(bytes) > v.Size {
		v.Size = int(bytes)
	}
}

func widthToType(size int, signed bool) TypeHint {
	kind := TypeUnknown
	switch size {
	case 1:
		kind = TypeU8
		if signed {
			kind = TypeI8
		}
	case 2:
		kind = TypeU16
		if signed {
			kind = TypeI16
		}
	case 4:
		kind = TypeU32
		if signed {
			kind = TypeI32
		}
	case 8:
		kind = TypeU64
		if signed {
			kind = TypeI64
		}
	}
	return TypeHint{Kind: kind}
}

// refineTypeHint applies spec.md §4.6's heuristics: pointer from lea,
// float from xmm register operands.
func refineTypeHint(v *Var, in disasm.Instruction, op disasm.Operand) {
	if in.Mnemonic == "LEA" {
		v.TypeHint = TypeHint{Kind: TypePtr, Of: &TypeHint{Kind: TypeUnknown}}
		return
	}
	for _, other := range in.Operands {
		if other.Kind == disasm.OperandReg && isXMM(other.Reg) {
			if v.Size == 4 {
				v.TypeHint = TypeHint{Kind: TypeF32}
			} else if v.Size == 8 {
				v.TypeHint = TypeHint{Kind: TypeF64}
			}
		}
	}
}

// applyStringHint covers spec.md §4.6's string case: a compiler loads a
// string literal's address with lea reg, [rip+disp] and then stores that
// register into a stack slot a couple instructions later, since a single
// x86-64 instruction can't carry both a frame-relative and a RIP-relative
// memory operand. Resolving the lea's target through C1 is what tells
// apart a plain pointer slot from one that specifically holds string data.
func applyStringHint(v *Var, instrs []disasm.Instruction, idx int, in disasm.Instruction, img *peimg.Image) {
	if in.Mnemonic != "MOV" {
		return
	}
	var reg string
	for _, o := range in.Operands {
		if o.Kind == disasm.OperandReg {
			reg = o.Reg
		}
	}
	if reg == "" {
		return
	}
	va, ok := precedingLeaTarget(instrs, idx, reg)
	if !ok {
		return
	}
	if resolved := peimg.Resolve(img, va); resolved.Kind == peimg.ResolvedString {
		v.TypeHint = TypeHint{Kind: TypeString}
	}
}

// precedingLeaTarget looks backward from idx for the lea that last loaded
// reg from a RIP-relative address, within a small window; the window
// mirrors compareSignedness's since both look for the one nearby
// instruction that feeds the one being examined.
func precedingLeaTarget(instrs []disasm.Instruction, idx int, reg string) (uint64, bool) {
	for i := idx - 1; i >= 0 && i >= idx-4; i-- {
		cand := instrs[i]
		if cand.Mnemonic != "LEA" || len(cand.Operands) != 2 {
			continue
		}
		dst, src := cand.Operands[0], cand.Operands[1]
		if dst.Kind == disasm.OperandReg && dst.Reg == reg && src.Kind == disasm.OperandRipRel {
			return src.Rip.TargetVA, true
		}
	}
	return 0, false
}

func isXMM(reg string) bool {
	if len(reg) < 4 {
		return false
	}
	return reg[:3] == "XMM"
}

// compareSignedness looks forward from a CMP instruction for the
// conditional branch that consumes its flags, per spec.md §4.6: a
// signed predicate (JG/JL/...) implies the compared slot is signed, an
// unsigned predicate (JA/JB/...) implies it is unsigned. The window is
// small because the branch immediately following a compare is always
// the one testing it in the straight-line code this pass sees.
func compareSignedness(instrs []disasm.Instruction, cmpIdx int) (signed bool, ok bool) {
	for i := cmpIdx + 1; i < len(instrs) && i <= cmpIdx+3; i++ {
		if signed, ok := signednessOfJcc(instrs[i].Mnemonic); ok {
			return signed, true
		}
	}
	return false, false
}

func signednessOfJcc(mnemonic string) (signed bool, ok bool) {
	switch mnemonic {
	case "JG", "JL", "JGE", "JLE", "JNGE", "JNLE", "JNG", "JNL":
		return true, true
	case "JA", "JB", "JAE", "JBE", "JNA", "JNB", "JNAE", "JNBE":
		return false, true
	default:
		return false, false
	}
}

// detectConvention applies spec.md §4.6's rules for who cleans the stack
// and which registers carry the first arguments.
func detectConvention(fn *funcdisco.Function) CallingConvention {
	usesWin64Regs := false
	usesSysVRegs := false
	for _, in := range fn.Instructions {
		if in.Mnemonic == "RET" && len(in.Operands) == 1 && in.Operands[0].Kind == disasm.OperandImm {
			return ConventionStdcall32
		}
		for _, op := range in.Operands {
			if op.Kind != disasm.OperandReg {
				continue
			}
			switch op.Reg {
			case "RCX", "RDX", "R8", "R9":
				usesWin64Regs = true
			case "RDI", "RSI":
				usesSysVRegs = true
			}
		}
	}
	switch {
	case usesWin64Regs && !usesSysVRegs:
		return ConventionWin64
	case usesSysVRegs:
		return ConventionSysV
	default:
		return ConventionUnknown
	}
}

// collectCalls implements spec.md §4.6's API call recognition: every
// direct call whose target resolves to an import gains a "dll!symbol"
// edge.
func collectCalls(fn *funcdisco.Function, img *peimg.Image) []CallEdge {
	var calls []CallEdge
	for _, in := range fn.Instructions {
		if !disasm.IsCall(in) {
			continue
		}
		target, ok := disasm.DirectBranchTarget(in)
		if !ok {
			continue
		}
		resolved := peimg.Resolve(img, target)
		edge := CallEdge{TargetVA: target}
		if resolved.Kind == peimg.ResolvedImport {
			edge.IsImport = true
			edge.DLL = resolved.DLL
			edge.Symbol = resolved.Symbol
		}
		calls = append(calls, edge)
	}
	return calls
}
