package render

import (
	"fmt"
	"strings"

	"github.com/revtool/revtool/cfgbuild"
	"github.com/revtool/revtool/disasm"
	"github.com/revtool/revtool/junk"
	"github.com/revtool/revtool/program"
)

// operandText renders one operand the same way across all three
// languages; mov/add/cmp/etc. read naturally as "dst, src" regardless of
// target syntax, so only call targets and loop/branch keywords need
// per-language treatment.
func operandText(op disasm.Operand, ni *nameIndex) string {
	switch op.Kind {
	case disasm.OperandReg:
		return strings.ToLower(op.Reg)
	case disasm.OperandImm:
		return fmt.Sprintf("0x%x", op.Imm)
	case disasm.OperandMem:
		parts := op.Mem.Base
		if op.Mem.Index != "" {
			parts += fmt.Sprintf("+%s*%d", strings.ToLower(op.Mem.Index), op.Mem.Scale)
		}
		if op.Mem.Disp != 0 {
			parts += fmt.Sprintf("%+d", op.Mem.Disp)
		}
		return "[" + strings.ToLower(parts) + "]"
	case disasm.OperandRipRel:
		return ni.refText(op.Rip.TargetVA)
	case disasm.OperandLabel:
		return op.Label
	default:
		return "?"
	}
}

// refText names a RIP-relative target: an import or export symbol, a
// recovered function's name, or a bare hex VA as a last resort. Strings
// and globals are not named here; they print as hex VAs.
func (ni *nameIndex) refText(va uint64) string {
	if imp, ok := ni.img.Imports[va]; ok {
		return fmt.Sprintf("%s!%s", imp.DLL, imp.Symbol)
	}
	if exp, ok := ni.img.Exports[va]; ok {
		return exp.Name
	}
	if name, ok := ni.funcNames[va]; ok {
		return name
	}
	return fmt.Sprintf("0x%x", va)
}

// instructionStmt renders one surviving instruction as a single
// statement line, annotating calls to imports with a "dll!symbol"
// comment per spec.md scenario S2.
func instructionStmt(in disasm.Instruction, ni *nameIndex) string {
	mnem := strings.ToLower(in.Mnemonic)
	if in.Undecoded {
		return fmt.Sprintf("asm { %x };", in.Raw)
	}

	var operands []string
	for _, op := range in.Operands {
		operands = append(operands, operandText(op, ni))
	}
	stmt := mnem
	if len(operands) > 0 {
		stmt += " " + strings.Join(operands, ", ")
	}
	stmt += ";"

	if disasm.IsCall(in) {
		if target, ok := disasm.DirectBranchTarget(in); ok {
			if imp, ok2 := ni.img.Imports[target]; ok2 {
				stmt += fmt.Sprintf(" // call %s!%s", imp.DLL, imp.Symbol)
			}
		}
	}
	return stmt
}

// keptByVA indexes a function's junk-filtered stream by VA so block-local
// rendering can look up which of a block's raw instructions survived the
// filter, per spec.md §4.3: the renderer must consume the filtered
// stream, never the raw disassembly.
func keptByVA(af *program.AnalyzedFunction) map[uint64]junk.Kept {
	idx := make(map[uint64]junk.Kept, len(af.Kept))
	for _, k := range af.Kept {
		idx[k.Instruction.VA] = k
	}
	return idx
}

// survivingInstructions returns a block's instructions filtered down to
// the ones the junk pass kept, preserving block order.
func survivingInstructions(b *cfgbuild.BasicBlock, kept map[uint64]junk.Kept) []disasm.Instruction {
	out := make([]disasm.Instruction, 0, len(b.Instructions))
	for _, in := range b.Instructions {
		if _, ok := kept[in.VA]; ok {
			out = append(out, in)
		}
	}
	return out
}

// bodyLines walks a function's CFG in block order and emits a structured
// statement list: reaching a loop's header wraps that loop's blocks in a
// while/do-while construct (per spec.md scenario S4), everything else
// falls back to sequential blocks with address comments, matching
// spec.md §4.7's "preserves block addresses as comments" requirement.
func bodyLines(af *program.AnalyzedFunction, ni *nameIndex, indent string) []string {
	g := af.Graph
	if len(g.Order) == 0 {
		return nil
	}
	kept := keptByVA(af)

	loopByHeader := make(map[uint64]cfgbuild.Loop, len(g.Loops))
	for _, loop := range g.Loops {
		if _, ok := loopByHeader[loop.Header]; !ok {
			loopByHeader[loop.Header] = loop
		}
	}

	var lines []string
	consumed := make(map[uint64]bool)
	for _, va := range g.Order {
		if consumed[va] {
			continue
		}
		if loop, ok := loopByHeader[va]; ok {
			lines = append(lines, loopLines(af, ni, loop, kept, indent)...)
			for bva := range loop.Blocks {
				consumed[bva] = true
			}
			continue
		}

		b := g.Blocks[va]
		lines = append(lines, fmt.Sprintf("%s// %s", indent, blockLabel(va)))
		for _, in := range survivingInstructions(b, kept) {
			lines = append(lines, indent+instructionStmt(in, ni))
		}
	}
	return lines
}

func loopLines(af *program.AnalyzedFunction, ni *nameIndex, loop cfgbuild.Loop, kept map[uint64]junk.Kept, indent string) []string {
	g := af.Graph
	header := g.Blocks[loop.Header]
	keyword := "while"
	if loop.Kind == cfgbuild.LoopDoWhile {
		keyword = "do"
	}

	var condText string
	if len(header.Instructions) > 0 {
		last := header.Instructions[len(header.Instructions)-1]
		if strings.HasPrefix(last.Mnemonic, "J") {
			condText = "/* " + strings.ToLower(last.Mnemonic) + " */"
		}
	}
	if condText == "" {
		condText = "/* loop condition */"
	}

	var lines []string
	if keyword == "while" {
		lines = append(lines, fmt.Sprintf("%s%s %s {", indent, keyword, condText))
	} else {
		lines = append(lines, fmt.Sprintf("%sdo {", indent))
	}

	for _, va := range g.Order {
		if !loop.Blocks[va] {
			continue
		}
		b := g.Blocks[va]
		lines = append(lines, fmt.Sprintf("%s  // %s", indent, blockLabel(va)))
		for _, in := range survivingInstructions(b, kept) {
			lines = append(lines, indent+"  "+instructionStmt(in, ni))
		}
	}

	if keyword == "do" {
		lines = append(lines, fmt.Sprintf("%s} while %s;", indent, condText))
	} else {
		lines = append(lines, fmt.Sprintf("%s}", indent))
	}

	return lines
}
