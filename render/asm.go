package render

import (
	"fmt"
	"strings"

	"github.com/revtool/revtool/disasm"
	"github.com/revtool/revtool/program"
)

// FullAsmListing renders spec.md §6's <name>_full.asm file: the literal
// disassembly stream for every recovered function in ascending VA
// order, one instruction per line, with a "; === name ===" header
// before each function and a blank line between functions. Unlike the
// decompiled outputs this listing is deliberately unfiltered — it is
// meant to show exactly what C2 decoded, junk included.
func FullAsmListing(prog *program.AnalyzedProgram) string {
	ni := buildNameIndex(prog)
	var b strings.Builder
	for i, af := range prog.Functions {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "; === %s ===\n", ni.nameOf(af.Entry))
		for _, va := range af.Graph.Order {
			blk := af.Graph.Blocks[va]
			for _, in := range blk.Instructions {
				fmt.Fprintf(&b, "0x%x: %s\n", in.VA, asmLineText(in, ni))
			}
		}
	}
	return b.String()
}

func asmLineText(in disasm.Instruction, ni *nameIndex) string {
	if in.Undecoded {
		return fmt.Sprintf("db %x", in.Raw)
	}
	mnem := strings.ToLower(in.Mnemonic)
	if len(in.Operands) == 0 {
		return mnem
	}
	operands := make([]string, 0, len(in.Operands))
	for _, op := range in.Operands {
		operands = append(operands, operandText(op, ni))
	}
	return mnem + " " + strings.Join(operands, ", ")
}
