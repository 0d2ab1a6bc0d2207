package render

import (
	"fmt"
	"strings"

	"github.com/revtool/revtool/common"
	"github.com/revtool/revtool/program"
)

func renderPseudoFunction(af *program.AnalyzedFunction, ni *nameIndex) string {
	var b strings.Builder
	name := ni.nameOf(af.Entry)

	var params []string
	for _, p := range af.Info.Parameters {
		params = append(params, p.Name)
	}
	fmt.Fprintf(&b, "// entry = %s, convention = %s\n", common.HexVA(af.Entry), af.Info.Convention)
	fmt.Fprintf(&b, "%s(%s) {\n", name, strings.Join(params, ", "))

	if isTrivialReturn(af) {
		b.WriteString("  return;\n")
	} else {
		for _, line := range bodyLines(af, ni, "  ") {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("  return;\n")
	}
	b.WriteString("}\n")
	return b.String()
}

func isTrivialReturn(af *program.AnalyzedFunction) bool {
	return len(af.Kept) == 1 && af.Kept[0].Instruction.Mnemonic == "RET"
}
