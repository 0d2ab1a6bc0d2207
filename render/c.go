package render

import (
	"fmt"
	"strings"

	"github.com/revtool/revtool/common"
	"github.com/revtool/revtool/program"
)

func cTypedefs() string {
	return strings.Join([]string{
		"typedef unsigned char u8;",
		"typedef unsigned short u16;",
		"typedef unsigned int u32;",
		"typedef unsigned long long u64;",
		"typedef signed char i8;",
		"typedef short i16;",
		"typedef int i32;",
		"typedef long long i64;",
		"",
	}, "\n")
}

func cForwardDecl(ni *nameIndex, af *program.AnalyzedFunction) string {
	return fmt.Sprintf("void %s(void);", ni.nameOf(af.Entry))
}

func renderCFunction(af *program.AnalyzedFunction, ni *nameIndex) string {
	var b strings.Builder
	name := ni.nameOf(af.Entry)

	fmt.Fprintf(&b, "// entry = %s, convention = %s\n", common.HexVA(af.Entry), af.Info.Convention)
	fmt.Fprintf(&b, "void %s(void) {\n", name)

	if isTrivialReturn(af) {
		b.WriteString("    return;\n")
	} else {
		for _, line := range bodyLines(af, ni, "    ") {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("    return;\n")
	}
	b.WriteString("}\n")
	return b.String()
}
