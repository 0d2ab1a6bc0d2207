package render

import (
	"fmt"
	"strings"

	"github.com/revtool/revtool/common"
	"github.com/revtool/revtool/program"
)

func rustTypeAliases() string {
	return strings.Join([]string{
		"#![allow(non_snake_case, non_upper_case_globals, dead_code)]",
		"type u8_ = u8;",
		"type u16_ = u16;",
		"type u32_ = u32;",
		"type u64_ = u64;",
		"type i8_ = i8;",
		"type i16_ = i16;",
		"type i32_ = i32;",
		"type i64_ = i64;",
		"",
	}, "\n")
}

// renderRustFunction emits every recovered function as unsafe, per
// spec.md §4.7: raw pointer dereferences and FFI-shaped calls are the
// norm for lifted machine code, not the exception.
func renderRustFunction(af *program.AnalyzedFunction, ni *nameIndex) string {
	var b strings.Builder
	name := ni.nameOf(af.Entry)

	fmt.Fprintf(&b, "// entry = %s, convention = %s\n", common.HexVA(af.Entry), af.Info.Convention)
	fmt.Fprintf(&b, "pub unsafe fn %s() {\n", name)

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
