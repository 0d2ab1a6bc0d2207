package render

import (
	"fmt"
	"strings"

	"github.com/revtool/revtool/program"
)

func langExt(lang Lang) string {
	switch lang {
	case LangC:
		return "c"
	case LangRust:
		return "rs"
	default:
		return "pseudo"
	}
}

// commentPrefix is "//" in every language this renderer targets; kept
// as a function so a future language with a different comment syntax
// has one place to change.
func commentPrefix(lang Lang) string {
	return "//"
}

func renderFunction(af *program.AnalyzedFunction, ni *nameIndex, lang Lang) string {
	switch lang {
	case LangC:
		return renderCFunction(af, ni)
	case LangRust:
		return renderRustFunction(af, ni)
	default:
		return renderPseudoFunction(af, ni)
	}
}

func preamble(lang Lang) string {
	switch lang {
	case LangC:
		return cTypedefs()
	case LangRust:
		return rustTypeAliases()
	default:
		return ""
	}
}

// Render produces the output file set for an AnalyzedProgram in the
// requested language and layout mode. name is the input binary's
// basename without extension, and is the prefix every emitted file
// carries per spec.md §6's output table. Output is fully deterministic:
// identical input bytes yield identical output bytes, per spec.md
// §4.7's naming invariant — every intermediate sort the program package
// performs and every map iteration avoided here is load-bearing for
// that property.
func Render(prog *program.AnalyzedProgram, lang Lang, mode Mode, name string) []File {
	ni := buildNameIndex(prog)
	ext := langExt(lang)

	switch mode {
	case ModeByFunction:
		return renderByFunction(prog, ni, lang, ext, name)
	case ModeByType:
		return renderByType(prog, ni, lang, ext, name)
	default:
		return renderSingle(prog, ni, lang, ext, name)
	}
}

func renderSingle(prog *program.AnalyzedProgram, ni *nameIndex, lang Lang, ext, name string) []File {
	var b strings.Builder
	b.WriteString(headerBlock(prog, commentPrefix(lang)))
	b.WriteString("\n")
	b.WriteString(preamble(lang))
	writeGlobals(&b, prog)
	writeStrings(&b, prog)
	for _, af := range prog.Functions {
		b.WriteString(renderFunction(af, ni, lang))
		b.WriteString("\n")
	}
	return []File{{Name: fmt.Sprintf("%s_decompiled.%s", name, ext), Content: b.String()}}
}

// renderByType splits the same content renderSingle concatenates into
// the sibling-file layout spec.md §6 names. C's layout has no separate
// strings file — strings join globals in <name>_globals.h — while every
// other language gets a dedicated <name>_strings.<ext>.
func renderByType(prog *program.AnalyzedProgram, ni *nameIndex, lang Lang, ext, name string) []File {
	if lang == LangC {
		return renderByTypeC(prog, ni, name)
	}
	return renderByTypeGeneric(prog, ni, lang, ext, name)
}

func renderByTypeGeneric(prog *program.AnalyzedProgram, ni *nameIndex, lang Lang, ext, name string) []File {
	var files []File

	var types strings.Builder
	types.WriteString(headerBlock(prog, commentPrefix(lang)))
	types.WriteString("\n")
	types.WriteString(preamble(lang))
	files = append(files, File{Name: fmt.Sprintf("%s_types.%s", name, ext), Content: types.String()})

	var globals strings.Builder
	globals.WriteString(headerBlock(prog, commentPrefix(lang)))
	writeGlobals(&globals, prog)
	files = append(files, File{Name: fmt.Sprintf("%s_globals.%s", name, ext), Content: globals.String()})

	var strs strings.Builder
	strs.WriteString(headerBlock(prog, commentPrefix(lang)))
	writeStrings(&strs, prog)
	files = append(files, File{Name: fmt.Sprintf("%s_strings.%s", name, ext), Content: strs.String()})

	var funcsB strings.Builder
	funcsB.WriteString(headerBlock(prog, commentPrefix(lang)))
	funcsB.WriteString("\n")
	for _, af := range prog.Functions {
		funcsB.WriteString(renderFunction(af, ni, lang))
		funcsB.WriteString("\n")
	}
	files = append(files, File{Name: fmt.Sprintf("%s_functions.%s", name, ext), Content: funcsB.String()})

	files = append(files, File{Name: fmt.Sprintf("%s_main.%s", name, ext), Content: renderMainFile(prog, ni, lang, name)})

	return files
}

func renderByTypeC(prog *program.AnalyzedProgram, ni *nameIndex, name string) []File {
	var files []File

	var types strings.Builder
	types.WriteString(headerBlock(prog, commentPrefix(LangC)))
	types.WriteString("\n")
	types.WriteString(preamble(LangC))
	files = append(files, File{Name: name + "_types.h", Content: types.String()})

	var globals strings.Builder
	globals.WriteString(headerBlock(prog, commentPrefix(LangC)))
	writeGlobals(&globals, prog)
	writeStrings(&globals, prog)
	files = append(files, File{Name: name + "_globals.h", Content: globals.String()})

	var declsB strings.Builder
	declsB.WriteString(headerBlock(prog, commentPrefix(LangC)))
	declsB.WriteString("\n")
	for _, af := range prog.Functions {
		fmt.Fprintf(&declsB, "%s\n", cForwardDecl(ni, af))
	}
	files = append(files, File{Name: name + "_functions.h", Content: declsB.String()})

	var funcsB strings.Builder
	funcsB.WriteString(headerBlock(prog, commentPrefix(LangC)))
	fmt.Fprintf(&funcsB, "#include \"%s_functions.h\"\n\n", name)
	for _, af := range prog.Functions {
		funcsB.WriteString(renderFunction(af, ni, LangC))
		funcsB.WriteString("\n")
	}
	files = append(files, File{Name: name + "_functions.c", Content: funcsB.String()})

	files = append(files, File{Name: name + "_main.c", Content: renderMainFile(prog, ni, LangC, name)})

	return files
}

// renderMainFile writes the layout's entry-point file: for Rust it
// declares the four sibling modules and calls the entry point from
// inside an unsafe block, for C it includes the sibling headers and
// calls the entry point from main.
func renderMainFile(prog *program.AnalyzedProgram, ni *nameIndex, lang Lang, name string) string {
	entry := ni.nameOf(prog.Image.EntryVA())
	var b strings.Builder
	b.WriteString(headerBlock(prog, commentPrefix(lang)))
	switch lang {
	case LangC:
		fmt.Fprintf(&b, "#include \"%s_types.h\"\n", name)
		fmt.Fprintf(&b, "#include \"%s_globals.h\"\n", name)
		fmt.Fprintf(&b, "#include \"%s_functions.h\"\n\n", name)
		fmt.Fprintf(&b, "int main(void) {\n    %s();\n    return 0;\n}\n", entry)
	case LangRust:
		fmt.Fprintf(&b, "mod %s_types;\n", name)
		fmt.Fprintf(&b, "mod %s_globals;\n", name)
		fmt.Fprintf(&b, "mod %s_strings;\n", name)
		fmt.Fprintf(&b, "mod %s_functions;\n\n", name)
		fmt.Fprintf(&b, "fn main() {\n    unsafe {\n        %s();\n    }\n}\n", entry)
	default:
		fmt.Fprintf(&b, "%s entry point: %s\n", commentPrefix(lang), entry)
	}
	return b.String()
}

func renderByFunction(prog *program.AnalyzedProgram, ni *nameIndex, lang Lang, ext, name string) []File {
	var files []File
	for _, af := range prog.Functions {
		var b strings.Builder
		b.WriteString(headerBlock(prog, commentPrefix(lang)))
		b.WriteString("\n")
		b.WriteString(renderFunction(af, ni, lang))
		files = append(files, File{Name: fmt.Sprintf("%s_%s.%s", name, ni.nameOf(af.Entry), ext), Content: b.String()})
	}

	var index strings.Builder
	index.WriteString(headerBlock(prog, commentPrefix(lang)))
	for _, af := range prog.Functions {
		fmt.Fprintf(&index, "%s %s\n", commentPrefix(lang), ni.nameOf(af.Entry))
	}
	files = append(files, File{Name: fmt.Sprintf("%s_index.%s", name, ext), Content: index.String()})

	return files
}

func writeGlobals(b *strings.Builder, prog *program.AnalyzedProgram) {
	for _, g := range prog.Globals {
		fmt.Fprintf(b, "// global %s at 0x%x\n", g.Name, g.VA)
	}
}

func writeStrings(b *strings.Builder, prog *program.AnalyzedProgram) {
	for _, s := range prog.Strings {
		fmt.Fprintf(b, "// %s = %q\n", stringName(s.VA), s.Value)
	}
}
