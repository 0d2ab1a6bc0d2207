package render

import (
	"fmt"
	"strings"

	"github.com/revtool/revtool/common"
	"github.com/revtool/revtool/program"
)

// headerBlock is the comment block spec.md §4.7 requires at the top of
// every rendered file: image base, entry point, counts, and a renderer
// version tag. commentPrefix lets each language wrap it in its own
// comment syntax.
func headerBlock(prog *program.AnalyzedProgram, commentPrefix string) string {
	img := prog.Image
	var b strings.Builder
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(&b, "%s %s\n", commentPrefix, fmt.Sprintf(format, args...))
	}
	line("image_base = %s", common.HexVA(img.ImageBase))
	line("entry_point = %s", common.HexVA(img.EntryVA()))
	line("functions = %d", len(prog.Functions))
	line("imports = %d", len(img.Imports))
	line("exports = %d", len(img.Exports))
	line("sections = %d", len(img.Sections))
	line("renderer = %s", rendererVersion)
	return b.String()
}
