// Package render produces pseudo-code, C, and Rust source text from an
// AnalyzedProgram, per spec.md §4.7. All three renderers share the
// naming and header conventions here so the content partition stays
// identical across output modes.
package render

// Lang selects which textual rendering to produce.
type Lang int

const (
	LangPseudo Lang = iota
	LangC
	LangRust
)

// Mode selects the file layout spec.md §4.7 names.
type Mode int

const (
	ModeSingle Mode = iota
	ModeByType
	ModeByFunction
)

// rendererVersion is stamped into every header block. Bump it whenever
// the output format of a renderer changes in a way a consumer might
// care about.
const rendererVersion = "revtool-render/1"

// File is one emitted output file: a relative path under the project's
// output directory, and its full contents.
type File struct {
	Name    string
	Content string
}
