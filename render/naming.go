package render

import (
	"fmt"

	"github.com/revtool/revtool/peimg"
	"github.com/revtool/revtool/program"
)

// nameIndex precomputes the deterministic function names spec.md §4.7
// requires: sub_<hex> unless export- or import-named. Locals and params
// carry the names typeinfer gave them.
type nameIndex struct {
	funcNames map[uint64]string
	img       *peimg.Image
}

func buildNameIndex(prog *program.AnalyzedProgram) *nameIndex {
	ni := &nameIndex{funcNames: make(map[uint64]string), img: prog.Image}
	for _, af := range prog.Functions {
		ni.funcNames[af.Entry] = ni.funcName(af.Entry)
	}
	return ni
}

func (ni *nameIndex) funcName(va uint64) string {
	if exp, ok := ni.img.Exports[va]; ok && exp.Name != "" {
		return exp.Name
	}
	if imp, ok := ni.img.Imports[va]; ok {
		return imp.Symbol
	}
	return fmt.Sprintf("sub_%x", va)
}

func (ni *nameIndex) nameOf(va uint64) string {
	if n, ok := ni.funcNames[va]; ok {
		return n
	}
	return ni.funcName(va)
}

func stringName(va uint64) string {
	return fmt.Sprintf("str_%x", va)
}

func blockLabel(va uint64) string {
	return fmt.Sprintf("block_%x", va)
}
