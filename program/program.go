// Package program ties the C2-through-C6 passes together: it
// disassembles every executable section, discovers functions, builds
// each function's CFG, and runs type inference, producing the
// AnalyzedProgram spec.md §3 describes as the renderer's single input.
package program

import (
	"fmt"
	"sort"

	"github.com/revtool/revtool/cfgbuild"
	"github.com/revtool/revtool/common"
	"github.com/revtool/revtool/disasm"
	"github.com/revtool/revtool/funcdisco"
	"github.com/revtool/revtool/junk"
	"github.com/revtool/revtool/peimg"
	"github.com/revtool/revtool/typeinfer"
)

// AnalyzedFunction bundles one discovered function with everything later
// stages computed about it.
type AnalyzedFunction struct {
	Entry    uint64
	IsThunk  bool
	Kept     []junk.Kept
	Graph    *cfgbuild.Graph
	Info     *typeinfer.FunctionInfo
	Switches []cfgbuild.SwitchTable
}

// GlobalRef is a recovered global constant or mutable reference outside
// any function's stack frame.
type GlobalRef struct {
	VA   uint64
	Name string
}

// StringRef is a recovered string literal.
type StringRef struct {
	VA       uint64
	Value    string
	Encoding common.StringEncoding
}

// Xref is a cross-reference from inside a function to anywhere C1
// resolves, per spec.md §3's AnalyzedProgram invariant.
type Xref struct {
	FromVA uint64
	ToVA   uint64
	Kind   peimg.ResolvedKind
}

// AnalyzedProgram is the complete analyzed representation the renderer
// consumes.
type AnalyzedProgram struct {
	Image     *peimg.Image
	Functions []*AnalyzedFunction
	Globals   []GlobalRef
	Strings   []StringRef
	Xrefs     []Xref
}

// Analyze runs the full pipeline over every section peimg marked as
// code.
func Analyze(img *peimg.Image) *AnalyzedProgram {
	var allStreams [][]disasm.Instruction
	streamBySection := make(map[int][]disasm.Instruction)
	for i, sec := range img.Sections {
		if !sec.IsCode {
			continue
		}
		insts := disasm.Disassemble(img, sec)
		allStreams = append(allStreams, insts)
		streamBySection[i] = insts
	}

	funcs := funcdisco.Discover(img, allStreams)

	prog := &AnalyzedProgram{Image: img}
	seenString := make(map[uint64]bool)
	seenGlobal := make(map[uint64]bool)

	for _, fn := range funcs {
		g := cfgbuild.Build(fn)
		info := typeinfer.Analyze(fn, g, img)
		var kept []junk.Kept
		for _, va := range g.Order {
			kept = append(kept, junk.Filter(g.Blocks[va].Instructions)...)
		}
		switches := cfgbuild.DetectSwitchTables(g, img)

		af := &AnalyzedFunction{
			Entry:    fn.EntryVA,
			IsThunk:  fn.IsThunk,
			Kept:     kept,
			Graph:    g,
			Info:     info,
			Switches: switches,
		}
		prog.Functions = append(prog.Functions, af)

		for _, in := range fn.Instructions {
			for _, op := range in.Operands {
				if op.Kind != disasm.OperandRipRel || !op.Rip.IsDataAccess {
					continue
				}
				resolved := peimg.Resolve(img, op.Rip.TargetVA)
				prog.Xrefs = append(prog.Xrefs, Xref{FromVA: in.VA, ToVA: op.Rip.TargetVA, Kind: resolved.Kind})
				switch resolved.Kind {
				case peimg.ResolvedString:
					if !seenString[op.Rip.TargetVA] {
						seenString[op.Rip.TargetVA] = true
						prog.Strings = append(prog.Strings, StringRef{
							VA: op.Rip.TargetVA, Value: resolved.StringValue, Encoding: resolved.StringEncoding,
						})
					}
				case peimg.ResolvedSection:
					if !seenGlobal[op.Rip.TargetVA] {
						seenGlobal[op.Rip.TargetVA] = true
						prog.Globals = append(prog.Globals, GlobalRef{VA: op.Rip.TargetVA})
					}
				}
			}
			if disasm.IsCall(in) {
				if target, ok := disasm.DirectBranchTarget(in); ok {
					resolved := peimg.Resolve(img, target)
					prog.Xrefs = append(prog.Xrefs, Xref{FromVA: in.VA, ToVA: target, Kind: resolved.Kind})
				}
			}
		}
	}

	sort.Slice(prog.Functions, func(i, j int) bool { return prog.Functions[i].Entry < prog.Functions[j].Entry })
	sort.Slice(prog.Globals, func(i, j int) bool { return prog.Globals[i].VA < prog.Globals[j].VA })
	for i := range prog.Globals {
		prog.Globals[i].Name = fmt.Sprintf("g_%x", prog.Globals[i].VA)
	}
	sort.Slice(prog.Strings, func(i, j int) bool { return prog.Strings[i].VA < prog.Strings[j].VA })
	sort.Slice(prog.Xrefs, func(i, j int) bool {
		if prog.Xrefs[i].FromVA != prog.Xrefs[j].FromVA {
			return prog.Xrefs[i].FromVA < prog.Xrefs[j].FromVA
		}
		return prog.Xrefs[i].ToVA < prog.Xrefs[j].ToVA
	})

	return prog
}
