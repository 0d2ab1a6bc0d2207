// Package funcdisco implements the function-discovery pass spec.md §4.4
// describes: seeding candidate entry points from the image's entry point,
// exports, and call targets, then walking each candidate by recursive
// descent to find its body, with a second pass over uncovered bytes
// looking for prologue patterns.
package funcdisco

import (
	"sort"

	"github.com/revtool/revtool/disasm"
	"github.com/revtool/revtool/peimg"
)

// Function is one discovered function body: the set of instructions
// recursive descent (or a prologue-pattern seed) reached from EntryVA.
// Overlapping functions are allowed — two Functions may share instruction
// VAs, each carrying its own copy, per spec.md §4.4's edge-case note.
type Function struct {
	EntryVA      uint64
	IsThunk      bool // entry lies inside another function's body
	Instructions []disasm.Instruction
}

// index is the flat, VA-sorted view of every instruction decoded across a
// binary's executable sections, used to walk control flow without caring
// which section an address falls in.
type index struct {
	byVA    map[uint64]disasm.Instruction
	ordered []disasm.Instruction
}

func buildIndex(streams [][]disasm.Instruction) *index {
	idx := &index{byVA: make(map[uint64]disasm.Instruction)}
	for _, s := range streams {
		for _, in := range s {
			idx.byVA[in.VA] = in
			idx.ordered = append(idx.ordered, in)
		}
	}
	sort.Slice(idx.ordered, func(i, j int) bool { return idx.ordered[i].VA < idx.ordered[j].VA })
	return idx
}

func (idx *index) at(va uint64) (disasm.Instruction, bool) {
	in, ok := idx.byVA[va]
	return in, ok
}

// Discover runs function discovery over every executable section's
// instruction stream and returns one Function per distinct entry point
// found, sorted by EntryVA.
func Discover(img *peimg.Image, streams [][]disasm.Instruction) []*Function {
	idx := buildIndex(streams)

	seeds := initialSeeds(img)
	visitedEntries := make(map[uint64]bool)
	var funcs []*Function

	for len(seeds) > 0 {
		va := seeds[0]
		seeds = seeds[1:]
		if visitedEntries[va] {
			continue
		}
		if _, ok := idx.at(va); !ok {
			continue
		}
		visitedEntries[va] = true

		fn, discoveredCalls := walk(idx, va)
		funcs = append(funcs, fn)
		for _, callTarget := range discoveredCalls {
			if !visitedEntries[callTarget] {
				seeds = append(seeds, callTarget)
			}
		}
	}

	// Second pass: scan uncovered executable bytes for prologue patterns
	// and seed new functions from them.
	covered := make(map[uint64]bool)
	for _, fn := range funcs {
		for _, in := range fn.Instructions {
			covered[in.VA] = true
		}
	}
	for _, in := range idx.ordered {
		if covered[in.VA] || visitedEntries[in.VA] {
			continue
		}
		if !looksLikePrologue(idx, in.VA) {
			continue
		}
		visitedEntries[in.VA] = true
		fn, discoveredCalls := walk(idx, in.VA)
		funcs = append(funcs, fn)
		for _, in := range fn.Instructions {
			covered[in.VA] = true
		}
		for _, callTarget := range discoveredCalls {
			if visitedEntries[callTarget] {
				continue
			}
			if _, ok := idx.at(callTarget); !ok {
				continue
			}
			visitedEntries[callTarget] = true
			sub, subCalls := walk(idx, callTarget)
			funcs = append(funcs, sub)
			for _, in := range sub.Instructions {
				covered[in.VA] = true
			}
			discoveredCalls = append(discoveredCalls, subCalls...)
		}
	}

	markThunks(funcs)

	sort.Slice(funcs, func(i, j int) bool { return funcs[i].EntryVA < funcs[j].EntryVA })
	return funcs
}

func initialSeeds(img *peimg.Image) []uint64 {
	var seeds []uint64
	seeds = append(seeds, img.EntryVA())
	for va, exp := range img.Exports {
		if exp.Forwarder != "" {
			continue
		}
		seeds = append(seeds, va)
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i] < seeds[j] })
	return seeds
}

// walk performs the recursive-descent body scan spec.md §4.4 describes:
// follow fall-through and direct branches, stop at ret, an out-of-range
// jmp (tail call), or a revisit. Every call's direct target is returned
// separately as a new seed rather than folded into this function's body.
func walk(idx *index, entry uint64) (*Function, []uint64) {
	fn := &Function{EntryVA: entry}
	visited := make(map[uint64]bool)
	var calls []uint64

	var minVA, maxVA uint64
	haveRange := false

	var stack []uint64
	stack = append(stack, entry)

	for len(stack) > 0 {
		va := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[va] {
			continue
		}
		in, ok := idx.at(va)
		if !ok {
			continue
		}
		visited[va] = true
		fn.Instructions = append(fn.Instructions, in)
		if !haveRange {
			minVA, maxVA, haveRange = va, va, true
		} else {
			if va < minVA {
				minVA = va
			}
			if va > maxVA {
				maxVA = va
			}
		}

		if in.Undecoded {
			continue
		}

		if disasm.IsReturn(in) {
			continue
		}

		if disasm.IsCall(in) {
			if target, ok := disasm.DirectBranchTarget(in); ok {
				calls = append(calls, target)
			}
			stack = append(stack, in.NextVA())
			continue
		}

		if disasm.IsConditionalJump(in) {
			stack = append(stack, in.NextVA())
			if target, ok := disasm.DirectBranchTarget(in); ok {
				stack = append(stack, target)
			}
			continue
		}

		if disasm.IsUnconditionalJump(in) {
			target, ok := disasm.DirectBranchTarget(in)
			if !ok {
				// Indirect jump: treat as terminal, nothing more to
				// follow from here.
				continue
			}
			if target >= minVA && target <= maxVA {
				stack = append(stack, target)
			} else {
				// Tail call: the jump leaves this function's
				// established range. Record it as a new seed rather
				// than absorbing it into this body.
				calls = append(calls, target)
			}
			continue
		}

		if disasm.IsIndirectBranch(in) {
			continue
		}

		// Straight-line fall-through.
		stack = append(stack, in.NextVA())
	}

	sort.Slice(fn.Instructions, func(i, j int) bool { return fn.Instructions[i].VA < fn.Instructions[j].VA })
	return fn, calls
}

// looksLikePrologue recognizes the patterns spec.md §4.4 lists: a
// frame-pointer prologue (push rbp ; mov rbp, rsp), a leaf frame (sub
// rsp, imm), or the typical Win64 shadow-space spill (sub rsp, imm ; mov
// [rsp+off], rcx/rdx/r8/r9).
func looksLikePrologue(idx *index, va uint64) bool {
	first, ok := idx.at(va)
	if !ok || first.Undecoded {
		return false
	}

	if first.Mnemonic == "PUSH" && len(first.Operands) == 1 &&
		first.Operands[0].Kind == disasm.OperandReg && first.Operands[0].Reg == "RBP" {
		second, ok := idx.at(first.NextVA())
		if ok && second.Mnemonic == "MOV" && len(second.Operands) == 2 &&
			second.Operands[0].Reg == "RBP" && second.Operands[1].Reg == "RSP" {
			return true
		}
	}

	if first.Mnemonic == "SUB" && len(first.Operands) == 2 &&
		first.Operands[0].Kind == disasm.OperandReg && first.Operands[0].Reg == "RSP" &&
		first.Operands[1].Kind == disasm.OperandImm {
		return true
	}

	return false
}

// markThunks flags any function whose entry VA lies strictly inside
// another function's instruction range as a thunk/multi-entry point,
// per spec.md §4.4.
func markThunks(funcs []*Function) {
	for _, fn := range funcs {
		for _, other := range funcs {
			if other == fn || len(other.Instructions) == 0 {
				continue
			}
			lo := other.Instructions[0].VA
			hi := other.Instructions[len(other.Instructions)-1].VA
			if fn.EntryVA > lo && fn.EntryVA <= hi {
				fn.IsThunk = true
				break
			}
		}
	}
}
