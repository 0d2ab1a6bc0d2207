// Package cfgbuild partitions a discovered function's instructions into
// basic blocks and computes the control-flow graph spec.md §4.5
// describes: successors/predecessors, dominators, natural loops, and
// switch-table candidates.
package cfgbuild

import (
	"sort"

	"github.com/revtool/revtool/disasm"
	"github.com/revtool/revtool/funcdisco"
	"github.com/revtool/revtool/peimg"
)

// BlockKind classifies a basic block by how it ends, per spec.md §3.
type BlockKind int

const (
	BlockFall BlockKind = iota
	BlockCond
	BlockJump
	BlockCall
	BlockRet
	BlockUndecoded
)

// BasicBlock is a maximal run of instructions between leaders, per
// spec.md §3. Succs and Preds are stored as VAs, not pointers, so the
// graph has no cycles at the Go-value level even though the control flow
// it represents does.
type BasicBlock struct {
	StartVA      uint64
	EndVA        uint64
	Instructions []disasm.Instruction
	Succs        []uint64
	Preds        []uint64
	Kind         BlockKind
}

// LoopKind classifies a natural loop by where its condition is tested
// and whether a counter pattern is present, per spec.md §4.5.
type LoopKind int

const (
	LoopWhile LoopKind = iota
	LoopDoWhile
	LoopForIsh
	LoopInfinite
)

// Loop is a natural loop: the blocks dominated by Header that can reach
// it through a back-edge.
type Loop struct {
	Header uint64
	Blocks map[uint64]bool
	Kind   LoopKind
}

// SwitchTable is a recovered jump-table dispatch, per spec.md §4.5's
// `cmp r, imm ; ja default ; jmp [table + r*8]` pattern.
type SwitchTable struct {
	DispatchBlockVA uint64
	DefaultVA       uint64
	Targets         []uint64
}

// Graph is the control-flow graph of one function.
type Graph struct {
	EntryVA      uint64
	Order        []uint64 // block start VAs, ascending
	Blocks       map[uint64]*BasicBlock
	Idom         map[uint64]uint64 // immediate dominator; Idom[EntryVA] == EntryVA
	Loops        []Loop
	SwitchTables []SwitchTable
}

func isTerminator(in disasm.Instruction) bool {
	return in.Undecoded || disasm.IsReturn(in) || disasm.IsCall(in) ||
		disasm.IsConditionalJump(in) || disasm.IsUnconditionalJump(in) || disasm.IsIndirectBranch(in)
}

// Build constructs the CFG of a single discovered function.
func Build(fn *funcdisco.Function) *Graph {
	byVA := make(map[uint64]disasm.Instruction, len(fn.Instructions))
	for _, in := range fn.Instructions {
		byVA[in.VA] = in
	}

	leaders := computeLeaders(fn, byVA)
	blocks := partitionBlocks(fn, leaders)
	linkEdges(blocks, byVA)

	g := &Graph{EntryVA: fn.EntryVA, Blocks: make(map[uint64]*BasicBlock, len(blocks))}
	for _, b := range blocks {
		g.Blocks[b.StartVA] = b
		g.Order = append(g.Order, b.StartVA)
	}
	sort.Slice(g.Order, func(i, j int) bool { return g.Order[i] < g.Order[j] })

	removeDeadBlocks(g)
	collapseEmptyBlocks(g)

	g.Idom = computeDominators(g)
	g.Loops = findNaturalLoops(g)
	return g
}

// computeLeaders collects spec.md §4.5's leader set: the entry, every
// branch/call target inside the function, and every instruction
// immediately following a branch or call.
func computeLeaders(fn *funcdisco.Function, byVA map[uint64]disasm.Instruction) map[uint64]bool {
	leaders := map[uint64]bool{fn.EntryVA: true}
	for _, in := range fn.Instructions {
		if disasm.IsCall(in) || disasm.IsConditionalJump(in) {
			if _, ok := byVA[in.NextVA()]; ok {
				leaders[in.NextVA()] = true
			}
		}
		if disasm.IsConditionalJump(in) || disasm.IsUnconditionalJump(in) {
			if target, ok := disasm.DirectBranchTarget(in); ok {
				if _, ok2 := byVA[target]; ok2 {
					leaders[target] = true
				}
			}
		}
	}
	return leaders
}

func partitionBlocks(fn *funcdisco.Function, leaders map[uint64]bool) []*BasicBlock {
	var blocks []*BasicBlock
	var current *BasicBlock

	for i, in := range fn.Instructions {
		startNew := i == 0 || leaders[in.VA] || (current != nil && len(current.Instructions) > 0 &&
			in.VA != fn.Instructions[i-1].NextVA())
		if startNew {
			if current != nil && len(current.Instructions) > 0 {
				blocks = append(blocks, current)
			}
			current = &BasicBlock{StartVA: in.VA}
		}
		current.Instructions = append(current.Instructions, in)
		current.EndVA = in.VA
		if isTerminator(in) {
			blocks = append(blocks, current)
			current = nil
		}
	}
	if current != nil && len(current.Instructions) > 0 {
		blocks = append(blocks, current)
	}
	return blocks
}

func linkEdges(blocks []*BasicBlock, byVA map[uint64]disasm.Instruction) {
	for _, b := range blocks {
		last := b.Instructions[len(b.Instructions)-1]
		switch {
		case last.Undecoded:
			b.Kind = BlockUndecoded
		case disasm.IsReturn(last):
			b.Kind = BlockRet
		case disasm.IsCall(last):
			b.Kind = BlockCall
			if _, ok := byVA[last.NextVA()]; ok {
				b.Succs = append(b.Succs, last.NextVA())
			}
		case disasm.IsConditionalJump(last):
			b.Kind = BlockCond
			if _, ok := byVA[last.NextVA()]; ok {
				b.Succs = append(b.Succs, last.NextVA())
			}
			if target, ok := disasm.DirectBranchTarget(last); ok {
				if _, ok2 := byVA[target]; ok2 {
					b.Succs = append(b.Succs, target)
				}
			}
		case disasm.IsUnconditionalJump(last):
			b.Kind = BlockJump
			if target, ok := disasm.DirectBranchTarget(last); ok {
				if _, ok2 := byVA[target]; ok2 {
					b.Succs = append(b.Succs, target)
				}
			}
		case disasm.IsIndirectBranch(last):
			b.Kind = BlockJump
		default:
			b.Kind = BlockFall
			if _, ok := byVA[last.NextVA()]; ok {
				b.Succs = append(b.Succs, last.NextVA())
			}
		}
	}

	preds := make(map[uint64][]uint64)
	for _, b := range blocks {
		for _, s := range b.Succs {
			preds[s] = append(preds[s], b.StartVA)
		}
	}
	for _, b := range blocks {
		b.Preds = preds[b.StartVA]
	}
}

// removeDeadBlocks discards blocks unreachable from the entry, per
// spec.md §4.5.
func removeDeadBlocks(g *Graph) {
	reachable := map[uint64]bool{g.EntryVA: true}
	worklist := []uint64{g.EntryVA}
	for len(worklist) > 0 {
		va := worklist[0]
		worklist = worklist[1:]
		b, ok := g.Blocks[va]
		if !ok {
			continue
		}
		for _, s := range b.Succs {
			if !reachable[s] {
				reachable[s] = true
				worklist = append(worklist, s)
			}
		}
	}

	for va := range g.Blocks {
		if !reachable[va] {
			delete(g.Blocks, va)
		}
	}
	order := g.Order[:0]
	for _, va := range g.Order {
		if reachable[va] {
			order = append(order, va)
		}
	}
	g.Order = order

	for _, b := range g.Blocks {
		kept := b.Preds[:0]
		for _, p := range b.Preds {
			if reachable[p] {
				kept = append(kept, p)
			}
		}
		b.Preds = kept
	}
}

// collapseEmptyBlocks folds a block consisting solely of one
// unconditional jump into its successor's predecessor list, per spec.md
// §4.5. The block itself is removed; callers of it are rewired directly
// to its target.
func collapseEmptyBlocks(g *Graph) {
	for {
		var toCollapse uint64
		found := false
		for _, va := range g.Order {
			b := g.Blocks[va]
			if b.Kind == BlockJump && len(b.Instructions) == 1 && len(b.Succs) == 1 && va != g.EntryVA {
				toCollapse = va
				found = true
				break
			}
		}
		if !found {
			return
		}
		b := g.Blocks[toCollapse]
		target := b.Succs[0]
		for _, predVA := range b.Preds {
			pred, ok := g.Blocks[predVA]
			if !ok {
				continue
			}
			for i, s := range pred.Succs {
				if s == toCollapse {
					pred.Succs[i] = target
				}
			}
		}
		if tb, ok := g.Blocks[target]; ok {
			newPreds := make([]uint64, 0, len(tb.Preds))
			for _, p := range tb.Preds {
				if p != toCollapse {
					newPreds = append(newPreds, p)
				}
			}
			newPreds = append(newPreds, b.Preds...)
			tb.Preds = newPreds
		}
		delete(g.Blocks, toCollapse)
		newOrder := g.Order[:0]
		for _, va := range g.Order {
			if va != toCollapse {
				newOrder = append(newOrder, va)
			}
		}
		g.Order = newOrder
	}
}

// DetectSwitchTables scans the graph for the `cmp r, imm ; ja default ;
// jmp [table + r*8]` pattern and reads each candidate table through the
// image, per spec.md §4.5.
func DetectSwitchTables(g *Graph, img *peimg.Image) []SwitchTable {
	var tables []SwitchTable
	for _, va := range g.Order {
		b := g.Blocks[va]
		if b.Kind != BlockCond || len(b.Instructions) < 2 {
			continue
		}
		jcc := b.Instructions[len(b.Instructions)-1]
		cmp := b.Instructions[len(b.Instructions)-2]
		if jcc.Mnemonic != "JA" || cmp.Mnemonic != "CMP" || len(cmp.Operands) != 2 {
			continue
		}
		if cmp.Operands[0].Kind != disasm.OperandReg || cmp.Operands[1].Kind != disasm.OperandImm {
			continue
		}
		reg := cmp.Operands[0].Reg
		limit := cmp.Operands[1].Imm
		if len(b.Succs) != 2 {
			continue
		}
		dispatchVA := b.Succs[0] // fall-through past the ja
		defaultVA := b.Succs[1]  // the ja's taken target
		dispatch, ok := g.Blocks[dispatchVA]
		if !ok || len(dispatch.Instructions) == 0 {
			continue
		}
		jmp := dispatch.Instructions[len(dispatch.Instructions)-1]
		if !disasm.IsUnconditionalJump(jmp) || len(jmp.Operands) != 1 {
			continue
		}
		mem := jmp.Operands[0]
		if mem.Kind != disasm.OperandMem || mem.Mem.Index != reg || mem.Mem.Scale != 8 {
			continue
		}
		tableRVA, ok := vaToRVA(img, uint64(mem.Mem.Disp))
		if !ok {
			continue
		}
		entryCount := int(limit) + 1
		targets := readSwitchEntries(img, tableRVA, entryCount)
		if targets == nil {
			continue
		}
		tables = append(tables, SwitchTable{DispatchBlockVA: dispatchVA, DefaultVA: defaultVA, Targets: targets})
	}
	return tables
}

func vaToRVA(img *peimg.Image, va uint64) (uint32, bool) {
	if va < img.ImageBase {
		return 0, false
	}
	return uint32(va - img.ImageBase), true
}

func readSwitchEntries(img *peimg.Image, tableRVA uint32, count int) []uint64 {
	entrySize := 4
	if img.IsPE32Plus {
		entrySize = 8
	}
	off, ok := img.RVAToFileOffset(tableRVA)
	if !ok || count <= 0 {
		return nil
	}
	var out []uint64
	for i := 0; i < count; i++ {
		start := int(off) + i*entrySize
		if start+entrySize > len(img.Data) {
			return nil
		}
		var rawVA uint64
		if entrySize == 8 {
			for j := 7; j >= 0; j-- {
				rawVA = rawVA<<8 | uint64(img.Data[start+j])
			}
		} else {
			for j := 3; j >= 0; j-- {
				rawVA = rawVA<<8 | uint64(img.Data[start+j])
			}
			rawVA += img.ImageBase
		}
		out = append(out, rawVA)
	}
	return out
}
