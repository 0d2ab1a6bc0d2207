package cfgbuild

// findNaturalLoops extracts natural loops from back-edges, per spec.md
// §4.5: an edge n -> h is a back-edge when h dominates n, and the loop
// body is every block that can reach n without passing through h again.
func findNaturalLoops(g *Graph) []Loop {
	var loops []Loop
	for _, va := range g.Order {
		b := g.Blocks[va]
		for _, s := range b.Succs {
			if !Dominates(g, s, va) {
				continue
			}
			loops = append(loops, buildLoop(g, s, va))
		}
	}
	return loops
}

func buildLoop(g *Graph, header, tail uint64) Loop {
	body := map[uint64]bool{header: true, tail: true}
	worklist := []uint64{tail}
	for len(worklist) > 0 {
		va := worklist[0]
		worklist = worklist[1:]
		if va == header {
			continue
		}
		b, ok := g.Blocks[va]
		if !ok {
			continue
		}
		for _, p := range b.Preds {
			if !body[p] {
				body[p] = true
				worklist = append(worklist, p)
			}
		}
	}

	return Loop{Header: header, Blocks: body, Kind: classifyLoop(g, header, tail, body)}
}

// classifyLoop applies spec.md §4.5's heuristic: While if the header
// itself tests the condition before the body runs, DoWhile if only the
// tail block tests it, ForIsh if a counter-decrement-then-compare
// pattern appears in the tail, otherwise Infinite.
func classifyLoop(g *Graph, header, tail uint64, body map[uint64]bool) LoopKind {
	headerBlock := g.Blocks[header]
	tailBlock := g.Blocks[tail]

	headerTests := headerBlock.Kind == BlockCond
	tailTests := tailBlock.Kind == BlockCond

	if !headerTests && !tailTests {
		return LoopInfinite
	}

	if tailTests && hasCounterPattern(tailBlock) {
		return LoopForIsh
	}

	if headerTests {
		return LoopWhile
	}
	return LoopDoWhile
}

// hasCounterPattern looks for an INC/DEC anywhere before the block's
// terminating jump, the simple counter idiom spec.md §4.5 names. The
// operand of the INC/DEC and its distance from the jump are not checked.
func hasCounterPattern(b *BasicBlock) bool {
	if len(b.Instructions) < 2 {
		return false
	}
	for i := 0; i < len(b.Instructions)-1; i++ {
		in := b.Instructions[i]
		if in.Mnemonic == "INC" || in.Mnemonic == "DEC" {
			return true
		}
	}
	return false
}
