package cfgbuild

// computeDominators implements the iterative Cooper-Harvey-Kennedy
// algorithm, run once per function as spec.md §4.5 requires. It returns
// the immediate dominator of every reachable block; Idom[entry] == entry
// by convention.
func computeDominators(g *Graph) map[uint64]uint64 {
	postorder := postorderFrom(g, g.EntryVA)
	postIndex := make(map[uint64]int, len(postorder))
	for i, va := range postorder {
		postIndex[va] = i
	}

	// Reverse postorder, excluding the entry (processed separately).
	rpo := make([]uint64, len(postorder))
	for i, va := range postorder {
		rpo[len(postorder)-1-i] = va
	}

	idom := make(map[uint64]uint64)
	idom[g.EntryVA] = g.EntryVA

	changed := true
	for changed {
		changed = false
		for _, va := range rpo {
			if va == g.EntryVA {
				continue
			}
			b := g.Blocks[va]
			var newIdom uint64
			haveNewIdom := false
			for _, p := range b.Preds {
				if _, ok := idom[p]; !ok {
					continue
				}
				if !haveNewIdom {
					newIdom = p
					haveNewIdom = true
					continue
				}
				newIdom = intersect(idom, postIndex, newIdom, p)
			}
			if !haveNewIdom {
				continue
			}
			if cur, ok := idom[va]; !ok || cur != newIdom {
				idom[va] = newIdom
				changed = true
			}
		}
	}
	return idom
}

func intersect(idom map[uint64]uint64, postIndex map[uint64]int, a, b uint64) uint64 {
	for a != b {
		for postIndex[a] < postIndex[b] {
			a = idom[a]
		}
		for postIndex[b] < postIndex[a] {
			b = idom[b]
		}
	}
	return a
}

func postorderFrom(g *Graph, start uint64) []uint64 {
	visited := make(map[uint64]bool)
	var order []uint64
	var visit func(va uint64)
	visit = func(va uint64) {
		if visited[va] {
			return
		}
		visited[va] = true
		b, ok := g.Blocks[va]
		if !ok {
			return
		}
		for _, s := range b.Succs {
			visit(s)
		}
		order = append(order, va)
	}
	visit(start)
	return order
}

// Dominates reports whether a dominates b in g (inclusive: a dominates
// itself).
func Dominates(g *Graph, a, b uint64) bool {
	for {
		if a == b {
			return true
		}
		next, ok := g.Idom[b]
		if !ok || next == b {
			return a == b
		}
		b = next
	}
}
