package cfgbuild

import (
	"testing"

	"github.com/revtool/revtool/disasm"
	"github.com/revtool/revtool/funcdisco"
	"github.com/revtool/revtool/peimg"
)

func decodeFn(t *testing.T, base uint64, code []byte) *funcdisco.Function {
	t.Helper()
	img := &peimg.Image{
		Data:       make([]byte, 0x2000),
		ImageBase:  base - 0x1000,
		IsPE32Plus: true,
	}
	off := uint32(base - img.ImageBase)
	copy(img.Data[off:], code)
	sec := peimg.Section{Name: ".text", VAddr: off, VSize: uint32(len(code)), FOffset: off, FSize: uint32(len(code)), IsCode: true}
	img.Sections = []peimg.Section{sec}
	insts := disasm.Disassemble(img, sec)
	pimg := &peimg.Image{EntryPointRVA: off, ImageBase: img.ImageBase}
	fns := funcdisco.Discover(pimg, [][]disasm.Instruction{insts})
	for _, fn := range fns {
		if fn.EntryVA == base {
			return fn
		}
	}
	t.Fatalf("no function discovered at entry 0x%x", base)
	return nil
}

// TestGraphScenarioS4 covers spec.md scenario S4: a back-edge loop
// "mov ecx, 10 ; L: dec ecx ; jnz L ; ret" splits into three blocks, and
// the header's dominator relationship holds.
func TestGraphScenarioS4(t *testing.T) {
	const entry = 0x140001000
	code := []byte{
		0xb9, 0x0a, 0x00, 0x00, 0x00, // mov ecx, 10
		0xff, 0xc9, // L: dec ecx
		0x75, 0xfc, // jnz L
		0xc3, // ret
	}
	fn := decodeFn(t, entry, code)
	g := Build(fn)

	// mov ecx,10 (pre-header), dec/jnz (loop header+body, self-edge),
	// ret (exit) — three blocks.
	if len(g.Blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d: %+v", len(g.Blocks), g.Order)
	}
	header := uint64(entry + 5) // L:
	if !Dominates(g, header, header) {
		t.Fatal("a block must dominate itself")
	}
	retBlockVA := uint64(entry + 5 + 2 + 2) // dec(2) + jnz(2) -> ret at +9
	if !Dominates(g, header, retBlockVA) {
		t.Fatalf("loop header must dominate the ret block")
	}

	if len(g.Loops) != 1 {
		t.Fatalf("expected exactly 1 natural loop, got %d", len(g.Loops))
	}
	if g.Loops[0].Header != header {
		t.Fatalf("loop header mismatch: got 0x%x want 0x%x", g.Loops[0].Header, header)
	}
}

// TestGraphSingleBlock covers spec.md scenario S1: a lone ret is one
// block with no successors.
func TestGraphSingleBlock(t *testing.T) {
	const entry = 0x140001000
	fn := decodeFn(t, entry, []byte{0xc3})
	g := Build(fn)
	if len(g.Blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(g.Blocks))
	}
	b := g.Blocks[entry]
	if b.Kind != BlockRet {
		t.Fatalf("expected BlockRet, got %v", b.Kind)
	}
	if len(b.Succs) != 0 {
		t.Fatalf("expected no successors, got %v", b.Succs)
	}
}

// TestGraphCondBranchHasTwoSuccessors verifies a conditional jump block
// records both the fall-through and the taken-branch successor.
func TestGraphCondBranchHasTwoSuccessors(t *testing.T) {
	const entry = 0x140001000
	code := []byte{
		0x31, 0xc0, // xor eax, eax
		0x74, 0x02, // je +2 (to ret at entry+6)
		0x90, 0x90, // padding (unreachable on the taken branch, reachable on fallthrough)
		0xc3, // ret
	}
	fn := decodeFn(t, entry, code)
	g := Build(fn)
	condBlock := g.Blocks[entry]
	if condBlock.Kind != BlockCond {
		t.Fatalf("expected BlockCond, got %v", condBlock.Kind)
	}
	if len(condBlock.Succs) != 2 {
		t.Fatalf("expected 2 successors, got %v", condBlock.Succs)
	}
}
