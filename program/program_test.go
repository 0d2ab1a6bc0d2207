package program

import (
	"testing"

	"github.com/revtool/revtool/peimg"
)

func buildSingleSectionImage(base uint64, code []byte) *peimg.Image {
	img := &peimg.Image{
		Data:       make([]byte, 0x2000),
		ImageBase:  base - 0x1000,
		IsPE32Plus: true,
	}
	off := uint32(base - img.ImageBase)
	copy(img.Data[off:], code)
	img.EntryPointRVA = off
	img.Sections = []peimg.Section{
		{Name: ".text", VAddr: off, VSize: uint32(len(code)), FOffset: off, FSize: uint32(len(code)), IsCode: true},
	}
	return img
}

// TestAnalyzeScenarioS1 covers spec.md scenario S1: a 2 KB image whose
// .text is a single ret yields one function with one block and one
// instruction.
func TestAnalyzeScenarioS1(t *testing.T) {
	const entry = 0x140001000
	img := buildSingleSectionImage(entry, []byte{0xc3})
	prog := Analyze(img)

	if len(prog.Functions) != 1 {
		t.Fatalf("expected 1 function, got %d", len(prog.Functions))
	}
	fn := prog.Functions[0]
	if fn.Entry != entry {
		t.Fatalf("entry mismatch: got 0x%x want 0x%x", fn.Entry, entry)
	}
	if len(fn.Graph.Blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(fn.Graph.Blocks))
	}
}

// TestAnalyzeIsDeterministic exercises spec.md §8's determinism property
// across the whole pipeline, not just one stage.
func TestAnalyzeIsDeterministic(t *testing.T) {
	const entry = 0x140001000
	code := []byte{0x31, 0xc0, 0xc3} // xor eax,eax ; ret
	imgA := buildSingleSectionImage(entry, code)
	imgB := buildSingleSectionImage(entry, code)

	a := Analyze(imgA)
	b := Analyze(imgB)
	if len(a.Functions) != len(b.Functions) {
		t.Fatalf("function count mismatch: %d vs %d", len(a.Functions), len(b.Functions))
	}
	for i := range a.Functions {
		if a.Functions[i].Entry != b.Functions[i].Entry {
			t.Fatalf("entry mismatch at %d", i)
		}
	}
}
