package funcdisco

import (
	"testing"

	"github.com/revtool/revtool/disasm"
	"github.com/revtool/revtool/peimg"
)

func decodeAt(t *testing.T, base uint64, code []byte) []disasm.Instruction {
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
	return disasm.Disassemble(img, sec)
}

// TestDiscoverSingleRetFunction covers spec.md scenario S1: a function
// body that is just a ret yields exactly one function with one
// instruction.
func TestDiscoverSingleRetFunction(t *testing.T) {
	const entry = 0x140001000
	insts := decodeAt(t, entry, []byte{0xc3}) // ret
	img := &peimg.Image{EntryPointRVA: uint32(entry - 0x140000000), ImageBase: 0x140000000}

	funcs := Discover(img, [][]disasm.Instruction{insts})
	if len(funcs) != 1 {
		t.Fatalf("expected exactly 1 function, got %d", len(funcs))
	}
	if funcs[0].EntryVA != entry {
		t.Fatalf("entry mismatch: got 0x%x want 0x%x", funcs[0].EntryVA, entry)
	}
	if len(funcs[0].Instructions) != 1 {
		t.Fatalf("expected 1 instruction, got %d", len(funcs[0].Instructions))
	}
}

// TestDiscoverFollowsCallIntoNewFunction verifies that a direct call
// target becomes its own discovered function, separate from the caller.
func TestDiscoverFollowsCallIntoNewFunction(t *testing.T) {
	const entry = 0x140001000
	code := []byte{
		0xe8, 0x05, 0x00, 0x00, 0x00, // call +5 (callee at entry+10)
		0xc3,                   // ret
		0x90, 0x90, 0x90, 0x90, // padding to reach the callee offset
		0xc3, // callee: ret
	}
	insts := decodeAt(t, entry, code)
	img := &peimg.Image{EntryPointRVA: uint32(entry - 0x140000000), ImageBase: 0x140000000}

	funcs := Discover(img, [][]disasm.Instruction{insts})
	var sawCaller, sawCallee bool
	for _, fn := range funcs {
		if fn.EntryVA == entry {
			sawCaller = true
		}
		if fn.EntryVA == entry+10 {
			sawCallee = true
		}
	}
	if !sawCaller || !sawCallee {
		t.Fatalf("expected both caller and callee functions, got %+v", funcs)
	}
}

// TestDiscoverBackEdgeStaysInOneFunction covers spec.md scenario S4's
// shape: a loop body must remain part of a single function, not be
// split off.
func TestDiscoverBackEdgeStaysInOneFunction(t *testing.T) {
	const entry = 0x140001000
	code := []byte{
		0xb9, 0x0a, 0x00, 0x00, 0x00, // mov ecx, 10
		0xff, 0xc9, // L: dec ecx
		0x75, 0xfc, // jnz L
		0xc3, // ret
	}
	insts := decodeAt(t, entry, code)
	img := &peimg.Image{EntryPointRVA: uint32(entry - 0x140000000), ImageBase: 0x140000000}

	funcs := Discover(img, [][]disasm.Instruction{insts})
	if len(funcs) != 1 {
		t.Fatalf("expected 1 function, got %d: %+v", len(funcs), funcs)
	}
	if len(funcs[0].Instructions) != 4 {
		t.Fatalf("expected all 4 instructions in one function, got %d", len(funcs[0].Instructions))
	}
}
