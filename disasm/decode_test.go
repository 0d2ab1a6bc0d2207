package disasm

import (
	"testing"

	"github.com/revtool/revtool/peimg"
)

func makeTextImage(t *testing.T, code []byte) *peimg.Image {
	t.Helper()
	img := &peimg.Image{
		Data:          append(append([]byte{}, make([]byte, 0x1000)...), code...),
		ImageBase:     0x140000000,
		IsPE32Plus:    true,
		EntryPointRVA: 0x1000,
	}
	img.Sections = []peimg.Section{
		{
			Name:    ".text",
			VAddr:   0x1000,
			VSize:   uint32(len(code)),
			FOffset: 0x1000,
			FSize:   uint32(len(code)),
			IsCode:  true,
		},
	}
	return img
}

// TestDisassembleIsDeterministic covers spec.md §8 property 2: decoding the
// same bytes twice yields an identical instruction stream.
func TestDisassembleIsDeterministic(t *testing.T) {
	code := []byte{
		0x48, 0x8b, 0x05, 0x10, 0x00, 0x00, 0x00, // mov rax, [rip+0x10]
		0xc3, // ret
	}
	img := makeTextImage(t, code)
	sec := img.Sections[0]

	a := Disassemble(img, sec)
	b := Disassemble(img, sec)
	if len(a) != len(b) {
		t.Fatalf("length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].VA != b[i].VA || a[i].Mnemonic != b[i].Mnemonic || a[i].Length != b[i].Length {
			t.Fatalf("mismatch at %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

// TestRipRelativeMovLoad covers the "MOV r, [rip+d]" detail-floor case from
// spec.md §4.2: the RIP-relative target must be resolved to an absolute VA
// and flagged as a data access, not a branch.
func TestRipRelativeMovLoad(t *testing.T) {
	code := []byte{0x48, 0x8b, 0x05, 0x10, 0x00, 0x00, 0x00} // mov rax, [rip+0x10]
	img := makeTextImage(t, code)
	insts := Disassemble(img, img.Sections[0])
	if len(insts) != 1 {
		t.Fatalf("expected 1 instruction, got %d", len(insts))
	}
	inst := insts[0]
	if inst.Undecoded {
		t.Fatal("expected successful decode")
	}
	if len(inst.Operands) != 2 || inst.Operands[1].Kind != OperandRipRel {
		t.Fatalf("expected second operand to be rip-relative, got %+v", inst.Operands)
	}
	wantTarget := inst.VA + uint64(inst.Length) + 0x10
	if inst.Operands[1].Rip.TargetVA != wantTarget {
		t.Fatalf("target mismatch: got 0x%x want 0x%x", inst.Operands[1].Rip.TargetVA, wantTarget)
	}
	if !inst.Operands[1].Rip.IsDataAccess {
		t.Fatal("expected IsDataAccess true for a mov load")
	}
}

// TestRipRelativeIndirectCall covers the "FF /2 call [rip+d]" detail-floor
// case: it must be flagged as a non-data-access RIP-relative operand so
// IsRipRelativeCallOrJump recognizes it as control flow, not a load.
func TestRipRelativeIndirectCall(t *testing.T) {
	code := []byte{0xff, 0x15, 0x20, 0x00, 0x00, 0x00} // call [rip+0x20]
	img := makeTextImage(t, code)
	insts := Disassemble(img, img.Sections[0])
	if len(insts) != 1 {
		t.Fatalf("expected 1 instruction, got %d", len(insts))
	}
	inst := insts[0]
	if !IsCall(inst) {
		t.Fatalf("expected CALL, got %s", inst.Mnemonic)
	}
	if !IsRipRelativeCallOrJump(inst) {
		t.Fatal("expected IsRipRelativeCallOrJump to be true")
	}
	for _, o := range inst.Operands {
		if o.Kind == OperandRipRel && o.Rip.IsDataAccess {
			t.Fatal("indirect call target must not be flagged as data access")
		}
	}
}

// TestUndecodedByteAdvancesOne verifies the sweep never stalls on bad
// bytes: spec.md §4.2 requires each failing byte to advance the cursor by
// exactly one and keep going.
func TestUndecodedByteAdvancesOne(t *testing.T) {
	code := []byte{0x0f, 0xff, 0xc3} // 0x0f 0xff is not a valid opcode pair
	img := makeTextImage(t, code)
	insts := Disassemble(img, img.Sections[0])
	if len(insts) == 0 {
		t.Fatal("expected at least one instruction")
	}
	total := uint64(0)
	for _, in := range insts {
		total += uint64(in.Length)
	}
	if total != uint64(len(code)) {
		t.Fatalf("lengths don't cover the full buffer: got %d want %d", total, len(code))
	}
}

func TestDirectCallTarget(t *testing.T) {
	code := []byte{0xe8, 0x05, 0x00, 0x00, 0x00, 0x90, 0x90, 0x90, 0x90, 0x90} // call +5
	img := makeTextImage(t, code)
	insts := Disassemble(img, img.Sections[0])
	inst := insts[0]
	if !IsCall(inst) {
		t.Fatalf("expected call, got %s", inst.Mnemonic)
	}
	target, ok := DirectBranchTarget(inst)
	if !ok {
		t.Fatal("expected a resolvable direct branch target")
	}
	want := inst.NextVA() + 5
	if target != want {
		t.Fatalf("target mismatch: got 0x%x want 0x%x", target, want)
	}
}

func TestClassifyPredicates(t *testing.T) {
	code := []byte{
		0xeb, 0x00, // jmp +0
		0x74, 0x00, // je +0
		0xe8, 0x00, 0x00, 0x00, 0x00, // call +0
		0xc3, // ret
	}
	img := makeTextImage(t, code)
	insts := Disassemble(img, img.Sections[0])
	if len(insts) != 4 {
		t.Fatalf("expected 4 instructions, got %d", len(insts))
	}
	if !IsUnconditionalJump(insts[0]) {
		t.Fatal("expected unconditional jump")
	}
	if !IsConditionalJump(insts[1]) {
		t.Fatal("expected conditional jump")
	}
	if !IsCall(insts[2]) {
		t.Fatal("expected call")
	}
	if !IsReturn(insts[3]) {
		t.Fatal("expected return")
	}
}
