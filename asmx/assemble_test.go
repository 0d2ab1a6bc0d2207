package asmx

import "testing"

// TestAssembleScenarioS5MovRet covers spec.md scenario S5: "start: mov
// eax, 1 ; ret" assembles to exactly B8 01 00 00 00 C3.
func TestAssembleScenarioS5MovRet(t *testing.T) {
	out, err := Assemble("start: mov eax, 1\nret\n", 0x140001000, nil)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	want := []byte{0xB8, 0x01, 0x00, 0x00, 0x00, 0xC3}
	if string(out) != string(want) {
		t.Fatalf("got % x want % x", out, want)
	}
}

// TestAssembleScenarioS5ShortForwardJump covers the other half of
// scenario S5: a forward jump to a label immediately after it assembles
// to the 2-byte short form, not the 5-byte near form.
func TestAssembleScenarioS5ShortForwardJump(t *testing.T) {
	out, err := Assemble("jmp forward\nforward:\nret\n", 0x140001000, nil)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 bytes (2-byte jmp + ret), got %d: % x", len(out), out)
	}
	if out[0] != 0xEB || out[1] != 0x00 {
		t.Fatalf("expected short jmp EB 00, got % x", out[:2])
	}
	if out[2] != 0xC3 {
		t.Fatalf("expected trailing ret, got 0x%x", out[2])
	}
}

// TestAssemblePromotesOutOfRangeJumpToNear verifies a backward jump whose
// displacement can't fit in a signed byte gets promoted to the near
// (E9 rel32) encoding by the fixed-point sizing loop.
func TestAssemblePromotesOutOfRangeJumpToNear(t *testing.T) {
	var b []byte
	b = append(b, []byte("back:\n")...)
	for i := 0; i < 200; i++ {
		b = append(b, []byte("nop\n")...)
	}
	b = append(b, []byte("jmp back\n")...)
	out, err := Assemble(string(b), 0x140001000, nil)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if out[len(out)-5] != 0xE9 {
		t.Fatalf("expected near jmp E9 at tail, got % x", out[len(out)-5:])
	}
}

func TestAssembleCallToLabel(t *testing.T) {
	out, err := Assemble("call target\nret\ntarget:\nret\n", 0x140001000, nil)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if out[0] != 0xE8 {
		t.Fatalf("expected call opcode E8, got 0x%x", out[0])
	}
	if len(out) != 5+1+1 {
		t.Fatalf("unexpected length %d", len(out))
	}
}

func TestAssembleDataDirectives(t *testing.T) {
	out, err := Assemble("db 1, 2, 3\ndw 0x1234\n", 0x140001000, nil)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	want := []byte{1, 2, 3, 0x34, 0x12}
	if string(out) != string(want) {
		t.Fatalf("got % x want % x", out, want)
	}
}

func TestAssembleTimesDirective(t *testing.T) {
	out, err := Assemble("times 4 db 0\n", 0x140001000, nil)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	want := []byte{0, 0, 0, 0}
	if string(out) != string(want) {
		t.Fatalf("got % x want % x", out, want)
	}
}

func TestAssembleUndefinedLabelErrors(t *testing.T) {
	_, err := Assemble("jmp nowhere\n", 0x140001000, nil)
	if err == nil {
		t.Fatal("expected an error for an undefined label")
	}
}

// TestAssembleResolvesExternalSymbol covers the reloc.Relocate handoff:
// a symbolic operand this source never defines resolves against the
// externally-supplied symbol table instead of erroring as undefined.
func TestAssembleResolvesExternalSymbol(t *testing.T) {
	symbols := map[string]uint64{"import_7ffabcd0": 0x7ffabcd0}
	out, err := Assemble("mov eax, import_7ffabcd0\nret\n", 0x140001000, symbols)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	want := []byte{0xB8, 0xD0, 0xBC, 0xFA, 0x7F, 0xC3}
	if string(out) != string(want) {
		t.Fatalf("got % x want % x", out, want)
	}
}

func TestAssemblePushPopRegisters(t *testing.T) {
	out, err := Assemble("push rbp\nmov rbp, rsp\npop rbp\nret\n", 0x140001000, nil)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if out[0] != 0x55 {
		t.Fatalf("expected push rbp = 0x55, got 0x%x", out[0])
	}
}
