package peimg

import "testing"

// TestReassembleRoundTrip verifies spec.md §8 property 1: reassembling the
// original .text bytes back into the original image reproduces it
// byte-for-byte.
func TestReassembleRoundTrip(t *testing.T) {
	original := buildFixture(fixtureOptions{textBytes: []byte{0xC3}})
	img, err := Parse(original, ParseOptions{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	idx, ok := img.TextSection()
	if !ok {
		t.Fatal("expected a .text section")
	}
	sec := img.Sections[idx]
	originalText := append([]byte(nil), original[sec.FOffset:sec.FOffset+sec.FSize]...)

	out, rerr := Reassemble(img, originalText, ReassembleOptions{})
	if rerr != nil {
		t.Fatalf("Reassemble failed: %v", rerr)
	}
	if len(out) != len(original) {
		t.Fatalf("length mismatch: got %d want %d", len(out), len(original))
	}
	for i := range out {
		if out[i] != original[i] {
			t.Fatalf("byte mismatch at offset %d: got %02x want %02x", i, out[i], original[i])
		}
	}
}

// TestReassembleOnlyTouchesText verifies that patching shorter new text
// only changes bytes inside [text.foff, text.foff+text.fsize).
func TestReassembleOnlyTouchesText(t *testing.T) {
	original := buildFixture(fixtureOptions{textBytes: []byte{0xC3}})
	img, err := Parse(original, ParseOptions{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	idx, _ := img.TextSection()
	sec := img.Sections[idx]

	newText := []byte{0x90, 0x90, 0xC3}
	out, rerr := Reassemble(img, newText, ReassembleOptions{})
	if rerr != nil {
		t.Fatalf("Reassemble failed: %v", rerr)
	}

	for i := 0; i < len(original); i++ {
		inText := uint32(i) >= sec.FOffset && uint32(i) < sec.FOffset+sec.FSize
		if !inText && out[i] != original[i] {
			t.Fatalf("byte outside .text changed at offset %d: got %02x want %02x", i, out[i], original[i])
		}
	}
	for i, b := range newText {
		if out[int(sec.FOffset)+i] != b {
			t.Fatalf("new text byte %d mismatch: got %02x want %02x", i, out[int(sec.FOffset)+i], b)
		}
	}
	for i := int(sec.FOffset) + len(newText); i < int(sec.FOffset+sec.FSize); i++ {
		if out[i] != 0x90 {
			t.Fatalf("expected NOP padding at offset %d, got %02x", i, out[i])
		}
	}
}

// TestReassembleTextTooLarge verifies spec.md §8 property 8.
func TestReassembleTextTooLarge(t *testing.T) {
	original := buildFixture(fixtureOptions{textBytes: []byte{0xC3}})
	img, err := Parse(original, ParseOptions{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	idx, _ := img.TextSection()
	sec := img.Sections[idx]

	tooBig := make([]byte, sec.FSize+1)
	_, rerr := Reassemble(img, tooBig, ReassembleOptions{})
	if rerr == nil || rerr.Kind != TextTooLarge {
		t.Fatalf("expected TextTooLarge, got %v", rerr)
	}
}

// TestReassembleChecksum verifies spec.md S6: with the checksum flag on,
// only the CheckSum field changes outside .text.
func TestReassembleChecksum(t *testing.T) {
	original := buildFixture(fixtureOptions{textBytes: []byte{0xC3}})
	img, err := Parse(original, ParseOptions{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	idx, _ := img.TextSection()
	sec := img.Sections[idx]

	newText := []byte{0x90, 0xC3}
	out, rerr := Reassemble(img, newText, ReassembleOptions{RecalculateChecksum: true})
	if rerr != nil {
		t.Fatalf("Reassemble failed: %v", rerr)
	}

	for i := 0; i < len(original); i++ {
		inText := uint32(i) >= sec.FOffset && uint32(i) < sec.FOffset+sec.FSize
		inChecksum := int64(i) >= img.checksumOffset && int64(i) < img.checksumOffset+4
		if !inText && !inChecksum && out[i] != original[i] {
			t.Fatalf("byte outside .text/checksum changed at offset %d", i)
		}
	}

	want := ComputePEChecksum(out, img.checksumOffset)
	got := uint32(out[img.checksumOffset]) | uint32(out[img.checksumOffset+1])<<8 |
		uint32(out[img.checksumOffset+2])<<16 | uint32(out[img.checksumOffset+3])<<24
	if got != want {
		t.Fatalf("checksum field not self-consistent: stored=%x recomputed-from-output=%x", got, want)
	}
}
