package peimg

import (
	"bytes"
	"testing"
)

func TestParseMinimalPE(t *testing.T) {
	data := buildFixture(fixtureOptions{textBytes: []byte{0xC3}})
	img, err := Parse(data, ParseOptions{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !img.IsPE32Plus {
		t.Fatal("expected PE32+")
	}
	if img.ImageBase != fixtureImageBase {
		t.Fatalf("image base mismatch: got 0x%x", img.ImageBase)
	}
	if img.EntryPointRVA != fixtureTextRVA {
		t.Fatalf("entry point mismatch: got 0x%x", img.EntryPointRVA)
	}
	if len(img.Sections) != 1 || img.Sections[0].Name != ".text" {
		t.Fatalf("unexpected sections: %+v", img.Sections)
	}
	if !img.Sections[0].IsCode {
		t.Fatal("expected .text to be marked IsCode")
	}
}

func TestParseRejectsTooSmall(t *testing.T) {
	_, err := Parse(make([]byte, 10), ParseOptions{})
	if err == nil || err.Kind != TooSmall {
		t.Fatalf("expected TooSmall, got %v", err)
	}
}

func TestParseRejectsBadDosMagic(t *testing.T) {
	data := buildFixture(fixtureOptions{textBytes: []byte{0xC3}})
	data[0] = 'X'
	_, err := Parse(data, ParseOptions{})
	if err == nil || err.Kind != BadDosMagic {
		t.Fatalf("expected BadDosMagic, got %v", err)
	}
}

func TestParseRejectsBadMachine(t *testing.T) {
	data := buildFixture(fixtureOptions{textBytes: []byte{0xC3}})
	coff := fixtureLfanew + 4
	data[coff] = 0xAB
	data[coff+1] = 0xCD
	_, err := Parse(data, ParseOptions{})
	if err == nil || err.Kind != BadMachine {
		t.Fatalf("expected BadMachine, got %v", err)
	}
}

func TestParseRejectsOverlappingSections(t *testing.T) {
	data := buildFixture(fixtureOptions{withImports: true, textBytes: []byte{0xC3}})
	// Force the .rdata section's file range to collide with .text's.
	st := fixtureSectionsOff + 40
	writeSectionHeader(data[st:st+40], ".rdata", fixtureRdataRVA, 0x40, fixtureHeaderSize, 0x40, 0x40000040)
	_, err := Parse(data, ParseOptions{})
	if err == nil || err.Kind != OverlappingSections {
		t.Fatalf("expected OverlappingSections, got %v", err)
	}
}

func TestParseRejectsSuspiciousEntryUnlessForced(t *testing.T) {
	data := buildFixture(fixtureOptions{textBytes: []byte{0xC3}})
	oh := fixtureOptHdrOff
	data[oh+16] = 0
	data[oh+17] = 0
	data[oh+18] = 0
	data[oh+19] = 0
	_, err := Parse(data, ParseOptions{})
	if err == nil || err.Kind != SuspiciousEntry {
		t.Fatalf("expected SuspiciousEntry, got %v", err)
	}
	img, err2 := Parse(data, ParseOptions{ForceEntry: true})
	if err2 != nil {
		t.Fatalf("expected force-entry parse to succeed, got %v", err2)
	}
	if img.EntryPointRVA != 0 {
		t.Fatalf("expected entry point 0, got 0x%x", img.EntryPointRVA)
	}
}

func TestParseImportsAndResolve(t *testing.T) {
	data := buildFixture(fixtureOptions{textBytes: []byte{0xC3}, withImports: true})
	img, err := Parse(data, ParseOptions{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(img.Imports) != 2 {
		t.Fatalf("expected 2 imports, got %d: %+v", len(img.Imports), img.Imports)
	}

	var sawGetProcAddress, sawLoadLibraryA bool
	var slotVA uint64
	for va, imp := range img.Imports {
		if imp.DLL != "kernel32.dll" {
			t.Fatalf("unexpected dll %q", imp.DLL)
		}
		switch imp.Symbol {
		case "GetProcAddress":
			sawGetProcAddress = true
			slotVA = va
		case "LoadLibraryA":
			sawLoadLibraryA = true
		default:
			t.Fatalf("unexpected import symbol %q", imp.Symbol)
		}
	}
	if !sawGetProcAddress || !sawLoadLibraryA {
		t.Fatalf("missing expected imports: %+v", img.Imports)
	}

	resolved := Resolve(img, slotVA)
	if resolved.Kind != ResolvedImport || resolved.Symbol != "GetProcAddress" || resolved.DLL != "kernel32.dll" {
		t.Fatalf("unexpected resolve result: %+v", resolved)
	}

	if !img.HasIAT {
		t.Fatal("expected HasIAT to be set")
	}
	for va := range img.Imports {
		r := Resolve(img, va)
		if r.Kind != ResolvedImport {
			t.Fatalf("every import slot must resolve to Import, got %+v for va=0x%x", r, va)
		}
	}
}

// TestRVAToFileOffsetUsesGoPEResolver covers the RVA mapping
// buildRVAResolver/RVAToFileOffset delegate to go-pe's RVAResolver: an
// RVA inside .text resolves to the expected file offset, and one
// outside every section reports not found.
func TestRVAToFileOffsetUsesGoPEResolver(t *testing.T) {
	data := buildFixture(fixtureOptions{textBytes: []byte{0xC3, 0x90, 0x90, 0x90}})
	img, err := Parse(data, ParseOptions{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	off, ok := img.RVAToFileOffset(fixtureTextRVA + 2)
	if !ok {
		t.Fatal("expected fixtureTextRVA+2 to resolve")
	}
	if want := fixtureHeaderSize + 2; off != uint32(want) {
		t.Fatalf("got offset 0x%x want 0x%x", off, want)
	}

	if _, ok := img.RVAToFileOffset(0x9000); ok {
		t.Fatal("expected an RVA outside every section to report not found")
	}
}

func TestWriteInfoReportIsDeterministic(t *testing.T) {
	data := buildFixture(fixtureOptions{textBytes: []byte{0xC3}, withImports: true})
	img, err := Parse(data, ParseOptions{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	var a, b bytes.Buffer
	if err := img.WriteInfoReport(&a); err != nil {
		t.Fatal(err)
	}
	if err := img.WriteInfoReport(&b); err != nil {
		t.Fatal(err)
	}
	if a.String() != b.String() {
		t.Fatal("WriteInfoReport is not deterministic")
	}
}
