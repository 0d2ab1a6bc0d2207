// Package peimg implements the PE analyzer (parsing, section/import/export
// extraction, VA resolution) and the PE reassembler (patching a new .text
// section back into an otherwise byte-identical image). The two share the
// same immutable Image/byte-buffer model, the way the teacher's PEFile
// carries both read and write operations on one struct.
package peimg

import (
	gope "github.com/Velocidex/go-pe"

	"github.com/revtool/revtool/common"
)

// Section describes one section of a parsed image, file-range and
// virtual-range both present so callers can go either direction.
type Section struct {
	Name    string
	RawName [8]byte

	VAddr uint32
	VSize uint32

	FOffset uint32
	FSize   uint32

	Flags uint32

	IsCode bool
	IsData bool

	Entropy     float64
	Fingerprint common.SectionFingerprint
}

// FileRange returns the [start, end) byte range of this section in the
// file.
func (s Section) FileRange() (start, end uint32) { return s.FOffset, s.FOffset + s.FSize }

// VirtualRange returns the [start, end) RVA range of this section in
// memory.
func (s Section) VirtualRange() (start, end uint32) { return s.VAddr, s.VAddr + s.VSize }

// Contains reports whether rva falls inside this section's virtual range.
func (s Section) Contains(rva uint32) bool {
	return rva >= s.VAddr && rva < s.VAddr+s.VSize
}

// ImportEntry identifies one resolved import slot.
type ImportEntry struct {
	DLL     string
	Symbol  string // "#<ordinal>" for ordinal-only imports
	Ordinal uint16
	ByOrd   bool
}

// ExportEntry identifies one resolved export.
type ExportEntry struct {
	Name      string
	Ordinal   uint16
	RVA       uint32
	Forwarder string // non-empty if this export forwards to another DLL!symbol
}

// Image is the immutable, fully-parsed representation of a PE32/PE32+
// file. Once returned by Parse it is never mutated; Reassemble always
// clones the backing bytes before patching.
type Image struct {
	Data []byte

	ImageBase     uint64
	EntryPointRVA uint32
	IsPE32Plus    bool
	Machine       uint16
	TimeDateStamp uint32
	SizeOfImage   uint32
	SizeOfHeaders uint32
	Subsystem     uint16

	Sections []Section

	// Imports maps an IAT slot VA to the import it will be patched with.
	Imports map[uint64]ImportEntry
	// Exports maps an export VA to its export entry.
	Exports map[uint64]ExportEntry

	IATStart uint64
	IATEnd   uint64
	HasIAT   bool

	// rvaResolver does the RVA-to-file-offset arithmetic RVAToFileOffset
	// delegates to, built once from the parsed section table.
	rvaResolver *gope.RVAResolver

	// Offsets needed to patch fields in place without re-parsing.
	lfanewOffset   int64
	peHeaderOffset int64 // offset of "PE\0\0"
	coffOffset     int64
	optHeaderOffset int64
	checksumOffset int64
	sectionTableOffset int64

	Warnings common.WarningSink
}

// TextSection returns the section most plausibly holding executable code
// for reassembly purposes: the first section named ".text", falling back
// to the first section with IsCode set.
func (img *Image) TextSection() (int, bool) {
	for i, s := range img.Sections {
		if s.Name == ".text" {
			return i, true
		}
	}
	for i, s := range img.Sections {
		if s.IsCode {
			return i, true
		}
	}
	return 0, false
}

// EntryVA returns the absolute virtual address of the entry point.
func (img *Image) EntryVA() uint64 { return img.ImageBase + uint64(img.EntryPointRVA) }
