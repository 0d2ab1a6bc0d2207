package peimg

import "encoding/binary"

// ReassembleOptions controls the optional behaviors spec.md §4.10 allows.
type ReassembleOptions struct {
	// RecalculateChecksum updates the PE CheckSum field per the standard
	// algorithm after patching. Off by default (spec.md rule 5).
	RecalculateChecksum bool

	// PreserveTimestamp keeps the cloned image's COFF TimeDateStamp
	// untouched. Reassemble never writes that field, whatever this is set
	// to (including the zero value false); the option exists so callers can assert the
	// policy explicitly rather than relying on an implicit default
	// (supplements original_source/src/pe_reassembler.rs's
	// preserve_timestamps flag, dropped by the distilled spec).
	PreserveTimestamp bool
}

// Reassemble clones preserved byte-for-byte, locates the .text section via
// its section table, and replaces only that section's file range with
// newText, padding the remainder with 0x90 (NOP). It never modifies the
// section header, never touches any other section, and never recomputes
// the checksum unless asked. preserved must already be a successfully
// parsed Image (constructed by Parse against the original bytes) so that
// Reassemble can reuse its section table without re-validating the file.
func Reassemble(preserved *Image, newText []byte, opts ReassembleOptions) ([]byte, *ReasmError) {
	idx, ok := preserved.TextSection()
	if !ok {
		return nil, &ReasmError{Kind: NoTextSection}
	}
	sec := preserved.Sections[idx]

	if len(newText) > int(sec.FSize) {
		return nil, &ReasmError{Kind: TextTooLarge, OldSize: int(sec.FSize), NewSize: len(newText)}
	}

	out := make([]byte, len(preserved.Data))
	copy(out, preserved.Data)

	start := sec.FOffset
	copy(out[start:start+uint32(len(newText))], newText)
	for i := start + uint32(len(newText)); i < start+sec.FSize; i++ {
		out[i] = 0x90
	}

	if opts.RecalculateChecksum {
		sum := ComputePEChecksum(out, preserved.checksumOffset)
		binary.LittleEndian.PutUint32(out[preserved.checksumOffset:preserved.checksumOffset+4], sum)
	}

	return out, nil
}
