package peimg

import "github.com/revtool/revtool/common"

// ResolvedKind tags the sum type spec.md §4.1 returns from resolve().
type ResolvedKind int

const (
	ResolvedImport ResolvedKind = iota
	ResolvedExport
	ResolvedIatSlot
	ResolvedSection
	ResolvedString
	ResolvedUnknown
)

// Resolved is the VA-resolution result. Only the fields matching Kind are
// meaningful.
type Resolved struct {
	Kind ResolvedKind

	DLL    string
	Symbol string

	ExportName string

	SectionName string
	SectionOff  uint32

	StringValue    string
	StringEncoding common.StringEncoding
}

// Resolve applies a fixed priority order: Import, then Export, then
// IatSlot; for a VA inside a section, a best-effort string scan (.rdata
// and .data only) is tried before falling back to Section; anything else
// is Unknown.
func Resolve(img *Image, va uint64) Resolved {
	if imp, ok := img.Imports[va]; ok {
		return Resolved{Kind: ResolvedImport, DLL: imp.DLL, Symbol: imp.Symbol}
	}
	if exp, ok := img.Exports[va]; ok {
		return Resolved{Kind: ResolvedExport, ExportName: exp.Name}
	}
	if img.HasIAT && va >= img.IATStart && va < img.IATEnd {
		return Resolved{Kind: ResolvedIatSlot}
	}
	if va >= img.ImageBase {
		rva := uint32(va - img.ImageBase)
		if idx, ok := img.SectionForRVA(rva); ok {
			sec := img.Sections[idx]
			if s, enc, ok := scanStringAt(img, sec, rva); ok {
				return Resolved{Kind: ResolvedString, StringValue: s, StringEncoding: enc}
			}
			return Resolved{Kind: ResolvedSection, SectionName: sec.Name, SectionOff: rva - sec.VAddr}
		}
	}
	return Resolved{Kind: ResolvedUnknown}
}

// scanStringAt looks for a printable run starting at the given RVA inside
// .rdata/.data sections only, per spec.md's resolve() fallback. It reuses
// common's ASCII/UTF-16LE run scanner.
func scanStringAt(img *Image, sec Section, rva uint32) (string, common.StringEncoding, bool) {
	if sec.Name != ".rdata" && sec.Name != ".data" {
		return "", 0, false
	}
	off, ok := img.RVAToFileOffset(rva)
	if !ok {
		return "", 0, false
	}
	start := int(off)
	end := start + 256
	if end > len(img.Data) {
		end = len(img.Data)
	}
	if start >= end {
		return "", 0, false
	}
	runs := common.ExtractPrintableRuns(img.Data[start:end])
	for _, r := range runs {
		if r.Offset == 0 {
			return r.Value, r.Encoding, true
		}
	}
	return "", 0, false
}
