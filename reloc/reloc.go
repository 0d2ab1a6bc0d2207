// Package reloc rewrites the symbolic cross-references a rendering pass
// leaves behind — import calls, string loads, data references — back
// into concrete RIP-relative displacements against a target image, or
// reports them as unresolved rather than ever touching source text.
//
// It operates purely on the structured asmx.Line/Operand model: no
// string search-and-replace on assembled output.
package reloc

import (
	"fmt"
	"sort"

	"github.com/revtool/revtool/asmx"
	"github.com/revtool/revtool/peimg"
)

// Kind identifies what a symbolic reference resolves to.
type Kind int

const (
	KindImport Kind = iota
	KindExport
	KindSection
	KindString
)

// Ref is one symbolic reference discovered in a Line list, keyed by the
// RIP-relative label it carries (e.g. "import_140002010",
// "str_140003040").
type Ref struct {
	Label string
	Kind  Kind
	VA    uint64
}

// UnresolvedRef reports a symbolic label that did not resolve against the
// target image, along with the source line that referenced it.
type UnresolvedRef struct {
	Label string
	Line  int
}

func (u UnresolvedRef) Error() string {
	return fmt.Sprintf("line %d: unresolved reference %q", u.Line, u.Label)
}

// Policy controls what Relocate does with a reference it cannot resolve.
type Policy int

const (
	// PolicyFail stops at the first unresolved reference.
	PolicyFail Policy = iota
	// PolicySkip leaves the offending line's operand untouched and
	// keeps going, accumulating every unresolved reference it saw.
	PolicySkip
)

// Result is what Relocate hands back: the (possibly modified) Line list,
// the references it resolved, and anything it couldn't.
type Result struct {
	Lines       []asmx.Line
	Resolved    []Ref
	Unresolved  []UnresolvedRef
}

// Relocate walks lines looking for RIP-relative or bare label operands
// whose label matches one of the VA-encoded forms decodeSymbolicLabel
// accepts, resolves each against img via peimg.Resolve, and leaves
// the label in place (labels are resolved at assembly time by asmx
// itself) while recording what each one turned out to be. Labels that
// don't parse as one of those VA-encoded forms are left alone — they are
// ordinary intra-function branch targets, not cross-references.
func Relocate(lines []asmx.Line, img *peimg.Image, policy Policy) (Result, error) {
	res := Result{Lines: lines}
	seen := map[string]bool{}

	for i := range lines {
		for j := range lines[i].Operands {
			op := &lines[i].Operands[j]
			if op.Kind != asmx.OpKindRipLabel && op.Kind != asmx.OpKindLabel {
				continue
			}
			va, ok := decodeSymbolicLabel(op.Label)
			if !ok || seen[op.Label] {
				continue
			}
			seen[op.Label] = true

			resolved := peimg.Resolve(img, va)
			ref, ok := classify(op.Label, va, resolved)
			if !ok {
				u := UnresolvedRef{Label: op.Label, Line: lines[i].SourceLine}
				if policy == PolicyFail {
					return res, u
				}
				res.Unresolved = append(res.Unresolved, u)
				continue
			}
			res.Resolved = append(res.Resolved, ref)
		}
	}

	sort.Slice(res.Resolved, func(a, b int) bool { return res.Resolved[a].VA < res.Resolved[b].VA })
	return res, nil
}

func classify(label string, va uint64, r peimg.Resolved) (Ref, bool) {
	switch r.Kind {
	case peimg.ResolvedImport:
		return Ref{Label: label, Kind: KindImport, VA: va}, true
	case peimg.ResolvedExport:
		return Ref{Label: label, Kind: KindExport, VA: va}, true
	case peimg.ResolvedString:
		return Ref{Label: label, Kind: KindString, VA: va}, true
	case peimg.ResolvedSection:
		return Ref{Label: label, Kind: KindSection, VA: va}, true
	default:
		return Ref{}, false
	}
}

// decodeSymbolicLabel parses render's "data_<hex>" / "import_<hex>" /
// "string_<hex>" / "g_<hex>" / "str_<hex>" / "sub_<hex>" naming back into
// the VA it was derived from.
func decodeSymbolicLabel(label string) (uint64, bool) {
	for _, prefix := range []string{"data_", "import_", "string_", "str_", "g_", "sub_"} {
		if len(label) > len(prefix) && label[:len(prefix)] == prefix {
			var va uint64
			n, err := fmt.Sscanf(label[len(prefix):], "%x", &va)
			if err != nil || n != 1 {
				return 0, false
			}
			return va, true
		}
	}
	return 0, false
}

// Displacement computes the rel32 disp32 a RIP-relative encoding of a
// reference to targetVA needs, given the address immediately following
// the instruction that carries it.
func Displacement(targetVA, instrNextVA uint64) int32 {
	return int32(int64(targetVA) - int64(instrNextVA))
}

// Symbols flattens a Result's resolved references into the label table
// asmx.AssembleLines's Symbols parameter expects, closing the gap
// between this package and the assembler: every import/export/string/
// data reference Relocate resolved becomes an address asmx can encode.
func Symbols(res Result) map[string]uint64 {
	symbols := make(map[string]uint64, len(res.Resolved))
	for _, ref := range res.Resolved {
		symbols[ref.Label] = ref.VA
	}
	return symbols
}
