package common

import "fmt"

// Location pinpoints where an error or warning occurred: a virtual address
// for binary-level issues, or a line/column pair for textual source.
type Location struct {
	VA       uint64
	HasVA    bool
	Line     int
	Col      int
	HasLine  bool
}

func (l Location) String() string {
	switch {
	case l.HasVA && l.HasLine:
		return fmt.Sprintf("va=0x%x line=%d col=%d", l.VA, l.Line, l.Col)
	case l.HasVA:
		return fmt.Sprintf("va=0x%x", l.VA)
	case l.HasLine:
		return fmt.Sprintf("line=%d col=%d", l.Line, l.Col)
	default:
		return ""
	}
}

// AtVA builds a Location carrying only a virtual address.
func AtVA(va uint64) Location { return Location{VA: va, HasVA: true} }

// AtLineCol builds a Location carrying only a line/column pair.
func AtLineCol(line, col int) Location { return Location{Line: line, Col: col, HasLine: true} }

// AnalysisWarning is a non-fatal recovered condition: an overlapping
// function, an unresolved jump, a mixed calling convention, an undecoded
// byte run. Analysis always continues after recording one of these; the
// renderer surfaces them in a file header and, where useful, inline.
type AnalysisWarning struct {
	Kind     string
	Message  string
	Location Location
}

func (w AnalysisWarning) String() string {
	if loc := w.Location.String(); loc != "" {
		return fmt.Sprintf("[%s] %s (%s)", w.Kind, w.Message, loc)
	}
	return fmt.Sprintf("[%s] %s", w.Kind, w.Message)
}

// WarningSink accumulates warnings produced during one analysis pass. It is
// not safe for concurrent use; callers that parallelize over functions
// collect per-function warnings locally and merge them in VA order.
type WarningSink struct {
	warnings []AnalysisWarning
}

func (s *WarningSink) Add(kind, message string, loc Location) {
	s.warnings = append(s.warnings, AnalysisWarning{Kind: kind, Message: message, Location: loc})
}

func (s *WarningSink) All() []AnalysisWarning { return s.warnings }

func (s *WarningSink) Len() int { return len(s.warnings) }

// Merge appends another sink's warnings, used when merging per-function
// results produced by parallel workers back into deterministic VA order.
func (s *WarningSink) Merge(other *WarningSink) {
	if other == nil {
		return
	}
	s.warnings = append(s.warnings, other.warnings...)
}
