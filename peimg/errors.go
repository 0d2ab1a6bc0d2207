package peimg

import "fmt"

// PeErrorKind enumerates the validation-failure kinds spec.md §4.1/§7
// names. Parse returns the first one encountered, in the fixed validation
// order, and never a generic error.
type PeErrorKind int

const (
	TooSmall PeErrorKind = iota
	BadDosMagic
	BadPeOffset
	BadPeMagic
	BadMachine
	BadOptMagic
	SuspiciousEntry
	OverlappingSections
	Malformed
)

func (k PeErrorKind) String() string {
	switch k {
	case TooSmall:
		return "TooSmall"
	case BadDosMagic:
		return "BadDosMagic"
	case BadPeOffset:
		return "BadPeOffset"
	case BadPeMagic:
		return "BadPeMagic"
	case BadMachine:
		return "BadMachine"
	case BadOptMagic:
		return "BadOptMagic"
	case SuspiciousEntry:
		return "SuspiciousEntry"
	case OverlappingSections:
		return "OverlappingSections"
	case Malformed:
		return "Malformed"
	default:
		return "Unknown"
	}
}

// PeError is a fatal parse-time failure. Where is an optional free-form
// qualifier (used for Malformed{where}).
type PeError struct {
	Kind  PeErrorKind
	Where string
}

func (e *PeError) Error() string {
	if e.Where != "" {
		return fmt.Sprintf("PeError::%s{%s}", e.Kind, e.Where)
	}
	return fmt.Sprintf("PeError::%s", e.Kind)
}

func newErr(kind PeErrorKind) *PeError               { return &PeError{Kind: kind} }
func newErrWhere(kind PeErrorKind, where string) *PeError { return &PeError{Kind: kind, Where: where} }

// ReasmErrorKind enumerates the fatal reassembly failures spec.md §4.10/§7
// names.
type ReasmErrorKind int

const (
	TextTooLarge ReasmErrorKind = iota
	NoTextSection
	MalformedSourcePe
)

func (k ReasmErrorKind) String() string {
	switch k {
	case TextTooLarge:
		return "TextTooLarge"
	case NoTextSection:
		return "NoTextSection"
	case MalformedSourcePe:
		return "MalformedSourcePe"
	default:
		return "Unknown"
	}
}

// ReasmError is a fatal reassembly failure. OldSize/NewSize are populated
// for TextTooLarge.
type ReasmError struct {
	Kind    ReasmErrorKind
	OldSize int
	NewSize int
}

func (e *ReasmError) Error() string {
	if e.Kind == TextTooLarge {
		return fmt.Sprintf("ReasmError::TextTooLarge{old=%d, new=%d}", e.OldSize, e.NewSize)
	}
	return fmt.Sprintf("ReasmError::%s", e.Kind)
}
