package common

// Status symbols used by CLI reporting and rendered-file headers. Kept as
// plain constants rather than an enum: callers only ever interpolate them
// into format strings.
const (
	SymbolCheck = "✓"
	SymbolCross = "✗"
	SymbolInfo  = "ℹ"
	SymbolWarn  = "⚠"
)
