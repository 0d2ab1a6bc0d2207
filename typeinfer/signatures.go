package typeinfer

// Signature is a curated, read-only projection of a well-known WinAPI
// entry point's shape: parameter count and the type each one most
// commonly carries. It is consulted on a best-effort basis per spec.md
// §4.6 — a miss never changes the decompilation; the renderer does not
// consult this catalog.
type Signature struct {
	Symbol     string
	ParamTypes []TypeHint
	Returns    TypeHint
}

var ptrTo = func(k TypeKind) TypeHint { return TypeHint{Kind: TypePtr, Of: &TypeHint{Kind: k}} }

// signatureCatalog holds a small hand-picked set of the kernel32/user32
// entry points decompiled Windows binaries call constantly. It is the
// one global, read-only table spec.md §9 explicitly permits as a
// singleton.
var signatureCatalog = map[string]Signature{
	"LoadLibraryA": {
		Symbol:     "LoadLibraryA",
		ParamTypes: []TypeHint{{Kind: TypeString}},
		Returns:    TypeHint{Kind: TypePtr, Of: &TypeHint{Kind: TypeUnknown}},
	},
	"LoadLibraryW": {
		Symbol:     "LoadLibraryW",
		ParamTypes: []TypeHint{{Kind: TypeString}},
		Returns:    TypeHint{Kind: TypePtr, Of: &TypeHint{Kind: TypeUnknown}},
	},
	"GetProcAddress": {
		Symbol:     "GetProcAddress",
		ParamTypes: []TypeHint{ptrTo(TypeUnknown), {Kind: TypeString}},
		Returns:    TypeHint{Kind: TypePtr, Of: &TypeHint{Kind: TypeUnknown}},
	},
	"ExitProcess": {
		Symbol:     "ExitProcess",
		ParamTypes: []TypeHint{{Kind: TypeU32}},
		Returns:    TypeHint{Kind: TypeUnknown},
	},
	"VirtualAlloc": {
		Symbol:     "VirtualAlloc",
		ParamTypes: []TypeHint{ptrTo(TypeUnknown), {Kind: TypeU64}, {Kind: TypeU32}, {Kind: TypeU32}},
		Returns:    TypeHint{Kind: TypePtr, Of: &TypeHint{Kind: TypeUnknown}},
	},
	"VirtualFree": {
		Symbol:     "VirtualFree",
		ParamTypes: []TypeHint{ptrTo(TypeUnknown), {Kind: TypeU64}, {Kind: TypeU32}},
		Returns:    TypeHint{Kind: TypeU32},
	},
	"MessageBoxA": {
		Symbol:     "MessageBoxA",
		ParamTypes: []TypeHint{ptrTo(TypeUnknown), {Kind: TypeString}, {Kind: TypeString}, {Kind: TypeU32}},
		Returns:    TypeHint{Kind: TypeI32},
	},
	"CreateFileW": {
		Symbol: "CreateFileW",
		ParamTypes: []TypeHint{
			{Kind: TypeString}, {Kind: TypeU32}, {Kind: TypeU32}, ptrTo(TypeUnknown),
			{Kind: TypeU32}, {Kind: TypeU32}, ptrTo(TypeUnknown),
		},
		Returns: TypeHint{Kind: TypePtr, Of: &TypeHint{Kind: TypeUnknown}},
	},
	"CloseHandle": {
		Symbol:     "CloseHandle",
		ParamTypes: []TypeHint{ptrTo(TypeUnknown)},
		Returns:    TypeHint{Kind: TypeI32},
	},
	"HeapAlloc": {
		Symbol:     "HeapAlloc",
		ParamTypes: []TypeHint{ptrTo(TypeUnknown), {Kind: TypeU32}, {Kind: TypeU64}},
		Returns:    TypeHint{Kind: TypePtr, Of: &TypeHint{Kind: TypeUnknown}},
	},
	"GetLastError": {
		Symbol:     "GetLastError",
		ParamTypes: nil,
		Returns:    TypeHint{Kind: TypeU32},
	},
}

// LookupSignature returns the curated signature for symbol, if any is
// known.
func LookupSignature(symbol string) (Signature, bool) {
	sig, ok := signatureCatalog[symbol]
	return sig, ok
}
