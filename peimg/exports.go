package peimg

import "encoding/binary"

// parseExports walks the Export Directory at dirRVA/dirSize, per
// spec.md §4.1: every named export becomes (export_rva+image_base) -> name;
// forwarded exports (function RVA pointing back inside the export
// directory itself) stay in Exports with Forwarder set and are also
// recorded in Imports as the forward target.
func parseExports(img *Image, dirRVA, dirSize uint32) {
	off, ok := img.RVAToFileOffset(dirRVA)
	if !ok {
		return
	}
	if int64(off)+40 > int64(len(img.Data)) {
		return
	}
	dir := img.Data[off : off+40]

	nameRVA := binary.LittleEndian.Uint32(dir[12:16])
	ordinalBase := binary.LittleEndian.Uint32(dir[16:20])
	numFunctions := binary.LittleEndian.Uint32(dir[20:24])
	numNames := binary.LittleEndian.Uint32(dir[24:28])
	addrFunctionsRVA := binary.LittleEndian.Uint32(dir[28:32])
	addrNamesRVA := binary.LittleEndian.Uint32(dir[32:36])
	addrOrdinalsRVA := binary.LittleEndian.Uint32(dir[36:40])
	_ = nameRVA

	funcsOff, ok := img.RVAToFileOffset(addrFunctionsRVA)
	if !ok {
		return
	}

	namedByOrdIndex := map[uint32]string{}
	if numNames > 0 {
		namesOff, okN := img.RVAToFileOffset(addrNamesRVA)
		ordsOff, okO := img.RVAToFileOffset(addrOrdinalsRVA)
		if okN && okO {
			for i := uint32(0); i < numNames; i++ {
				no := int64(namesOff) + int64(i)*4
				oo := int64(ordsOff) + int64(i)*2
				if no+4 > int64(len(img.Data)) || oo+2 > int64(len(img.Data)) {
					break
				}
				nRVA := binary.LittleEndian.Uint32(img.Data[no : no+4])
				ordIndex := binary.LittleEndian.Uint16(img.Data[oo : oo+2])
				namedByOrdIndex[uint32(ordIndex)] = img.readCString(nRVA)
			}
		}
	}

	for i := uint32(0); i < numFunctions; i++ {
		fo := int64(funcsOff) + int64(i)*4
		if fo+4 > int64(len(img.Data)) {
			break
		}
		funcRVA := binary.LittleEndian.Uint32(img.Data[fo : fo+4])
		if funcRVA == 0 {
			continue
		}
		name := namedByOrdIndex[i]
		ordinal := uint16(ordinalBase + i)

		if funcRVA >= dirRVA && funcRVA < dirRVA+dirSize {
			// Forwarded export: the "function RVA" actually points at a
			// "DLL.Symbol" string; keep the export with its Forwarder and
			// also record it as an import of the forward target.
			forwardStr := img.readCString(funcRVA)
			dll, sym := splitForward(forwardStr)
			if dll != "" && sym != "" {
				va := img.ImageBase + uint64(funcRVA)
				img.Exports[va] = ExportEntry{Name: name, Ordinal: ordinal, RVA: funcRVA, Forwarder: forwardStr}
				img.Imports[va] = ImportEntry{DLL: dll, Symbol: sym}
			}
			continue
		}

		va := img.ImageBase + uint64(funcRVA)
		img.Exports[va] = ExportEntry{Name: name, Ordinal: ordinal, RVA: funcRVA}
	}
}

func splitForward(s string) (dll, sym string) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return s[:i], s[i+1:]
		}
	}
	return "", ""
}
