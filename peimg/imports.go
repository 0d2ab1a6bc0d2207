package peimg

import (
	"encoding/binary"
	"fmt"

	"github.com/revtool/revtool/common"
)

const ordinalFlag32 = uint32(1) << 31
const ordinalFlag64 = uint64(1) << 63

// parseImports walks the Import Directory starting at dirRVA, per
// spec.md §4.1: each descriptor yields a DLL name and an (IAT, ILT) pair;
// malformed descriptors are skipped and counted as a warning rather than
// aborting the whole walk.
func parseImports(img *Image, dirRVA uint32) {
	ptrSize := uint32(4)
	if img.IsPE32Plus {
		ptrSize = 8
	}

	var minSlot, maxSlot uint64
	sawAny := false
	skipped := 0

	off, ok := img.RVAToFileOffset(dirRVA)
	if !ok {
		return
	}

	for descOff := int64(off); ; descOff += importDescSize {
		if descOff+importDescSize > int64(len(img.Data)) {
			break
		}
		desc := img.Data[descOff : descOff+importDescSize]
		originalFirstThunk := binary.LittleEndian.Uint32(desc[0:4])
		nameRVA := binary.LittleEndian.Uint32(desc[12:16])
		firstThunk := binary.LittleEndian.Uint32(desc[16:20])

		if originalFirstThunk == 0 && nameRVA == 0 && firstThunk == 0 {
			break
		}
		if nameRVA == 0 || firstThunk == 0 {
			skipped++
			continue
		}

		dllName := img.readCString(nameRVA)
		if dllName == "" {
			skipped++
			continue
		}

		thunkRVA := originalFirstThunk
		if thunkRVA == 0 {
			thunkRVA = firstThunk
		}

		j := uint32(0)
		for {
			entryRVA := thunkRVA + j*ptrSize
			iatSlotRVA := firstThunk + j*ptrSize

			entryOff, ok := img.RVAToFileOffset(entryRVA)
			if !ok {
				break
			}

			var entry uint64
			var isZero bool
			if img.IsPE32Plus {
				if int64(entryOff)+8 > int64(len(img.Data)) {
					break
				}
				entry = binary.LittleEndian.Uint64(img.Data[entryOff : entryOff+8])
				isZero = entry == 0
			} else {
				if int64(entryOff)+4 > int64(len(img.Data)) {
					break
				}
				entry = uint64(binary.LittleEndian.Uint32(img.Data[entryOff : entryOff+4]))
				isZero = entry == 0
			}
			if isZero {
				break
			}

			slotVA := img.ImageBase + uint64(iatSlotRVA)
			imp := ImportEntry{DLL: dllName}

			if img.IsPE32Plus && entry&ordinalFlag64 != 0 {
				ord := uint16(entry & 0xFFFF)
				imp.Ordinal = ord
				imp.ByOrd = true
				imp.Symbol = ordinalSymbol(ord)
			} else if !img.IsPE32Plus && uint32(entry)&ordinalFlag32 != 0 {
				ord := uint16(entry & 0xFFFF)
				imp.Ordinal = ord
				imp.ByOrd = true
				imp.Symbol = ordinalSymbol(ord)
			} else {
				nameRVA := uint32(entry)
				// IMAGE_IMPORT_BY_NAME: Hint(2) then name string.
				imp.Symbol = img.readCString(nameRVA + 2)
			}

			img.Imports[slotVA] = imp
			if !sawAny || slotVA < minSlot {
				minSlot = slotVA
			}
			slotEnd := slotVA + uint64(ptrSize)
			if !sawAny || slotEnd > maxSlot {
				maxSlot = slotEnd
			}
			sawAny = true
			j++
		}
	}

	if sawAny {
		img.IATStart, img.IATEnd, img.HasIAT = minSlot, maxSlot, true
	}
	if skipped > 0 {
		img.Warnings.Add("ImportDescriptor", "skipped malformed import descriptor(s)", common.Location{})
	}
}

func ordinalSymbol(ord uint16) string {
	return fmt.Sprintf("#%d", ord)
}
