package asmx

import (
	"strconv"
	"strings"
)

// Assemble runs the full two-pass pipeline spec.md §4.8 describes:
// parse, then iteratively size every line (branches start optimistically
// short and promote to near only when a resolved displacement doesn't
// fit), then emit bytes against the now-stable label addresses. symbols
// seeds the label table with externally-resolved addresses — typically
// reloc.Relocate's output — so operands that name a symbol this source
// never defines (an import, a data VA, a string VA) still resolve. A nil
// map is fine when the source is fully self-contained.
func Assemble(source string, base uint64, symbols map[string]uint64) ([]byte, *AsmError) {
	lines, err := Parse(source)
	if err != nil {
		return nil, err
	}
	return AssembleLines(lines, base, symbols)
}

// AssembleLines assembles an already-parsed Line list; render's output
// and this package's own tests both go through this entry point.
func AssembleLines(lines []Line, base uint64, symbols map[string]uint64) ([]byte, *AsmError) {
	assumptions := make([]string, len(lines))
	for i, line := range lines {
		if isBranchMnemonic(line.Mnemonic) {
			assumptions[i] = "short"
		}
	}

	var labels map[string]uint64
	var sizes []int
	for iter := 0; iter < len(lines)+2; iter++ {
		var lerr *AsmError
		labels, sizes, lerr = layout(lines, base, assumptions, symbols)
		if lerr != nil {
			return nil, lerr
		}
		promoted := false
		for i, line := range lines {
			if assumptions[i] != "short" {
				continue
			}
			addr := base + uint64(sumBefore(sizes, i))
			target, ok := labels[branchTargetLabel(line)]
			if !ok {
				continue
			}
			disp := int64(target) - int64(addr+2)
			if disp < -128 || disp > 127 {
				assumptions[i] = "near"
				promoted = true
			}
		}
		if !promoted {
			break
		}
	}

	var out []byte
	addr := base
	for i, line := range lines {
		chunk, lerr := emitLine(line, addr, sizes[i], assumptions[i], labels)
		if lerr != nil {
			return nil, lerr
		}
		out = append(out, chunk...)
		addr += uint64(len(chunk))
	}
	return out, nil
}

func sumBefore(sizes []int, idx int) int {
	total := 0
	for i := 0; i < idx; i++ {
		total += sizes[i]
	}
	return total
}

func isBranchMnemonic(m string) bool {
	if m == "JMP" {
		return true
	}
	_, ok := condCode(m)
	return ok
}

func branchTargetLabel(line Line) string {
	if len(line.Operands) == 0 {
		return ""
	}
	return line.Operands[0].Label
}

// layout computes each line's address and size under the current set of
// branch-size assumptions, without resolving backward label references
// that haven't been seen yet in a first sweep — labels resolve to
// whatever address they end up at once the whole table is built, since
// Go map lookups don't care about declaration order. symbols seeds the
// table first; a label this source actually declares always takes
// precedence over an externally-resolved symbol of the same name.
func layout(lines []Line, base uint64, assumptions []string, symbols map[string]uint64) (map[string]uint64, []int, *AsmError) {
	labels := make(map[string]uint64, len(symbols))
	for name, va := range symbols {
		labels[name] = va
	}
	sizes := make([]int, len(lines))
	addr := base

	for i, line := range lines {
		if line.Label != "" {
			labels[line.Label] = addr
		}
		size, err := lineSize(line, assumptions[i])
		if err != nil {
			return nil, nil, err
		}
		sizes[i] = size
		addr += uint64(size)
	}
	return labels, sizes, nil
}

func lineSize(line Line, assumption string) (int, *AsmError) {
	switch line.Mnemonic {
	case "":
		return 0, nil
	case "DB":
		return dataSize(line, 1), nil
	case "DW":
		return dataSize(line, 2), nil
	case "DD":
		return dataSize(line, 4), nil
	case "DQ":
		return dataSize(line, 8), nil
	case "TIMES":
		count, sub, serr := parseTimes(line)
		if serr != nil {
			return 0, serr
		}
		subSize, err := lineSize(sub, "short")
		if err != nil {
			return 0, err
		}
		return count * subSize, nil
	case "ALIGN", "SECTION":
		return 0, nil
	default:
		return sizeOf(line, assumption)
	}
}

func emitLine(line Line, addr uint64, size int, assumption string, labels map[string]uint64) ([]byte, *AsmError) {
	switch line.Mnemonic {
	case "":
		return nil, nil
	case "DB":
		return emitData(line, 1)
	case "DW":
		return emitData(line, 2)
	case "DD":
		return emitData(line, 4)
	case "DQ":
		return emitData(line, 8)
	case "TIMES":
		count, sub, err := parseTimes(line)
		if err != nil {
			return nil, err
		}
		subSize, err := lineSize(sub, "short")
		if err != nil {
			return nil, err
		}
		chunk, err := emitLine(sub, addr, subSize, "short", labels)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, count*len(chunk))
		for i := 0; i < count; i++ {
			out = append(out, chunk...)
		}
		return out, nil
	case "ALIGN", "SECTION":
		return nil, nil
	default:
		return emit(line, addr, size, assumption, labels)
	}
}

func dataSize(line Line, elemSize int) int {
	total := 0
	for _, arg := range line.RawArgs {
		if isQuoted(arg) {
			total += len(unquote(arg))
			continue
		}
		total += elemSize
	}
	return total
}

func emitData(line Line, elemSize int) ([]byte, *AsmError) {
	var out []byte
	for _, arg := range line.RawArgs {
		if isQuoted(arg) {
			out = append(out, []byte(unquote(arg))...)
			continue
		}
		n, err := strconv.ParseInt(arg, 0, 64)
		if err != nil {
			return nil, errAt(line.SourceLine, 1, "bad %s value %q", line.Mnemonic, arg)
		}
		buf := make([]byte, elemSize)
		for i := 0; i < elemSize; i++ {
			buf[i] = byte(n >> (8 * i))
		}
		out = append(out, buf...)
	}
	return out, nil
}

func isQuoted(s string) bool {
	return len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"'
}

func unquote(s string) string {
	return s[1 : len(s)-1]
}

// parseTimes splits a TIMES line's raw remainder "<count> <mnemonic>
// <args...>" into its repeat count and the Line it repeats.
func parseTimes(line Line) (int, Line, *AsmError) {
	if len(line.RawArgs) != 1 {
		return 0, Line{}, errAt(line.SourceLine, 1, "malformed times directive")
	}
	countStr, rest := splitFirstToken(line.RawArgs[0])
	count, err := strconv.Atoi(strings.TrimSpace(countStr))
	if err != nil {
		return 0, Line{}, errAt(line.SourceLine, 1, "bad times count %q", countStr)
	}
	mnemonic, tail := splitFirstToken(rest)
	sub := Line{SourceLine: line.SourceLine, Mnemonic: strings.ToUpper(mnemonic)}
	switch sub.Mnemonic {
	case "DB", "DW", "DD", "DQ":
		sub.RawArgs = splitArgs(tail)
	default:
		ops, operr := parseOperands(tail, line.SourceLine)
		if operr != nil {
			return 0, Line{}, operr
		}
		sub.Operands = ops
	}
	return count, sub, nil
}
