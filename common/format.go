package common

import "fmt"

// HexVA formats a virtual address the way every rendered artifact does:
// lower-case, zero-padded to 8 hex digits for 32-bit fields and left bare
// otherwise.
func HexVA(va uint64) string {
	return fmt.Sprintf("0x%08x", va)
}

// HumanSize formats a byte count the way pe_info.txt dumps section sizes.
func HumanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Bar renders a simple ASCII meter used by the analyzer's entropy and
// packing-score summaries in console output.
func Bar(fraction float64, width int) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction * float64(width))
	b := make([]byte, width)
	for i := range b {
		if i < filled {
			b[i] = '#'
		} else {
			b[i] = '-'
		}
	}
	return string(b)
}
