package asmx

import (
	"strconv"
	"strings"
)

// Parse tokenizes and parses Intel-syntax source into a Line list. It
// does not resolve operand sizes or labels — that happens in the
// assembler's two passes.
func Parse(source string) ([]Line, *AsmError) {
	var lines []Line
	for i, raw := range strings.Split(source, "\n") {
		lineNo := i + 1
		text := raw
		comment := ""
		if idx := strings.IndexAny(text, ";"); idx >= 0 {
			comment = strings.TrimSpace(text[idx+1:])
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			if comment != "" {
				lines = append(lines, Line{SourceLine: lineNo, Comment: comment})
			}
			continue
		}

		label := ""
		if idx := strings.Index(text, ":"); idx >= 0 {
			candidate := strings.TrimSpace(text[:idx])
			if isIdentifier(candidate) {
				label = candidate
				text = strings.TrimSpace(text[idx+1:])
			}
		}

		if text == "" {
			lines = append(lines, Line{SourceLine: lineNo, Label: label, Comment: comment})
			continue
		}

		mnemonic, rest := splitFirstToken(text)
		line := Line{SourceLine: lineNo, Label: label, Mnemonic: strings.ToUpper(mnemonic), Comment: comment}

		switch line.Mnemonic {
		case "DB", "DW", "DD", "DQ":
			line.RawArgs = splitArgs(rest)
		case "TIMES", "ALIGN", "SECTION":
			// These take a single raw remainder: TIMES's is "<count>
			// <directive-or-instruction> <args...>"; ALIGN's and
			// SECTION's are a bare expression/name.
			line.RawArgs = []string{strings.TrimSpace(rest)}
		default:
			ops, err := parseOperands(rest, lineNo)
			if err != nil {
				return nil, err
			}
			line.Operands = ops
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}
		if i > 0 && r >= '0' && r <= '9' {
			continue
		}
		return false
	}
	return true
}

func splitFirstToken(s string) (string, string) {
	s = strings.TrimSpace(s)
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimSpace(s[idx+1:])
}

func splitArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func parseOperands(s string, lineNo int) ([]Operand, *AsmError) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ops []Operand
	for _, part := range splitArgs(s) {
		op, err := parseOperand(part, lineNo)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func parseOperand(s string, lineNo int) (Operand, *AsmError) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Operand{}, errAt(lineNo, 1, "empty operand")
	}

	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		return parseMemOperand(s[1:len(s)-1], lineNo)
	}

	if isRegister(strings.ToUpper(s)) {
		return Operand{Kind: OpKindReg, Reg: strings.ToUpper(s)}, nil
	}

	if n, err := strconv.ParseInt(s, 0, 64); err == nil {
		return Operand{Kind: OpKindImm, Imm: n}, nil
	}

	if isIdentifier(s) {
		return Operand{Kind: OpKindLabel, Label: s}, nil
	}

	return Operand{}, errAt(lineNo, 1, "unrecognized operand %q", s)
}

// parseMemOperand handles [rip+label], [reg], [reg+disp], [reg+reg*scale],
// and [reg+reg*scale+disp] per spec.md §4.8's required addressing modes.
func parseMemOperand(inner string, lineNo int) (Operand, *AsmError) {
	inner = strings.ReplaceAll(inner, " ", "")
	if strings.HasPrefix(strings.ToUpper(inner), "RIP+") {
		return Operand{Kind: OpKindRipLabel, Label: inner[4:]}, nil
	}

	terms := splitSigned(inner)
	op := Operand{Kind: OpKindMem, Scale: 1}
	for _, term := range terms {
		switch {
		case strings.Contains(term, "*"):
			pieces := strings.SplitN(term, "*", 2)
			op.Index = strings.ToUpper(pieces[0])
			scale, err := strconv.Atoi(pieces[1])
			if err != nil {
				return Operand{}, errAt(lineNo, 1, "bad scale in %q", term)
			}
			op.Scale = scale
		case isRegister(strings.ToUpper(term)):
			if op.Base == "" {
				op.Base = strings.ToUpper(term)
			} else {
				op.Index = strings.ToUpper(term)
			}
		default:
			n, err := strconv.ParseInt(term, 0, 64)
			if err != nil {
				return Operand{}, errAt(lineNo, 1, "bad displacement in %q", term)
			}
			op.Disp = n
		}
	}
	return op, nil
}

// splitSigned splits "rax+rbx*4-8" into ["rax","+rbx*4","-8"]-style
// terms, preserving the sign on every term after the first.
func splitSigned(s string) []string {
	var terms []string
	start := 0
	for i := 1; i < len(s); i++ {
		if s[i] == '+' || s[i] == '-' {
			terms = append(terms, s[start:i])
			start = i
		}
	}
	terms = append(terms, s[start:])
	cleaned := make([]string, 0, len(terms))
	for _, t := range terms {
		if strings.HasPrefix(t, "+") {
			t = t[1:]
		}
		cleaned = append(cleaned, t)
	}
	return cleaned
}

var registers64 = map[string]bool{
	"RAX": true, "RBX": true, "RCX": true, "RDX": true, "RSI": true, "RDI": true,
	"RBP": true, "RSP": true, "R8": true, "R9": true, "R10": true, "R11": true,
	"R12": true, "R13": true, "R14": true, "R15": true,
}
var registers32 = map[string]bool{
	"EAX": true, "EBX": true, "ECX": true, "EDX": true, "ESI": true, "EDI": true,
	"EBP": true, "ESP": true, "R8D": true, "R9D": true, "R10D": true, "R11D": true,
	"R12D": true, "R13D": true, "R14D": true, "R15D": true,
}

func isRegister(s string) bool {
	return registers64[s] || registers32[s]
}

func regSize(reg string) int {
	if registers64[reg] {
		return 8
	}
	if registers32[reg] {
		return 4
	}
	return 0
}
