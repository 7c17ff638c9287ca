package asm

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/rvcheck/internal/rv"
)

// SyntaxError reports a line the assembler cannot accept.
type SyntaxError struct {
	Line int
	Text string
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Msg, e.Text)
}

// pseudos rewrite a mnemonic into a base instruction with fixed operands.
// A "$N" operand refers to the N-th operand written by the user.
var pseudos = map[string]struct {
	op       string
	operands []string
}{
	"nop":  {"addi", []string{"zero", "zero", "0"}},
	"mv":   {"addi", []string{"$0", "$1", "0"}},
	"j":    {"jal", []string{"zero", "$0"}},
	"ret":  {"jalr", []string{"zero", "0(ra)"}},
	"beqz": {"beq", []string{"$0", "zero", "$1"}},
	"bnez": {"bne", []string{"$0", "zero", "$1"}},
}

var operandCounts = map[rv.Format]int{
	rv.FormatNone:   0,
	rv.FormatR:      3,
	rv.FormatI:      3,
	rv.FormatMem:    2,
	rv.FormatShift6: 3,
	rv.FormatShift5: 3,
	rv.FormatUnary:  2,
	rv.FormatS:      2,
	rv.FormatB:      3,
	rv.FormatU:      2,
	rv.FormatJ:      2,
	rv.FormatAMO:    3,
	rv.FormatLR:     2,
}

type statement struct {
	line   int
	text   string
	addr   uint64
	inst   rv.Instruction
	target string // unresolved label operand of a branch or jump
	data   []byte // directive payload; nil for instructions

	// tail is the second instruction of a two-instruction li.
	tail *rv.Instruction
}

func (s statement) size() uint64 {
	if s.data != nil {
		return uint64(len(s.data))
	}
	if s.tail != nil {
		return 8
	}
	return 4
}

// instructions returns the instructions the statement expands to.
func (s statement) instructions() []rv.Instruction {
	if s.tail != nil {
		return []rv.Instruction{s.inst, *s.tail}
	}
	return []rv.Instruction{s.inst}
}

// Parse reads assembly text into instructions. Every instruction has Length
// 4 and is known to encode. Directives are rejected.
func Parse(text string) ([]rv.Instruction, error) {
	stmts, err := parse(text, false)
	if err != nil {
		return nil, err
	}
	out := make([]rv.Instruction, 0, len(stmts))
	for _, s := range stmts {
		out = append(out, s.instructions()...)
	}
	return out, nil
}

// Assemble reads assembly text, including .half and .word directives, and
// returns the little-endian machine code laid out from offset 0.
func Assemble(text string) ([]byte, error) {
	stmts, err := parse(text, true)
	if err != nil {
		return nil, err
	}
	var out []byte
	for _, s := range stmts {
		if s.data != nil {
			out = append(out, s.data...)
			continue
		}
		for _, inst := range s.instructions() {
			w, err := rv.Encode(inst)
			if err != nil {
				return nil, &SyntaxError{Line: s.line, Text: s.text, Msg: err.Error()}
			}
			out = binary.LittleEndian.AppendUint32(out, w)
		}
	}
	return out, nil
}

func parse(text string, directives bool) ([]statement, error) {
	text = norm.NFC.String(text)
	labels := make(map[string]uint64)
	var stmts []statement
	var addr uint64

	for n, raw := range strings.Split(text, "\n") {
		lineNo := n + 1
		line := strings.TrimSpace(stripComment(raw))
		for {
			idx := strings.IndexByte(line, ':')
			if idx <= 0 || !isIdent(line[:idx]) {
				break
			}
			name := line[:idx]
			if _, dup := labels[name]; dup {
				return nil, &SyntaxError{Line: lineNo, Text: raw, Msg: "duplicate label " + name}
			}
			labels[name] = addr
			line = strings.TrimSpace(line[idx+1:])
		}
		if line == "" {
			continue
		}
		s, err := parseStatement(line, directives)
		if err != nil {
			return nil, &SyntaxError{Line: lineNo, Text: line, Msg: err.Error()}
		}
		s.line, s.text, s.addr = lineNo, line, addr
		addr += s.size()
		stmts = append(stmts, s)
	}

	for i := range stmts {
		s := &stmts[i]
		if s.target != "" {
			dest, ok := labels[s.target]
			if !ok {
				return nil, &SyntaxError{Line: s.line, Text: s.text, Msg: "undefined label " + s.target}
			}
			s.inst.Imm = int64(dest - s.addr)
		}
		if s.data != nil {
			continue
		}
		for _, inst := range s.instructions() {
			if _, err := rv.Encode(inst); err != nil {
				return nil, &SyntaxError{Line: s.line, Text: s.text, Msg: err.Error()}
			}
		}
	}
	return stmts, nil
}

func stripComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		line = line[:idx]
	}
	if idx := strings.Index(line, "//"); idx >= 0 {
		line = line[:idx]
	}
	return line
}

func isIdent(s string) bool {
	for i, c := range s {
		switch {
		case c == '_' || c == '.' || unicode.IsLetter(c):
		case i > 0 && unicode.IsDigit(c):
		default:
			return false
		}
	}
	return s != ""
}

func parseStatement(line string, directives bool) (statement, error) {
	mnemonic, rest := line, ""
	if idx := strings.IndexAny(line, " \t"); idx >= 0 {
		mnemonic, rest = line[:idx], line[idx+1:]
	}
	mnemonic = strings.ToLower(mnemonic)
	operands := splitOperands(rest)

	if strings.HasPrefix(mnemonic, ".") {
		if !directives {
			return statement{}, fmt.Errorf("directive %s not allowed here", mnemonic)
		}
		return parseDirective(mnemonic, operands)
	}

	if mnemonic == "li" {
		return loadImmediate(operands)
	}
	if p, ok := pseudos[mnemonic]; ok {
		expanded, err := expand(p.operands, operands)
		if err != nil {
			return statement{}, fmt.Errorf("%s: %w", mnemonic, err)
		}
		mnemonic, operands = p.op, expanded
	}

	op, ok := rv.LookupOpcode(mnemonic)
	if !ok {
		return statement{}, fmt.Errorf("unknown mnemonic %s", mnemonic)
	}
	if op.IsFused() {
		return statement{}, fmt.Errorf("%s is a fused macro-op and has no text form", mnemonic)
	}
	return parseOperands(op, operands)
}

// loadImmediate expands li. A 12-bit value becomes one addi; any other
// value that fits in 32 signed bits becomes lui followed by addiw, with the
// addiw dropped when the low 12 bits are zero.
func loadImmediate(ops []string) (statement, error) {
	if len(ops) != 2 {
		return statement{}, fmt.Errorf("li expects 2 operands, got %d", len(ops))
	}
	rd, err := register(ops[0])
	if err != nil {
		return statement{}, err
	}
	v, err := immediate(ops[1])
	if err != nil {
		return statement{}, err
	}
	if v >= -2048 && v <= 2047 {
		return statement{inst: rv.Instruction{Op: rv.OpAddi, Rd: rd, Imm: v, Length: 4}}, nil
	}
	if v != int64(int32(v)) {
		return statement{}, fmt.Errorf("li immediate %d does not fit in 32 bits", v)
	}
	lo := v << 52 >> 52
	hi := int64(int32(v - lo))
	s := statement{inst: rv.Instruction{Op: rv.OpLui, Rd: rd, Imm: hi, Length: 4}}
	if lo != 0 {
		s.tail = &rv.Instruction{Op: rv.OpAddiw, Rd: rd, Rs1: rd, Imm: lo, Length: 4}
	}
	return s, nil
}

func splitOperands(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func expand(template, given []string) ([]string, error) {
	used := 0
	out := make([]string, len(template))
	for i, t := range template {
		if !strings.HasPrefix(t, "$") {
			out[i] = t
			continue
		}
		n, _ := strconv.Atoi(t[1:])
		if n >= len(given) {
			return nil, fmt.Errorf("missing operand %d", n+1)
		}
		out[i] = given[n]
		used++
	}
	if used != len(given) {
		return nil, fmt.Errorf("expected %d operands, got %d", used, len(given))
	}
	return out, nil
}

func parseDirective(name string, operands []string) (statement, error) {
	var width int
	switch name {
	case ".half":
		width = 2
	case ".word":
		width = 4
	default:
		return statement{}, fmt.Errorf("unknown directive %s", name)
	}
	if len(operands) == 0 {
		return statement{}, fmt.Errorf("%s needs at least one value", name)
	}
	data := make([]byte, 0, width*len(operands))
	for _, o := range operands {
		v, err := strconv.ParseUint(o, 0, width*8)
		if err != nil {
			return statement{}, fmt.Errorf("%s value %q: %w", name, o, err)
		}
		if width == 2 {
			data = binary.LittleEndian.AppendUint16(data, uint16(v))
		} else {
			data = binary.LittleEndian.AppendUint32(data, uint32(v))
		}
	}
	return statement{data: data}, nil
}

func parseOperands(op rv.Opcode, ops []string) (statement, error) {
	format := op.Format()
	if want := operandCounts[format]; len(ops) != want {
		return statement{}, fmt.Errorf("%s expects %d operands, got %d", op, want, len(ops))
	}
	s := statement{inst: rv.Instruction{Op: op, Length: 4}}
	inst := &s.inst
	var err error
	regs := func(dst ...*uint8) {
		for i, d := range dst {
			if err != nil {
				return
			}
			*d, err = register(ops[i])
		}
	}

	switch format {
	case rv.FormatR:
		regs(&inst.Rd, &inst.Rs1, &inst.Rs2)
	case rv.FormatI, rv.FormatShift6, rv.FormatShift5:
		regs(&inst.Rd, &inst.Rs1)
		if err == nil {
			inst.Imm, err = immediate(ops[2])
		}
	case rv.FormatMem:
		regs(&inst.Rd)
		if err == nil {
			inst.Imm, inst.Rs1, err = memory(ops[1])
		}
	case rv.FormatUnary:
		regs(&inst.Rd, &inst.Rs1)
	case rv.FormatS:
		regs(&inst.Rs2)
		if err == nil {
			inst.Imm, inst.Rs1, err = memory(ops[1])
		}
	case rv.FormatB:
		regs(&inst.Rs1, &inst.Rs2)
		if err == nil {
			inst.Imm, s.target, err = target(ops[2])
		}
	case rv.FormatU:
		regs(&inst.Rd)
		if err == nil {
			inst.Imm, err = upper(ops[1])
		}
	case rv.FormatJ:
		regs(&inst.Rd)
		if err == nil {
			inst.Imm, s.target, err = target(ops[1])
		}
	case rv.FormatAMO:
		regs(&inst.Rd, &inst.Rs2)
		if err == nil {
			inst.Rs1, err = indirect(ops[2])
		}
	case rv.FormatLR:
		regs(&inst.Rd)
		if err == nil {
			inst.Rs1, err = indirect(ops[1])
		}
	}
	return s, err
}

func register(s string) (uint8, error) {
	r, ok := rv.LookupRegister(strings.ToLower(s))
	if !ok {
		return 0, fmt.Errorf("unknown register %q", s)
	}
	return r, nil
}

func immediate(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad immediate %q", s)
	}
	return v, nil
}

// upper parses the 20-bit operand of lui/auipc.
func upper(s string) (int64, error) {
	v, err := strconv.ParseUint(s, 0, 20)
	if err != nil {
		return 0, fmt.Errorf("bad upper immediate %q", s)
	}
	return int64(int32(uint32(v) << 12)), nil
}

// memory parses offset(base). The offset may be omitted.
func memory(s string) (int64, uint8, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return 0, 0, fmt.Errorf("bad memory operand %q", s)
	}
	var off int64
	if head := strings.TrimSpace(s[:open]); head != "" {
		var err error
		if off, err = immediate(head); err != nil {
			return 0, 0, err
		}
	}
	base, err := register(strings.TrimSpace(s[open+1 : len(s)-1]))
	return off, base, err
}

func indirect(s string) (uint8, error) {
	off, base, err := memory(s)
	if err == nil && off != 0 {
		err = fmt.Errorf("atomic address %q takes no offset", s)
	}
	return base, err
}

// target parses a branch or jump operand: a numeric byte offset or a label.
func target(s string) (int64, string, error) {
	if isIdent(s) {
		return 0, s, nil
	}
	v, err := immediate(s)
	return v, "", err
}
