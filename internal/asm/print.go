// Package asm renders instructions as canonical text and parses that text
// back.
//
// The canonical form uses ABI register names, decimal immediates, memory
// operands written as offset(base), and the upper 20 bits in hex for lui and
// auipc. Print followed by Parse reproduces the decoded instruction for every
// non-fused opcode, apart from Length which text cannot express.
package asm

import (
	"fmt"

	"github.com/roach88/rvcheck/internal/rv"
)

// Print renders inst in canonical form.
func Print(inst rv.Instruction) string {
	op := inst.Op.String()
	rd := rv.RegisterName(inst.Rd)
	rs1 := rv.RegisterName(inst.Rs1)
	rs2 := rv.RegisterName(inst.Rs2)

	switch inst.Op.Format() {
	case rv.FormatR:
		return fmt.Sprintf("%s %s, %s, %s", op, rd, rs1, rs2)
	case rv.FormatI, rv.FormatShift6, rv.FormatShift5:
		return fmt.Sprintf("%s %s, %s, %d", op, rd, rs1, inst.Imm)
	case rv.FormatMem:
		return fmt.Sprintf("%s %s, %d(%s)", op, rd, inst.Imm, rs1)
	case rv.FormatUnary:
		return fmt.Sprintf("%s %s, %s", op, rd, rs1)
	case rv.FormatS:
		return fmt.Sprintf("%s %s, %d(%s)", op, rs2, inst.Imm, rs1)
	case rv.FormatB:
		return fmt.Sprintf("%s %s, %s, %d", op, rs1, rs2, inst.Imm)
	case rv.FormatU:
		return fmt.Sprintf("%s %s, 0x%x", op, rd, uint32(inst.Imm)>>12)
	case rv.FormatJ:
		return fmt.Sprintf("%s %s, %d", op, rd, inst.Imm)
	case rv.FormatAMO:
		return fmt.Sprintf("%s %s, %s, (%s)", op, rd, rs2, rs1)
	case rv.FormatLR:
		return fmt.Sprintf("%s %s, (%s)", op, rd, rs1)
	case rv.FormatFused:
		return printFused(inst)
	}
	return op
}

func printFused(inst rv.Instruction) string {
	op := inst.Op.String()
	switch inst.Op {
	case rv.OpFarJumpRel, rv.OpFarJumpAbs, rv.OpLdSext32Const:
		return fmt.Sprintf("%s %s, %d", op, rv.RegisterName(inst.Rd), inst.Imm)
	case rv.OpAdc:
		return fmt.Sprintf("%s %s, %s, %s", op,
			rv.RegisterName(inst.Rd), rv.RegisterName(inst.Rs1), rv.RegisterName(inst.Rs2))
	case rv.OpSbb:
		return fmt.Sprintf("%s %s, %s, %s, %s", op,
			rv.RegisterName(inst.Rd), rv.RegisterName(inst.Rs1),
			rv.RegisterName(inst.Rs2), rv.RegisterName(inst.Rs3))
	}
	return fmt.Sprintf("%s %s, %s, %s, %s", op,
		rv.RegisterName(inst.Rd), rv.RegisterName(inst.Rs3),
		rv.RegisterName(inst.Rs1), rv.RegisterName(inst.Rs2))
}
