package rv

import "fmt"

// EncodeError reports an instruction that has no 32-bit encoding.
type EncodeError struct {
	Inst   Instruction
	Reason string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %s", e.Inst.Op, e.Reason)
}

// Encode returns the 32-bit encoding of inst. Compressed instructions are
// encoded as their base expansion; Length is ignored.
func Encode(inst Instruction) (uint32, error) {
	fail := func(format string, args ...any) (uint32, error) {
		return 0, &EncodeError{Inst: inst, Reason: fmt.Sprintf(format, args...)}
	}
	if inst.Op.IsFused() {
		return fail("fused macro-ops have no single encoding")
	}
	e, ok := entriesByOp[inst.Op]
	if !ok {
		return fail("unknown opcode")
	}
	if inst.Rd >= NumRegisters || inst.Rs1 >= NumRegisters || inst.Rs2 >= NumRegisters {
		return fail("register out of range")
	}
	rd := uint32(inst.Rd) << 7
	rs1 := uint32(inst.Rs1) << 15
	rs2 := uint32(inst.Rs2) << 20
	imm := inst.Imm

	switch e.format {
	case FormatR, FormatAMO:
		return e.match | rd | rs1 | rs2, nil
	case FormatLR, FormatUnary:
		return e.match | rd | rs1, nil
	case FormatI, FormatMem:
		if imm < -2048 || imm > 2047 {
			return fail("immediate %d out of 12-bit range", imm)
		}
		return e.match | rd | rs1 | uint32(imm)&0xfff<<20, nil
	case FormatShift6, FormatShift5:
		limit := int64(63)
		if e.format == FormatShift5 {
			limit = 31
		}
		if imm < 0 || imm > limit {
			return fail("shift amount %d out of range 0..%d", imm, limit)
		}
		return e.match | rd | rs1 | uint32(imm)<<20, nil
	case FormatS:
		if imm < -2048 || imm > 2047 {
			return fail("offset %d out of 12-bit range", imm)
		}
		u := uint32(imm)
		return e.match | rs1 | rs2 | u&0x1f<<7 | u>>5&0x7f<<25, nil
	case FormatB:
		if imm < -4096 || imm > 4094 || imm&1 != 0 {
			return fail("branch offset %d out of range or odd", imm)
		}
		u := uint32(imm)
		return e.match | rs1 | rs2 |
			u>>12&0x1<<31 | u>>5&0x3f<<25 | u>>1&0xf<<8 | u>>11&0x1<<7, nil
	case FormatU:
		if int64(int32(imm)) != imm || imm&0xfff != 0 {
			return fail("upper immediate 0x%x is not a sign-extended multiple of 4096", imm)
		}
		return e.match | rd | uint32(imm)&0xfffff000, nil
	case FormatJ:
		if imm < -(1<<20) || imm > 1<<20-2 || imm&1 != 0 {
			return fail("jump offset %d out of range or odd", imm)
		}
		u := uint32(imm)
		return e.match | rd |
			u>>20&0x1<<31 | u>>1&0x3ff<<21 | u>>11&0x1<<20 | u&0xff000, nil
	case FormatNone:
		if inst.Op == OpFence {
			return e.match | 0x0ff00000, nil
		}
		return e.match, nil
	}
	return fail("unhandled format")
}
