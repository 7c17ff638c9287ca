package rv

// span reports how many instructions a macro-op opened by op covers, or 0
// when op opens none.
func span(op Opcode) int {
	switch op {
	case OpMulh, OpMulhu, OpMulhsu, OpDiv, OpDivu, OpAuipc, OpLui:
		return 2
	case OpAdd, OpSub:
		return carryLen
	}
	return 0
}

// widePairs maps the first half of a wide arithmetic pair to the second
// opcode it needs and the fused result.
var widePairs = map[Opcode]struct {
	second Opcode
	fused  Opcode
}{
	OpMulh:   {OpMul, OpWideMul},
	OpMulhu:  {OpMul, OpWideMulu},
	OpMulhsu: {OpMul, OpWideMulsu},
	OpDiv:    {OpRem, OpWideDiv},
	OpDivu:   {OpRemu, OpWideDivu},
}

// fuse combines a run of adjacent 32-bit instructions into one macro-op.
// seq holds the opener followed by as many successors as could be decoded.
func fuse(seq []Instruction) (Instruction, bool) {
	switch seq[0].Op {
	case OpAdd, OpSub:
		return fuseCarry(seq)
	}
	if len(seq) < 2 {
		return Instruction{}, false
	}
	return fusePair(seq[0], seq[1])
}

// fusePair handles the two-instruction macro-ops.
//
// Wide pairs write Rd (high word or quotient) and Rs3 (low word or
// remainder) from the same sources; the first destination must not clobber
// a source or alias the second destination. Far jumps must link through ra
// and jump through it. The 32-bit constant load must target a real register.
func fusePair(a, b Instruction) (Instruction, bool) {
	if p, ok := widePairs[a.Op]; ok {
		if b.Op != p.second || a.Rs1 != b.Rs1 || a.Rs2 != b.Rs2 {
			return Instruction{}, false
		}
		if a.Rd == a.Rs1 || a.Rd == a.Rs2 || a.Rd == b.Rd {
			return Instruction{}, false
		}
		return Instruction{Op: p.fused, Rd: a.Rd, Rs1: a.Rs1, Rs2: a.Rs2, Rs3: b.Rd, Length: 8}, true
	}

	switch a.Op {
	case OpAuipc, OpLui:
		if b.Op == OpJalr && a.Rd == RegRA && b.Rd == RegRA && b.Rs1 == RegRA {
			op := OpFarJumpRel
			if a.Op == OpLui {
				op = OpFarJumpAbs
			}
			return Instruction{Op: op, Rd: RegRA, Imm: a.Imm + b.Imm, Length: 8}, true
		}
		if a.Op == OpLui && b.Op == OpAddiw && a.Rd != RegZero && b.Rd == a.Rd && b.Rs1 == a.Rd {
			return Instruction{Op: OpLdSext32Const, Rd: a.Rd, Imm: int64(int32(a.Imm + b.Imm)), Length: 8}, true
		}
	}
	return Instruction{}, false
}

// carryLen is the number of instructions an adc or sbb macro-op covers.
const carryLen = 5

// Components returns the base instructions a carry macro-op stands for, in
// program order. It reports false for any other opcode.
//
// adc rd, rs1, rs2 adds rs1 and the carry rs2 into rd, leaving the carry-out
// in rs1. sbb rd, rs1, rs2, rs3 subtracts rs1 and the borrow rs2 from rd,
// leaving the borrow-out in rs2 and using rs3 as scratch.
func Components(inst Instruction) ([]Instruction, bool) {
	r := func(op Opcode, rd, rs1, rs2 uint8) Instruction {
		return Instruction{Op: op, Rd: rd, Rs1: rs1, Rs2: rs2, Length: 4}
	}
	r0, r1, r2, r3 := inst.Rd, inst.Rs1, inst.Rs2, inst.Rs3
	switch inst.Op {
	case OpAdc:
		return []Instruction{
			r(OpAdd, r0, r0, r1),
			r(OpSltu, r1, r0, r1),
			r(OpAdd, r0, r0, r2),
			r(OpSltu, r2, r0, r2),
			r(OpOr, r1, r1, r2),
		}, true
	case OpSbb:
		return []Instruction{
			r(OpSub, r1, r0, r1),
			r(OpSltu, r3, r0, r1),
			r(OpSub, r0, r1, r2),
			r(OpSltu, r2, r1, r0),
			r(OpOr, r2, r2, r3),
		}, true
	}
	return nil, false
}

// fuseCarry recognises adc and sbb. The candidate operands are read off the
// run and accepted only if the whole run matches their expansion; every
// register involved must be distinct and not x0.
func fuseCarry(seq []Instruction) (Instruction, bool) {
	if len(seq) < carryLen {
		return Instruction{}, false
	}
	var cand Instruction
	switch seq[0].Op {
	case OpAdd:
		cand = Instruction{Op: OpAdc, Rd: seq[0].Rd, Rs1: seq[0].Rs2, Rs2: seq[2].Rs2}
		if !distinct(cand.Rd, cand.Rs1, cand.Rs2) {
			return Instruction{}, false
		}
	case OpSub:
		cand = Instruction{Op: OpSbb, Rd: seq[0].Rs1, Rs1: seq[0].Rd, Rs2: seq[2].Rs2, Rs3: seq[1].Rd}
		if !distinct(cand.Rd, cand.Rs1, cand.Rs2, cand.Rs3) {
			return Instruction{}, false
		}
	default:
		return Instruction{}, false
	}
	want, _ := Components(cand)
	for i, w := range want {
		if seq[i] != w {
			return Instruction{}, false
		}
	}
	cand.Length = 4 * carryLen
	return cand, true
}

func distinct(regs ...uint8) bool {
	var seen uint32
	for _, r := range regs {
		if r == RegZero || seen&(1<<r) != 0 {
			return false
		}
		seen |= 1 << r
	}
	return true
}
