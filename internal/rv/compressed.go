package rv

// expandCompressed decodes a 16-bit RVC encoding into the base instruction
// it stands for, with Length 2. A non-empty reason means the encoding is
// reserved or belongs to an extension this machine does not implement.
func expandCompressed(h uint16) (Instruction, string) {
	if h == 0 {
		return Instruction{}, "illegal all-zero instruction"
	}
	w := uint32(h)
	f3 := w >> 13 & 0x7
	rdFull := uint8(w >> 7 & 0x1f)
	rs2Full := uint8(w >> 2 & 0x1f)
	rdPrime := uint8(w>>2&0x7) + 8  // bits 4:2
	rs1Prime := uint8(w>>7&0x7) + 8 // bits 9:7

	c := func(op Opcode, rd, rs1, rs2 uint8, imm int64) (Instruction, string) {
		return Instruction{Op: op, Rd: rd, Rs1: rs1, Rs2: rs2, Imm: imm, Length: 2}, ""
	}

	switch w & 0x3 {
	case 0:
		switch f3 {
		case 0: // c.addi4spn
			imm := int64(w>>7&0x30 | w>>1&0x3c0 | w>>4&0x4 | w>>2&0x8)
			if imm == 0 {
				return Instruction{}, "reserved c.addi4spn"
			}
			return c(OpAddi, rdPrime, RegSP, 0, imm)
		case 2: // c.lw
			return c(OpLw, rdPrime, rs1Prime, 0, int64(w>>7&0x38|w>>4&0x4|w<<1&0x40))
		case 3: // c.ld
			return c(OpLd, rdPrime, rs1Prime, 0, int64(w>>7&0x38|w<<1&0xc0))
		case 6: // c.sw
			return c(OpSw, 0, rs1Prime, rdPrime, int64(w>>7&0x38|w>>4&0x4|w<<1&0x40))
		case 7: // c.sd
			return c(OpSd, 0, rs1Prime, rdPrime, int64(w>>7&0x38|w<<1&0xc0))
		}
		return Instruction{}, "unsupported compressed quadrant 0 encoding"

	case 1:
		imm6 := signExtend(w>>7&0x20|w>>2&0x1f, 6)
		switch f3 {
		case 0: // c.addi, c.nop
			return c(OpAddi, rdFull, rdFull, 0, imm6)
		case 1: // c.addiw
			if rdFull == 0 {
				return Instruction{}, "reserved c.addiw"
			}
			return c(OpAddiw, rdFull, rdFull, 0, imm6)
		case 2: // c.li
			return c(OpAddi, rdFull, RegZero, 0, imm6)
		case 3:
			if rdFull == RegSP { // c.addi16sp
				imm := signExtend(w>>3&0x200|w>>2&0x10|w<<1&0x40|w<<4&0x180|w<<3&0x20, 10)
				if imm == 0 {
					return Instruction{}, "reserved c.addi16sp"
				}
				return c(OpAddi, RegSP, RegSP, 0, imm)
			}
			// c.lui
			if imm6 == 0 {
				return Instruction{}, "reserved c.lui"
			}
			return c(OpLui, rdFull, 0, 0, imm6<<12)
		case 4:
			shamt := int64(w>>7&0x20 | w>>2&0x1f)
			switch w >> 10 & 0x3 {
			case 0:
				return c(OpSrli, rs1Prime, rs1Prime, 0, shamt)
			case 1:
				return c(OpSrai, rs1Prime, rs1Prime, 0, shamt)
			case 2:
				return c(OpAndi, rs1Prime, rs1Prime, 0, imm6)
			}
			ops := [2][4]Opcode{
				{OpSub, OpXor, OpOr, OpAnd},
				{OpSubw, OpAddw, OpInvalid, OpInvalid},
			}
			op := ops[w>>12&0x1][w>>5&0x3]
			if op == OpInvalid {
				return Instruction{}, "reserved compressed arithmetic"
			}
			return c(op, rs1Prime, rs1Prime, rdPrime, 0)
		case 5: // c.j
			return c(OpJal, RegZero, 0, 0, cjOffset(w))
		case 6: // c.beqz
			return c(OpBeq, 0, rs1Prime, RegZero, cbOffset(w))
		case 7: // c.bnez
			return c(OpBne, 0, rs1Prime, RegZero, cbOffset(w))
		}

	case 2:
		switch f3 {
		case 0: // c.slli
			return c(OpSlli, rdFull, rdFull, 0, int64(w>>7&0x20|w>>2&0x1f))
		case 2: // c.lwsp
			if rdFull == 0 {
				return Instruction{}, "reserved c.lwsp"
			}
			return c(OpLw, rdFull, RegSP, 0, int64(w>>7&0x20|w>>2&0x1c|w<<4&0xc0))
		case 3: // c.ldsp
			if rdFull == 0 {
				return Instruction{}, "reserved c.ldsp"
			}
			return c(OpLd, rdFull, RegSP, 0, int64(w>>7&0x20|w>>2&0x18|w<<4&0x1c0))
		case 4:
			if w>>12&0x1 == 0 {
				if rs2Full == 0 { // c.jr
					if rdFull == 0 {
						return Instruction{}, "reserved c.jr"
					}
					return c(OpJalr, RegZero, rdFull, 0, 0)
				}
				// c.mv
				return c(OpAdd, rdFull, RegZero, rs2Full, 0)
			}
			if rs2Full == 0 {
				if rdFull == 0 { // c.ebreak
					return c(OpEbreak, 0, 0, 0, 0)
				}
				// c.jalr
				return c(OpJalr, RegRA, rdFull, 0, 0)
			}
			// c.add
			return c(OpAdd, rdFull, rdFull, rs2Full, 0)
		case 6: // c.swsp
			return c(OpSw, 0, RegSP, rs2Full, int64(w>>7&0x3c|w>>1&0xc0))
		case 7: // c.sdsp
			return c(OpSd, 0, RegSP, rs2Full, int64(w>>7&0x38|w>>1&0x1c0))
		}
		return Instruction{}, "unsupported compressed quadrant 2 encoding"
	}
	return Instruction{}, "unsupported compressed encoding"
}

// cjOffset assembles offset[11|4|9:8|10|6|7|3:1|5] from bits 12..2.
func cjOffset(w uint32) int64 {
	v := w>>1&0x800 | w>>7&0x10 | w>>1&0x300 | w<<2&0x400 |
		w>>1&0x40 | w<<1&0x80 | w>>2&0xe | w<<3&0x20
	return signExtend(v, 12)
}

// cbOffset assembles offset[8|4:3] from bits 12:10 and offset[7:6|2:1|5]
// from bits 6:2.
func cbOffset(w uint32) int64 {
	v := w>>4&0x100 | w>>7&0x18 | w<<1&0xc0 | w>>2&0x6 | w<<3&0x20
	return signExtend(v, 9)
}

func signExtend(v uint32, bits uint) int64 {
	shift := 32 - bits
	return int64(int32(v<<shift) >> shift)
}
