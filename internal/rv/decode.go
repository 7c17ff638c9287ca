package rv

import "fmt"

// Fetcher reads instruction halfwords. Implementations must refuse to fetch
// from memory that is not executable.
type Fetcher interface {
	FetchHalf(addr uint64) (uint16, error)
}

// InstructionDecoder turns the bytes at pc into an Instruction.
type InstructionDecoder interface {
	Decode(mem Fetcher, pc uint64) (Instruction, error)
}

// DecodeError reports an instruction word the decoder does not accept.
type DecodeError struct {
	PC     uint64
	Word   uint32
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode 0x%08x at pc 0x%x: %s", e.Word, e.PC, e.Reason)
}

type extension uint8

const (
	extI extension = iota
	extM
	extA
	extB
)

type entry struct {
	op     Opcode
	format Format
	match  uint32
	mask   uint32
	ext    extension
}

const (
	opcLoad   = 0x03
	opcFence  = 0x0f
	opcOpImm  = 0x13
	opcAuipc  = 0x17
	opcOpImmW = 0x1b
	opcStore  = 0x23
	opcAMO    = 0x2f
	opcOp     = 0x33
	opcLui    = 0x37
	opcOpW    = 0x3b
	opcBranch = 0x63
	opcJalr   = 0x67
	opcJal    = 0x6f
	opcSystem = 0x73
)

func rtype(op Opcode, ext extension, opc, f3, f7 uint32) entry {
	return entry{op, FormatR, f7<<25 | f3<<12 | opc, 0xfe00707f, ext}
}

func itype(op Opcode, format Format, opc, f3 uint32) entry {
	return entry{op, format, f3<<12 | opc, 0x707f, extI}
}

func shift6(op Opcode, ext extension, opc, f3, f6 uint32) entry {
	return entry{op, FormatShift6, f6<<26 | f3<<12 | opc, 0xfc00707f, ext}
}

func shift5(op Opcode, ext extension, opc, f3, f7 uint32) entry {
	return entry{op, FormatShift5, f7<<25 | f3<<12 | opc, 0xfe00707f, ext}
}

func unary(op Opcode, opc, f3, f12 uint32) entry {
	return entry{op, FormatUnary, f12<<20 | f3<<12 | opc, 0xfff0707f, extB}
}

func amo(op Opcode, f3, f5 uint32) entry {
	return entry{op, FormatAMO, f5<<27 | f3<<12 | opcAMO, 0xf800707f, extA}
}

func lr(op Opcode, f3 uint32) entry {
	return entry{op, FormatLR, 0x02<<27 | f3<<12 | opcAMO, 0xf9f0707f, extA}
}

var table = []entry{
	{OpLui, FormatU, opcLui, 0x7f, extI},
	{OpAuipc, FormatU, opcAuipc, 0x7f, extI},
	{OpJal, FormatJ, opcJal, 0x7f, extI},
	itype(OpJalr, FormatMem, opcJalr, 0),

	itype(OpBeq, FormatB, opcBranch, 0),
	itype(OpBne, FormatB, opcBranch, 1),
	itype(OpBlt, FormatB, opcBranch, 4),
	itype(OpBge, FormatB, opcBranch, 5),
	itype(OpBltu, FormatB, opcBranch, 6),
	itype(OpBgeu, FormatB, opcBranch, 7),

	itype(OpLb, FormatMem, opcLoad, 0),
	itype(OpLh, FormatMem, opcLoad, 1),
	itype(OpLw, FormatMem, opcLoad, 2),
	itype(OpLd, FormatMem, opcLoad, 3),
	itype(OpLbu, FormatMem, opcLoad, 4),
	itype(OpLhu, FormatMem, opcLoad, 5),
	itype(OpLwu, FormatMem, opcLoad, 6),

	itype(OpSb, FormatS, opcStore, 0),
	itype(OpSh, FormatS, opcStore, 1),
	itype(OpSw, FormatS, opcStore, 2),
	itype(OpSd, FormatS, opcStore, 3),

	itype(OpAddi, FormatI, opcOpImm, 0),
	itype(OpSlti, FormatI, opcOpImm, 2),
	itype(OpSltiu, FormatI, opcOpImm, 3),
	itype(OpXori, FormatI, opcOpImm, 4),
	itype(OpOri, FormatI, opcOpImm, 6),
	itype(OpAndi, FormatI, opcOpImm, 7),
	shift6(OpSlli, extI, opcOpImm, 1, 0x00),
	shift6(OpSrli, extI, opcOpImm, 5, 0x00),
	shift6(OpSrai, extI, opcOpImm, 5, 0x10),

	rtype(OpAdd, extI, opcOp, 0, 0x00),
	rtype(OpSub, extI, opcOp, 0, 0x20),
	rtype(OpSll, extI, opcOp, 1, 0x00),
	rtype(OpSlt, extI, opcOp, 2, 0x00),
	rtype(OpSltu, extI, opcOp, 3, 0x00),
	rtype(OpXor, extI, opcOp, 4, 0x00),
	rtype(OpSrl, extI, opcOp, 5, 0x00),
	rtype(OpSra, extI, opcOp, 5, 0x20),
	rtype(OpOr, extI, opcOp, 6, 0x00),
	rtype(OpAnd, extI, opcOp, 7, 0x00),

	itype(OpAddiw, FormatI, opcOpImmW, 0),
	shift5(OpSlliw, extI, opcOpImmW, 1, 0x00),
	shift5(OpSrliw, extI, opcOpImmW, 5, 0x00),
	shift5(OpSraiw, extI, opcOpImmW, 5, 0x20),
	rtype(OpAddw, extI, opcOpW, 0, 0x00),
	rtype(OpSubw, extI, opcOpW, 0, 0x20),
	rtype(OpSllw, extI, opcOpW, 1, 0x00),
	rtype(OpSrlw, extI, opcOpW, 5, 0x00),
	rtype(OpSraw, extI, opcOpW, 5, 0x20),

	{OpFence, FormatNone, opcFence, 0x707f, extI},
	{OpFenceI, FormatNone, 1<<12 | opcFence, 0x707f, extI},
	{OpEcall, FormatNone, opcSystem, 0xffffffff, extI},
	{OpEbreak, FormatNone, 1<<20 | opcSystem, 0xffffffff, extI},

	rtype(OpMul, extM, opcOp, 0, 0x01),
	rtype(OpMulh, extM, opcOp, 1, 0x01),
	rtype(OpMulhsu, extM, opcOp, 2, 0x01),
	rtype(OpMulhu, extM, opcOp, 3, 0x01),
	rtype(OpDiv, extM, opcOp, 4, 0x01),
	rtype(OpDivu, extM, opcOp, 5, 0x01),
	rtype(OpRem, extM, opcOp, 6, 0x01),
	rtype(OpRemu, extM, opcOp, 7, 0x01),
	rtype(OpMulw, extM, opcOpW, 0, 0x01),
	rtype(OpDivw, extM, opcOpW, 4, 0x01),
	rtype(OpDivuw, extM, opcOpW, 5, 0x01),
	rtype(OpRemw, extM, opcOpW, 6, 0x01),
	rtype(OpRemuw, extM, opcOpW, 7, 0x01),

	lr(OpLrW, 2),
	amo(OpScW, 2, 0x03),
	amo(OpAmoswapW, 2, 0x01),
	amo(OpAmoaddW, 2, 0x00),
	amo(OpAmoxorW, 2, 0x04),
	amo(OpAmoandW, 2, 0x0c),
	amo(OpAmoorW, 2, 0x08),
	amo(OpAmominW, 2, 0x10),
	amo(OpAmomaxW, 2, 0x14),
	amo(OpAmominuW, 2, 0x18),
	amo(OpAmomaxuW, 2, 0x1c),
	lr(OpLrD, 3),
	amo(OpScD, 3, 0x03),
	amo(OpAmoswapD, 3, 0x01),
	amo(OpAmoaddD, 3, 0x00),
	amo(OpAmoxorD, 3, 0x04),
	amo(OpAmoandD, 3, 0x0c),
	amo(OpAmoorD, 3, 0x08),
	amo(OpAmominD, 3, 0x10),
	amo(OpAmomaxD, 3, 0x14),
	amo(OpAmominuD, 3, 0x18),
	amo(OpAmomaxuD, 3, 0x1c),

	rtype(OpSh1add, extB, opcOp, 2, 0x10),
	rtype(OpSh2add, extB, opcOp, 4, 0x10),
	rtype(OpSh3add, extB, opcOp, 6, 0x10),
	rtype(OpAddUw, extB, opcOpW, 0, 0x04),
	rtype(OpSh1addUw, extB, opcOpW, 2, 0x10),
	rtype(OpSh2addUw, extB, opcOpW, 4, 0x10),
	rtype(OpSh3addUw, extB, opcOpW, 6, 0x10),
	shift6(OpSlliUw, extB, opcOpImmW, 1, 0x02),

	rtype(OpAndn, extB, opcOp, 7, 0x20),
	rtype(OpOrn, extB, opcOp, 6, 0x20),
	rtype(OpXnor, extB, opcOp, 4, 0x20),
	unary(OpClz, opcOpImm, 1, 0x600),
	unary(OpCtz, opcOpImm, 1, 0x601),
	unary(OpCpop, opcOpImm, 1, 0x602),
	unary(OpClzw, opcOpImmW, 1, 0x600),
	unary(OpCtzw, opcOpImmW, 1, 0x601),
	unary(OpCpopw, opcOpImmW, 1, 0x602),
	rtype(OpMax, extB, opcOp, 6, 0x05),
	rtype(OpMaxu, extB, opcOp, 7, 0x05),
	rtype(OpMin, extB, opcOp, 4, 0x05),
	rtype(OpMinu, extB, opcOp, 5, 0x05),
	unary(OpSextB, opcOpImm, 1, 0x604),
	unary(OpSextH, opcOpImm, 1, 0x605),
	unary(OpZextH, opcOpW, 4, 0x080),
	rtype(OpRol, extB, opcOp, 1, 0x30),
	rtype(OpRor, extB, opcOp, 5, 0x30),
	shift6(OpRori, extB, opcOpImm, 5, 0x18),
	rtype(OpRolw, extB, opcOpW, 1, 0x30),
	rtype(OpRorw, extB, opcOpW, 5, 0x30),
	shift5(OpRoriw, extB, opcOpImmW, 5, 0x30),
	unary(OpOrcB, opcOpImm, 5, 0x287),
	unary(OpRev8, opcOpImm, 5, 0x6b8),

	rtype(OpBclr, extB, opcOp, 1, 0x24),
	shift6(OpBclri, extB, opcOpImm, 1, 0x12),
	rtype(OpBext, extB, opcOp, 5, 0x24),
	shift6(OpBexti, extB, opcOpImm, 5, 0x12),
	rtype(OpBinv, extB, opcOp, 1, 0x34),
	shift6(OpBinvi, extB, opcOpImm, 1, 0x1a),
	rtype(OpBset, extB, opcOp, 1, 0x14),
	shift6(OpBseti, extB, opcOpImm, 1, 0x0a),
}

var entriesByOp = func() map[Opcode]entry {
	m := make(map[Opcode]entry, len(table))
	for _, e := range table {
		m[e.op] = e
	}
	return m
}()

// Decoder is the table-driven decoder for one Config.
type Decoder struct {
	cfg Config
}

// NewDecoder returns a decoder accepting the extensions enabled in cfg.
func NewDecoder(cfg Config) *Decoder {
	return &Decoder{cfg: cfg}
}

func (d *Decoder) enabled(ext extension) bool {
	switch ext {
	case extA:
		return d.cfg.Has(ISAA)
	case extB:
		return d.cfg.Has(ISAB)
	default:
		return d.cfg.Has(ISAIMC)
	}
}

// Decode reads one instruction at pc. When fusion is enabled and the
// following instructions complete a known macro-op, the fused instruction
// is returned with a Length covering the whole run.
func (d *Decoder) Decode(mem Fetcher, pc uint64) (Instruction, error) {
	inst, err := d.decodeAt(mem, pc)
	if err != nil {
		return Instruction{}, err
	}
	n := span(inst.Op)
	if inst.Length != 4 || !d.cfg.Has(ISAMOP) || n == 0 {
		return inst, nil
	}
	// A failed fetch of a later instruction ends the fusion attempt, not the
	// decode: the first instruction stands alone.
	seq := []Instruction{inst}
	for len(seq) < n {
		next, err := d.decodeAt(mem, pc+4*uint64(len(seq)))
		if err != nil || next.Length != 4 {
			break
		}
		seq = append(seq, next)
	}
	if fused, ok := fuse(seq); ok {
		return fused, nil
	}
	return inst, nil
}

func (d *Decoder) decodeAt(mem Fetcher, pc uint64) (Instruction, error) {
	lo, err := mem.FetchHalf(pc)
	if err != nil {
		return Instruction{}, err
	}
	if lo&0x3 != 0x3 {
		inst, reason := expandCompressed(lo)
		if reason != "" {
			return Instruction{}, &DecodeError{PC: pc, Word: uint32(lo), Reason: reason}
		}
		return inst, nil
	}
	if lo&0x1f == 0x1f {
		return Instruction{}, &DecodeError{PC: pc, Word: uint32(lo), Reason: "instruction longer than 32 bits"}
	}
	hi, err := mem.FetchHalf(pc + 2)
	if err != nil {
		return Instruction{}, err
	}
	word := uint32(lo) | uint32(hi)<<16
	inst, ok := d.DecodeWord(word)
	if !ok {
		return Instruction{}, &DecodeError{PC: pc, Word: word, Reason: "unknown instruction"}
	}
	return inst, nil
}

// DecodeWord decodes a 32-bit encoding. It never fuses.
func (d *Decoder) DecodeWord(word uint32) (Instruction, bool) {
	for _, e := range table {
		if word&e.mask != e.match || !d.enabled(e.ext) {
			continue
		}
		return fields(e, word), true
	}
	return Instruction{}, false
}

func fields(e entry, w uint32) Instruction {
	inst := Instruction{Op: e.op, Length: 4}
	rd := uint8(w >> 7 & 0x1f)
	rs1 := uint8(w >> 15 & 0x1f)
	rs2 := uint8(w >> 20 & 0x1f)
	switch e.format {
	case FormatR, FormatAMO:
		inst.Rd, inst.Rs1, inst.Rs2 = rd, rs1, rs2
	case FormatLR, FormatUnary:
		inst.Rd, inst.Rs1 = rd, rs1
	case FormatI, FormatMem:
		inst.Rd, inst.Rs1 = rd, rs1
		inst.Imm = int64(int32(w) >> 20)
	case FormatShift6:
		inst.Rd, inst.Rs1 = rd, rs1
		inst.Imm = int64(w >> 20 & 0x3f)
	case FormatShift5:
		inst.Rd, inst.Rs1 = rd, rs1
		inst.Imm = int64(w >> 20 & 0x1f)
	case FormatS:
		inst.Rs1, inst.Rs2 = rs1, rs2
		inst.Imm = int64(int32(w&0xfe000000)>>20) | int64(w>>7&0x1f)
	case FormatB:
		inst.Rs1, inst.Rs2 = rs1, rs2
		inst.Imm = int64(int32(w&0x80000000)>>19) |
			int64(w&0x80)<<4 | int64(w>>20&0x7e0) | int64(w>>7&0x1e)
	case FormatU:
		inst.Rd = rd
		inst.Imm = int64(int32(w & 0xfffff000))
	case FormatJ:
		inst.Rd = rd
		inst.Imm = int64(int32(w&0x80000000)>>11) |
			int64(w&0xff000) | int64(w>>9&0x800) | int64(w>>20&0x7fe)
	}
	return inst
}
