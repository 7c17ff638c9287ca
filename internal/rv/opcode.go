package rv

import "fmt"

// Opcode identifies a decoded operation. Compressed encodings decode to the
// base opcode they expand to.
type Opcode uint16

const (
	OpInvalid Opcode = iota

	// RV64I
	OpLui
	OpAuipc
	OpJal
	OpJalr
	OpBeq
	OpBne
	OpBlt
	OpBge
	OpBltu
	OpBgeu
	OpLb
	OpLh
	OpLw
	OpLd
	OpLbu
	OpLhu
	OpLwu
	OpSb
	OpSh
	OpSw
	OpSd
	OpAddi
	OpSlti
	OpSltiu
	OpXori
	OpOri
	OpAndi
	OpSlli
	OpSrli
	OpSrai
	OpAdd
	OpSub
	OpSll
	OpSlt
	OpSltu
	OpXor
	OpSrl
	OpSra
	OpOr
	OpAnd
	OpAddiw
	OpSlliw
	OpSrliw
	OpSraiw
	OpAddw
	OpSubw
	OpSllw
	OpSrlw
	OpSraw
	OpFence
	OpFenceI
	OpEcall
	OpEbreak

	// M
	OpMul
	OpMulh
	OpMulhsu
	OpMulhu
	OpDiv
	OpDivu
	OpRem
	OpRemu
	OpMulw
	OpDivw
	OpDivuw
	OpRemw
	OpRemuw

	// A
	OpLrW
	OpScW
	OpAmoswapW
	OpAmoaddW
	OpAmoxorW
	OpAmoandW
	OpAmoorW
	OpAmominW
	OpAmomaxW
	OpAmominuW
	OpAmomaxuW
	OpLrD
	OpScD
	OpAmoswapD
	OpAmoaddD
	OpAmoxorD
	OpAmoandD
	OpAmoorD
	OpAmominD
	OpAmomaxD
	OpAmominuD
	OpAmomaxuD

	// Zba
	OpSh1add
	OpSh2add
	OpSh3add
	OpAddUw
	OpSh1addUw
	OpSh2addUw
	OpSh3addUw
	OpSlliUw

	// Zbb
	OpAndn
	OpOrn
	OpXnor
	OpClz
	OpCtz
	OpCpop
	OpClzw
	OpCtzw
	OpCpopw
	OpMax
	OpMaxu
	OpMin
	OpMinu
	OpSextB
	OpSextH
	OpZextH
	OpRol
	OpRor
	OpRori
	OpRolw
	OpRorw
	OpRoriw
	OpOrcB
	OpRev8

	// Zbs
	OpBclr
	OpBclri
	OpBext
	OpBexti
	OpBinv
	OpBinvi
	OpBset
	OpBseti

	// Fused macro-ops. These exist only as decoder output.
	OpWideMul
	OpWideMulu
	OpWideMulsu
	OpWideDiv
	OpWideDivu
	OpFarJumpRel
	OpFarJumpAbs
	OpLdSext32Const
	OpAdc
	OpSbb

	opCount
)

var opNames = [...]string{
	OpInvalid: "invalid",
	OpLui:     "lui",
	OpAuipc:   "auipc",
	OpJal:     "jal",
	OpJalr:    "jalr",
	OpBeq:     "beq",
	OpBne:     "bne",
	OpBlt:     "blt",
	OpBge:     "bge",
	OpBltu:    "bltu",
	OpBgeu:    "bgeu",
	OpLb:      "lb",
	OpLh:      "lh",
	OpLw:      "lw",
	OpLd:      "ld",
	OpLbu:     "lbu",
	OpLhu:     "lhu",
	OpLwu:     "lwu",
	OpSb:      "sb",
	OpSh:      "sh",
	OpSw:      "sw",
	OpSd:      "sd",
	OpAddi:    "addi",
	OpSlti:    "slti",
	OpSltiu:   "sltiu",
	OpXori:    "xori",
	OpOri:     "ori",
	OpAndi:    "andi",
	OpSlli:    "slli",
	OpSrli:    "srli",
	OpSrai:    "srai",
	OpAdd:     "add",
	OpSub:     "sub",
	OpSll:     "sll",
	OpSlt:     "slt",
	OpSltu:    "sltu",
	OpXor:     "xor",
	OpSrl:     "srl",
	OpSra:     "sra",
	OpOr:      "or",
	OpAnd:     "and",
	OpAddiw:   "addiw",
	OpSlliw:   "slliw",
	OpSrliw:   "srliw",
	OpSraiw:   "sraiw",
	OpAddw:    "addw",
	OpSubw:    "subw",
	OpSllw:    "sllw",
	OpSrlw:    "srlw",
	OpSraw:    "sraw",
	OpFence:   "fence",
	OpFenceI:  "fence.i",
	OpEcall:   "ecall",
	OpEbreak:  "ebreak",

	OpMul:    "mul",
	OpMulh:   "mulh",
	OpMulhsu: "mulhsu",
	OpMulhu:  "mulhu",
	OpDiv:    "div",
	OpDivu:   "divu",
	OpRem:    "rem",
	OpRemu:   "remu",
	OpMulw:   "mulw",
	OpDivw:   "divw",
	OpDivuw:  "divuw",
	OpRemw:   "remw",
	OpRemuw:  "remuw",

	OpLrW:      "lr.w",
	OpScW:      "sc.w",
	OpAmoswapW: "amoswap.w",
	OpAmoaddW:  "amoadd.w",
	OpAmoxorW:  "amoxor.w",
	OpAmoandW:  "amoand.w",
	OpAmoorW:   "amoor.w",
	OpAmominW:  "amomin.w",
	OpAmomaxW:  "amomax.w",
	OpAmominuW: "amominu.w",
	OpAmomaxuW: "amomaxu.w",
	OpLrD:      "lr.d",
	OpScD:      "sc.d",
	OpAmoswapD: "amoswap.d",
	OpAmoaddD:  "amoadd.d",
	OpAmoxorD:  "amoxor.d",
	OpAmoandD:  "amoand.d",
	OpAmoorD:   "amoor.d",
	OpAmominD:  "amomin.d",
	OpAmomaxD:  "amomax.d",
	OpAmominuD: "amominu.d",
	OpAmomaxuD: "amomaxu.d",

	OpSh1add:   "sh1add",
	OpSh2add:   "sh2add",
	OpSh3add:   "sh3add",
	OpAddUw:    "add.uw",
	OpSh1addUw: "sh1add.uw",
	OpSh2addUw: "sh2add.uw",
	OpSh3addUw: "sh3add.uw",
	OpSlliUw:   "slli.uw",

	OpAndn:  "andn",
	OpOrn:   "orn",
	OpXnor:  "xnor",
	OpClz:   "clz",
	OpCtz:   "ctz",
	OpCpop:  "cpop",
	OpClzw:  "clzw",
	OpCtzw:  "ctzw",
	OpCpopw: "cpopw",
	OpMax:   "max",
	OpMaxu:  "maxu",
	OpMin:   "min",
	OpMinu:  "minu",
	OpSextB: "sext.b",
	OpSextH: "sext.h",
	OpZextH: "zext.h",
	OpRol:   "rol",
	OpRor:   "ror",
	OpRori:  "rori",
	OpRolw:  "rolw",
	OpRorw:  "rorw",
	OpRoriw: "roriw",
	OpOrcB:  "orc.b",
	OpRev8:  "rev8",

	OpBclr:  "bclr",
	OpBclri: "bclri",
	OpBext:  "bext",
	OpBexti: "bexti",
	OpBinv:  "binv",
	OpBinvi: "binvi",
	OpBset:  "bset",
	OpBseti: "bseti",

	OpWideMul:       "widemul",
	OpWideMulu:      "widemulu",
	OpWideMulsu:     "widemulsu",
	OpWideDiv:       "widediv",
	OpWideDivu:      "widedivu",
	OpFarJumpRel:    "farjump.rel",
	OpFarJumpAbs:    "farjump.abs",
	OpLdSext32Const: "ld.sext32.const",
	OpAdc:           "adc",
	OpSbb:           "sbb",
}

var opsByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opNames))
	for op, name := range opNames {
		if name != "" && Opcode(op) != OpInvalid {
			m[name] = Opcode(op)
		}
	}
	return m
}()

// String returns the assembler mnemonic.
func (op Opcode) String() string {
	if op < opCount && opNames[op] != "" {
		return opNames[op]
	}
	return fmt.Sprintf("Opcode<%d>", uint16(op))
}

// LookupOpcode finds an opcode by mnemonic. Fused macro-ops have names but
// no encoding.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opsByName[name]
	return op, ok
}

// IsFused reports whether op is a macro-op produced by fusion.
func (op Opcode) IsFused() bool {
	return op >= OpWideMul && op < opCount
}

// Format returns the operand layout of op.
func (op Opcode) Format() Format {
	if op.IsFused() {
		return FormatFused
	}
	if e, ok := entriesByOp[op]; ok {
		return e.format
	}
	return FormatNone
}

// Format describes how an instruction's operands are laid out, both in the
// 32-bit encoding and in canonical text.
type Format uint8

const (
	FormatNone   Format = iota // no operands: fence, ecall, ebreak
	FormatR                    // rd, rs1, rs2
	FormatI                    // rd, rs1, imm
	FormatMem                  // rd, imm(rs1): loads and jalr
	FormatShift6               // rd, rs1, shamt (0..63)
	FormatShift5               // rd, rs1, shamt (0..31)
	FormatUnary                // rd, rs1
	FormatS                    // rs2, imm(rs1)
	FormatB                    // rs1, rs2, offset
	FormatU                    // rd, upper immediate
	FormatJ                    // rd, offset
	FormatAMO                  // rd, rs2, (rs1)
	FormatLR                   // rd, (rs1)
	FormatFused
)
