// Package exec implements instruction semantics once, over any value
// representation.
//
// Execute is generic in the register value type R. The concrete machine
// instantiates it with uint64 and computes as it goes; the effect recorder
// instantiates it with expression references and only builds a graph. All
// arithmetic goes through the Ops the machine provides, so neither side
// can drift from the other.
package exec

import (
	"fmt"
	"math"

	"github.com/roach88/rvcheck/internal/alu"
	"github.com/roach88/rvcheck/internal/rv"
)

// Ops builds values of type R.
type Ops[R any] interface {
	Const(v uint64) R
	Binary(op alu.BinOp, a, b R) R
	Unary(op alu.UnOp, a R) R
	Select(cond, t, f R) R
}

// Machine is the capability set an instruction may use. It excludes page
// and flag management.
type Machine[R any] interface {
	Ops[R]

	Register(i uint8) R
	SetRegister(i uint8, v R)

	// PC returns the pc of the executing instruction. UpdatePC stages the
	// next pc and CommitPC makes it current.
	PC() R
	UpdatePC(v R)
	CommitPC()

	// Load returns size bytes at addr, zero-extended.
	Load(addr R, size int) (R, error)
	Store(addr R, size int, v R) error

	Reservation() R
	SetReservation(v R)

	Ecall() error
	Ebreak() error
}

// UnsupportedError reports an opcode Execute has no semantics for.
type UnsupportedError struct {
	Inst rv.Instruction
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("exec: unsupported opcode %s", e.Inst.Op)
}

var regOps = map[rv.Opcode]alu.BinOp{
	rv.OpAdd:    alu.Add,
	rv.OpSub:    alu.Sub,
	rv.OpSll:    alu.Sll,
	rv.OpSlt:    alu.Lt,
	rv.OpSltu:   alu.Ltu,
	rv.OpXor:    alu.Xor,
	rv.OpSrl:    alu.Srl,
	rv.OpSra:    alu.Sra,
	rv.OpOr:     alu.Or,
	rv.OpAnd:    alu.And,
	rv.OpMul:    alu.Mul,
	rv.OpMulh:   alu.Mulh,
	rv.OpMulhsu: alu.Mulhsu,
	rv.OpMulhu:  alu.Mulhu,
	rv.OpDiv:    alu.Div,
	rv.OpDivu:   alu.Divu,
	rv.OpRem:    alu.Rem,
	rv.OpRemu:   alu.Remu,
	rv.OpAndn:   alu.Andn,
	rv.OpOrn:    alu.Orn,
	rv.OpXnor:   alu.Xnor,
	rv.OpMax:    alu.Max,
	rv.OpMaxu:   alu.Maxu,
	rv.OpMin:    alu.Min,
	rv.OpMinu:   alu.Minu,
	rv.OpRol:    alu.Rol,
	rv.OpRor:    alu.Ror,
	rv.OpRolw:   alu.Rolw,
	rv.OpRorw:   alu.Rorw,
	rv.OpBclr:   alu.Bclr,
	rv.OpBext:   alu.Bext,
	rv.OpBinv:   alu.Binv,
	rv.OpBset:   alu.Bset,
}

var immOps = map[rv.Opcode]alu.BinOp{
	rv.OpAddi:  alu.Add,
	rv.OpSlti:  alu.Lt,
	rv.OpSltiu: alu.Ltu,
	rv.OpXori:  alu.Xor,
	rv.OpOri:   alu.Or,
	rv.OpAndi:  alu.And,
	rv.OpSlli:  alu.Sll,
	rv.OpSrli:  alu.Srl,
	rv.OpSrai:  alu.Sra,
	rv.OpRori:  alu.Ror,
	rv.OpRoriw: alu.Rorw,
	rv.OpBclri: alu.Bclr,
	rv.OpBexti: alu.Bext,
	rv.OpBinvi: alu.Binv,
	rv.OpBseti: alu.Bset,
}

var unaryOps = map[rv.Opcode]alu.UnOp{
	rv.OpClz:   alu.Clz,
	rv.OpCtz:   alu.Ctz,
	rv.OpCpop:  alu.Cpop,
	rv.OpClzw:  alu.Clzw,
	rv.OpCtzw:  alu.Ctzw,
	rv.OpCpopw: alu.Cpopw,
	rv.OpSextB: alu.SextB,
	rv.OpSextH: alu.SextH,
	rv.OpZextH: alu.ZextH,
	rv.OpOrcB:  alu.OrcB,
	rv.OpRev8:  alu.Rev8,
}

var branches = map[rv.Opcode]alu.BinOp{
	rv.OpBeq:  alu.Eq,
	rv.OpBne:  alu.Ne,
	rv.OpBlt:  alu.Lt,
	rv.OpBge:  alu.Ge,
	rv.OpBltu: alu.Ltu,
	rv.OpBgeu: alu.Geu,
}

type access struct {
	size int
	ext  alu.UnOp // zero means the zero-extended value is used as is
}

var loads = map[rv.Opcode]access{
	rv.OpLb:  {1, alu.SextB},
	rv.OpLh:  {2, alu.SextH},
	rv.OpLw:  {4, alu.SextW},
	rv.OpLd:  {8, 0},
	rv.OpLbu: {1, 0},
	rv.OpLhu: {2, 0},
	rv.OpLwu: {4, 0},
}

var stores = map[rv.Opcode]int{
	rv.OpSb: 1,
	rv.OpSh: 2,
	rv.OpSw: 4,
	rv.OpSd: 8,
}

// shNadd maps the Zba shift-and-add family to its shift and whether rs1 is
// zero-extended from 32 bits first.
var shNadd = map[rv.Opcode]struct {
	shift uint64
	uw    bool
}{
	rv.OpSh1add:   {1, false},
	rv.OpSh2add:   {2, false},
	rv.OpSh3add:   {3, false},
	rv.OpAddUw:    {0, true},
	rv.OpSh1addUw: {1, true},
	rv.OpSh2addUw: {2, true},
	rv.OpSh3addUw: {3, true},
}

// Execute runs inst against m. Every operand is read before any register is
// written, and the pc is staged and committed last. The carry macro-ops are
// the exception: they replay their components in order, so later components
// read the registers earlier ones wrote.
func Execute[R any](m Machine[R], inst rv.Instruction) error {
	e := executor[R]{m: m, inst: inst}
	e.pc = m.PC()
	e.next = m.Binary(alu.Add, e.pc, m.Const(uint64(inst.Length)))
	if err := e.run(); err != nil {
		return err
	}
	m.UpdatePC(e.next)
	m.CommitPC()
	return nil
}

type executor[R any] struct {
	m    Machine[R]
	inst rv.Instruction
	pc   R
	next R
}

func (e *executor[R]) set(rd uint8, v R) {
	if rd != rv.RegZero {
		e.m.SetRegister(rd, v)
	}
}

func (e *executor[R]) bin(op alu.BinOp, a, b R) R { return e.m.Binary(op, a, b) }
func (e *executor[R]) un(op alu.UnOp, a R) R      { return e.m.Unary(op, a) }
func (e *executor[R]) k(v uint64) R               { return e.m.Const(v) }

func (e *executor[R]) run() error {
	m, inst := e.m, e.inst
	rs1 := m.Register(inst.Rs1)
	rs2 := m.Register(inst.Rs2)
	imm := e.k(uint64(inst.Imm))

	if op, ok := regOps[inst.Op]; ok {
		e.set(inst.Rd, e.bin(op, rs1, rs2))
		return nil
	}
	if op, ok := immOps[inst.Op]; ok {
		e.set(inst.Rd, e.bin(op, rs1, imm))
		return nil
	}
	if op, ok := unaryOps[inst.Op]; ok {
		e.set(inst.Rd, e.un(op, rs1))
		return nil
	}
	if op, ok := branches[inst.Op]; ok {
		taken := e.bin(alu.Add, e.pc, imm)
		e.next = m.Select(e.bin(op, rs1, rs2), taken, e.next)
		return nil
	}
	if a, ok := loads[inst.Op]; ok {
		v, err := m.Load(e.bin(alu.Add, rs1, imm), a.size)
		if err != nil {
			return err
		}
		if a.ext != 0 {
			v = e.un(a.ext, v)
		}
		e.set(inst.Rd, v)
		return nil
	}
	if size, ok := stores[inst.Op]; ok {
		return m.Store(e.bin(alu.Add, rs1, imm), size, rs2)
	}
	if z, ok := shNadd[inst.Op]; ok {
		base := rs1
		if z.uw {
			base = e.un(alu.ZextW, base)
		}
		e.set(inst.Rd, e.bin(alu.Add, e.bin(alu.Sll, base, e.k(z.shift)), rs2))
		return nil
	}

	switch inst.Op {
	case rv.OpLui:
		e.set(inst.Rd, imm)
	case rv.OpAuipc:
		e.set(inst.Rd, e.bin(alu.Add, e.pc, imm))
	case rv.OpJal:
		e.set(inst.Rd, e.next)
		e.next = e.bin(alu.Add, e.pc, imm)
	case rv.OpJalr:
		target := e.bin(alu.And, e.bin(alu.Add, rs1, imm), e.k(^uint64(1)))
		e.set(inst.Rd, e.next)
		e.next = target

	case rv.OpAddiw:
		e.set(inst.Rd, e.un(alu.SextW, e.bin(alu.Add, rs1, imm)))
	case rv.OpSlliw:
		e.set(inst.Rd, e.un(alu.SextW, e.bin(alu.Sll, rs1, imm)))
	case rv.OpSrliw:
		e.set(inst.Rd, e.un(alu.SextW, e.bin(alu.Srl, e.un(alu.ZextW, rs1), imm)))
	case rv.OpSraiw:
		e.set(inst.Rd, e.un(alu.SextW, e.bin(alu.Sra, e.un(alu.SextW, rs1), imm)))
	case rv.OpSlliUw:
		e.set(inst.Rd, e.bin(alu.Sll, e.un(alu.ZextW, rs1), imm))
	case rv.OpAddw:
		e.set(inst.Rd, e.un(alu.SextW, e.bin(alu.Add, rs1, rs2)))
	case rv.OpSubw:
		e.set(inst.Rd, e.un(alu.SextW, e.bin(alu.Sub, rs1, rs2)))
	case rv.OpMulw:
		e.set(inst.Rd, e.un(alu.SextW, e.bin(alu.Mul, rs1, rs2)))
	case rv.OpSllw:
		e.set(inst.Rd, e.un(alu.SextW, e.bin(alu.Sll, rs1, e.shamt32(rs2))))
	case rv.OpSrlw:
		e.set(inst.Rd, e.un(alu.SextW, e.bin(alu.Srl, e.un(alu.ZextW, rs1), e.shamt32(rs2))))
	case rv.OpSraw:
		e.set(inst.Rd, e.un(alu.SextW, e.bin(alu.Sra, e.un(alu.SextW, rs1), e.shamt32(rs2))))
	case rv.OpDivw:
		e.set(inst.Rd, e.word(alu.Div, alu.SextW, rs1, rs2))
	case rv.OpRemw:
		e.set(inst.Rd, e.word(alu.Rem, alu.SextW, rs1, rs2))
	case rv.OpDivuw:
		e.set(inst.Rd, e.word(alu.Divu, alu.ZextW, rs1, rs2))
	case rv.OpRemuw:
		e.set(inst.Rd, e.word(alu.Remu, alu.ZextW, rs1, rs2))

	case rv.OpFence, rv.OpFenceI:
	case rv.OpEcall:
		return m.Ecall()
	case rv.OpEbreak:
		return m.Ebreak()

	case rv.OpLrW, rv.OpLrD:
		return e.loadReserved(rs1)
	case rv.OpScW, rv.OpScD:
		return e.storeConditional(rs1, rs2)
	case rv.OpAmoswapW, rv.OpAmoaddW, rv.OpAmoxorW, rv.OpAmoandW, rv.OpAmoorW,
		rv.OpAmominW, rv.OpAmomaxW, rv.OpAmominuW, rv.OpAmomaxuW,
		rv.OpAmoswapD, rv.OpAmoaddD, rv.OpAmoxorD, rv.OpAmoandD, rv.OpAmoorD,
		rv.OpAmominD, rv.OpAmomaxD, rv.OpAmominuD, rv.OpAmomaxuD:
		return e.atomic(rs1, rs2)

	case rv.OpWideMul, rv.OpWideMulu, rv.OpWideMulsu, rv.OpWideDiv, rv.OpWideDivu:
		hi, lo := wide[inst.Op][0], wide[inst.Op][1]
		first, second := e.bin(hi, rs1, rs2), e.bin(lo, rs1, rs2)
		e.set(inst.Rd, first)
		e.set(inst.Rs3, second)
	case rv.OpFarJumpRel:
		target := e.bin(alu.And, e.bin(alu.Add, e.pc, imm), e.k(^uint64(1)))
		e.set(rv.RegRA, e.next)
		e.next = target
	case rv.OpFarJumpAbs:
		e.set(rv.RegRA, e.next)
		e.next = e.k(uint64(inst.Imm) &^ 1)
	case rv.OpLdSext32Const:
		e.set(inst.Rd, imm)
	case rv.OpAdc, rv.OpSbb:
		parts, _ := rv.Components(inst)
		for _, p := range parts {
			e.set(p.Rd, e.bin(regOps[p.Op], m.Register(p.Rs1), m.Register(p.Rs2)))
		}

	default:
		return &UnsupportedError{Inst: inst}
	}
	return nil
}

var wide = map[rv.Opcode][2]alu.BinOp{
	rv.OpWideMul:   {alu.Mulh, alu.Mul},
	rv.OpWideMulu:  {alu.Mulhu, alu.Mul},
	rv.OpWideMulsu: {alu.Mulhsu, alu.Mul},
	rv.OpWideDiv:   {alu.Div, alu.Rem},
	rv.OpWideDivu:  {alu.Divu, alu.Remu},
}

func (e *executor[R]) shamt32(v R) R {
	return e.bin(alu.And, v, e.k(31))
}

// word applies a 64-bit op to 32-bit operands extended by ext and
// sign-extends the low word of the result.
func (e *executor[R]) word(op alu.BinOp, ext alu.UnOp, a, b R) R {
	return e.un(alu.SextW, e.bin(op, e.un(ext, a), e.un(ext, b)))
}

func (e *executor[R]) width() int {
	switch e.inst.Op {
	case rv.OpLrW, rv.OpScW, rv.OpAmoswapW, rv.OpAmoaddW, rv.OpAmoxorW, rv.OpAmoandW,
		rv.OpAmoorW, rv.OpAmominW, rv.OpAmomaxW, rv.OpAmominuW, rv.OpAmomaxuW:
		return 4
	}
	return 8
}

func (e *executor[R]) loadReserved(addr R) error {
	size := e.width()
	v, err := e.m.Load(addr, size)
	if err != nil {
		return err
	}
	if size == 4 {
		v = e.un(alu.SextW, v)
	}
	e.m.SetReservation(addr)
	e.set(e.inst.Rd, v)
	return nil
}

// storeConditional writes rs2 when the reservation matches and rewrites the
// current value otherwise, then clears the reservation.
func (e *executor[R]) storeConditional(addr, value R) error {
	size := e.width()
	ok := e.bin(alu.Eq, addr, e.m.Reservation())
	current, err := e.m.Load(addr, size)
	if err != nil {
		return err
	}
	if err := e.m.Store(addr, size, e.m.Select(ok, value, current)); err != nil {
		return err
	}
	e.set(e.inst.Rd, e.m.Select(ok, e.k(0), e.k(1)))
	e.m.SetReservation(e.k(math.MaxUint64))
	return nil
}

func (e *executor[R]) atomic(addr, src R) error {
	size := e.width()
	old, err := e.m.Load(addr, size)
	if err != nil {
		return err
	}
	if size == 4 {
		old = e.un(alu.SextW, old)
	}

	var result R
	switch e.inst.Op {
	case rv.OpAmoswapW, rv.OpAmoswapD:
		result = src
	case rv.OpAmoaddW, rv.OpAmoaddD:
		result = e.bin(alu.Add, old, src)
	case rv.OpAmoxorW, rv.OpAmoxorD:
		result = e.bin(alu.Xor, old, src)
	case rv.OpAmoandW, rv.OpAmoandD:
		result = e.bin(alu.And, old, src)
	case rv.OpAmoorW, rv.OpAmoorD:
		result = e.bin(alu.Or, old, src)
	case rv.OpAmominW, rv.OpAmominD, rv.OpAmomaxW, rv.OpAmomaxD:
		op := alu.Min
		if e.inst.Op == rv.OpAmomaxW || e.inst.Op == rv.OpAmomaxD {
			op = alu.Max
		}
		if size == 4 {
			src = e.un(alu.SextW, src)
		}
		result = e.bin(op, old, src)
	case rv.OpAmominuW, rv.OpAmominuD, rv.OpAmomaxuW, rv.OpAmomaxuD:
		op := alu.Minu
		if e.inst.Op == rv.OpAmomaxuW || e.inst.Op == rv.OpAmomaxuD {
			op = alu.Maxu
		}
		a, b := old, src
		if size == 4 {
			a, b = e.un(alu.ZextW, a), e.un(alu.ZextW, b)
		}
		result = e.bin(op, a, b)
	}

	if err := e.m.Store(addr, size, result); err != nil {
		return err
	}
	e.set(e.inst.Rd, old)
	return nil
}
