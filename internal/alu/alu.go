// Package alu defines the integer operations shared by concrete execution
// and symbolic evaluation.
//
// Every operation is a pure function of 64-bit operands. The executor never
// computes values itself: it asks its machine for Binary/Unary results, and
// both the concrete machine and the expression evaluator answer by calling
// into this package. Keeping one definition is what makes a deferred commit
// bit-identical to direct interpretation.
//
// Comparison operations return 1 for true and 0 for false.
package alu

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/holiman/uint256"
)

// BinOp identifies a two-operand operation.
type BinOp uint8

const (
	Add BinOp = iota + 1
	Sub
	Mul
	Mulh   // high 64 bits of signed x signed
	Mulhsu // high 64 bits of signed x unsigned
	Mulhu  // high 64 bits of unsigned x unsigned
	Div
	Divu
	Rem
	Remu
	And
	Or
	Xor
	Sll // shift amounts use the low 6 bits of the second operand
	Srl
	Sra
	Eq
	Ne
	Lt
	Ltu
	Ge
	Geu
	Min
	Max
	Minu
	Maxu
	Rol
	Ror
	Rolw // 32-bit rotate, result sign-extended
	Rorw
	Andn
	Orn
	Xnor
	Bclr
	Bext
	Binv
	Bset
)

var binOpNames = [...]string{
	Add:    "add",
	Sub:    "sub",
	Mul:    "mul",
	Mulh:   "mulh",
	Mulhsu: "mulhsu",
	Mulhu:  "mulhu",
	Div:    "div",
	Divu:   "divu",
	Rem:    "rem",
	Remu:   "remu",
	And:    "and",
	Or:     "or",
	Xor:    "xor",
	Sll:    "sll",
	Srl:    "srl",
	Sra:    "sra",
	Eq:     "eq",
	Ne:     "ne",
	Lt:     "lt",
	Ltu:    "ltu",
	Ge:     "ge",
	Geu:    "geu",
	Min:    "min",
	Max:    "max",
	Minu:   "minu",
	Maxu:   "maxu",
	Rol:    "rol",
	Ror:    "ror",
	Rolw:   "rolw",
	Rorw:   "rorw",
	Andn:   "andn",
	Orn:    "orn",
	Xnor:   "xnor",
	Bclr:   "bclr",
	Bext:   "bext",
	Binv:   "binv",
	Bset:   "bset",
}

// String returns the lower-case operation name.
func (op BinOp) String() string {
	if int(op) < len(binOpNames) && binOpNames[op] != "" {
		return binOpNames[op]
	}
	return fmt.Sprintf("BinOp<%d>", op)
}

// UnOp identifies a one-operand operation.
type UnOp uint8

const (
	SextB UnOp = iota + 1
	SextH
	SextW
	ZextB
	ZextH
	ZextW
	Clz
	Ctz
	Cpop
	Clzw
	Ctzw
	Cpopw
	OrcB
	Rev8
)

var unOpNames = [...]string{
	SextB: "sext.b",
	SextH: "sext.h",
	SextW: "sext.w",
	ZextB: "zext.b",
	ZextH: "zext.h",
	ZextW: "zext.w",
	Clz:   "clz",
	Ctz:   "ctz",
	Cpop:  "cpop",
	Clzw:  "clzw",
	Ctzw:  "ctzw",
	Cpopw: "cpopw",
	OrcB:  "orc.b",
	Rev8:  "rev8",
}

// String returns the lower-case operation name.
func (op UnOp) String() string {
	if int(op) < len(unOpNames) && unOpNames[op] != "" {
		return unOpNames[op]
	}
	return fmt.Sprintf("UnOp<%d>", op)
}

// Binary applies op to a and b.
//
// Division follows the RISC-V rules: dividing by zero yields all ones for
// the quotient and the dividend for the remainder, and the signed overflow
// case (MinInt64 / -1) yields the dividend and a zero remainder.
func Binary(op BinOp, a, b uint64) uint64 {
	switch op {
	case Add:
		return a + b
	case Sub:
		return a - b
	case Mul:
		return a * b
	case Mulh:
		return mulHigh(a, b, true, true)
	case Mulhsu:
		return mulHigh(a, b, true, false)
	case Mulhu:
		hi, _ := bits.Mul64(a, b)
		return hi
	case Div:
		if b == 0 {
			return math.MaxUint64
		}
		if int64(a) == math.MinInt64 && int64(b) == -1 {
			return a
		}
		return uint64(int64(a) / int64(b))
	case Divu:
		if b == 0 {
			return math.MaxUint64
		}
		return a / b
	case Rem:
		if b == 0 {
			return a
		}
		if int64(a) == math.MinInt64 && int64(b) == -1 {
			return 0
		}
		return uint64(int64(a) % int64(b))
	case Remu:
		if b == 0 {
			return a
		}
		return a % b
	case And:
		return a & b
	case Or:
		return a | b
	case Xor:
		return a ^ b
	case Sll:
		return a << (b & 63)
	case Srl:
		return a >> (b & 63)
	case Sra:
		return uint64(int64(a) >> (b & 63))
	case Eq:
		return boolean(a == b)
	case Ne:
		return boolean(a != b)
	case Lt:
		return boolean(int64(a) < int64(b))
	case Ltu:
		return boolean(a < b)
	case Ge:
		return boolean(int64(a) >= int64(b))
	case Geu:
		return boolean(a >= b)
	case Min:
		if int64(a) < int64(b) {
			return a
		}
		return b
	case Max:
		if int64(a) > int64(b) {
			return a
		}
		return b
	case Minu:
		if a < b {
			return a
		}
		return b
	case Maxu:
		if a > b {
			return a
		}
		return b
	case Rol:
		return bits.RotateLeft64(a, int(b&63))
	case Ror:
		return bits.RotateLeft64(a, -int(b&63))
	case Rolw:
		return sext32(bits.RotateLeft32(uint32(a), int(b&31)))
	case Rorw:
		return sext32(bits.RotateLeft32(uint32(a), -int(b&31)))
	case Andn:
		return a &^ b
	case Orn:
		return a | ^b
	case Xnor:
		return ^(a ^ b)
	case Bclr:
		return a &^ (1 << (b & 63))
	case Bext:
		return (a >> (b & 63)) & 1
	case Binv:
		return a ^ (1 << (b & 63))
	case Bset:
		return a | (1 << (b & 63))
	default:
		panic(fmt.Sprintf("alu: unknown binary op %d", op))
	}
}

// Unary applies op to a.
func Unary(op UnOp, a uint64) uint64 {
	switch op {
	case SextB:
		return uint64(int64(int8(a)))
	case SextH:
		return uint64(int64(int16(a)))
	case SextW:
		return sext32(uint32(a))
	case ZextB:
		return a & 0xff
	case ZextH:
		return a & 0xffff
	case ZextW:
		return a & 0xffffffff
	case Clz:
		return uint64(bits.LeadingZeros64(a))
	case Ctz:
		return uint64(bits.TrailingZeros64(a))
	case Cpop:
		return uint64(bits.OnesCount64(a))
	case Clzw:
		return uint64(bits.LeadingZeros32(uint32(a)))
	case Ctzw:
		return uint64(bits.TrailingZeros32(uint32(a)))
	case Cpopw:
		return uint64(bits.OnesCount32(uint32(a)))
	case OrcB:
		var out uint64
		for i := 0; i < 64; i += 8 {
			if (a>>i)&0xff != 0 {
				out |= 0xff << i
			}
		}
		return out
	case Rev8:
		return bits.ReverseBytes64(a)
	default:
		panic(fmt.Sprintf("alu: unknown unary op %d", op))
	}
}

// Select returns t when cond is nonzero and f otherwise.
func Select(cond, t, f uint64) uint64 {
	if cond != 0 {
		return t
	}
	return f
}

// mulHigh returns bits [64, 128) of the product, widening each operand to
// 256 bits first so the signed cases fall out of plain modular arithmetic.
func mulHigh(a, b uint64, signedA, signedB bool) uint64 {
	x := widen(a, signedA)
	y := widen(b, signedB)
	product := new(uint256.Int).Mul(x, y)
	return product.Rsh(product, 64).Uint64()
}

func widen(v uint64, signed bool) *uint256.Int {
	if signed && int64(v) < 0 {
		return &uint256.Int{v, math.MaxUint64, math.MaxUint64, math.MaxUint64}
	}
	return uint256.NewInt(v)
}

func sext32(v uint32) uint64 {
	return uint64(int64(int32(v)))
}

func boolean(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
