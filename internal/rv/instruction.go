package rv

import "fmt"

// Instruction is a decoded instruction. Fields an opcode does not use are
// zero, so two Instructions with the same meaning compare equal with ==.
//
// Imm holds the sign-extended immediate as the instruction uses it: byte
// offsets for branches and jumps, the shifted value for lui/auipc, the shift
// amount for shifts. Length is the number of bytes the instruction occupies
// in memory: 2 for compressed, 4 for base, and 4 per component for a
// fused macro-op.
type Instruction struct {
	Op     Opcode
	Rd     uint8
	Rs1    uint8
	Rs2    uint8
	Rs3    uint8
	Imm    int64
	Length uint8
}

// String is a debugging form; canonical text lives in the asm package.
func (i Instruction) String() string {
	return fmt.Sprintf("%s{rd=%d rs1=%d rs2=%d rs3=%d imm=%d len=%d}",
		i.Op, i.Rd, i.Rs1, i.Rs2, i.Rs3, i.Imm, i.Length)
}

// Register numbers with a fixed role.
const (
	RegZero = 0
	RegRA   = 1
	RegSP   = 2
	RegA0   = 10
	RegA1   = 11
	RegA7   = 17
)

// NumRegisters is the size of the integer register file.
const NumRegisters = 32

var abiNames = [NumRegisters]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

var registersByName = func() map[string]uint8 {
	m := make(map[string]uint8, 2*NumRegisters+1)
	for i, name := range abiNames {
		m[name] = uint8(i)
		m[fmt.Sprintf("x%d", i)] = uint8(i)
	}
	m["fp"] = 8
	return m
}()

// RegisterName returns the ABI name of register r.
func RegisterName(r uint8) string {
	if int(r) < NumRegisters {
		return abiNames[r]
	}
	return fmt.Sprintf("x?%d", r)
}

// LookupRegister accepts ABI names, "fp" and numeric xN names.
func LookupRegister(name string) (uint8, bool) {
	r, ok := registersByName[name]
	return r, ok
}
