package harness

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rvcheck/internal/asm"
	"github.com/roach88/rvcheck/internal/engine"
	"github.com/roach88/rvcheck/internal/machine"
	"github.com/roach88/rvcheck/internal/profile"
	"github.com/roach88/rvcheck/internal/rv"
	"github.com/roach88/rvcheck/internal/testutil"
)

// mixedProgram covers base, compressed and bit-manipulation encodings.
const mixedProgram = `
.half 0x4515          # c.li a0, 5
.half 0x0505          # c.addi a0, 1
clz a1, a0
andn a2, a0, a1
sh1add a3, a0, a0
rori a4, a1, 1
bseti a5, zero, 40
sub a0, a3, a2
li a7, 93
ecall
`

func roundtripConfig(t *testing.T) rv.Config {
	t.Helper()
	cfg, err := profile.Load(profile.Roundtrip)
	require.NoError(t, err)
	return cfg
}

func loadPair(t *testing.T, cfg rv.Config, src string) (*machine.Machine, *machine.Machine) {
	t.Helper()
	img := testutil.Image(t, src)
	return testutil.LoadImage(t, cfg, img, "prog"), testutil.LoadImage(t, cfg, img, "prog")
}

func TestValidator_MixedProgram(t *testing.T) {
	cfg := roundtripConfig(t)
	m1, m2 := loadPair(t, cfg, mixedProgram)

	var texts []string
	v := NewValidator(rv.NewDecoder(cfg), WithStepHook(func(rt *RoundTrip) {
		texts = append(texts, rt.Text)
	}))

	code, err := v.Run(m1, m2)
	require.NoError(t, err)
	// a3 = 18, a2 = 6 &^ 61 = 2
	assert.Equal(t, int8(16), code)
	assert.Equal(t, uint64(10), v.Steps())
	assert.Equal(t, m1.Registers(), m2.Registers())
	assert.Equal(t, uint64(61), m1.Register(11))
	assert.Equal(t, uint64(1)<<63|30, m1.Register(14))
	assert.Equal(t, uint64(1)<<40, m1.Register(15))

	require.Len(t, texts, 10)
	assert.Equal(t, "addi a0, zero, 5", texts[0])
	assert.Equal(t, "addi a0, a0, 1", texts[1])
	assert.Equal(t, "ecall", texts[9])
}

func TestValidator_StepReportsCompressedLength(t *testing.T) {
	cfg := roundtripConfig(t)
	m1, m2 := loadPair(t, cfg, mixedProgram)
	v := NewValidator(rv.NewDecoder(cfg))

	rt, err := v.Step(m1, m2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rt.Step)
	assert.Equal(t, uint64(testutil.Base), rt.PC)
	assert.Equal(t, uint8(2), rt.Inst.Length)
	assert.Equal(t, uint64(testutil.Base+2), m1.PC())
	assert.Equal(t, m1.PC(), m2.PC())
}

func TestValidator_FusedInstructionHasNoText(t *testing.T) {
	// With fusion enabled the decoder yields a macro-op the parser refuses.
	m1, m2 := loadPair(t, testutil.Config, "mulhu a0, a1, a2\nmul a3, a1, a2\n"+testutil.Exit0)
	v := NewValidator(rv.NewDecoder(testutil.Config))

	_, err := v.Run(m1, m2)
	require.Error(t, err)
	assert.True(t, engine.IsMismatch(err))

	var f *engine.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, uint64(testutil.Base), f.PC)
	assert.Equal(t, uint64(1), f.Step)
	assert.Contains(t, f.Message, "widemulu")
}

func TestValidator_ReparseDiffers(t *testing.T) {
	cfg := roundtripConfig(t)
	m1, m2 := loadPair(t, cfg, mixedProgram)
	v := NewValidator(rv.NewDecoder(cfg))
	// Off by one in the immediate, written in hex so the text differs from
	// the canonical print of what it parses to.
	v.print = func(inst rv.Instruction) string {
		if inst.Op == rv.OpAddi {
			return fmt.Sprintf("addi %s, %s, 0x%x", rv.RegisterName(inst.Rd), rv.RegisterName(inst.Rs1), inst.Imm+1)
		}
		return asm.Print(inst)
	}

	_, err := v.Step(m1, m2)
	require.Error(t, err)
	assert.True(t, engine.IsMismatch(err))

	msg := err.Error()
	assert.Contains(t, msg, `"addi a0, zero, 0x6" reparsed as "addi a0, zero, 6"`)
	assert.Contains(t, msg, `decoded "addi a0, zero, 5"`)
	assert.Contains(t, msg, "(pc=0x10000, step=1)")
	assert.Equal(t, uint64(testutil.Base), m1.PC(), "nothing executes after a mismatch")
	assert.Equal(t, m1.Registers(), m2.Registers())
}

func TestValidator_DecodeFault(t *testing.T) {
	cfg := roundtripConfig(t)
	m1, m2 := loadPair(t, cfg, ".word 0")
	v := NewValidator(rv.NewDecoder(cfg))

	_, err := v.Run(m1, m2)
	assert.True(t, engine.IsDecodeFault(err))
}

func TestValidator_ExecutionFault(t *testing.T) {
	cfg := roundtripConfig(t)
	m1, m2 := loadPair(t, cfg, "li a7, 1\necall\n")
	v := NewValidator(rv.NewDecoder(cfg))

	_, err := v.Run(m1, m2)
	assert.True(t, engine.IsExecutionFault(err))

	var se *machine.SyscallError
	assert.ErrorAs(t, err, &se)
}

func TestValidator_DivergentMachines(t *testing.T) {
	cfg := roundtripConfig(t)
	m1, m2 := loadPair(t, cfg, "addi a0, a1, 1\n"+testutil.Exit0)
	m2.SetRegister(11, 41)
	v := NewValidator(rv.NewDecoder(cfg))

	_, err := v.Step(m1, m2)
	require.Error(t, err)
	assert.True(t, engine.IsMismatch(err))
	assert.Contains(t, err.Error(), "a0")
}
