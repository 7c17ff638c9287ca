package engine

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rvcheck/internal/digest"
	"github.com/roach88/rvcheck/internal/effect"
	"github.com/roach88/rvcheck/internal/machine"
	"github.com/roach88/rvcheck/internal/profile"
	"github.com/roach88/rvcheck/internal/rv"
	"github.com/roach88/rvcheck/internal/testutil"
)

// haltOnZero treats syscall 0 as "stop with exit code 0" and counts calls.
type haltOnZero struct {
	calls int
}

func (h *haltOnZero) Ecall(m *machine.Machine) (bool, error) {
	if m.Register(rv.RegA7) != 0 {
		return false, nil
	}
	h.calls++
	m.Exit(0)
	return true, nil
}

func newDriver(t *testing.T, src string, opts ...Option) *Driver {
	t.Helper()
	m := testutil.Load(t, testutil.Config, src)
	return New(m, rv.NewDecoder(testutil.Config), opts...)
}

func TestDriver_AddiThenEcall(t *testing.T) {
	h := &haltOnZero{}
	m := testutil.Load(t, testutil.Config, "addi x5, x0, 42\necall")
	machine.WithSyscalls(h)(m)

	var ecalls int
	d := New(m, rv.NewDecoder(testutil.Config), WithObserver(ObserverFunc(func(rec *StepRecord) error {
		for _, w := range rec.Effects.Writes {
			if w.Kind == effect.EnvironmentCall {
				ecalls++
			}
		}
		return nil
	})))

	code, err := d.Run()
	require.NoError(t, err)
	assert.Equal(t, int8(0), code)
	assert.Equal(t, uint64(42), m.Register(5))
	assert.Equal(t, 1, ecalls)
	assert.Equal(t, 1, h.calls)
	assert.Equal(t, uint64(testutil.Base+8), m.PC())
	assert.Equal(t, uint64(2), d.Steps())
	assert.False(t, m.Running())
}

func TestDriver_ExitCode(t *testing.T) {
	d := newDriver(t, "li a0, 7\nli a7, 93\necall\nli a0, 9")
	code, err := d.Run()
	require.NoError(t, err)
	assert.Equal(t, int8(7), code)

	_, err = d.Step()
	assert.ErrorIs(t, err, ErrHalted)
}

func TestDriver_LaterRegisterWriteWins(t *testing.T) {
	d := newDriver(t, "nop"+testutil.Exit0)
	require.NoError(t, d.commit(&effect.Effects{Writes: []effect.Value{
		{Kind: effect.RegisterWrite, Index: 5, Value: 1},
		{Kind: effect.RegisterWrite, Index: 6, Value: 3},
		{Kind: effect.RegisterWrite, Index: 5, Value: 2},
	}}))
	assert.Equal(t, uint64(2), d.Machine().Register(5))
	assert.Equal(t, uint64(3), d.Machine().Register(6))
}

func TestDriver_CommitOrder(t *testing.T) {
	d := newDriver(t, "nop"+testutil.Exit0)
	m := d.Machine()
	sp := m.Register(rv.RegSP)

	// The exit call must see the register written by the same batch, and the
	// pc must already point past the instruction.
	require.NoError(t, d.commit(&effect.Effects{
		NextPC:    0x4242,
		HasNextPC: true,
		Writes: []effect.Value{
			{Kind: effect.EnvironmentCall},
			{Kind: effect.RegisterWrite, Index: rv.RegA7, Value: machine.SyscallExit},
			{Kind: effect.RegisterWrite, Index: rv.RegA0, Value: 3},
			{Kind: effect.ReservationWrite, Value: 0x99},
			{Kind: effect.MemoryWrite, Address: sp - 8, Size: 8, Value: 0xfeed},
		},
	}))

	assert.Equal(t, uint64(0x4242), m.PC())
	assert.False(t, m.Running())
	assert.Equal(t, int8(3), m.ExitCode())
	assert.Equal(t, uint64(0x99), m.Reservation())
	v, err := m.Load(sp-8, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xfeed), v)
}

func TestDriver_BatchSeesEntryState(t *testing.T) {
	src := `
li t1, 11
sd t1, -8(sp)
li t1, 22
addi t2, sp, -8
amoswap.d t1, t1, (t2)
ld t3, -8(sp)
` + testutil.Exit0

	d := newDriver(t, src)
	_, err := d.Run()
	require.NoError(t, err)

	m := d.Machine()
	assert.Equal(t, uint64(11), m.Register(6), "rd gets the old memory value")
	assert.Equal(t, uint64(22), m.Register(28), "memory gets the old rs2")
}

func TestDriver_FusedWidePair(t *testing.T) {
	src := `
li a1, -3
li a2, 5
mulh a3, a1, a2
mul a4, a1, a2
` + testutil.Exit0

	var fused bool
	d := newDriver(t, src, WithObserver(ObserverFunc(func(rec *StepRecord) error {
		if rec.Inst.Op == rv.OpWideMul {
			fused = true
			assert.Len(t, rec.Effects.Writes, 2)
		}
		return nil
	})))
	_, err := d.Run()
	require.NoError(t, err)

	assert.True(t, fused)
	assert.Equal(t, uint64(math.MaxUint64), d.Machine().Register(13))
	assert.Equal(t, uint64(math.MaxUint64)-14, d.Machine().Register(14))
}

func TestDriver_OutOfRangeStoreIsCommitFault(t *testing.T) {
	cfg := testutil.Config
	cfg.MemoryLimit = 1<<24 - 1

	m := testutil.Load(t, cfg, `
li t0, 1
slli t0, t0, 40
sd zero, 0(t0)
li t1, 5
`+testutil.Exit0)
	d := New(m, rv.NewDecoder(cfg))

	_, err := d.Run()
	require.Error(t, err)
	assert.True(t, IsCommitFault(err))

	var f *Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, uint64(3), f.Step)
	assert.Equal(t, uint64(testutil.Base+8), f.PC)
	assert.ErrorIs(t, err, machine.ErrOutOfBound)

	assert.Zero(t, m.Register(6), "nothing after the faulting store runs")
	assert.Equal(t, uint64(3), d.Steps())

	_, again := d.Step()
	assert.Same(t, f, errorsAsFault(t, again))
	assert.Equal(t, uint64(3), d.Steps())
}

func errorsAsFault(t *testing.T, err error) *Fault {
	t.Helper()
	var f *Fault
	require.ErrorAs(t, err, &f)
	return f
}

func TestDriver_Faults(t *testing.T) {
	small := testutil.Config
	small.MemoryLimit = 1<<24 - 1
	short := testutil.Config
	short.MaxCycles = 2

	tests := []struct {
		name  string
		cfg   rv.Config
		src   string
		code  FaultCode
		cause error
	}{
		{"undefined instruction", testutil.Config, ".word 0xffffffff", CodeDecode, nil},
		{"fetch outside text", testutil.Config, "lui t0, 0x20\njalr zero, 0(t0)", CodeDecode, machine.ErrFetchNonExecutable},
		{"unreadable load", small, "li t0, 1\nslli t0, t0, 40\nld t1, 0(t0)", CodeEvaluation, machine.ErrOutOfBound},
		{"store to text", testutil.Config, "auipc t0, 0\nsw zero, 0(t0)", CodeCommit, machine.ErrWriteExecutable},
		{"unknown syscall", testutil.Config, "li a7, 1\necall", CodeExecution, nil},
		{"cycle limit", short, "nop\nnop\nnop", CodeExecution, machine.ErrCyclesExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testutil.Load(t, tt.cfg, tt.src)
			_, err := New(m, rv.NewDecoder(tt.cfg)).Run()
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err), err.Error())
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}
		})
	}
}

func TestDriver_DecodeFaultWrapsDecodeError(t *testing.T) {
	_, err := newDriver(t, ".word 0xffffffff").Run()
	var decErr *rv.DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.True(t, IsDecodeFault(err))
}

func TestDriver_ObserverErrorStopsRun(t *testing.T) {
	boom := errors.New("boom")
	d := newDriver(t, "nop\nnop"+testutil.Exit0, WithObserver(ObserverFunc(func(rec *StepRecord) error {
		if rec.Step == 2 {
			return boom
		}
		return nil
	})))

	_, err := d.Run()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(2), d.Steps())
}

func TestDriver_StepRecord(t *testing.T) {
	d := newDriver(t, "addi a0, zero, 5"+testutil.Exit0)

	rec, err := d.Step()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Step)
	assert.Equal(t, uint64(testutil.Base), rec.PC)
	assert.Equal(t, uint64(testutil.Base+4), rec.NextPC)
	assert.Equal(t, "addi a0, zero, 5", rec.Text())
	assert.True(t, rec.Running)
	assert.Equal(t, "pc = (add pc 0x4); a0 = (add 0x0 0x5)", rec.Batch.String())
	assert.Equal(t, []effect.Value{{Kind: effect.RegisterWrite, Index: rv.RegA0, Value: 5}}, rec.Effects.Writes)
}

const mixedProgram = `
    li s0, 10
    li s1, 0
loop:
    add s1, s1, s0
    addi s0, s0, -1
    bnez s0, loop
    sd s1, -16(sp)
    lw t0, -16(sp)
    addi t1, sp, -16
    lr.d t2, (t1)
    sc.d t3, s0, (t1)
    sc.d t4, s1, (t1)
    ld t5, -16(sp)
    sh2add a1, s1, s0
    rev8 a2, s1
    cpop a3, s1
    div a4, s1, s0
    rem a5, s1, s0
    mv a0, s1
    li a7, 93
    ecall
`

func TestDriver_MatchesInterpreter(t *testing.T) {
	d := newDriver(t, mixedProgram)
	code, err := d.Run()
	require.NoError(t, err)

	ref := testutil.Load(t, testutil.Config, mixedProgram)
	refCode, err := ref.Run(rv.NewDecoder(testutil.Config))
	require.NoError(t, err)

	assert.Equal(t, refCode, code)
	assert.Equal(t, int8(55), code)
	assert.Equal(t, digest.State(ref), digest.State(d.Machine()))
	assert.Equal(t, uint64(1), d.Machine().Register(29), "second sc.d fails after the first clears the reservation")
}

func TestDriver_ReferenceCheck(t *testing.T) {
	ref := testutil.Load(t, testutil.Config, mixedProgram)
	d := newDriver(t, mixedProgram, WithReferenceCheck(ref, rv.NewDecoder(testutil.Config)))

	code, err := d.Run()
	require.NoError(t, err)
	assert.Equal(t, int8(55), code)
	assert.False(t, ref.Running())
}

func TestDriver_CarryMacroOps(t *testing.T) {
	tests := []struct {
		name string
		src  string
		op   rv.Opcode
		want map[uint8]uint64
	}{
		{
			name: "adc",
			src: `
li a0, -1
li a1, 1
li a2, 1
add a0, a0, a1
sltu a1, a0, a1
add a0, a0, a2
sltu a2, a0, a2
or a1, a1, a2
`,
			op:   rv.OpAdc,
			want: map[uint8]uint64{10: 1, 11: 1, 12: 0},
		},
		{
			name: "sbb",
			src: `
li a0, 5
li a1, 7
li a2, 1
li a3, 9
sub a1, a0, a1
sltu a3, a0, a1
sub a0, a1, a2
sltu a2, a1, a0
or a2, a2, a3
`,
			op:   rv.OpSbb,
			want: map[uint8]uint64{10: math.MaxUint64 - 2, 11: math.MaxUint64 - 1, 12: 1, 13: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.src + testutil.Exit0
			ref := testutil.Load(t, testutil.Config, src)
			var seen bool
			got := map[uint8]uint64{}
			var d *Driver
			d = newDriver(t, src,
				WithReferenceCheck(ref, rv.NewDecoder(testutil.Config)),
				WithObserver(ObserverFunc(func(rec *StepRecord) error {
					if rec.Inst.Op != tt.op {
						return nil
					}
					seen = true
					assert.Len(t, rec.Effects.Writes, 5, "every component write is recorded")
					for i := range tt.want {
						got[i] = d.Machine().Register(i)
					}
					return nil
				})))

			code, err := d.Run()
			require.NoError(t, err)
			assert.Equal(t, int8(0), code)
			require.True(t, seen)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDriver_WrappingStoreIsCommitFault(t *testing.T) {
	cfg, err := profile.Load(profile.Recording)
	require.NoError(t, err)

	m := testutil.Load(t, cfg, "addi t0, zero, -4\nsd zero, 0(t0)"+testutil.Exit0)
	d := New(m, rv.NewDecoder(cfg))

	_, err = d.Run()
	require.Error(t, err)
	assert.True(t, IsCommitFault(err))
	assert.Regexp(t, `^COMMIT_ERROR: .*out of bound.* \(pc=0x10004, step=2\)$`, err.Error())
	assert.Equal(t, uint64(0xfffffffffffffffc), d.Machine().Register(5))
}

func TestDriver_ReferenceCheckDetectsDivergence(t *testing.T) {
	ref := testutil.Load(t, testutil.Config, "li a0, 1\nli a0, 3"+testutil.Exit0)
	d := newDriver(t, "li a0, 1\nli a0, 2"+testutil.Exit0, WithReferenceCheck(ref, rv.NewDecoder(testutil.Config)))

	_, err := d.Run()
	require.Error(t, err)
	assert.True(t, IsMismatch(err))

	var f *Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, uint64(2), f.Step)
	assert.Contains(t, f.Message, "decoded")
}
