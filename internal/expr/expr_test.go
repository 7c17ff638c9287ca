package expr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rvcheck/internal/alu"
)

var errUnmapped = errors.New("unmapped")

type fakeState struct {
	regs  [32]uint64
	pc    uint64
	resv  uint64
	mem   map[uint64]uint64
	loads int
}

func (s *fakeState) Register(i uint8) uint64 { return s.regs[i] }
func (s *fakeState) PC() uint64              { return s.pc }
func (s *fakeState) Reservation() uint64     { return s.resv }

func (s *fakeState) Load(addr uint64, size int) (uint64, error) {
	s.loads++
	v, ok := s.mem[addr]
	if !ok {
		return 0, errUnmapped
	}
	return v, nil
}

func TestEval_Leaves(t *testing.T) {
	var a Arena
	s := &fakeState{pc: 0x1000, resv: 0x2000}
	s.regs[5] = 42

	imm := a.Imm(7)
	reg := a.Register(5)
	pc := a.PC()
	resv := a.Reservation()

	e := NewEvaluator(&a, s)
	for ref, want := range map[Ref]uint64{imm: 7, reg: 42, pc: 0x1000, resv: 0x2000} {
		got, err := e.Eval(ref)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestEval_ReadsEntryState(t *testing.T) {
	var a Arena
	s := &fakeState{}
	s.regs[1] = 10

	sum := a.Binary(alu.Add, a.Register(1), a.Imm(5))
	s.regs[1] = 20

	v, err := NewEvaluator(&a, s).Eval(sum)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), v, "registers are read at evaluation, not at recording")
}

func TestEval_MemoisesSharedNodes(t *testing.T) {
	var a Arena
	s := &fakeState{mem: map[uint64]uint64{0x100: 3}}

	load := a.Load(a.Imm(0x100), 8)
	double := a.Binary(alu.Add, load, load)
	neg := a.Unary(alu.SextB, double)

	e := NewEvaluator(&a, s)
	v, err := e.Eval(neg)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), v)
	_, err = e.Eval(load)
	require.NoError(t, err)
	assert.Equal(t, 1, s.loads)
}

func TestEval_SelectIsLazy(t *testing.T) {
	var a Arena
	s := &fakeState{}

	bad := a.Load(a.Imm(0xdead), 4)
	taken := a.Select(a.Imm(1), a.Imm(9), bad)
	v, err := NewEvaluator(&a, s).Eval(taken)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), v)
	assert.Zero(t, s.loads)

	other := a.Select(a.Imm(0), a.Imm(9), bad)
	_, err = NewEvaluator(&a, s).Eval(other)
	require.Error(t, err)
	assert.ErrorIs(t, err, errUnmapped)
}

func TestEval_LoadFailure(t *testing.T) {
	var a Arena
	load := a.Load(a.Imm(0x40), 2)

	_, err := NewEvaluator(&a, &fakeState{}).Eval(load)
	var evalErr *EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, load, evalErr.Ref)
	assert.Contains(t, err.Error(), "load2 at 0x40")
}

func TestEval_BadReference(t *testing.T) {
	var a Arena
	a.Imm(1)

	_, err := NewEvaluator(&a, &fakeState{}).Eval(Ref(5))
	var evalErr *EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, Ref(5), evalErr.Ref)
}

func TestArena_Reset(t *testing.T) {
	var a Arena
	a.Imm(1)
	a.Imm(2)
	require.Equal(t, 2, a.Len())

	a.Reset()
	assert.Equal(t, 0, a.Len())
	_, ok := a.Node(0)
	assert.False(t, ok)
	assert.Equal(t, Ref(0), a.Imm(3))
}

func TestArena_Format(t *testing.T) {
	var a Arena
	load := a.Load(a.Binary(alu.Add, a.Register(2), a.Imm(8)), 8)
	sel := a.Select(a.Binary(alu.Eq, a.Reservation(), a.PC()), load, a.Unary(alu.SextW, a.Register(10)))

	assert.Equal(t, "(select (eq resv pc) (load8 (add sp 0x8)) (sext.w a0))", a.Format(sel))
	assert.Equal(t, "<bad ref 99>", a.Format(99))
}
