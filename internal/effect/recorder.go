// Package effect records what an instruction would do instead of doing it.
//
// A Recorder stands in for the machine while exec.Execute walks one
// instruction. Register writes, stores, reservation updates and environment
// signals become Writes over symbolic expressions that all describe the
// instruction's entry state. The driver drains the resulting Batch, evaluates
// it against the concrete machine and commits the values.
//
// Loads never observe stores made earlier by the same instruction. Register
// writes, by contrast, are visible to later reads in the same instruction.
package effect

import (
	"github.com/roach88/rvcheck/internal/alu"
	"github.com/roach88/rvcheck/internal/expr"
	"github.com/roach88/rvcheck/internal/rv"
)

// Recorder implements exec.Machine[expr.Ref]. It has no page or flag
// management: those belong to machine.PageManager, which only concrete
// memory implements.
//
// The zero value is not ready; call Reset before each instruction.
type Recorder struct {
	arena expr.Arena

	regs [rv.NumRegisters]expr.Ref

	entryPC expr.Ref
	pc      expr.Ref
	staged  expr.Ref

	resv expr.Ref

	writes []Write
}

// NewRecorder returns a recorder already reset for its first instruction.
func NewRecorder() *Recorder {
	r := &Recorder{}
	r.Reset()
	return r
}

// Reset discards the previous instruction: every register slot goes back to
// its entry placeholder, the pc slots to the entry pc, and the write log and
// arena are emptied. Batches drained earlier become invalid.
func (r *Recorder) Reset() {
	r.arena.Reset()
	r.regs[rv.RegZero] = r.arena.Imm(0)
	for i := 1; i < rv.NumRegisters; i++ {
		r.regs[i] = r.arena.Register(uint8(i))
	}
	r.entryPC = r.arena.PC()
	r.pc = r.entryPC
	r.staged = r.entryPC
	r.resv = r.arena.Reservation()
	r.writes = nil
}

// Drain hands the recorded writes to the caller. The next pc is reported
// only when a committed pc differs from the entry placeholder.
func (r *Recorder) Drain() *Batch {
	b := &Batch{
		Arena:  &r.arena,
		Writes: r.writes,
	}
	if r.pc != r.entryPC {
		b.NextPC = r.pc
		b.HasNextPC = true
	}
	r.writes = nil
	return b
}

func (r *Recorder) Const(v uint64) expr.Ref {
	return r.arena.Imm(v)
}

func (r *Recorder) Binary(op alu.BinOp, a, b expr.Ref) expr.Ref {
	return r.arena.Binary(op, a, b)
}

func (r *Recorder) Unary(op alu.UnOp, a expr.Ref) expr.Ref {
	return r.arena.Unary(op, a)
}

func (r *Recorder) Select(cond, t, f expr.Ref) expr.Ref {
	return r.arena.Select(cond, t, f)
}

// Register returns the current slot: the entry placeholder, or the last
// value this instruction wrote.
func (r *Recorder) Register(i uint8) expr.Ref {
	return r.regs[i]
}

// SetRegister records a register write. Writes to x0 are dropped.
func (r *Recorder) SetRegister(i uint8, v expr.Ref) {
	if i == rv.RegZero {
		return
	}
	r.regs[i] = v
	r.writes = append(r.writes, Write{Kind: RegisterWrite, Index: i, Value: v})
}

func (r *Recorder) PC() expr.Ref {
	return r.pc
}

func (r *Recorder) UpdatePC(v expr.Ref) {
	r.staged = v
}

func (r *Recorder) CommitPC() {
	r.pc = r.staged
}

// Load always denotes memory as it was at instruction entry.
func (r *Recorder) Load(addr expr.Ref, size int) (expr.Ref, error) {
	return r.arena.Load(addr, size), nil
}

func (r *Recorder) Store(addr expr.Ref, size int, v expr.Ref) error {
	r.writes = append(r.writes, Write{Kind: MemoryWrite, Address: addr, Size: uint8(size), Value: v})
	return nil
}

func (r *Recorder) Reservation() expr.Ref {
	return r.resv
}

func (r *Recorder) SetReservation(v expr.Ref) {
	r.resv = v
	r.writes = append(r.writes, Write{Kind: ReservationWrite, Value: v})
}

func (r *Recorder) Ecall() error {
	r.writes = append(r.writes, Write{Kind: EnvironmentCall})
	return nil
}

func (r *Recorder) Ebreak() error {
	r.writes = append(r.writes, Write{Kind: EnvironmentBreak})
	return nil
}
