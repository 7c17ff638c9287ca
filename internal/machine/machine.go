// Package machine is the authoritative concrete RISC-V machine: register
// file, pc, sparse write-xor-execute memory, reservation, exit state and the
// environment call surface.
//
// Machine satisfies exec.Machine[uint64], so running exec.Execute on it is
// the plain interpreter. It also answers the pre-step reads the expression
// evaluator needs.
package machine

import (
	"errors"
	"log/slog"
	"math"

	"github.com/roach88/rvcheck/internal/alu"
	"github.com/roach88/rvcheck/internal/exec"
	"github.com/roach88/rvcheck/internal/rv"
)

// ErrCyclesExceeded is returned once a run charges more cycles than the
// configuration allows.
var ErrCyclesExceeded = errors.New("cycle limit exceeded")

// Machine is the concrete machine state.
type Machine struct {
	cfg         rv.Config
	regs        [rv.NumRegisters]uint64
	pc          uint64
	nextPC      uint64
	reservation uint64
	mem         *Memory

	running  bool
	exitCode int8
	cycles   uint64
	breaks   uint64

	syscalls []Syscalls
}

var _ exec.Machine[uint64] = (*Machine)(nil)

// Option configures a Machine.
type Option func(*Machine)

// WithSyscalls adds environment call handlers. They are consulted in order
// after the built-in exit call.
func WithSyscalls(s ...Syscalls) Option {
	return func(m *Machine) {
		m.syscalls = append(m.syscalls, s...)
	}
}

// New creates a halted machine with empty memory. Call LoadProgram before
// running it.
func New(cfg rv.Config, opts ...Option) *Machine {
	m := &Machine{
		cfg:         cfg,
		reservation: math.MaxUint64,
		mem:         NewMemory(cfg.MemoryLimit),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the machine configuration.
func (m *Machine) Config() rv.Config { return m.cfg }

// Memory returns the machine's memory.
func (m *Machine) Memory() *Memory { return m.mem }

// FetchHalf reads instruction bytes; Machine is an rv.Fetcher.
func (m *Machine) FetchHalf(addr uint64) (uint16, error) { return m.mem.FetchHalf(addr) }

func (m *Machine) Const(v uint64) uint64 { return v }
func (m *Machine) Binary(op alu.BinOp, a, b uint64) uint64 { return alu.Binary(op, a, b) }
func (m *Machine) Unary(op alu.UnOp, a uint64) uint64 { return alu.Unary(op, a) }
func (m *Machine) Select(cond, t, f uint64) uint64 { return alu.Select(cond, t, f) }

// Register returns register i; register 0 always reads zero.
func (m *Machine) Register(i uint8) uint64 { return m.regs[i] }

// SetRegister writes register i. Writes to register 0 are dropped.
func (m *Machine) SetRegister(i uint8, v uint64) {
	if i != rv.RegZero {
		m.regs[i] = v
	}
}

// Registers returns a copy of the register file.
func (m *Machine) Registers() [rv.NumRegisters]uint64 { return m.regs }

func (m *Machine) PC() uint64 { return m.pc }
func (m *Machine) UpdatePC(v uint64) { m.nextPC = v }
func (m *Machine) CommitPC() { m.pc = m.nextPC }

// SetPC moves both the current and staged pc.
func (m *Machine) SetPC(pc uint64) {
	m.pc, m.nextPC = pc, pc
}

func (m *Machine) Load(addr uint64, size int) (uint64, error) { return m.mem.Load(addr, size) }

func (m *Machine) Store(addr uint64, size int, v uint64) error { return m.mem.Store(addr, size, v) }

func (m *Machine) Reservation() uint64 { return m.reservation }
func (m *Machine) SetReservation(v uint64) { m.reservation = v }

// Running reports whether the guest has not exited yet.
func (m *Machine) Running() bool { return m.running }
func (m *Machine) SetRunning(r bool) { m.running = r }
func (m *Machine) ExitCode() int8 { return m.exitCode }
func (m *Machine) Cycles() uint64 { return m.cycles }
func (m *Machine) Breaks() uint64 { return m.breaks }

// Exit halts the machine with code.
func (m *Machine) Exit(code int8) {
	m.exitCode = code
	m.running = false
}

// AddCycles charges n cycles against the configured limit.
func (m *Machine) AddCycles(n uint64) error {
	if n > m.cfg.MaxCycles-m.cycles {
		return ErrCyclesExceeded
	}
	m.cycles += n
	return nil
}

// Ebreak counts a breakpoint. There is no debugger to hand control to.
func (m *Machine) Ebreak() error {
	m.breaks++
	slog.Debug("ebreak", "pc", hex(m.pc), "count", m.breaks)
	return nil
}

// Step decodes and interprets one instruction directly, without effect
// recording. It is the reference the recording engine is checked against.
func (m *Machine) Step(dec rv.InstructionDecoder) (rv.Instruction, error) {
	if err := m.AddCycles(1); err != nil {
		return rv.Instruction{}, err
	}
	inst, err := dec.Decode(m.mem, m.pc)
	if err != nil {
		return rv.Instruction{}, err
	}
	return inst, exec.Execute[uint64](m, inst)
}

// Run interprets until the guest exits.
func (m *Machine) Run(dec rv.InstructionDecoder) (int8, error) {
	for m.running {
		if _, err := m.Step(dec); err != nil {
			return 0, err
		}
	}
	return m.exitCode, nil
}

// Clone returns an independent copy sharing only the syscall handlers.
func (m *Machine) Clone() *Machine {
	c := *m
	c.mem = m.mem.Clone()
	c.syscalls = append([]Syscalls(nil), m.syscalls...)
	return &c
}
