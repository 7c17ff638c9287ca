package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/rvcheck/internal/asm"
	"github.com/roach88/rvcheck/internal/effect"
	"github.com/roach88/rvcheck/internal/exec"
	"github.com/roach88/rvcheck/internal/expr"
	"github.com/roach88/rvcheck/internal/machine"
	"github.com/roach88/rvcheck/internal/rv"
)

// ErrHalted is returned by Step once the machine has exited.
var ErrHalted = errors.New("engine: machine is halted")

// StepRecord describes one committed instruction.
type StepRecord struct {
	Step uint64
	PC   uint64
	Inst rv.Instruction

	// Batch is the symbolic form of the step. It is only valid until the
	// next step starts.
	Batch *effect.Batch

	// Effects are the evaluated writes, in record order.
	Effects *effect.Effects

	// NextPC, Running and ExitCode are read from the machine after commit.
	NextPC   uint64
	Running  bool
	ExitCode int8
}

// Text returns the canonical assembly of the instruction.
func (r *StepRecord) Text() string {
	return asm.Print(r.Inst)
}

// Observer is notified of every committed step, in order. An error from an
// observer stops the run.
type Observer interface {
	ObserveStep(rec *StepRecord) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(rec *StepRecord) error

func (f ObserverFunc) ObserveStep(rec *StepRecord) error {
	return f(rec)
}

// Driver is the effect-recording, deferred-commit run loop.
type Driver struct {
	m     *machine.Machine
	dec   rv.InstructionDecoder
	rec   *effect.Recorder
	clock *Clock

	observers []Observer

	// Lockstep reference interpreter (WithReferenceCheck).
	ref    *machine.Machine
	refDec rv.InstructionDecoder

	fault error
}

// Option configures a Driver.
type Option func(*Driver)

// WithObserver adds an observer. Observers run in the order they were added.
func WithObserver(o Observer) Option {
	return func(d *Driver) {
		d.observers = append(d.observers, o)
	}
}

// WithReferenceCheck runs ref, a machine loaded identically to the driven
// one, through the plain interpreter in lockstep. After every step the two
// must agree on pc, registers, reservation and exit state.
func WithReferenceCheck(ref *machine.Machine, dec rv.InstructionDecoder) Option {
	return func(d *Driver) {
		d.ref = ref
		d.refDec = dec
	}
}

// WithClock sets the step counter, for resuming numbering.
func WithClock(c *Clock) Option {
	return func(d *Driver) {
		d.clock = c
	}
}

// New creates a driver for m, which must already hold a loaded program.
// The driver takes exclusive ownership of m.
func New(m *machine.Machine, dec rv.InstructionDecoder, opts ...Option) *Driver {
	d := &Driver{
		m:     m,
		dec:   dec,
		rec:   effect.NewRecorder(),
		clock: NewClock(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Machine returns the driven machine.
func (d *Driver) Machine() *machine.Machine {
	return d.m
}

// Steps returns the number of steps started so far.
func (d *Driver) Steps() uint64 {
	return d.clock.Current()
}

// Run steps until the guest exits and returns its exit code.
func (d *Driver) Run() (int8, error) {
	slog.Info("run started", "pc", hexWord(d.m.PC()), "isa", d.m.Config().ISA)

	for d.m.Running() {
		if _, err := d.Step(); err != nil {
			return 0, err
		}
	}

	slog.Info("run halted",
		"exit_code", d.m.ExitCode(),
		"steps", d.clock.Current(),
		"cycles", d.m.Cycles(),
	)
	return d.m.ExitCode(), nil
}

// Step executes and commits one instruction. After a fault every further
// call returns the same fault.
func (d *Driver) Step() (*StepRecord, error) {
	if d.fault != nil {
		return nil, d.fault
	}
	if !d.m.Running() {
		return nil, ErrHalted
	}

	rec, err := d.step()
	if err != nil {
		d.fault = err
		slog.Debug("step faulted", "code", CodeOf(err), "error", err)
		return nil, err
	}
	return rec, nil
}

func (d *Driver) step() (*StepRecord, error) {
	pc := d.m.PC()
	n := d.clock.Next()
	fault := func(code FaultCode, err error) error {
		return &Fault{Code: code, Message: err.Error(), PC: pc, Step: n, Err: err}
	}

	if err := d.m.AddCycles(1); err != nil {
		return nil, fault(CodeExecution, err)
	}

	inst, err := d.dec.Decode(d.m, pc)
	if err != nil {
		return nil, fault(CodeDecode, err)
	}

	d.rec.Reset()
	if err := exec.Execute[expr.Ref](d.rec, inst); err != nil {
		return nil, fault(CodeExecution, err)
	}
	batch := d.rec.Drain()

	// Every expression is reduced before anything is written.
	fx, err := batch.Evaluate(d.m)
	if err != nil {
		return nil, fault(CodeEvaluation, err)
	}

	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		slog.Debug("step",
			"step", n,
			"pc", hexWord(pc),
			"inst", asm.Print(inst),
			"effects", batch.String(),
		)
	}

	if err := d.commit(fx); err != nil {
		return nil, fault(commitCode(err), err)
	}

	rec := &StepRecord{
		Step:     n,
		PC:       pc,
		Inst:     inst,
		Batch:    batch,
		Effects:  fx,
		NextPC:   d.m.PC(),
		Running:  d.m.Running(),
		ExitCode: d.m.ExitCode(),
	}

	if d.ref != nil {
		if err := d.checkReference(rec); err != nil {
			return nil, err
		}
	}
	for _, o := range d.observers {
		if err := o.ObserveStep(rec); err != nil {
			return nil, fmt.Errorf("observe step %d: %w", n, err)
		}
	}
	return rec, nil
}

// commit applies evaluated effects in a fixed order: pc, memory writes,
// reservation, register writes, then the environment call and break. The
// first failure stops it; earlier writes of the step stay applied.
func (d *Driver) commit(fx *effect.Effects) error {
	if fx.HasNextPC {
		d.m.UpdatePC(fx.NextPC)
		d.m.CommitPC()
	}

	var ecall, ebreak bool
	for _, w := range fx.Writes {
		switch w.Kind {
		case effect.MemoryWrite:
			if err := d.m.Store(w.Address, int(w.Size), w.Value); err != nil {
				return err
			}
		case effect.EnvironmentCall:
			ecall = true
		case effect.EnvironmentBreak:
			ebreak = true
		}
	}
	for _, w := range fx.Writes {
		if w.Kind == effect.ReservationWrite {
			d.m.SetReservation(w.Value)
		}
	}
	for _, w := range fx.Writes {
		if w.Kind == effect.RegisterWrite {
			d.m.SetRegister(w.Index, w.Value)
		}
	}

	if ecall {
		if err := d.m.Ecall(); err != nil {
			return err
		}
	}
	if ebreak {
		if err := d.m.Ebreak(); err != nil {
			return err
		}
	}
	return nil
}

// checkReference advances the reference interpreter by one instruction and
// compares it with the committed state.
func (d *Driver) checkReference(rec *StepRecord) error {
	refInst, err := d.ref.Step(d.refDec)
	if err != nil {
		f := NewMismatchFault(rec.PC, rec.Step, "reference interpreter failed: %v", err)
		f.Err = err
		return f
	}
	if refInst != rec.Inst {
		return NewMismatchFault(rec.PC, rec.Step, "decoded %q, reference decoded %q",
			asm.Print(rec.Inst), asm.Print(refInst))
	}
	return CompareMachines(d.m, d.ref, rec.PC, rec.Step)
}

// CompareMachines reports the first architectural difference between got and
// want.
func CompareMachines(got, want *machine.Machine, pc, step uint64) error {
	if got.PC() != want.PC() {
		return NewMismatchFault(pc, step, "pc 0x%x, reference 0x%x", got.PC(), want.PC())
	}
	gr, wr := got.Registers(), want.Registers()
	for i := range gr {
		if gr[i] != wr[i] {
			return NewMismatchFault(pc, step, "%s = 0x%x, reference 0x%x",
				rv.RegisterName(uint8(i)), gr[i], wr[i])
		}
	}
	if got.Reservation() != want.Reservation() {
		return NewMismatchFault(pc, step, "reservation 0x%x, reference 0x%x",
			got.Reservation(), want.Reservation())
	}
	if got.Running() != want.Running() || got.ExitCode() != want.ExitCode() {
		return NewMismatchFault(pc, step, "running=%t exit=%d, reference running=%t exit=%d",
			got.Running(), got.ExitCode(), want.Running(), want.ExitCode())
	}
	return nil
}

func hexWord(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}
