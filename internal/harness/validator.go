package harness

import (
	"github.com/roach88/rvcheck/internal/asm"
	"github.com/roach88/rvcheck/internal/engine"
	"github.com/roach88/rvcheck/internal/exec"
	"github.com/roach88/rvcheck/internal/machine"
	"github.com/roach88/rvcheck/internal/rv"
)

// RoundTrip is one validated instruction.
type RoundTrip struct {
	Step uint64
	PC   uint64
	Inst rv.Instruction
	Text string
}

// Validator checks the text tooling against the decoder. Every instruction
// M1 is about to execute is printed, reparsed and compared with the decoded
// original; M1 then runs the reparsed instruction and M2 the original, and
// the two machines must stay architecturally equal.
type Validator struct {
	dec   rv.InstructionDecoder
	clock *engine.Clock
	hooks []func(*RoundTrip)

	// print renders the decoded instruction; tests swap it to break the
	// round trip.
	print func(rv.Instruction) string
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithStepHook calls fn after every validated step.
func WithStepHook(fn func(*RoundTrip)) ValidatorOption {
	return func(v *Validator) {
		v.hooks = append(v.hooks, fn)
	}
}

// NewValidator creates a validator decoding with dec.
func NewValidator(dec rv.InstructionDecoder, opts ...ValidatorOption) *Validator {
	v := &Validator{dec: dec, clock: engine.NewClock(), print: asm.Print}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Steps returns the number of steps started.
func (v *Validator) Steps() uint64 {
	return v.clock.Current()
}

// Run validates m1 and m2, loaded identically, until either halts. Both
// must end with the same exit code, which Run returns.
func (v *Validator) Run(m1, m2 *machine.Machine) (int8, error) {
	for m1.Running() && m2.Running() {
		if _, err := v.Step(m1, m2); err != nil {
			return 0, err
		}
	}
	if m1.Running() != m2.Running() || m1.ExitCode() != m2.ExitCode() {
		return 0, engine.NewMismatchFault(m1.PC(), v.clock.Current(),
			"final state differs: running=%t exit=%d, other running=%t exit=%d",
			m1.Running(), m1.ExitCode(), m2.Running(), m2.ExitCode())
	}
	return m1.ExitCode(), nil
}

// Step validates and executes one instruction on both machines.
func (v *Validator) Step(m1, m2 *machine.Machine) (*RoundTrip, error) {
	pc := m1.PC()
	n := v.clock.Next()
	fault := func(code engine.FaultCode, err error) error {
		return &engine.Fault{Code: code, Message: err.Error(), PC: pc, Step: n, Err: err}
	}

	for _, m := range []*machine.Machine{m1, m2} {
		if err := m.AddCycles(1); err != nil {
			return nil, fault(engine.CodeExecution, err)
		}
	}

	inst, err := v.dec.Decode(m1, pc)
	if err != nil {
		return nil, fault(engine.CodeDecode, err)
	}

	text := v.print(inst)
	parsed, err := asm.Parse(text)
	if err != nil {
		f := engine.NewMismatchFault(pc, n, "cannot reparse %q: %v", text, err)
		f.Err = err
		return nil, f
	}
	if len(parsed) != 1 {
		return nil, engine.NewMismatchFault(pc, n, "%q parsed to %d instructions", text, len(parsed))
	}

	// Text does not say whether the original was compressed.
	reparsed := parsed[0]
	reparsed.Length = inst.Length
	if reparsed != inst {
		return nil, engine.NewMismatchFault(pc, n, "%q reparsed as %q, decoded %q",
			text, asm.Print(reparsed), asm.Print(inst))
	}

	if err := exec.Execute[uint64](m1, reparsed); err != nil {
		return nil, fault(engine.CodeExecution, err)
	}
	if err := exec.Execute[uint64](m2, inst); err != nil {
		return nil, fault(engine.CodeExecution, err)
	}
	if err := engine.CompareMachines(m1, m2, pc, n); err != nil {
		return nil, err
	}

	rt := &RoundTrip{Step: n, PC: pc, Inst: inst, Text: text}
	for _, h := range v.hooks {
		h(rt)
	}
	return rt, nil
}
