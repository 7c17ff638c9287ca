package harness

import (
	"bytes"
	"fmt"

	"github.com/roach88/rvcheck/internal/asm"
	"github.com/roach88/rvcheck/internal/effect"
	"github.com/roach88/rvcheck/internal/engine"
	"github.com/roach88/rvcheck/internal/image"
	"github.com/roach88/rvcheck/internal/machine"
	"github.com/roach88/rvcheck/internal/profile"
	"github.com/roach88/rvcheck/internal/rv"
)

// Base is the link and entry address of scenario programs.
const Base = 0x10000

// Run executes a scenario and returns the result.
//
// Each checker gets freshly loaded machines. An error is returned only when
// the scenario cannot be set up: a bad profile or a program that does not
// assemble. Everything observed while running, faults included, is judged
// against the expectations and reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	code, err := asm.Assemble(scenario.Program)
	if err != nil {
		return nil, fmt.Errorf("assemble %s: %w", scenario.Name, err)
	}
	img := image.Text(Base, code)
	args := guestArgs(scenario)

	result := NewResult()
	modes := []Mode{scenario.Mode}
	if scenario.Mode == ModeBoth {
		modes = []Mode{ModeRun, ModeRoundTrip}
	}

	for _, mode := range modes {
		cfg, err := profile.Load(profileFor(scenario, mode))
		if err != nil {
			return nil, err
		}
		var o *Outcome
		if mode == ModeRun {
			o, err = runRecording(cfg, img, args)
		} else {
			o, err = runRoundTrip(cfg, img, args)
		}
		if err != nil {
			return nil, err
		}
		result.addOutcome(o)
	}

	checkExpectations(scenario, result)
	return result, nil
}

func profileFor(s *Scenario, mode Mode) string {
	if s.Profile != "" {
		return s.Profile
	}
	if mode == ModeRoundTrip {
		return profile.Roundtrip
	}
	return profile.Recording
}

func guestArgs(s *Scenario) [][]byte {
	argv := [][]byte{[]byte(s.Name)}
	for _, a := range s.Args {
		argv = append(argv, []byte(a))
	}
	return argv
}

// load returns a machine running img whose debug output goes to out. A load
// failure is a scenario outcome, not a harness error.
func load(cfg rv.Config, img []byte, args [][]byte, out *bytes.Buffer) (*machine.Machine, error) {
	m := machine.New(cfg, machine.WithSyscalls(machine.DebugSyscall{W: out}))
	if err := m.LoadProgram(img, args); err != nil {
		return nil, engine.NewLoadFault(err)
	}
	return m, nil
}

func newDecoder(cfg rv.Config) (rv.InstructionDecoder, error) {
	return rv.NewCachedDecoder(rv.NewDecoder(cfg), 0)
}

// runRecording drives the program through the effect-recording engine with
// the plain interpreter checking every step.
func runRecording(cfg rv.Config, img []byte, args [][]byte) (*Outcome, error) {
	o := &Outcome{Mode: ModeRun}
	var out, refOut bytes.Buffer

	m, err := load(cfg, img, args, &out)
	if err != nil {
		o.Fault = err
		return o, nil
	}
	ref, err := load(cfg, img, args, &refOut)
	if err != nil {
		o.Fault = err
		return o, nil
	}
	dec, err := newDecoder(cfg)
	if err != nil {
		return nil, err
	}
	refDec, err := newDecoder(cfg)
	if err != nil {
		return nil, err
	}

	trace := engine.ObserverFunc(func(rec *engine.StepRecord) error {
		ev := TraceEvent{Step: rec.Step, PC: rec.PC, Inst: rec.Text(), NextPC: rec.NextPC}
		for _, w := range rec.Effects.Writes {
			ev.Effects = append(ev.Effects, w.String())
			if w.Kind == effect.EnvironmentCall {
				o.Ecalls++
			}
		}
		o.Trace = append(o.Trace, ev)
		return nil
	})
	d := engine.New(m, dec, engine.WithObserver(trace), engine.WithReferenceCheck(ref, refDec))

	o.ExitCode, o.Fault = d.Run()
	o.finish(m, d.Steps(), &out)
	return o, nil
}

// runRoundTrip runs the program on the round-trip validator.
func runRoundTrip(cfg rv.Config, img []byte, args [][]byte) (*Outcome, error) {
	o := &Outcome{Mode: ModeRoundTrip}
	var out, out2 bytes.Buffer

	m1, err := load(cfg, img, args, &out)
	if err != nil {
		o.Fault = err
		return o, nil
	}
	m2, err := load(cfg, img, args, &out2)
	if err != nil {
		o.Fault = err
		return o, nil
	}
	dec, err := newDecoder(cfg)
	if err != nil {
		return nil, err
	}

	v := NewValidator(dec, WithStepHook(func(rt *RoundTrip) {
		if rt.Inst.Op == rv.OpEcall {
			o.Ecalls++
		}
		o.Trace = append(o.Trace, TraceEvent{Step: rt.Step, PC: rt.PC, Inst: rt.Text, NextPC: m1.PC()})
	}))

	o.ExitCode, o.Fault = v.Run(m1, m2)
	o.finish(m1, v.Steps(), &out)
	return o, nil
}

func (o *Outcome) finish(m *machine.Machine, steps uint64, out *bytes.Buffer) {
	o.Registers = m.Registers()
	o.Ebreaks = int(m.Breaks())
	o.Steps = steps
	o.Output = out.String()
}
