package engine

import (
	"github.com/roach88/rvcheck/internal/digest"
	"github.com/roach88/rvcheck/internal/machine"
	"github.com/roach88/rvcheck/internal/rv"
)

// Checkpoint is what a journal keeps about one committed step.
type Checkpoint struct {
	Step   uint64
	PC     uint64
	NextPC uint64

	// State is digest.State of the machine after the step. Empty means
	// unchecked.
	State string
}

// Checkpoint returns the checkpoint of rec. m must be the machine rec was
// committed to, before any further step.
func (r *StepRecord) Checkpoint(m *machine.Machine) Checkpoint {
	return Checkpoint{
		Step:   r.Step,
		PC:     r.PC,
		NextPC: r.NextPC,
		State:  digest.State(m),
	}
}

// Replay runs m through the plain interpreter, one instruction per
// checkpoint, and checks each against the journal. It uses no effect
// recording, so a clean replay shows the journaled run matched direct
// interpretation step for step.
func Replay(m *machine.Machine, dec rv.InstructionDecoder, checkpoints []Checkpoint) error {
	for i, cp := range checkpoints {
		step := uint64(i + 1)
		if cp.Step != step {
			return NewMismatchFault(cp.PC, step, "journal has step %d where step %d belongs", cp.Step, step)
		}
		if !m.Running() {
			return NewMismatchFault(cp.PC, step, "machine halted before journaled step")
		}
		if m.PC() != cp.PC {
			return NewMismatchFault(cp.PC, step, "pc 0x%x, journal 0x%x", m.PC(), cp.PC)
		}
		if _, err := m.Step(dec); err != nil {
			f := NewMismatchFault(cp.PC, step, "replay failed: %v", err)
			f.Err = err
			return f
		}
		if m.PC() != cp.NextPC {
			return NewMismatchFault(cp.PC, step, "next pc 0x%x, journal 0x%x", m.PC(), cp.NextPC)
		}
		if cp.State != "" {
			if got := digest.State(m); got != cp.State {
				return NewMismatchFault(cp.PC, step, "state digest %s, journal %s", got, cp.State)
			}
		}
	}
	return nil
}
