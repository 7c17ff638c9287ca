package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/rvcheck/internal/digest"
	"github.com/roach88/rvcheck/internal/engine"
	"github.com/roach88/rvcheck/internal/machine"
)

// Journal records a driver's committed steps. It is an engine.Observer.
//
// The context given to NewJournal is used for every write, since the
// observer interface carries none.
type Journal struct {
	ctx   context.Context
	st    *Store
	m     *machine.Machine
	runID string
	steps uint64
}

var _ engine.Observer = (*Journal)(nil)

// NewJournal begins run in st. m is the machine the driver commits to; the
// journal digests it after every step.
func NewJournal(ctx context.Context, st *Store, run Run, m *machine.Machine) (*Journal, error) {
	if err := st.BeginRun(ctx, run); err != nil {
		return nil, err
	}
	slog.Debug("journal opened", "run", run.ID, "profile", run.Profile)
	return &Journal{ctx: ctx, st: st, m: m, runID: run.ID}, nil
}

// RunID returns the ID of the journaled run.
func (j *Journal) RunID() string {
	return j.runID
}

// ObserveStep appends rec with its state and effects digests.
func (j *Journal) ObserveStep(rec *engine.StepRecord) error {
	cp := rec.Checkpoint(j.m)
	err := j.st.WriteStep(j.ctx, j.runID, Step{
		Seq:           cp.Step,
		PC:            cp.PC,
		NextPC:        cp.NextPC,
		Inst:          rec.Text(),
		StateDigest:   cp.State,
		EffectsDigest: digest.Effects(rec.Effects),
		Writes:        rec.Effects.Writes,
	})
	if err != nil {
		return fmt.Errorf("journal %s: %w", j.runID, err)
	}
	j.steps = rec.Step
	return nil
}

// Finish records the outcome of the run. Steps is the number of steps the
// driver started, which exceeds the journaled count by one after a fault.
func (j *Journal) Finish(steps uint64, code int8, runErr error) error {
	if steps < j.steps {
		steps = j.steps
	}
	return j.st.FinishRun(j.ctx, j.runID, steps, code, runErr)
}
