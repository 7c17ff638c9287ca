package store

import (
	"context"
	"fmt"

	"github.com/roach88/rvcheck/internal/effect"
	"github.com/roach88/rvcheck/internal/engine"
)

// RunStatus is the lifecycle state of a journaled run.
type RunStatus string

const (
	StatusRunning RunStatus = "running"
	StatusExited  RunStatus = "exited"
	StatusFaulted RunStatus = "faulted"
)

// Run is one journaled execution.
type Run struct {
	ID          string
	ImageSHA256 string
	Profile     string
	Args        []string

	Status       RunStatus
	ExitCode     int8
	FaultCode    engine.FaultCode
	FaultMessage string
	Steps        uint64
}

// Step is one journaled commit.
type Step struct {
	Seq    uint64
	PC     uint64
	NextPC uint64
	Inst   string

	// StateDigest is digest.State after commit; EffectsDigest is
	// digest.Effects of the writes.
	StateDigest   string
	EffectsDigest string

	Writes []effect.Value
}

// Checkpoint converts the step for engine.Replay.
func (s Step) Checkpoint() engine.Checkpoint {
	return engine.Checkpoint{Step: s.Seq, PC: s.PC, NextPC: s.NextPC, State: s.StateDigest}
}

// BeginRun inserts a run in the running state. A duplicate ID is an error:
// run IDs are never reused.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	argsJSON, err := marshalArgs(run.Args)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, image_sha256, profile, args, status)
		VALUES (?, ?, ?, ?, ?)
	`,
		run.ID,
		run.ImageSHA256,
		run.Profile,
		argsJSON,
		string(StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// WriteStep appends a step and its writes atomically.
func (s *Store) WriteStep(ctx context.Context, runID string, step Step) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write step: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO steps (run_id, seq, pc, next_pc, inst, state_digest, effects_digest)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		runID,
		int64(step.Seq),
		word(step.PC),
		word(step.NextPC),
		step.Inst,
		step.StateDigest,
		step.EffectsDigest,
	)
	if err != nil {
		return fmt.Errorf("write step %d: %w", step.Seq, err)
	}

	for i, w := range step.Writes {
		var address, value string
		switch w.Kind {
		case effect.MemoryWrite:
			address, value = word(w.Address), word(w.Value)
		case effect.RegisterWrite, effect.ReservationWrite:
			value = word(w.Value)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO writes (run_id, seq, idx, kind, address, size, reg, value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			runID,
			int64(step.Seq),
			i,
			w.Kind.String(),
			address,
			int(w.Size),
			int(w.Index),
			value,
		)
		if err != nil {
			return fmt.Errorf("write step %d: write %d: %w", step.Seq, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write step %d: commit: %w", step.Seq, err)
	}
	return nil
}

// FinishRun records how a run ended. runErr nil means the guest exited
// with code; otherwise the run faulted and code is ignored.
func (s *Store) FinishRun(ctx context.Context, runID string, steps uint64, code int8, runErr error) error {
	status, faultCode, message := StatusExited, engine.FaultCode(""), ""
	if runErr != nil {
		status, faultCode, message, code = StatusFaulted, engine.CodeOf(runErr), runErr.Error(), 0
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, exit_code = ?, fault_code = ?, fault_message = ?, steps = ?
		WHERE id = ?
	`,
		string(status),
		int(code),
		string(faultCode),
		message,
		int64(steps),
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}
