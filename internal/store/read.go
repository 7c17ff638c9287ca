package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/rvcheck/internal/effect"
	"github.com/roach88/rvcheck/internal/engine"
)

const runColumns = `id, image_sha256, profile, args, status, exit_code, fault_code, fault_message, steps`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run       Run
		argsJSON  string
		status    string
		exitCode  int
		faultCode string
		steps     int64
	)
	if err := row.Scan(&run.ID, &run.ImageSHA256, &run.Profile, &argsJSON,
		&status, &exitCode, &faultCode, &run.FaultMessage, &steps); err != nil {
		return Run{}, err
	}
	args, err := unmarshalArgs(argsJSON)
	if err != nil {
		return Run{}, fmt.Errorf("run %s: %w", run.ID, err)
	}
	run.Args = args
	run.Status = RunStatus(status)
	run.ExitCode = int8(exitCode)
	run.FaultCode = engine.FaultCode(faultCode)
	run.Steps = uint64(steps)
	return run, nil
}

// ReadRun returns one run, or ErrRunNotFound.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("read run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns every run ordered by ID. UUIDv7 IDs sort by creation
// time.
//
// Returns an empty slice (not nil) if the journal has no runs.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY id COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LatestRun returns the run with the greatest ID, or ErrRunNotFound for an
// empty journal.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY id COLLATE BINARY DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("latest run: %w", ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// ReadSteps returns the steps of a run in commit order, writes included.
//
// Returns an empty slice (not nil) if the run has no steps.
func (s *Store) ReadSteps(ctx context.Context, runID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, pc, next_pc, inst, state_digest, effects_digest
		FROM steps
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	steps := []Step{}
	index := make(map[uint64]int)
	for rows.Next() {
		var (
			st         Step
			seq        int64
			pc, nextPC string
		)
		if err := rows.Scan(&seq, &pc, &nextPC, &st.Inst, &st.StateDigest, &st.EffectsDigest); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Seq = uint64(seq)
		if st.PC, err = parseWord(pc); err != nil {
			return nil, fmt.Errorf("step %d pc: %w", seq, err)
		}
		if st.NextPC, err = parseWord(nextPC); err != nil {
			return nil, fmt.Errorf("step %d next pc: %w", seq, err)
		}
		index[st.Seq] = len(steps)
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}

	if err := s.readWrites(ctx, runID, steps, index); err != nil {
		return nil, err
	}
	return steps, nil
}

func (s *Store) readWrites(ctx context.Context, runID string, steps []Step, index map[uint64]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, address, size, reg, value
		FROM writes
		WHERE run_id = ?
		ORDER BY seq ASC, idx ASC
	`, runID)
	if err != nil {
		return fmt.Errorf("query writes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq            int64
			kind           string
			address, value string
			size, reg      int
		)
		if err := rows.Scan(&seq, &kind, &address, &size, &reg, &value); err != nil {
			return fmt.Errorf("scan write: %w", err)
		}
		w := effect.Value{Size: uint8(size), Index: uint8(reg)}
		if w.Kind, err = parseWriteKind(kind); err != nil {
			return fmt.Errorf("step %d: %w", seq, err)
		}
		if address != "" {
			if w.Address, err = parseWord(address); err != nil {
				return fmt.Errorf("step %d address: %w", seq, err)
			}
		}
		if value != "" {
			if w.Value, err = parseWord(value); err != nil {
				return fmt.Errorf("step %d value: %w", seq, err)
			}
		}
		i, ok := index[uint64(seq)]
		if !ok {
			return fmt.Errorf("write for missing step %d", seq)
		}
		steps[i].Writes = append(steps[i].Writes, w)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate writes: %w", err)
	}
	return nil
}

// Checkpoints returns the steps of a run as replay checkpoints.
func (s *Store) Checkpoints(ctx context.Context, runID string) ([]engine.Checkpoint, error) {
	if _, err := s.ReadRun(ctx, runID); err != nil {
		return nil, err
	}
	steps, err := s.ReadSteps(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make([]engine.Checkpoint, len(steps))
	for i, st := range steps {
		out[i] = st.Checkpoint()
	}
	return out, nil
}
