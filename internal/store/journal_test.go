package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rvcheck/internal/digest"
	"github.com/roach88/rvcheck/internal/engine"
	"github.com/roach88/rvcheck/internal/rv"
	"github.com/roach88/rvcheck/internal/testutil"
)

const journalProgram = `
addi sp, sp, -16
li t0, 40
sd t0, 8(sp)
ld a0, 8(sp)
addi a0, a0, 2
li a7, 93
ecall
`

func journalRun(t *testing.T, s *Store, id string) (*Journal, int8, error) {
	t.Helper()
	m := testutil.Load(t, testutil.Config, journalProgram, "prog")
	j, err := NewJournal(context.Background(), s, createTestRun(id), m)
	require.NoError(t, err)

	d := engine.New(m, rv.NewDecoder(testutil.Config), engine.WithObserver(j))
	code, runErr := d.Run()
	require.NoError(t, j.Finish(d.Steps(), code, runErr))
	return j, code, runErr
}

func TestJournal_RecordsEveryCommit(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	j, code, err := journalRun(t, s, "run-1")
	require.NoError(t, err)
	assert.Equal(t, int8(42), code)
	assert.Equal(t, "run-1", j.RunID())

	run, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusExited, run.Status)
	assert.Equal(t, int8(42), run.ExitCode)
	assert.Equal(t, uint64(7), run.Steps)

	steps, err := s.ReadSteps(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, steps, 7)
	assert.Equal(t, "sd t0, 8(sp)", steps[2].Inst)
	require.Len(t, steps[2].Writes, 1)
	assert.Equal(t, "mem8[0x3fffc8] = 0x28", steps[2].Writes[0].String())
	assert.Equal(t, "ecall", steps[6].Inst)
	assert.Equal(t, uint64(testutil.Base+24), steps[6].PC)
	assert.Equal(t, uint64(testutil.Base+28), steps[6].NextPC)

	for _, st := range steps {
		assert.Len(t, st.StateDigest, 64)
		assert.Len(t, st.EffectsDigest, 64)
	}
}

func TestJournal_ReplayMatches(t *testing.T) {
	s := createTestStore(t)
	_, _, err := journalRun(t, s, "run-1")
	require.NoError(t, err)

	cps, err := s.Checkpoints(context.Background(), "run-1")
	require.NoError(t, err)

	m := testutil.Load(t, testutil.Config, journalProgram, "prog")
	require.NoError(t, engine.Replay(m, rv.NewDecoder(testutil.Config), cps))
	assert.False(t, m.Running())
	assert.Equal(t, int8(42), m.ExitCode())
}

func TestJournal_ReplayDetectsTampering(t *testing.T) {
	s := createTestStore(t)
	_, _, err := journalRun(t, s, "run-1")
	require.NoError(t, err)

	_, err = s.db.Exec(`UPDATE steps SET state_digest = ? WHERE run_id = ? AND seq = 3`,
		"0000", "run-1")
	require.NoError(t, err)

	cps, err := s.Checkpoints(context.Background(), "run-1")
	require.NoError(t, err)

	m := testutil.Load(t, testutil.Config, journalProgram, "prog")
	err = engine.Replay(m, rv.NewDecoder(testutil.Config), cps)
	require.Error(t, err)
	assert.True(t, engine.IsMismatch(err))

	var f *engine.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, uint64(3), f.Step)
}

func TestJournal_Fault(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	m := testutil.Load(t, testutil.Config, "lui t0, 0x10\nsd zero, 0(t0)\n", "prog")
	j, err := NewJournal(ctx, s, createTestRun("run-1"), m)
	require.NoError(t, err)
	d := engine.New(m, rv.NewDecoder(testutil.Config), engine.WithObserver(j))
	_, runErr := d.Run()
	require.Error(t, runErr)
	require.NoError(t, j.Finish(d.Steps(), 0, runErr))

	run, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFaulted, run.Status)
	assert.Equal(t, engine.CodeCommit, run.FaultCode)
	assert.Equal(t, uint64(2), run.Steps)

	steps, err := s.ReadSteps(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, steps, 1, "the faulting step is not journaled")
}

func TestJournal_EffectsDigestMatchesRecord(t *testing.T) {
	s := createTestStore(t)
	m := testutil.Load(t, testutil.Config, testutil.Exit0, "prog")
	j, err := NewJournal(context.Background(), s, createTestRun("run-1"), m)
	require.NoError(t, err)

	var want []string
	d := engine.New(m, rv.NewDecoder(testutil.Config),
		engine.WithObserver(engine.ObserverFunc(func(rec *engine.StepRecord) error {
			want = append(want, digest.Effects(rec.Effects))
			return nil
		})),
		engine.WithObserver(j),
	)
	_, err = d.Run()
	require.NoError(t, err)

	steps, err := s.ReadSteps(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, steps, len(want))
	for i, st := range steps {
		assert.Equal(t, want[i], st.EffectsDigest)
	}
}
