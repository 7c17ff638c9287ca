package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplay_MatchesJournal(t *testing.T) {
	journal, prog := journalRun(t, exitSeven, 7)

	r := runCLI(t, "replay", "--journal", journal, prog)
	assert.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Equal(t, "Replayed 3 steps of run run-1: matches journal\n", r.stdout)
}

func TestReplay_JSON(t *testing.T) {
	journal, prog := journalRun(t, exitSeven, 7)

	r := runCLI(t, "--format", "json", "replay", "--journal", journal, "--run", "run-1", prog)
	require.Equal(t, ExitSuccess, r.code, r.stderr)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &resp))
	assert.Equal(t, ReplayOutput{RunID: "run-1", Steps: 3}, resp.Data)
}

func TestReplay_DifferentImage(t *testing.T) {
	journal, _ := journalRun(t, exitSeven, 7)
	other := writeProgram(t, "li a0, 8\nli a7, 93\necall\n")

	r := runCLI(t, "replay", "--journal", journal, other)
	assert.Equal(t, ExitFailure, r.code)
	assert.Contains(t, r.stderr, "Error [VALIDATION_MISMATCH]: replay failed")
	assert.Contains(t, r.stderr, "image sha256")
}

func TestReplay_DifferentArgsDiverge(t *testing.T) {
	// An extra argument changes sp and argc.
	src := `
ld a0, 0(sp)
li a7, 93
ecall
`
	journal, prog := journalRun(t, src, 1)

	r := runCLI(t, "replay", "--journal", journal, prog, "extra")
	assert.Equal(t, ExitFailure, r.code)
	assert.Contains(t, r.stderr, "VALIDATION_MISMATCH")
	assert.Contains(t, r.stderr, "step=1")

	r = runCLI(t, "replay", "--journal", journal, prog)
	assert.Equal(t, ExitSuccess, r.code, r.stderr)
}

func TestReplay_MissingJournal(t *testing.T) {
	r := runCLI(t, "replay", writeProgram(t, exitSeven))
	assert.Equal(t, ExitCommandError, r.code)
	assert.Contains(t, r.stderr, "--journal is required")
}
