package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	return s
}

func TestRun_Scenarios(t *testing.T) {
	scenarios, err := LoadScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRun_Golden(t *testing.T) {
	for _, name := range []string{"exit_seven", "roundtrip_compressed"} {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
			require.NoError(t, err)
			_, err = RunWithGolden(t, s)
			require.NoError(t, err)
		})
	}
}

func TestRun_BothRecordsTwoOutcomes(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "wide_multiply.yaml"))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 2)

	run, rt := result.Outcomes[0], result.Outcomes[1]
	assert.Equal(t, ModeRun, run.Mode)
	assert.Equal(t, ModeRoundTrip, rt.Mode)

	// The recording profile fuses the pair into one step.
	assert.Equal(t, uint64(5), run.Steps)
	assert.Equal(t, uint64(6), rt.Steps)
	assert.Equal(t, "widemulu a0, a3, a1, a2", run.Trace[2].Inst)
	assert.Equal(t, []string{"a0 = 0x2", "a3 = 0xfffffffffffffffd"}, run.Trace[2].Effects)
	assert.Equal(t, run.Trace, result.Trace)
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	s := mustParse(t, `
name: wrong
description: "every expectation is off"
program: |
  li a0, 3
  li a7, 93
  ecall
expect:
  exit_code: 4
  registers:
    a0: 0x4
  ecalls: 2
  ebreaks: 1
  steps: 9
  output: "hi\n"
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 6)
	assert.Contains(t, result.Errors[0], "[run] exit_code")
	assert.Contains(t, result.Errors[0], "Expected: 4")
	assert.Contains(t, result.Errors[0], "Actual: 3")
	assert.Contains(t, result.Errors[1], "registers.a0")
	assert.Contains(t, result.Errors[1], "Last steps:")
}

func TestRun_UnexpectedFault(t *testing.T) {
	s := mustParse(t, `
name: unknown_syscall
description: "syscall 1 is not handled"
program: |
  li a7, 1
  ecall
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "EXECUTION_ERROR")
}

func TestRun_MissingFault(t *testing.T) {
	s := mustParse(t, `
name: clean
description: "exits cleanly although a fault is expected"
program: |
  li a7, 93
  ecall
expect:
  fault: DECODE_ERROR
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "exited 0")
}

func TestRun_ModesDisagreeOnFault(t *testing.T) {
	// The recording driver refuses the store at commit; the plain
	// interpreter refuses it while executing.
	s := mustParse(t, `
name: store_both
description: "store into text"
mode: both
program: |
  lui t0, 0x10
  sw zero, 0(t0)
expect:
  fault: COMMIT_ERROR
`)
	result, err := Run(s)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "[roundtrip] fault")
}

func TestRun_AssemblyErrorIsHarnessError(t *testing.T) {
	s := mustParse(t, `
name: broken
description: "does not assemble"
program: "frob a0"
`)
	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assemble broken")
}

func TestRun_UnknownProfile(t *testing.T) {
	s := mustParse(t, `
name: turbo
description: "profile does not exist"
profile: turbo
program: "ecall"
`)
	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown profile")
}

func TestRun_ProfileOverride(t *testing.T) {
	// Without fusion the recording driver runs the pair as two steps.
	s := mustParse(t, `
name: unfused
description: "recording driver on the roundtrip profile"
profile: roundtrip
program: |
  mulhu a0, a1, a2
  mul a3, a1, a2
  li a7, 93
  ecall
expect:
  exit_code: 0
  steps: 4
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
