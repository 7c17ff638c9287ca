package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	content := `
name: test_scenario
description: "Test scenario for validation"
mode: both
args: ["one", "two"]
program: |
  li a7, 93
  ecall
expect:
  exit_code: -1
  registers:
    a0: -1
    x5: 0x10
    t1: 1_000
  fault: COMMIT_ERROR
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "test_scenario", s.Name)
	assert.Equal(t, ModeBoth, s.Mode)
	assert.Equal(t, []string{"one", "two"}, s.Args)
	require.NotNil(t, s.Expect.ExitCode)
	assert.Equal(t, -1, *s.Expect.ExitCode)
	assert.Equal(t, Word(0xffffffffffffffff), s.Expect.Registers["a0"])
	assert.Equal(t, Word(16), s.Expect.Registers["x5"])
	assert.Equal(t, Word(1000), s.Expect.Registers["t1"])
	assert.Equal(t, "COMMIT_ERROR", string(s.Expect.Fault))
	assert.Nil(t, s.Expect.Steps)
}

func TestParseScenario_DefaultsToRun(t *testing.T) {
	s, err := ParseScenario([]byte("name: n\ndescription: d\nprogram: ecall\n"))
	require.NoError(t, err)
	assert.Equal(t, ModeRun, s.Mode)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"missing name", "description: d\nprogram: ecall\n", "name is required"},
		{"missing description", "name: n\nprogram: ecall\n", "description is required"},
		{"missing program", "name: n\ndescription: d\n", "program is required"},
		{"unknown field", "name: n\ndescription: d\nprogram: ecall\nexitcode: 1\n", "exitcode"},
		{"unknown mode", "name: n\ndescription: d\nprogram: ecall\nmode: fast\n", `unknown mode "fast"`},
		{"exit code range", "name: n\ndescription: d\nprogram: ecall\nexpect: {exit_code: 200}\n", "not an int8"},
		{"fault code", "name: n\ndescription: d\nprogram: ecall\nexpect: {fault: OOPS}\n", "unknown fault code"},
		{"register name", "name: n\ndescription: d\nprogram: ecall\nexpect: {registers: {q9: 1}}\n", "unknown register"},
		{"register value", "name: n\ndescription: d\nprogram: ecall\nexpect: {registers: {a0: lots}}\n", "bad register value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_FileNotFound(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenarios_Directory(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b", "a"} {
		src := "name: " + name + "\ndescription: d\nprogram: ecall\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(src), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	scenarios, err := LoadScenarios(dir)
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, "a", scenarios[0].Name)
	assert.Equal(t, "b", scenarios[1].Name)
}

func TestLoadScenarios_EmptyDirectory(t *testing.T) {
	_, err := LoadScenarios(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenarios")
}
