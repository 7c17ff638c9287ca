package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rvcheck/internal/testutil"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// cliResult is what one CLI invocation produced.
type cliResult struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, args ...string) cliResult {
	t.Helper()
	return runCLIWith(t, &RootOptions{}, args...)
}

func runCLIWith(t *testing.T, opts *RootOptions, args ...string) cliResult {
	t.Helper()
	var out, errOut bytes.Buffer
	code := execute(opts, args, &out, &errOut)
	return cliResult{code: code, stdout: out.String(), stderr: errOut.String()}
}

// writeProgram assembles src into an image file and returns its path.
func writeProgram(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prog")
	require.NoError(t, os.WriteFile(path, testutil.Image(t, src), 0o755))
	return path
}

const (
	exitSeven = `
li a0, 7
li a7, 93
ecall
`

	// Prints argv[1] with the debug syscall, then exits 0.
	printArg = `
ld a0, 16(sp)
lui a7, 1
addi a7, a7, -1919
ecall
li a0, 0
li a7, 93
ecall
`
)
