package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/roach88/rvcheck/internal/engine"
	"github.com/roach88/rvcheck/internal/machine"
	"github.com/roach88/rvcheck/internal/profile"
	"github.com/roach88/rvcheck/internal/rv"
)

// readImage reads a program image named on the command line.
func readImage(path string) ([]byte, error) {
	img, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read image", err)
	}
	return img, nil
}

func loadProfile(name string) (rv.Config, error) {
	cfg, err := profile.Load(name)
	if err != nil {
		return rv.Config{}, WrapExitError(ExitCommandError, "failed to load profile", err)
	}
	return cfg, nil
}

// guestArgv converts the image path and guest arguments into argv.
func guestArgv(args []string) [][]byte {
	argv := make([][]byte, len(args))
	for i, a := range args {
		argv[i] = []byte(a)
	}
	return argv
}

// loadMachine returns a running machine whose debug output goes to out.
func loadMachine(cfg rv.Config, img []byte, argv [][]byte, out io.Writer) (*machine.Machine, error) {
	m := machine.New(cfg, machine.WithSyscalls(machine.DebugSyscall{W: out}))
	if err := m.LoadProgram(img, argv); err != nil {
		return nil, WrapExitError(ExitFailure, "failed to load program", engine.NewLoadFault(err))
	}
	return m, nil
}

func newDecoder(cfg rv.Config) (rv.InstructionDecoder, error) {
	dec, err := rv.NewCachedDecoder(rv.NewDecoder(cfg), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	return dec, nil
}

// guestOutput is where ecall output goes: stdout, unless stdout carries a
// JSON document.
func guestOutput(opts *RootOptions, stdout, stderr io.Writer) io.Writer {
	if opts.Format == "json" {
		return stderr
	}
	return stdout
}
