// Package testutil builds programs and machines for tests.
package testutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rvcheck/internal/asm"
	"github.com/roach88/rvcheck/internal/image"
	"github.com/roach88/rvcheck/internal/machine"
	"github.com/roach88/rvcheck/internal/rv"
)

// Base is where test programs are linked.
const Base = 0x10000

// Config enables every extension, fusion included.
var Config = rv.Config{
	ISA:         rv.ISAIMC | rv.ISAB | rv.ISAA | rv.ISAMOP,
	Version:     rv.Version1,
	MemoryLimit: math.MaxUint64,
	StackTop:    4 << 20,
	StackSize:   1 << 20,
	MaxCycles:   math.MaxUint64,
}

// Exit0 ends a program with exit code 0.
const Exit0 = "\nli a0, 0\nli a7, 93\necall\n"

// Image assembles src into an ELF image linked at Base.
func Image(t testing.TB, src string) []byte {
	t.Helper()
	code, err := asm.Assemble(src)
	require.NoError(t, err)
	return image.Text(Base, code)
}

// Load assembles src and loads it into a fresh machine with args as argv.
func Load(t testing.TB, cfg rv.Config, src string, args ...string) *machine.Machine {
	t.Helper()
	return LoadImage(t, cfg, Image(t, src), args...)
}

// LoadImage loads img into a fresh machine with args as argv.
func LoadImage(t testing.TB, cfg rv.Config, img []byte, args ...string) *machine.Machine {
	t.Helper()
	m := machine.New(cfg)
	require.NoError(t, m.LoadProgram(img, Args(args...)))
	return m
}

// Args converts strings to a guest argument vector.
func Args(args ...string) [][]byte {
	argv := make([][]byte, len(args))
	for i, a := range args {
		argv[i] = []byte(a)
	}
	return argv
}
