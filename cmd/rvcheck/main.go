// Command rvcheck runs RV64 programs on an effect-recording,
// deferred-commit engine and checks them against the plain interpreter
// and the assembler round trip.
package main

import (
	"os"

	"github.com/roach88/rvcheck/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
