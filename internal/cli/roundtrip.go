package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/rvcheck/internal/harness"
	"github.com/roach88/rvcheck/internal/profile"
)

// RoundTripOutput is the JSON payload of a finished round-trip check.
type RoundTripOutput struct {
	ExitCode int8   `json:"exit_code"`
	Steps    uint64 `json:"steps"`
}

// NewRoundTripCommand creates the roundtrip command.
func NewRoundTripCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roundtrip <image> [args...]",
		Short: "Check the assembler round trip on a running program",
		Long: `Run an RV64 ELF image on two machines in lockstep. Every instruction
the first machine meets is printed, parsed back and executed in its
reparsed form; the second machine executes the decoded original. The
two must agree after every step.

Output and exit codes follow the run command.

Examples:
  rvcheck roundtrip ./prog
  rvcheck roundtrip ./prog arg1`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoundTrip(cmd, rootOpts, args)
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func runRoundTrip(cmd *cobra.Command, opts *RootOptions, args []string) error {
	img, err := readImage(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadProfile(profile.Roundtrip)
	if err != nil {
		return err
	}
	argv := guestArgv(args)

	m1, err := loadMachine(cfg, img, argv, guestOutput(opts, cmd.OutOrStdout(), cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	m2, err := loadMachine(cfg, img, argv, io.Discard)
	if err != nil {
		return err
	}
	dec, err := newDecoder(cfg)
	if err != nil {
		return err
	}

	v := harness.NewValidator(dec)
	code, err := v.Run(m1, m2)
	if err != nil {
		return WrapExitError(ExitFailure, "round trip failed", err)
	}

	if opts.Format == "json" {
		return finishJSON(cmd, RoundTripOutput{ExitCode: code, Steps: v.Steps()}, code)
	}
	return guestExit(cmd.OutOrStdout(), code)
}
