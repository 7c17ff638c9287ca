package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/rvcheck/internal/digest"
	"github.com/roach88/rvcheck/internal/engine"
	"github.com/roach88/rvcheck/internal/profile"
	"github.com/roach88/rvcheck/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Journal        string // SQLite journal path, empty for none
	CheckReference bool   // step the plain interpreter in lockstep
}

// RunOutput is the JSON payload of a finished run.
type RunOutput struct {
	ExitCode int8   `json:"exit_code"`
	Steps    uint64 `json:"steps"`
	Cycles   uint64 `json:"cycles"`
	RunID    string `json:"run_id,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <image> [args...]",
		Short: "Run a program on the effect-recording engine",
		Long: `Run an RV64 ELF image on the effect-recording, deferred-commit engine.

Every instruction is executed symbolically, its effects are evaluated
against the pre-step state and then committed in a fixed order. The
image path and any further arguments become the guest's argv.

Nothing is printed on success. A nonzero guest exit code is reported
as "Error result: N" and becomes the process exit code.

Examples:
  rvcheck run ./prog
  rvcheck run ./prog arg1 arg2
  rvcheck run --check-reference ./prog
  rvcheck run --journal runs.db ./prog`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(cmd, opts, args)
		},
	}
	// Flags after the image belong to the guest.
	cmd.Flags().SetInterspersed(false)

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record every step in this SQLite journal")
	cmd.Flags().BoolVar(&opts.CheckReference, "check-reference", false, "check every step against the plain interpreter")

	return cmd
}

func runProgram(cmd *cobra.Command, opts *RunOptions, args []string) error {
	img, err := readImage(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadProfile(profile.Recording)
	if err != nil {
		return err
	}
	argv := guestArgv(args)

	m, err := loadMachine(cfg, img, argv, guestOutput(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	dec, err := newDecoder(cfg)
	if err != nil {
		return err
	}

	var driverOpts []engine.Option
	if opts.CheckReference {
		ref, err := loadMachine(cfg, img, argv, io.Discard)
		if err != nil {
			return err
		}
		refDec, err := newDecoder(cfg)
		if err != nil {
			return err
		}
		driverOpts = append(driverOpts, engine.WithReferenceCheck(ref, refDec))
	}

	var journal *store.Journal
	if opts.Journal != "" {
		st, err := store.Open(opts.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer st.Close()

		ids := opts.RunIDs
		if ids == nil {
			ids = engine.UUIDv7Generator{}
		}
		journal, err = store.NewJournal(cmd.Context(), st, store.Run{
			ID:          ids.Generate(),
			ImageSHA256: digest.Image(img),
			Profile:     profile.Recording,
			Args:        args,
		}, m)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to begin journal", err)
		}
		driverOpts = append(driverOpts, engine.WithObserver(journal))
	}

	d := engine.New(m, dec, driverOpts...)
	code, runErr := d.Run()

	out := RunOutput{ExitCode: code, Steps: d.Steps(), Cycles: m.Cycles()}
	if journal != nil {
		out.RunID = journal.RunID()
		if err := journal.Finish(d.Steps(), code, runErr); err != nil {
			slog.Warn("failed to finish journal", "run", journal.RunID(), "error", err)
		}
	}
	if runErr != nil {
		return WrapExitError(ExitFailure, "run failed", runErr)
	}

	if opts.Format == "json" {
		return finishJSON(cmd, out, code)
	}
	return guestExit(cmd.OutOrStdout(), code)
}

// finishJSON prints a success payload and still exits with the guest's
// code.
func finishJSON(cmd *cobra.Command, data any, code int8) error {
	if err := writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: data}); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if code != 0 {
		return &ExitError{Code: int(code), Message: fmt.Sprintf("guest exited with %d", code), Quiet: true}
	}
	return nil
}
