package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/rvcheck/internal/digest"
	"github.com/roach88/rvcheck/internal/engine"
	"github.com/roach88/rvcheck/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Journal string // journal path
	Run     string // run ID, default the latest
}

// ReplayOutput is the JSON payload of a clean replay.
type ReplayOutput struct {
	RunID string `json:"run_id"`
	Steps int    `json:"steps"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <image> [args...]",
		Short: "Re-execute a journaled run on the plain interpreter",
		Long: `Re-execute a journaled run on the plain interpreter, without effect
recording, and check every step's pc, next pc and state digest against
the journal.

The image must be the one the run was recorded with. Without guest
arguments the journaled argv is reused.

Exit codes:
  0 - Replay matched the journal
  1 - Replay diverged (VALIDATION_MISMATCH)
  2 - Command error (missing journal, unknown run, etc.)

Examples:
  rvcheck replay --journal runs.db ./prog
  rvcheck replay --journal runs.db --run 0190a1b2-... ./prog`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, opts, args)
		},
	}
	cmd.Flags().SetInterspersed(false)

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "journal path (required)")
	cmd.Flags().StringVar(&opts.Run, "run", "", "run ID (default latest)")

	return cmd
}

func runReplay(cmd *cobra.Command, opts *ReplayOptions, args []string) error {
	st, err := openJournal(opts.Journal)
	if err != nil {
		return err
	}
	defer st.Close()
	ctx := cmd.Context()

	run, err := selectRun(ctx, st, opts.Run)
	if err != nil {
		return err
	}
	img, err := readImage(args[0])
	if err != nil {
		return err
	}
	if sum := digest.Image(img); sum != run.ImageSHA256 {
		return WrapExitError(ExitFailure, "replay failed",
			engine.NewMismatchFault(0, 0, "image sha256 %s, journal %s", sum, run.ImageSHA256))
	}

	argv := run.Args
	if len(args) > 1 {
		argv = args
	}
	cfg, err := loadProfile(run.Profile)
	if err != nil {
		return err
	}
	m, err := loadMachine(cfg, img, guestArgv(argv), io.Discard)
	if err != nil {
		return err
	}
	dec, err := newDecoder(cfg)
	if err != nil {
		return err
	}

	checkpoints, err := st.Checkpoints(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to read checkpoints: %w", err)
	}
	if err := engine.Replay(m, dec, checkpoints); err != nil {
		return WrapExitError(ExitFailure, "replay failed", err)
	}
	if run.Status == store.StatusExited && (m.Running() || m.ExitCode() != run.ExitCode) {
		return WrapExitError(ExitFailure, "replay failed",
			engine.NewMismatchFault(m.PC(), uint64(len(checkpoints)),
				"running=%t exit=%d, journal exited with %d", m.Running(), m.ExitCode(), run.ExitCode))
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{
			Status: "ok",
			Data:   ReplayOutput{RunID: run.ID, Steps: len(checkpoints)},
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d steps of run %s: matches journal\n", len(checkpoints), run.ID)
	return nil
}
