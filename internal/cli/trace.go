package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/roach88/rvcheck/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Journal string // journal path
	Run     string // run ID, default the latest
	List    bool   // list runs instead of showing one
}

// TraceStep is one journaled step in JSON output.
type TraceStep struct {
	Step          uint64   `json:"step"`
	PC            string   `json:"pc"`
	Inst          string   `json:"inst"`
	Effects       []string `json:"effects"`
	NextPC        string   `json:"next_pc"`
	StateDigest   string   `json:"state_digest"`
	EffectsDigest string   `json:"effects_digest"`
}

// TraceRun summarises a journaled run in JSON output.
type TraceRun struct {
	ID           string   `json:"id"`
	ImageSHA256  string   `json:"image_sha256"`
	Profile      string   `json:"profile"`
	Args         []string `json:"args"`
	Status       string   `json:"status"`
	ExitCode     int8     `json:"exit_code"`
	FaultCode    string   `json:"fault_code,omitempty"`
	FaultMessage string   `json:"fault_message,omitempty"`
	Steps        uint64   `json:"steps"`
}

// TraceOutput is the JSON payload of the trace command.
type TraceOutput struct {
	Run   TraceRun    `json:"run"`
	Steps []TraceStep `json:"steps"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show a journaled run",
		Long: `Show the committed steps of a run recorded with "rvcheck run --journal".

Each step lists its pc, instruction, committed writes in commit order
and the pc it left behind. Without --run the latest run is shown.

Examples:
  rvcheck trace --journal runs.db
  rvcheck trace --journal runs.db --run 0190a1b2-...
  rvcheck trace --journal runs.db --list
  rvcheck trace --journal runs.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "journal path (required)")
	cmd.Flags().StringVar(&opts.Run, "run", "", "run ID (default latest)")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list journaled runs")

	return cmd
}

func runTrace(cmd *cobra.Command, opts *TraceOptions) error {
	st, err := openJournal(opts.Journal)
	if err != nil {
		return err
	}
	defer st.Close()
	ctx := cmd.Context()

	if opts.List {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		if opts.Format == "json" {
			out := make([]TraceRun, len(runs))
			for i, r := range runs {
				out[i] = traceRun(r)
			}
			return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: out})
		}
		renderRuns(cmd.OutOrStdout(), runs)
		return nil
	}

	run, err := selectRun(ctx, st, opts.Run)
	if err != nil {
		return err
	}
	steps, err := st.ReadSteps(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to read steps: %w", err)
	}

	if opts.Format == "json" {
		out := TraceOutput{Run: traceRun(run), Steps: make([]TraceStep, len(steps))}
		for i, s := range steps {
			out.Steps[i] = TraceStep{
				Step:          s.Seq,
				PC:            fmt.Sprintf("0x%x", s.PC),
				Inst:          s.Inst,
				Effects:       effectStrings(s),
				NextPC:        fmt.Sprintf("0x%x", s.NextPC),
				StateDigest:   s.StateDigest,
				EffectsDigest: s.EffectsDigest,
			}
		}
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: out})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run %s (%s)\n", run.ID, strings.Join(run.Args, " "))
	fmt.Fprintf(w, "Image sha256 %s, profile %s\n", run.ImageSHA256, run.Profile)
	fmt.Fprintln(w, runStatusLine(run))
	fmt.Fprintln(w)
	renderSteps(w, steps)
	return nil
}

func traceRun(r store.Run) TraceRun {
	return TraceRun{
		ID:           r.ID,
		ImageSHA256:  r.ImageSHA256,
		Profile:      r.Profile,
		Args:         r.Args,
		Status:       string(r.Status),
		ExitCode:     r.ExitCode,
		FaultCode:    string(r.FaultCode),
		FaultMessage: r.FaultMessage,
		Steps:        r.Steps,
	}
}

func runStatusLine(r store.Run) string {
	switch r.Status {
	case store.StatusExited:
		return fmt.Sprintf("Exited with %d after %d steps", r.ExitCode, r.Steps)
	case store.StatusFaulted:
		return fmt.Sprintf("Faulted at step %d: %s", r.Steps, r.FaultMessage)
	default:
		return fmt.Sprintf("Still running after %d steps", r.Steps)
	}
}

func effectStrings(s store.Step) []string {
	out := make([]string, len(s.Writes))
	for i, w := range s.Writes {
		out[i] = w.String()
	}
	return out
}

func renderSteps(w io.Writer, steps []store.Step) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Step", "PC", "Instruction", "Effects", "Next PC"})
	table.SetAutoWrapText(false)
	for _, s := range steps {
		table.Append([]string{
			fmt.Sprint(s.Seq),
			fmt.Sprintf("%x", s.PC),
			s.Inst,
			strings.Join(effectStrings(s), "; "),
			fmt.Sprintf("%x", s.NextPC),
		})
	}
	table.Render()
}

func renderRuns(w io.Writer, runs []store.Run) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Run", "Status", "Exit", "Steps", "Args"})
	table.SetAutoWrapText(false)
	for _, r := range runs {
		exit := fmt.Sprint(r.ExitCode)
		if r.Status == store.StatusFaulted {
			exit = string(r.FaultCode)
		}
		table.Append([]string{r.ID, string(r.Status), exit, fmt.Sprint(r.Steps), strings.Join(r.Args, " ")})
	}
	table.Render()
}
