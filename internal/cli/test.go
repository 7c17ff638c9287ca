package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/rvcheck/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
	Golden string // golden directory, default <scenario dir>/golden
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario.yaml|dir>...",
		Short: "Run scenario files",
		Long: `Run YAML scenarios through the recording engine, the round-trip
validator or both, checking each against its expectations and, when
one exists, its golden trace.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (missing paths, invalid scenarios, etc.)

Examples:
  rvcheck test ./scenarios
  rvcheck test ./scenarios --filter "wide_*"
  rvcheck test ./scenarios --update
  rvcheck test ./scenarios/exit_seven.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.Golden, "golden", "", "golden file directory (default <scenario dir>/golden)")

	return cmd
}

// scenarioSet is the scenarios found at one command-line path.
type scenarioSet struct {
	scenarios []*harness.Scenario
	golden    string
}

func runTests(cmd *cobra.Command, opts *TestOptions, paths []string) error {
	if _, err := filepath.Match(opts.Filter, ""); err != nil {
		return WrapExitError(ExitCommandError, "invalid filter pattern", err)
	}

	var sets []scenarioSet
	for _, path := range paths {
		set, err := loadScenarioSet(path, opts.Golden)
		if err != nil {
			return err
		}
		sets = append(sets, set)
	}

	result := TestResult{Scenarios: []ScenarioResult{}}
	for _, set := range sets {
		for _, s := range set.scenarios {
			if opts.Filter != "" {
				if ok, _ := filepath.Match(opts.Filter, s.Name); !ok {
					continue
				}
			}
			r := runScenario(cmd, opts, s, set.golden)
			result.Scenarios = append(result.Scenarios, r)
			result.Total++
			if r.Pass {
				result.Passed++
			} else {
				result.Failed++
			}
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(cmd, result)
	}
	return outputTestText(cmd, result)
}

func loadScenarioSet(path, golden string) (scenarioSet, error) {
	info, err := os.Stat(path)
	if err != nil {
		return scenarioSet{}, WrapExitError(ExitCommandError, "scenario path not found", err)
	}
	scenarios, err := harness.LoadScenarios(path)
	if err != nil {
		return scenarioSet{}, WrapExitError(ExitCommandError, fmt.Sprintf("failed to load scenarios from %s", path), err)
	}
	if golden == "" {
		dir := path
		if !info.IsDir() {
			dir = filepath.Dir(path)
		}
		golden = filepath.Join(dir, "golden")
	}
	return scenarioSet{scenarios: scenarios, golden: golden}, nil
}

// runScenario executes a single scenario and returns the result.
func runScenario(cmd *cobra.Command, opts *TestOptions, s *harness.Scenario, goldenDir string) ScenarioResult {
	w := cmd.OutOrStdout()
	fail := func(errs ...string) ScenarioResult {
		if opts.Format != "json" {
			failColor.Fprint(w, "✗ ")
			fmt.Fprintln(w, s.Name)
			for _, e := range errs {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		return ScenarioResult{Name: s.Name, Pass: false, Errors: errs}
	}
	pass := func(note string) ScenarioResult {
		if opts.Format != "json" {
			passColor.Fprint(w, "✓ ")
			fmt.Fprint(w, s.Name)
			if note != "" {
				dimColor.Fprintf(w, " (%s)", note)
			}
			fmt.Fprintln(w)
		}
		return ScenarioResult{Name: s.Name, Pass: true}
	}

	result, err := harness.Run(s)
	if err != nil {
		return fail(fmt.Sprintf("Execution error: %v", err))
	}
	if !result.Pass {
		return fail(result.Errors...)
	}

	snap, err := harness.Snapshot(s, result)
	if err != nil {
		return fail(fmt.Sprintf("Snapshot error: %v", err))
	}
	path := goldenFilePath(goldenDir, s.Name)

	if opts.Update {
		if err := updateGoldenFile(path, snap); err != nil {
			return fail(fmt.Sprintf("Golden update error: %v", err))
		}
		return pass("golden updated")
	}

	want, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		// No golden file: assertions only.
		return pass("")
	}
	if err != nil {
		return fail(fmt.Sprintf("Golden comparison error: %v", err))
	}
	if !bytes.Equal(bytes.TrimSpace(want), snap) {
		return fail("Golden file mismatch (run with --update to regenerate)")
	}
	return pass("")
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(dir, name string) string {
	return filepath.Join(dir, name+".golden")
}

func updateGoldenFile(path string, snap []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, snap, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}
	fmt.Fprintf(w, "\nTest Summary: %d passed, %d failed, %d total\n",
		result.Passed, result.Failed, result.Total)
	if result.Failed > 0 {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d scenarios failed", result.Failed), Quiet: true}
	}
	return nil
}

func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	if result.Failed > 0 {
		resp := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    "E_TEST_FAILED",
				Message: fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total),
			},
		}
		if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
		return &ExitError{Code: ExitFailure, Message: resp.Error.Message, Quiet: true}
	}
	return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
}
