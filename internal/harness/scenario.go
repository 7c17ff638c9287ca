package harness

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rvcheck/internal/engine"
	"github.com/roach88/rvcheck/internal/rv"
)

// Mode selects which checkers a scenario runs.
type Mode string

const (
	// ModeRun executes the program on the effect-recording driver with the
	// reference interpreter in lockstep.
	ModeRun Mode = "run"

	// ModeRoundTrip executes the program on the round-trip validator.
	ModeRoundTrip Mode = "roundtrip"

	// ModeBoth runs both checkers. Their exit codes must agree.
	ModeBoth Mode = "both"
)

// Scenario is one program with the outcome it must produce.
type Scenario struct {
	// Name uniquely identifies this scenario. It is also argv[0] of the
	// guest and the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Mode defaults to ModeRun.
	Mode Mode `yaml:"mode,omitempty"`

	// Profile overrides the machine profile. By default the run checker uses
	// the recording profile and the round-trip checker the roundtrip one.
	Profile string `yaml:"profile,omitempty"`

	// Args are passed to the guest after argv[0].
	Args []string `yaml:"args,omitempty"`

	// Program is assembly text. It is linked at Base and entered at its
	// first instruction.
	Program string `yaml:"program"`

	// Expect lists the checks. Absent fields are not checked.
	Expect Expect `yaml:"expect"`
}

// Expect is the expected outcome of a scenario.
type Expect struct {
	// ExitCode is the guest exit code. Not checked when the run faults.
	ExitCode *int `yaml:"exit_code,omitempty"`

	// Registers maps ABI or xN register names to final values.
	Registers map[string]Word `yaml:"registers,omitempty"`

	// Ecalls and Ebreaks count executed environment calls and breakpoints.
	Ecalls  *int `yaml:"ecalls,omitempty"`
	Ebreaks *int `yaml:"ebreaks,omitempty"`

	// Steps is the number of steps started. In ModeBoth it is checked
	// against the run checker only, since fusion changes the count.
	Steps *uint64 `yaml:"steps,omitempty"`

	// Fault is the expected fault code, e.g. COMMIT_ERROR.
	Fault engine.FaultCode `yaml:"fault,omitempty"`

	// Output is everything the guest printed through the debug syscall.
	Output *string `yaml:"output,omitempty"`
}

// Word is a 64-bit register value. YAML may spell it in any Go integer
// base and negative values wrap to their two's complement.
type Word uint64

func (w *Word) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseWord(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*w = v
	return nil
}

func parseWord(s string) (Word, error) {
	s = strings.ReplaceAll(s, "_", "")
	if strings.HasPrefix(s, "-") {
		v, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("bad register value %q", s)
		}
		return Word(v), nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad register value %q", s)
	}
	return Word(v), nil
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Unknown fields are rejected so a typo like "exitcode:" is not a
	// silently skipped check.
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Mode == "" {
		scenario.Mode = ModeRun
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads path, or every *.yaml file in it when path is a
// directory, in lexical order.
func LoadScenarios(path string) ([]*Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario path: %w", err)
	}
	paths := []string{path}
	if info.IsDir() {
		paths, err = filepath.Glob(filepath.Join(path, "*.yaml"))
		if err != nil {
			return nil, err
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("no scenarios in %s", path)
		}
	}

	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out = append(out, s)
	}
	return out, nil
}

var faultCodes = map[engine.FaultCode]bool{
	engine.CodeLoad:       true,
	engine.CodeDecode:     true,
	engine.CodeExecution:  true,
	engine.CodeEvaluation: true,
	engine.CodeCommit:     true,
	engine.CodeMismatch:   true,
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if strings.TrimSpace(s.Program) == "" {
		return fmt.Errorf("program is required")
	}

	switch s.Mode {
	case ModeRun, ModeRoundTrip, ModeBoth:
	default:
		return fmt.Errorf("unknown mode %q", s.Mode)
	}

	e := s.Expect
	if e.ExitCode != nil && (*e.ExitCode < math.MinInt8 || *e.ExitCode > math.MaxInt8) {
		return fmt.Errorf("expect.exit_code %d is not an int8", *e.ExitCode)
	}
	if e.Fault != "" && !faultCodes[e.Fault] {
		return fmt.Errorf("expect.fault: unknown fault code %q", e.Fault)
	}
	for name := range e.Registers {
		if _, ok := rv.LookupRegister(strings.ToLower(name)); !ok {
			return fmt.Errorf("expect.registers: unknown register %q", name)
		}
	}
	return nil
}
