package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/rvcheck/internal/engine"
	"github.com/roach88/rvcheck/internal/rv"
)

// AssertionError is returned when an expectation fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Mode     Mode         // Checker that produced the outcome
	Field    string       // Expectation that failed, e.g. "exit_code"
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Tail of the trace for context
}

// traceContext bounds how many trailing steps an AssertionError prints.
const traceContext = 8

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "[%s] %s\n", e.Mode, e.Field)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		tail := e.Trace
		if len(tail) > traceContext {
			tail = tail[len(tail)-traceContext:]
		}
		fmt.Fprintf(&buf, "\nLast steps:\n")
		for _, ev := range tail {
			fmt.Fprintf(&buf, "  [%d] 0x%x %s\n", ev.Step, ev.PC, ev.Inst)
		}
	}
	return buf.String()
}

// checkExpectations judges every outcome against the scenario and, when
// more than one checker ran, requires them to agree on how the run ended.
func checkExpectations(s *Scenario, r *Result) {
	for i, o := range r.Outcomes {
		for _, err := range checkOutcome(s.Expect, o, i == 0) {
			r.AddError(err.Error())
		}
	}

	if len(r.Outcomes) == 2 {
		a, b := r.Outcomes[0], r.Outcomes[1]
		if a.Fault == nil && b.Fault == nil && a.ExitCode != b.ExitCode {
			r.AddError(fmt.Sprintf("checkers disagree: %s exited %d, %s exited %d",
				a.Mode, a.ExitCode, b.Mode, b.ExitCode))
		}
	}
}

// checkOutcome returns one error per failed expectation. Steps is only
// checked when first is set.
func checkOutcome(e Expect, o *Outcome, first bool) []error {
	var errs []error
	fail := func(field, expected, actual string) {
		errs = append(errs, &AssertionError{
			Mode:     o.Mode,
			Field:    field,
			Expected: expected,
			Actual:   actual,
			Trace:    o.Trace,
		})
	}

	code := engine.CodeOf(o.Fault)
	switch {
	case o.Fault != nil && e.Fault == "":
		fail("fault", "no fault", o.Fault.Error())
	case o.Fault != nil && code != e.Fault:
		fail("fault", string(e.Fault), o.Fault.Error())
	case o.Fault == nil && e.Fault != "":
		fail("fault", string(e.Fault), fmt.Sprintf("exited %d", o.ExitCode))
	}

	if e.ExitCode != nil && o.Fault == nil && int(o.ExitCode) != *e.ExitCode {
		fail("exit_code", fmt.Sprint(*e.ExitCode), fmt.Sprint(o.ExitCode))
	}

	names := make([]string, 0, len(e.Registers))
	for name := range e.Registers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		idx, _ := rv.LookupRegister(strings.ToLower(name))
		want, got := uint64(e.Registers[name]), o.Registers[idx]
		if want != got {
			fail("registers."+name, fmt.Sprintf("0x%x", want), fmt.Sprintf("0x%x", got))
		}
	}

	if e.Ecalls != nil && o.Ecalls != *e.Ecalls {
		fail("ecalls", fmt.Sprint(*e.Ecalls), fmt.Sprint(o.Ecalls))
	}
	if e.Ebreaks != nil && o.Ebreaks != *e.Ebreaks {
		fail("ebreaks", fmt.Sprint(*e.Ebreaks), fmt.Sprint(o.Ebreaks))
	}
	if e.Steps != nil && first && o.Steps != *e.Steps {
		fail("steps", fmt.Sprint(*e.Steps), fmt.Sprint(o.Steps))
	}
	if e.Output != nil && o.Output != *e.Output {
		fail("output", fmt.Sprintf("%q", *e.Output), fmt.Sprintf("%q", o.Output))
	}
	return errs
}
