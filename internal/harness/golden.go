package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/rvcheck/internal/digest"
	"github.com/roach88/rvcheck/internal/engine"
)

// Snapshot serialises how a scenario ended and the trace of its first
// checker as canonical JSON. Faults are recorded by code only, so golden
// files do not churn when messages change.
func Snapshot(scenario *Scenario, result *Result) ([]byte, error) {
	trace := make(digest.Array, len(result.Trace))
	for i, ev := range result.Trace {
		obj := digest.Object{
			"step":    digest.Int(ev.Step),
			"pc":      digest.Word(ev.PC),
			"inst":    digest.String(ev.Inst),
			"next_pc": digest.Word(ev.NextPC),
		}
		if len(ev.Effects) > 0 {
			effects := make(digest.Array, len(ev.Effects))
			for j, e := range ev.Effects {
				effects[j] = digest.String(e)
			}
			obj["effects"] = effects
		}
		trace[i] = obj
	}

	snap := digest.Object{
		"scenario": digest.String(scenario.Name),
		"mode":     digest.String(scenario.Mode),
		"trace":    trace,
	}
	if len(result.Outcomes) > 0 {
		o := result.Outcomes[0]
		if o.Fault != nil {
			snap["fault"] = digest.String(engine.CodeOf(o.Fault))
		} else {
			snap["exit_code"] = digest.Int(o.ExitCode)
		}
	}
	return digest.Marshal(snap)
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenario, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}
