package harness

// TraceEvent is one executed instruction.
type TraceEvent struct {
	Step uint64 `json:"step"`
	PC   uint64 `json:"pc"`
	Inst string `json:"inst"`

	// Effects are the committed writes, in commit order. The round-trip
	// checker has no effect batches and leaves them empty.
	Effects []string `json:"effects,omitempty"`

	NextPC uint64 `json:"next_pc"`
}

// Outcome is what one checker observed.
type Outcome struct {
	Mode      Mode
	ExitCode  int8
	Fault     error
	Registers [32]uint64
	Ecalls    int
	Ebreaks   int
	Steps     uint64
	Output    string
	Trace     []TraceEvent
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Trace is the trace of the first checker that ran.
	Trace []TraceEvent `json:"trace"`

	// Outcomes holds one entry per checker, in the order they ran.
	Outcomes []*Outcome `json:"-"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addOutcome(o *Outcome) {
	if len(r.Outcomes) == 0 {
		r.Trace = o.Trace
	}
	r.Outcomes = append(r.Outcomes, o)
}
