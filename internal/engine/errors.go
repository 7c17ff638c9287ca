package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/rvcheck/internal/machine"
)

// Fault is an unrecoverable error detected while driving a program.
type Fault struct {
	// Code identifies the fault category.
	Code FaultCode

	// Message is a human-readable description.
	Message string

	// PC is the pc of the failing instruction.
	PC uint64

	// Step is the 1-based number of the failing step, 0 if no step began.
	Step uint64

	// Err is the underlying cause.
	Err error
}

// FaultCode categorizes faults.
type FaultCode string

const (
	// CodeLoad indicates a malformed or oversized program image.
	CodeLoad FaultCode = "LOAD_ERROR"

	// CodeDecode indicates an undefined instruction or a failed fetch.
	CodeDecode FaultCode = "DECODE_ERROR"

	// CodeExecution indicates the instruction could not be executed: an
	// unsupported opcode, an unknown syscall or an exhausted cycle budget.
	CodeExecution FaultCode = "EXECUTION_ERROR"

	// CodeEvaluation indicates an expression could not be reduced.
	CodeEvaluation FaultCode = "EVALUATION_ERROR"

	// CodeCommit indicates a write violated the memory model.
	CodeCommit FaultCode = "COMMIT_ERROR"

	// CodeMismatch indicates two executions that must agree did not.
	CodeMismatch FaultCode = "VALIDATION_MISMATCH"
)

func (e *Fault) Error() string {
	if e.Step == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (pc=0x%x, step=%d)", e.Code, e.Message, e.PC, e.Step)
}

func (e *Fault) Unwrap() error {
	return e.Err
}

// CodeOf returns the fault code of err, or "" when err is not a Fault.
func CodeOf(err error) FaultCode {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return ""
}

// IsDecodeFault reports whether err is a DECODE_ERROR fault.
func IsDecodeFault(err error) bool { return CodeOf(err) == CodeDecode }

// IsExecutionFault reports whether err is an EXECUTION_ERROR fault.
func IsExecutionFault(err error) bool { return CodeOf(err) == CodeExecution }

// IsEvaluationFault reports whether err is an EVALUATION_ERROR fault.
func IsEvaluationFault(err error) bool { return CodeOf(err) == CodeEvaluation }

// IsCommitFault reports whether err is a COMMIT_ERROR fault.
func IsCommitFault(err error) bool { return CodeOf(err) == CodeCommit }

// IsMismatch reports whether err is a VALIDATION_MISMATCH fault.
func IsMismatch(err error) bool { return CodeOf(err) == CodeMismatch }

// NewLoadFault wraps a program loading failure.
func NewLoadFault(err error) *Fault {
	return &Fault{Code: CodeLoad, Message: "cannot load program", Err: err}
}

// NewMismatchFault reports a divergence found before or after step.
func NewMismatchFault(pc, step uint64, format string, args ...any) *Fault {
	return &Fault{Code: CodeMismatch, Message: fmt.Sprintf(format, args...), PC: pc, Step: step}
}

// commitCode classifies an error raised while applying writes. Memory
// violations are commit faults; a failing environment call is an execution
// fault.
func commitCode(err error) FaultCode {
	var memErr *machine.MemoryError
	if errors.As(err, &memErr) {
		return CodeCommit
	}
	return CodeExecution
}
