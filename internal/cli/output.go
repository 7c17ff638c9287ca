package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/roach88/rvcheck/internal/engine"
)

// Exit codes for CLI commands. A runner whose guest exits nonzero exits
// with the guest's code instead.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Fault, failed scenario or replay divergence
	ExitCommandError = 2 // Command error (unreadable image, missing journal, etc.)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Process exit code
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Quiet errors have already been reported on stdout.
	Quiet bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// guestExit reports a nonzero guest exit code the way the runners always
// have: one line on stdout, then the code as the process status.
func guestExit(w io.Writer, code int8) error {
	if code == 0 {
		return nil
	}
	fmt.Fprintf(w, "Error result: %d\n", code)
	return &ExitError{Code: int(code), Message: fmt.Sprintf("guest exited with %d", code), Quiet: true}
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // fault code or "E_COMMAND"
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

var (
	failColor = color.New(color.FgRed, color.Bold)
	passColor = color.New(color.FgGreen)
	dimColor  = color.New(color.Faint)
)

// writeJSON encodes v as an indented JSON document.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// errorCode names err for output: the fault code when there is one.
func errorCode(err error) string {
	if code := engine.CodeOf(err); code != "" {
		return string(code)
	}
	if GetExitCode(err) == ExitCommandError {
		return "E_COMMAND"
	}
	return "E_FAILURE"
}

// ReportError writes err to w in the given format.
func ReportError(w io.Writer, format string, err error) {
	if format == "json" {
		resp := CLIResponse{Status: "error", Error: &CLIError{Code: errorCode(err), Message: err.Error()}}
		var f *engine.Fault
		if errors.As(err, &f) && f.Step > 0 {
			resp.Error.Details = map[string]any{
				"pc":   fmt.Sprintf("0x%x", f.PC),
				"step": f.Step,
			}
		}
		_ = writeJSON(w, resp)
		return
	}
	failColor.Fprintf(w, "Error [%s]: ", errorCode(err))
	fmt.Fprintln(w, err.Error())
}
