package cli

import (
	"errors"
	"io"
)

// Execute runs the CLI with args and returns the process exit status.
// Errors are reported on stderr unless the command already reported them.
func Execute(args []string, stdout, stderr io.Writer) int {
	return execute(&RootOptions{}, args, stdout, stderr)
}

func execute(opts *RootOptions, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Quiet {
		return exitErr.Code
	}
	format := opts.Format
	if !isValidFormat(format) {
		format = "text"
	}
	ReportError(stderr, format, err)
	if exitErr == nil {
		// Flag and argument errors from cobra itself.
		return ExitCommandError
	}
	return exitErr.Code
}
