package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Failed checks or blocked approval
	ExitCommandError = 2 // Bad arguments, configuration or storage errors
)

// ExitError carries the process exit code for a command error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode extracts the exit code from err. Errors without one map to
// ExitCommandError.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// Response is the JSON envelope of every command.
type Response struct {
	Status string `json:"status"` // "ok" or "failed"
	Data   any    `json:"data,omitempty"`
}

// Output renders command results as text or JSON.
type Output struct {
	Format string
	Writer io.Writer
}

// Emit writes data. JSON output wraps it in a Response; text output calls
// text instead.
func (o Output) Emit(ok bool, data any, text func(w io.Writer)) error {
	if o.Format == "json" {
		status := "ok"
		if !ok {
			status = "failed"
		}
		enc := json.NewEncoder(o.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(Response{Status: status, Data: data})
	}
	text(o.Writer)
	return nil
}
