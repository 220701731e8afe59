package nexterr

import (
	"fmt"
	"strings"
)

// CommandFailedError is returned when an external command that is a
// precondition for continuing failed.
type CommandFailedError struct {
	Command  []string
	Dir      string
	ExitCode int
	Output   string
	// Err is the error returned by os/exec, it is nil when the command ran
	// and exited with a non-zero code.
	Err error
}

func (e *CommandFailedError) Error() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "command %q failed", strings.Join(e.Command, " "))
	if e.Dir != "" {
		fmt.Fprintf(&sb, " in %s", e.Dir)
	}

	if e.Err != nil {
		fmt.Fprintf(&sb, ": %s", e.Err)
	} else {
		fmt.Fprintf(&sb, " with exit code %d", e.ExitCode)
	}

	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&sb, ", output: %q", out)
	}

	return sb.String()
}

func (e *CommandFailedError) Unwrap() error {
	return e.Err
}
