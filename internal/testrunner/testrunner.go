// Package testrunner executes the test command and classifies its output.
package testrunner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"

	"go.uber.org/zap"

	"github.com/simplesurance/nextmerge/internal/logfields"
	"github.com/simplesurance/nextmerge/internal/nexterr"
	"github.com/simplesurance/nextmerge/internal/runrecord"
)

const loggerName = "testrunner"

// Transcript receives the live output of the test command.
type Transcript interface {
	io.Writer
	Logf(format string, args ...any)
}

type Runner struct {
	logger     *zap.Logger
	transcript Transcript
}

// New returns a Runner, transcript can be nil.
func New(transcript Transcript) *Runner {
	return &Runner{
		logger:     zap.L().Named(loggerName),
		transcript: transcript,
	}
}

// Execute runs command via "sh -c" in workdir and blocks until it terminated.
// Stdout and stderr are combined into a single stream that is written to the
// transcript while the command runs.
// A non-zero exit code is not an error, an error is only returned when the
// command could not be run.
func (r *Runner) Execute(ctx context.Context, command, workdir string) (log string, exitCode int, err error) {
	args := []string{"sh", "-c", command}

	var out bytes.Buffer
	var w io.Writer = &out
	if r.transcript != nil {
		r.transcript.Logf("%s", command)
		w = io.MultiWriter(&out, r.transcript)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = workdir
	// the same writer for both makes exec use a single pipe, the output
	// order is preserved
	cmd.Stdout = w
	cmd.Stderr = w

	logger := r.logger.With(logfields.Command(args...))
	logger.Debug("running test command", logfields.Event("test_command_starting"))

	err = cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out.String(), exitErr.ExitCode(), nil
		}

		return out.String(), -1, &nexterr.CommandFailedError{
			Command: args,
			Dir:     workdir,
			Output:  out.String(),
			Err:     err,
		}
	}

	return out.String(), 0, nil
}

// Run executes the test command and classifies its output.
func (r *Runner) Run(ctx context.Context, round int, command, workdir string) (*runrecord.TestRun, error) {
	log, exitCode, err := r.Execute(ctx, command, workdir)
	if err != nil {
		return nil, err
	}

	results, xpassed := Classify(log)
	run := runrecord.TestRun{
		Round:            round,
		Results:          results,
		UnexpectedPasses: xpassed,
		ExitCode:         exitCode,
	}

	r.logger.Info(
		"test command finished",
		logfields.Event("test_command_finished"),
		logfields.Round(round),
		logfields.ExitCode(exitCode),
		zap.Int("tests_total", len(results)),
		zap.Int("tests_failed", run.FailedCount()),
		zap.Int("tests_xpassed", len(xpassed)),
	)

	return &run, nil
}
