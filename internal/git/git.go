// Package git runs git commands in a local repository.
package git

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/simplesurance/nextmerge/internal/logfields"
	"github.com/simplesurance/nextmerge/internal/nexterr"
)

const loggerName = "git"

// Transcript receives the executed commands and their output.
type Transcript interface {
	io.Writer
	Logf(format string, args ...any)
}

// Repository executes git commands in a working directory.
type Repository struct {
	logger     *zap.Logger
	dir        string
	transcript Transcript
}

// New returns a Repository for the git checkout in dir. transcript can be nil.
func New(dir string, transcript Transcript) *Repository {
	return &Repository{
		logger:     zap.L().Named(loggerName).With(logfields.Repository(dir)),
		dir:        dir,
		transcript: transcript,
	}
}

func (r *Repository) run(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	stdoutW, stderrW := io.Writer(&stdout), io.Writer(&stderr)

	if r.transcript != nil {
		r.transcript.Logf("git %s", strings.Join(args, " "))
		stdoutW = io.MultiWriter(&stdout, r.transcript)
		stderrW = io.MultiWriter(&stderr, r.transcript)
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	cmdline := append([]string{"git"}, args...)
	logger := r.logger.With(logfields.Command(cmdline...))

	err := cmd.Run()
	if err != nil {
		cmdErr := nexterr.CommandFailedError{
			Command: cmdline,
			Dir:     r.dir,
			Output:  stdout.String() + stderr.String(),
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cmdErr.ExitCode = exitErr.ExitCode()
		} else {
			cmdErr.ExitCode = -1
			cmdErr.Err = err
		}

		logger.Debug(
			"git command failed",
			logfields.Event("git_command_failed"),
			logfields.ExitCode(cmdErr.ExitCode),
			zap.Error(err),
		)

		return stdout.String(), &cmdErr
	}

	logger.Debug("git command succeeded", logfields.Event("git_command_succeeded"))

	return stdout.String(), nil
}

func (r *Repository) Checkout(ctx context.Context, branch string) error {
	_, err := r.run(ctx, "checkout", branch)
	return err
}

// ResetHard discards all uncommitted changes.
func (r *Repository) ResetHard(ctx context.Context) error {
	_, err := r.run(ctx, "reset", "--hard")
	return err
}

// Pull fetches ref from source and merges it into the current branch.
func (r *Repository) Pull(ctx context.Context, source, ref string) error {
	_, err := r.run(ctx, "pull", "--no-edit", source, ref)
	return err
}

// CreateBranch creates a branch from HEAD and checks it out.
func (r *Repository) CreateBranch(ctx context.Context, name string) error {
	_, err := r.run(ctx, "checkout", "-b", name)
	return err
}

// DeleteBranch deletes a local branch, independent of its merge status.
func (r *Repository) DeleteBranch(ctx context.Context, name string) error {
	_, err := r.run(ctx, "branch", "-D", name)
	return err
}

// Fetch fetches ref from source and stores it as the local branch
// localBranch, an existing branch with the same name is overwritten.
func (r *Repository) Fetch(ctx context.Context, source, ref, localBranch string) error {
	_, err := r.run(ctx, "fetch", "--no-tags", source, "+"+ref+":refs/heads/"+localBranch)
	return err
}

// Merge merges branch into the current branch.
func (r *Repository) Merge(ctx context.Context, branch string) error {
	_, err := r.run(ctx, "merge", "--no-edit", branch)
	return err
}

// MergeInProgress returns true if a merge was started and stopped because of
// conflicts. It is false when git refused to start the merge, e.g. for
// unrelated histories or untracked files that would be overwritten.
func (r *Repository) MergeInProgress(ctx context.Context) (bool, error) {
	_, err := r.run(ctx, "rev-parse", "-q", "--verify", "MERGE_HEAD")
	if err == nil {
		return true, nil
	}

	var cmdErr *nexterr.CommandFailedError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
		return false, nil
	}

	return false, err
}

func (r *Repository) MergeAbort(ctx context.Context) error {
	_, err := r.run(ctx, "merge", "--abort")
	return err
}

// RevParse returns the commit ID that rev resolves to.
func (r *Repository) RevParse(ctx context.Context, rev string) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--verify", rev+"^{commit}")
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(out), nil
}

// Diff returns the changes of the working tree, during a conflicting merge
// they contain the conflict markers.
func (r *Repository) Diff(ctx context.Context) (string, error) {
	return r.run(ctx, "diff")
}
