// Package runrecord contains the data model shared by the merge scheduler and
// the report aggregator.
package runrecord

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/nextmerge/internal/logfields"
)

// Branch is a ref in a repository that is merged into the integration branch.
type Branch struct {
	Source string `json:"source"`
	Ref    string `json:"ref"`
}

func (b Branch) String() string {
	return fmt.Sprintf("%s %s", b.Source, b.Ref)
}

func (b Branch) LogFields() []zap.Field {
	return []zap.Field{
		logfields.Source(b.Source),
		logfields.Ref(b.Ref),
	}
}

// Outcome is the result of trying to merge a branch in a round.
type Outcome string

const (
	OutcomeClean       Outcome = "clean"
	OutcomeConflict    Outcome = "conflict"
	OutcomeFetchFailed Outcome = "fetch"
	// OutcomeDeferred is recorded when a merge conflicted and the branch
	// was requeued for the next round. It is not a terminal outcome.
	OutcomeDeferred Outcome = "deferred"
)

// IsTerminal returns false for OutcomeDeferred.
func (o Outcome) IsTerminal() bool {
	return o != OutcomeDeferred
}

// MergeAttempt is created once per branch and round the scheduler tried.
type MergeAttempt struct {
	Branch  Branch  `json:"branch"`
	Round   int     `json:"round"`
	Outcome Outcome `json:"outcome"`
}

type TestResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// TestRun is the result of running the test command after a productive
// round.
type TestRun struct {
	Round            int          `json:"round"`
	Results          []TestResult `json:"results"`
	UnexpectedPasses []string     `json:"unexpected_passes,omitempty"`
	ExitCode         int          `json:"exit_code"`
	// BaseCommit is the commit ID of the baseline.
	BaseCommit string `json:"base_commit,omitempty"`
	// HeadCommit is the commit ID of the integration branch the tests ran on.
	HeadCommit string `json:"head_commit,omitempty"`
}

// Passed returns true if the test command exited with 0.
func (r *TestRun) Passed() bool {
	return r.ExitCode == 0
}

// FailedCount returns the number of failed test results.
func (r *TestRun) FailedCount() int {
	var cnt int

	for _, res := range r.Results {
		if !res.Passed {
			cnt++
		}
	}

	return cnt
}

// RunRecord is the result of one scheduler invocation.
// It is the unit that is appended to the report ledger.
type RunRecord struct {
	Timestamp string         `json:"timestamp"`
	Attempts  []MergeAttempt `json:"attempts"`
	Runs      []TestRun      `json:"runs"`
}

// TerminalAttempts returns all attempts with a terminal outcome, in the
// recorded order.
func (r *RunRecord) TerminalAttempts() []MergeAttempt {
	result := make([]MergeAttempt, 0, len(r.Attempts))

	for _, a := range r.Attempts {
		if a.Outcome.IsTerminal() {
			result = append(result, a)
		}
	}

	return result
}
