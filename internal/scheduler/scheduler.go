// Package scheduler merges a list of branches round by round into an
// integration branch and runs the tests after every round in which at least
// one branch merged cleanly.
//
// A round starts with an integration branch that is identical to the
// baseline. Branches whose merge conflicts are requeued for the next round,
// except when no other branch was merged before them in the same round. Such
// a conflict is caused by the baseline alone and would recur in every
// following round, the branch is dropped.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/nextmerge/internal/logfields"
	"github.com/simplesurance/nextmerge/internal/runrecord"
	"github.com/simplesurance/nextmerge/internal/stringutils"
)

const loggerName = "scheduler"

const DefIntegrationBranch = "next-test"

//go:generate mockgen -destination mocks/git.go -package mocks . Git

// Git is the version-control collaborator, operating on a single checkout.
type Git interface {
	Checkout(ctx context.Context, branch string) error
	ResetHard(ctx context.Context) error
	Pull(ctx context.Context, source, ref string) error
	CreateBranch(ctx context.Context, name string) error
	DeleteBranch(ctx context.Context, name string) error
	Fetch(ctx context.Context, source, ref, localBranch string) error
	Merge(ctx context.Context, branch string) error
	MergeInProgress(ctx context.Context) (bool, error)
	MergeAbort(ctx context.Context) error
	RevParse(ctx context.Context, rev string) (string, error)
	Diff(ctx context.Context) (string, error)
}

type TestRunner interface {
	Run(ctx context.Context, round int, command, workdir string) (*runrecord.TestRun, error)
}

type Transcript interface {
	Logf(format string, args ...any)
}

type nopTranscript struct{}

func (nopTranscript) Logf(string, ...any) {}

type Scheduler struct {
	logger            *zap.Logger
	git               Git
	tests             TestRunner
	transcript        Transcript
	testCommand       string
	workdir           string
	integrationBranch string
	stagingBranch     string
}

type Option func(*Scheduler)

// WithIntegrationBranch sets the name of the branch the merges are done in.
// The branch is created and deleted in every round.
func WithIntegrationBranch(name string) Option {
	return func(s *Scheduler) {
		s.integrationBranch = name
	}
}

func WithTranscript(t Transcript) Option {
	return func(s *Scheduler) {
		s.transcript = t
	}
}

func New(git Git, tests TestRunner, testCommand, workdir string, opts ...Option) *Scheduler {
	s := Scheduler{
		logger:            zap.L().Named(loggerName),
		git:               git,
		tests:             tests,
		transcript:        nopTranscript{},
		testCommand:       testCommand,
		workdir:           workdir,
		integrationBranch: DefIntegrationBranch,
	}

	for _, o := range opts {
		o(&s)
	}

	s.stagingBranch = s.integrationBranch + "-staging"

	return &s
}

// Result contains all merge attempts and test runs of an invocation.
// Attempts also contains the OutcomeDeferred attempts of requeued branches.
type Result struct {
	Attempts []runrecord.MergeAttempt
	Runs     []runrecord.TestRun
}

// Record returns the RunRecord for the result, it only contains attempts
// with a terminal outcome.
func (r *Result) Record(stamp string) *runrecord.RunRecord {
	rec := runrecord.RunRecord{
		Timestamp: stamp,
		Attempts:  r.Attempts,
		Runs:      r.Runs,
	}

	rec.Attempts = rec.TerminalAttempts()
	if rec.Runs == nil {
		rec.Runs = []runrecord.TestRun{}
	}

	return &rec
}

func (r *Result) addAttempt(branch runrecord.Branch, round int, outcome runrecord.Outcome) {
	r.Attempts = append(r.Attempts, runrecord.MergeAttempt{
		Branch:  branch,
		Round:   round,
		Outcome: outcome,
	})

	metrics.MergeAttemptInc(outcome)
}

// Run merges branches[1:] into the baseline branches[0] and runs the tests.
// An error is returned when a git operation that is required to continue
// failed, no partial result is returned in that case.
func (s *Scheduler) Run(ctx context.Context, branches []runrecord.Branch) (*Result, error) {
	if len(branches) == 0 {
		return nil, errors.New("branch list is empty, it must contain at least the baseline")
	}

	baseline := branches[0]
	logger := s.logger.With(logfields.BaseBranch(baseline.Ref))

	if err := s.prepareBaseline(ctx, baseline); err != nil {
		return nil, fmt.Errorf("preparing baseline %s failed: %w", baseline, err)
	}

	baseCommit, err := s.git.RevParse(ctx, "HEAD")
	if err != nil {
		return nil, fmt.Errorf("resolving baseline commit failed: %w", err)
	}

	logger.Info(
		"baseline prepared",
		logfields.Event("baseline_prepared"),
		logfields.Commit(baseCommit),
		zap.Int("branch_count", len(branches)-1),
	)

	var result Result
	todo := append([]runrecord.Branch(nil), branches[1:]...)

	for round := 1; len(todo) > 0; round++ {
		todo, err = s.runRound(ctx, round, baseline, baseCommit, todo, &result)
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", round, err)
		}
	}

	logger.Info(
		"all branches processed",
		logfields.Event("merge_rounds_finished"),
		zap.Int("test_runs", len(result.Runs)),
	)

	return &result, nil
}

func (s *Scheduler) prepareBaseline(ctx context.Context, baseline runrecord.Branch) error {
	s.transcript.Logf("preparing baseline %s", baseline)

	if err := s.git.ResetHard(ctx); err != nil {
		return err
	}

	if err := s.git.Checkout(ctx, baseline.Ref); err != nil {
		return err
	}

	if err := s.git.ResetHard(ctx); err != nil {
		return err
	}

	return s.git.Pull(ctx, baseline.Source, baseline.Ref)
}

// createIntegrationBranch creates the integration branch from the current
// HEAD. If a branch with the name exists from a previous aborted invocation,
// it is deleted and creation is retried.
func (s *Scheduler) createIntegrationBranch(ctx context.Context, logger *zap.Logger) error {
	err := s.git.CreateBranch(ctx, s.integrationBranch)
	if err == nil {
		return nil
	}

	logger.Info(
		"creating integration branch failed, deleting stale branch",
		logfields.Event("integration_branch_stale"),
		zap.Error(err),
	)

	if delErr := s.git.DeleteBranch(ctx, s.integrationBranch); delErr != nil {
		return fmt.Errorf("creating integration branch failed: %w", errors.Join(err, delErr))
	}

	if err := s.git.CreateBranch(ctx, s.integrationBranch); err != nil {
		return fmt.Errorf("creating integration branch failed: %w", err)
	}

	return nil
}

func (s *Scheduler) runRound(
	ctx context.Context,
	round int,
	baseline runrecord.Branch,
	baseCommit string,
	todo []runrecord.Branch,
	result *Result,
) (requeued []runrecord.Branch, err error) {
	logger := s.logger.With(logfields.Round(round))

	metrics.RoundInc()
	s.transcript.Logf("round %d: merging %d branches", round, len(todo))
	logger.Info(
		"starting merge round",
		logfields.Event("merge_round_started"),
		zap.Int("branch_count", len(todo)),
	)

	if err := s.createIntegrationBranch(ctx, logger); err != nil {
		return nil, err
	}

	var stagingExists bool
	defer func() {
		if cleanupErr := s.cleanupRound(context.WithoutCancel(ctx), baseline, stagingExists); cleanupErr != nil {
			err = errors.Join(err, fmt.Errorf("cleanup failed: %w", cleanupErr))
			requeued = nil
		}
	}()

	var position int
	var productive bool

	for _, branch := range todo {
		brLogger := logger.With(branch.LogFields()...)

		if err := s.git.Fetch(ctx, branch.Source, branch.Ref, s.stagingBranch); err != nil {
			result.addAttempt(branch, round, runrecord.OutcomeFetchFailed)
			s.transcript.Logf("fetching %s failed, dropping it", branch)
			brLogger.Info(
				"fetching branch failed, dropping it",
				logfields.Event("branch_fetch_failed"),
				zap.Error(err),
			)

			continue
		}
		stagingExists = true

		if err := s.git.Merge(ctx, s.stagingBranch); err == nil {
			result.addAttempt(branch, round, runrecord.OutcomeClean)
			position++
			productive = true

			brLogger.Info("branch merged cleanly", logfields.Event("branch_merged"))

			continue
		}

		if err := s.abortMerge(ctx, branch, brLogger); err != nil {
			return nil, err
		}

		if position == 0 {
			result.addAttempt(branch, round, runrecord.OutcomeConflict)
			s.transcript.Logf("%s conflicts with the baseline, dropping it", branch)
			brLogger.Info(
				"branch conflicts with baseline, dropping it",
				logfields.Event("branch_conflict_dropped"),
			)

			continue
		}

		result.addAttempt(branch, round, runrecord.OutcomeDeferred)
		requeued = append(requeued, branch)
		position++

		s.transcript.Logf("%s conflicts, retrying in the next round", branch)
		brLogger.Info(
			"branch conflicts, requeued for next round",
			logfields.Event("branch_conflict_requeued"),
		)
	}

	if !productive {
		if len(requeued) > 0 {
			logger.DPanic(
				"round without clean merges requeued branches",
				zap.Int("requeued_count", len(requeued)),
			)
		}

		logger.Info("round had no clean merges, skipping tests", logfields.Event("tests_skipped"))

		return requeued, nil
	}

	run, err := s.runTests(ctx, round, baseCommit)
	if err != nil {
		return nil, err
	}

	result.Runs = append(result.Runs, *run)

	return requeued, nil
}

// abortMerge logs the conflicting changes and aborts the merge.
// When git refused to start the merge, no merge is in progress and the
// working tree is reset instead.
func (s *Scheduler) abortMerge(ctx context.Context, branch runrecord.Branch, logger *zap.Logger) error {
	inProgress, err := s.git.MergeInProgress(ctx)
	if err != nil {
		return fmt.Errorf("checking merge state of %s failed: %w", branch, err)
	}

	if !inProgress {
		s.transcript.Logf("merging %s could not be started", branch)
		logger.Info(
			"merge was refused, resetting working tree",
			logfields.Event("merge_refused"),
		)

		if err := s.git.ResetHard(ctx); err != nil {
			return fmt.Errorf("resetting working tree after merging %s failed: %w", branch, err)
		}

		return nil
	}

	diff, err := s.git.Diff(ctx)
	if err != nil {
		logger.Warn(
			"retrieving conflicts failed",
			logfields.Event("merge_conflict_diff_failed"),
			zap.Error(err),
		)
	} else {
		s.transcript.Logf("merging %s failed with conflicts:\n%s", branch, stringutils.IndentString(diff, "    "))
	}

	if err := s.git.MergeAbort(ctx); err != nil {
		return fmt.Errorf("aborting merge of %s failed: %w", branch, err)
	}

	return nil
}

func (s *Scheduler) runTests(ctx context.Context, round int, baseCommit string) (*runrecord.TestRun, error) {
	headCommit, err := s.git.RevParse(ctx, "HEAD")
	if err != nil {
		return nil, fmt.Errorf("resolving integration branch commit failed: %w", err)
	}

	s.transcript.Logf("round %d: running tests on %s", round, headCommit)

	run, err := s.tests.Run(ctx, round, s.testCommand, s.workdir)
	if err != nil {
		return nil, fmt.Errorf("running tests failed: %w", err)
	}

	run.Round = round
	run.BaseCommit = baseCommit
	run.HeadCommit = headCommit

	metrics.TestRunInc(run)

	return run, nil
}

// cleanupRound checks out the baseline and deletes the integration and
// staging branch.
func (s *Scheduler) cleanupRound(ctx context.Context, baseline runrecord.Branch, deleteStaging bool) error {
	if err := s.git.Checkout(ctx, baseline.Ref); err != nil {
		return err
	}

	err := s.git.DeleteBranch(ctx, s.integrationBranch)

	if deleteStaging {
		err = errors.Join(err, s.git.DeleteBranch(ctx, s.stagingBranch))
	}

	return err
}
