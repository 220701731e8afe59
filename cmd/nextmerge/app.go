package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"

	"github.com/simplesurance/nextmerge/internal/branchlist"
	"github.com/simplesurance/nextmerge/internal/cfg"
	"github.com/simplesurance/nextmerge/internal/fetcher"
	"github.com/simplesurance/nextmerge/internal/git"
	"github.com/simplesurance/nextmerge/internal/githubclt"
	"github.com/simplesurance/nextmerge/internal/logfields"
	"github.com/simplesurance/nextmerge/internal/report"
	"github.com/simplesurance/nextmerge/internal/runrecord"
	"github.com/simplesurance/nextmerge/internal/scheduler"
	"github.com/simplesurance/nextmerge/internal/testrunner"
	"github.com/simplesurance/nextmerge/internal/transcript"
	"github.com/simplesurance/nextmerge/internal/upload"
)

const stampLayout = "20060102-1504"

const sqliteLedgerFile = "ledger.db"

func newStamp() string {
	return time.Now().Format(stampLayout)
}

type app struct {
	config   *cfg.Config
	store    report.Store
	retryer  *fetcher.Retryer
	ghClt    *githubclt.Client
	uploader *upload.Uploader

	// transcript is the sink of the integration run in progress, it is
	// closed by the exit hook when the process terminates during a run.
	transcript atomic.Pointer[transcript.Sink]
}

func newApp(config *cfg.Config) (*app, error) {
	a := app{
		config:  config,
		retryer: fetcher.NewRetryer(),
	}

	if err := os.MkdirAll(config.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory failed: %w", err)
	}

	switch config.LedgerStore {
	case cfg.LedgerStoreSQLite:
		store, err := report.NewSQLiteStore(filepath.Join(config.OutputDir, sqliteLedgerFile))
		if err != nil {
			return nil, err
		}

		goodbye.Register(func(context.Context, os.Signal) {
			if err := store.Close(); err != nil {
				logger.Warn("closing ledger database failed", zap.Error(err))
			}
		})

		a.store = store

	default:
		a.store = report.NewFileStore(config.OutputDir)
	}

	if config.Github.Owner != "" {
		clt, err := githubclt.New(config.Github.APIURL, config.Github.APIToken, a.retryer)
		if err != nil {
			return nil, err
		}

		a.ghClt = clt
	}

	if config.Upload.URL != "" {
		a.uploader = upload.New(
			upload.Config{
				URL:         config.Upload.URL,
				Token:       config.Upload.Token,
				SkipOnQuota: config.Upload.SkipOnQuota,
			},
			a.retryer,
		)
		logger.Debug("report upload enabled", logfields.Event("upload_configured"), zap.String("upload", a.uploader.DetailedString()))
	}

	goodbye.Register(func(context.Context, os.Signal) {
		a.closeTranscript()
	})

	return &a, nil
}

func (a *app) closeTranscript() {
	sink := a.transcript.Swap(nil)
	if sink == nil {
		return
	}

	if err := sink.Close(); err != nil {
		logger.Warn("closing transcript failed", logfields.Event("transcript_close_failed"), zap.Error(err))
	}
}

func (a *app) requireGithub() error {
	if a.ghClt == nil {
		return errors.New("github owner and repository must be configured")
	}

	return nil
}

func (a *app) checkGithubAuth(ctx context.Context) error {
	login, err := fetcher.Retry(ctx, a.retryer, "checking github authentication", a.ghClt.CheckAuthentication, nil)
	if err != nil {
		return err
	}

	logger.Debug("github authentication succeeded", logfields.Event("github_authenticated"), zap.String("github_login", login))

	return nil
}

func (a *app) renderOnly(ctx context.Context, out io.Writer) error {
	r, err := report.Render(ctx, a.store)
	if err != nil {
		return err
	}

	return a.writeReport(r, out)
}

func (a *app) writeReport(r *report.Rendered, out io.Writer) error {
	path, err := report.WriteHTML(a.config.OutputDir, r)
	if err != nil {
		return err
	}

	logger.Info("html report written", logfields.Event("report_written"), zap.String("path", path))

	_, err = io.WriteString(out, r.Text)
	return err
}

// branches returns the branch list and, when it was created from pull
// requests, the pull request numbers of the branches.
func (a *app) branches(ctx context.Context, fromGithub bool) ([]runrecord.Branch, map[runrecord.Branch]int, error) {
	if !fromGithub {
		if a.config.BranchFile == "" {
			return nil, nil, errors.New("no branch file configured")
		}

		branches, err := branchlist.ReadFile(a.config.BranchFile)
		return branches, nil, err
	}

	if err := a.requireGithub(); err != nil {
		return nil, nil, err
	}

	if err := a.checkGithubAuth(ctx); err != nil {
		return nil, nil, err
	}

	owner, repo := a.config.Github.Owner, a.config.Github.Repository

	prs, err := a.ghClt.ListPullRequests(ctx, owner, repo)
	if err != nil {
		return nil, nil, err
	}

	if a.config.Github.PullRequestFilter != "" {
		prs, err = githubclt.FilterPullRequests(ctx, prs, a.config.Github.PullRequestFilter)
		if err != nil {
			return nil, nil, err
		}
	}

	prNumbers := make(map[runrecord.Branch]int, len(prs))
	for _, pr := range prs {
		prNumbers[runrecord.Branch{
			Source: pr.GetHead().GetRepo().GetCloneURL(),
			Ref:    pr.GetHead().GetRef(),
		}] = pr.GetNumber()
	}

	baseline := runrecord.Branch{
		Source: a.config.Github.BaselineSource,
		Ref:    a.config.Github.BaselineRef,
	}

	return branchlist.FromPullRequests(baseline, prs), prNumbers, nil
}

func (a *app) runIntegration(ctx context.Context, stamp string, fromGithub bool, out io.Writer) error {
	logger := logger.With(logfields.Stamp(stamp))

	if a.config.RepositoryDir == "" {
		return errors.New("no repository directory configured")
	}

	if a.config.TestCommand == "" {
		return errors.New("no test command configured")
	}

	branches, prNumbers, err := a.branches(ctx, fromGithub)
	if err != nil {
		return fmt.Errorf("retrieving branch list failed: %w", err)
	}

	var console io.Writer
	if a.config.Verbose {
		console = os.Stdout
	}

	sink, err := transcript.Open(filepath.Join(a.config.OutputDir, a.config.LogFile), console)
	if err != nil {
		return fmt.Errorf("opening transcript failed: %w", err)
	}
	a.transcript.Store(sink)
	defer a.closeTranscript()

	sink.Logf("nextmerge %s, stamp %s", Version, stamp)

	sched := scheduler.New(
		git.New(a.config.RepositoryDir, sink),
		testrunner.New(sink),
		a.config.TestCommand,
		a.config.RepositoryDir,
		scheduler.WithIntegrationBranch(a.config.IntegrationBranch),
		scheduler.WithTranscript(sink),
	)

	res, err := sched.Run(ctx, branches)
	if err != nil {
		return err
	}

	rec := res.Record(stamp)

	rendered, err := report.AppendAndRender(ctx, a.store, rec)
	if err != nil {
		return err
	}

	if err := a.writeReport(rendered, out); err != nil {
		return err
	}

	passed, summary := report.Summarize(rec)

	logger.Info(
		"integration run finished",
		logfields.Event("integration_run_finished"),
		zap.Bool("passed", passed),
		zap.String("summary", summary),
	)

	var reportURL string
	if a.uploader != nil {
		reportURL, err = a.upload(ctx, rec, rendered, passed, summary)
		if err != nil {
			return err
		}
	}

	if a.config.Github.CommentResults && len(prNumbers) > 0 {
		if err := a.commentResults(ctx, rec, rendered.Pivot, prNumbers, summary, reportURL); err != nil {
			return err
		}
	}

	a.pushMetrics(ctx)

	return nil
}

func (a *app) upload(ctx context.Context, rec *runrecord.RunRecord, r *report.Rendered, passed bool, summary string) (string, error) {
	result := upload.ResultPassed
	if !passed {
		result = upload.ResultFailed
	}

	res, err := a.uploader.Upload(ctx, &upload.Report{
		Stamp:      rec.Timestamp,
		Result:     result,
		Summary:    summary,
		ReportHTML: string(r.HTML),
	})
	if err != nil {
		return "", fmt.Errorf("uploading report failed: %w", err)
	}

	return res.TaskURL, nil
}

func commentText(stamp, mergeResult, summary, reportURL string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "**nextmerge run %s**\n\n", stamp)
	fmt.Fprintf(&sb, "merge: %s\n", mergeResult)
	fmt.Fprintf(&sb, "tests: %s\n", summary)

	if reportURL != "" {
		fmt.Fprintf(&sb, "report: %s\n", reportURL)
	}

	return sb.String()
}

func (a *app) commentResults(
	ctx context.Context,
	rec *runrecord.RunRecord,
	pivot *report.Pivot,
	prNumbers map[runrecord.Branch]int,
	summary, reportURL string,
) error {
	owner, repo := a.config.Github.Owner, a.config.Github.Repository

	for _, attempt := range rec.Attempts {
		prNumber, exists := prNumbers[attempt.Branch]
		if !exists {
			continue
		}

		mergeResult := report.NotAvailable
		if cell, ok := pivot.Merge(attempt.Branch, rec.Timestamp); ok {
			mergeResult = report.MergeLabel(cell)
		}

		comment := commentText(rec.Timestamp, mergeResult, summary, reportURL)

		err := a.retryer.Run(ctx, fmt.Sprintf("commenting on pull request #%d", prNumber), func(ctx context.Context) error {
			return a.ghClt.CreateIssueComment(ctx, owner, repo, prNumber, comment)
		})
		if err != nil {
			return fmt.Errorf("commenting on pull request #%d failed: %w", prNumber, err)
		}
	}

	return nil
}

func (a *app) pushMetrics(ctx context.Context) {
	if a.config.Metrics.PushgatewayURL == "" {
		return
	}

	err := push.New(a.config.Metrics.PushgatewayURL, a.config.Metrics.Job).
		Gatherer(prometheus.DefaultGatherer).
		PushContext(ctx)
	if err != nil {
		logger.Warn(
			"pushing metrics failed",
			logfields.Event("metrics_push_failed"),
			logfields.URL(a.config.Metrics.PushgatewayURL),
			zap.Error(err),
		)
		return
	}

	logger.Debug("metrics pushed", logfields.Event("metrics_pushed"))
}

func (a *app) listPullRequests(ctx context.Context, out io.Writer) error {
	if err := a.requireGithub(); err != nil {
		return err
	}

	if err := a.checkGithubAuth(ctx); err != nil {
		return err
	}

	var filter *githubclt.PullRequestFilter
	if a.config.Github.PullRequestFilter != "" {
		var err error
		filter, err = githubclt.NewPullRequestFilter(a.config.Github.PullRequestFilter)
		if err != nil {
			return err
		}
	}

	mergeable, nonMergeable, err := a.ghClt.ListPullRequestSummaries(ctx, a.config.Github.Owner, a.config.Github.Repository, filter)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "%s\n\n%s\n",
		pullRequestTable("Mergeable Pull Requests", mergeable),
		pullRequestTable("Non-Mergeable Pull Requests", nonMergeable),
	)
	return err
}

func pullRequestTable(title string, prs []*githubclt.PullRequestSummary) string {
	t := table.NewWriter()
	t.SetTitle(title)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Created", "Author", "Source", "Ref", "State"})

	for _, pr := range prs {
		t.AppendRow(table.Row{
			pr.Number,
			pr.CreatedAt.Format(time.DateTime),
			pr.Author,
			pr.Source,
			pr.Ref,
			string(pr.Mergeable),
		})
	}

	if len(prs) == 0 {
		t.AppendRow(table.Row{"none"})
	}

	return t.Render()
}
