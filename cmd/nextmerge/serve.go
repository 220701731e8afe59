package main

import (
	"context"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"

	"github.com/simplesurance/nextmerge/internal/logfields"
	"github.com/simplesurance/nextmerge/internal/report"
)

const (
	reportEndpoint  = "/"
	metricsEndpoint = "/metrics"
)

// serve starts the http server and the scheduled integration runs and blocks
// until the process is terminated.
func (a *app) serve() {
	ctx, cancelFn := context.WithCancel(context.Background())
	goodbye.Register(func(context.Context, os.Signal) {
		cancelFn()
	})

	mux := http.NewServeMux()
	report.NewHTTPService(a.store).RegisterHandlers(mux, reportEndpoint)
	mux.Handle(metricsEndpoint, promhttp.Handler())

	logger.Info(
		"registered http endpoints",
		logfields.Event("http_handlers_registered"),
		zap.String("report_endpoint", reportEndpoint),
		zap.String("metrics_endpoint", metricsEndpoint),
	)

	startHTTPServer(a.config.Server.HTTPListenAddr, mux)

	if a.config.Server.Schedule != "" {
		a.mustStartScheduler(ctx)
	}

	select {}
}

func (a *app) mustStartScheduler(ctx context.Context) {
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))

	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger)),
	)

	fromGithub := a.ghClt != nil && *args.FromGithub

	_, err := c.AddFunc(a.config.Server.Schedule, func() {
		defer panicHandler()

		stamp := newStamp()
		if err := a.runIntegration(ctx, stamp, fromGithub, os.Stdout); err != nil {
			logger.Error(
				"scheduled integration run failed",
				logfields.Event("scheduled_run_failed"),
				logfields.Stamp(stamp),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		fatal("parsing server schedule failed", err)
	}

	c.Start()

	logger.Info(
		"scheduled integration runs",
		logfields.Event("scheduler_started"),
		zap.String("schedule", a.config.Server.Schedule),
		zap.Bool("from_github", fromGithub),
	)

	goodbye.Register(func(context.Context, os.Signal) {
		logger.Debug("stopping scheduler", logfields.Event("scheduler_stopping"))
		<-c.Stop().Done()
	})
}
