package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/nextmerge/internal/cfg"
	"github.com/simplesurance/nextmerge/internal/logfields"
)

const appName = "nextmerge"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

// fatal logs the error and terminates the process after running the
// registered exit hooks.
func fatal(msg string, err error) {
	logger.Error(msg, logfields.Event("fatal_error"), zap.Error(err))

	ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
	defer cancelFn()

	goodbye.Exit(ctx, 1)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught , terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

func startHTTPServer(listenAddr string, mux *http.ServeMux) {
	httpServer := http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	goodbye.Register(func(context.Context, os.Signal) {
		const shutdownTimeout = 30 * time.Second
		ctx, cancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelFn()

		logger.Debug(
			"terminating http server",
			logfields.Event("http_server_terminating"),
			zap.Duration("shutdown_timeout", shutdownTimeout),
		)

		err := httpServer.Shutdown(ctx)
		if err != nil {
			logger.Warn(
				"shutting down http server failed",
				logfields.Event("http_server_termination_failed"),
				zap.Error(err),
			)
		}
	})

	go func() {
		defer panicHandler()

		logger.Info(
			"http server started",
			logfields.Event("http_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("http server terminated", logfields.Event("http_server_terminated"))
			return
		}

		logger.Fatal(
			"http server terminated unexpectedly",
			logfields.Event("http_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()
}

type arguments struct {
	Verbose     *bool
	ConfigFile  *string
	ShowVersion *bool
	NoTest      *bool
	Stamp       *string
	LogFile     *string
	BranchFile  *string
	OutputDir   *string
	Command     *string
	RepoDir     *string
	FromGithub  *bool
	ListPulls   *bool
	Serve       *bool
}

var args arguments

const defConfigFile = "nextmerge.toml"

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging and mirror command output to the console",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			defConfigFile,
			"path to the nextmerge configuration file",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
		NoTest: pflag.BoolP(
			"no-test",
			"n",
			false,
			"do not merge and test, only render the report from the ledger",
		),
		Stamp: pflag.StringP(
			"stamp",
			"s",
			"",
			"timestamp that identifies the run in the report (default: current time)",
		),
		LogFile: pflag.StringP(
			"logfile",
			"l",
			"",
			"name of the transcript file in the output directory",
		),
		BranchFile: pflag.StringP(
			"branch-file",
			"b",
			"",
			"file with one 'source ref' pair per line, the first line is the baseline",
		),
		OutputDir: pflag.StringP(
			"outdir",
			"o",
			"",
			"directory for the ledger, the transcript and the html report",
		),
		Command: pflag.StringP(
			"command",
			"C",
			"",
			"test command that is run in the repository",
		),
		RepoDir: pflag.StringP(
			"repo",
			"r",
			"",
			"path of the git repository checkout that is used for merging",
		),
		FromGithub: pflag.Bool(
			"from-github",
			false,
			"merge the open pull requests of the configured github repository instead of the branch file",
		),
		ListPulls: pflag.Bool(
			"list-pulls",
			false,
			"list the open pull requests of the configured github repository and exit",
		),
		Serve: pflag.Bool(
			"serve",
			false,
			"serve the report via http and run scheduled integrations",
		),
	}

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nMerge contributor branches round by round into an integration branch, test them and report the results.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	var config *cfg.Config

	file, err := os.Open(*args.ConfigFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || pflag.CommandLine.Changed("cfg-file") {
			exitOnErr("could not open configuration file", err)
		}

		config = cfg.Default()
	} else {
		defer file.Close()

		config, err = cfg.Load(file)
		if err != nil {
			exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)
		}
	}

	applyFlagOverrides(config)

	return config
}

func applyFlagOverrides(config *cfg.Config) {
	overrides := []struct {
		flag string
		val  string
		dest *string
	}{
		{"logfile", *args.LogFile, &config.LogFile},
		{"branch-file", *args.BranchFile, &config.BranchFile},
		{"outdir", *args.OutputDir, &config.OutputDir},
		{"command", *args.Command, &config.TestCommand},
		{"repo", *args.RepoDir, &config.RepositoryDir},
	}

	for _, o := range overrides {
		if pflag.CommandLine.Changed(o.flag) {
			*o.dest = o.val
		}
	}

	if *args.Verbose {
		config.Verbose = true
	}
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stderr,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stderr"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if config.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s \n", config.LogLevel, err)
			os.Exit(2)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(2)
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)

	goodbye.Register(func(context.Context, os.Signal) {
		// stderr can not be synced on all platforms, errors are ignored
		_ = logger.Sync()
	})
}

func mustLoadDotEnv() {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		exitOnErr("could not load .env file", err)
	}
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

func main() {
	defer panicHandler()

	defer goodbye.Exit(context.Background(), 0)
	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0) // nolint:gocritic // defer functions won't run
	}

	mustLoadDotEnv()

	config := mustParseCfg()

	mustInitLogger(config)

	logger.Info(
		"loaded cfg",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("repository_dir", config.RepositoryDir),
		zap.String("output_dir", config.OutputDir),
		zap.String("test_command", config.TestCommand),
		zap.String("integration_branch", config.IntegrationBranch),
		zap.String("ledger_store", config.LedgerStore),
		zap.String("github_api_token", hide(config.Github.APIToken)),
		zap.String("upload_token", hide(config.Upload.Token)),
		zap.String("log_format", config.LogFormat),
		zap.String("log_level", config.LogLevel),
	)

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		if sig != nil {
			logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
		}
	})

	app, err := newApp(config)
	if err != nil {
		fatal("initialization failed", err)
	}

	ctx := context.Background()

	switch {
	case *args.ListPulls:
		err = app.listPullRequests(ctx, os.Stdout)

	case *args.Serve:
		app.serve()

	case *args.NoTest:
		err = app.renderOnly(ctx, os.Stdout)

	default:
		stamp := *args.Stamp
		if stamp == "" {
			stamp = newStamp()
		}

		err = app.runIntegration(ctx, stamp, *args.FromGithub, os.Stdout)
	}

	if err != nil {
		fatal("nextmerge failed", err)
	}
}
