package cfg

import (
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml"

	"github.com/simplesurance/nextmerge/internal/scheduler"
)

// Environment variables that override secrets from the config file.
const (
	EnvGithubAPIToken = "NEXTMERGE_GITHUB_API_TOKEN"
	EnvUploadToken    = "NEXTMERGE_UPLOAD_TOKEN"
)

const (
	DefOutputDir      = "."
	DefLogFile        = "nextmerge.log"
	DefLogFormat      = "logfmt"
	DefLogTimeKey     = "time_iso8601"
	DefLogLevel       = "info"
	DefLedgerStore    = LedgerStoreFile
	DefBaselineSource = "origin"
	DefBaselineRef    = "master"
	DefMetricsJob     = "nextmerge"
	DefHTTPListenAddr = ":8085"
)

const (
	LedgerStoreFile   = "file"
	LedgerStoreSQLite = "sqlite"
)

type Config struct {
	RepositoryDir     string `toml:"repository_dir"`
	BranchFile        string `toml:"branch_file"`
	OutputDir         string `toml:"output_dir"`
	TestCommand       string `toml:"test_command"`
	IntegrationBranch string `toml:"integration_branch"`
	LogFile           string `toml:"log_file"`
	Verbose           bool   `toml:"verbose"`
	LogFormat         string `toml:"log_format"`
	LogTimeKey        string `toml:"log_time_key"`
	LogLevel          string `toml:"log_level"`
	LedgerStore       string `toml:"ledger_store"`

	Github  Github  `toml:"github"`
	Upload  Upload  `toml:"upload"`
	Metrics Metrics `toml:"metrics"`
	Server  Server  `toml:"server"`
}

type Github struct {
	APIURL            string `toml:"api_url"`
	APIToken          string `toml:"api_token"`
	Owner             string `toml:"owner"`
	Repository        string `toml:"repository"`
	BaselineSource    string `toml:"baseline_source"`
	BaselineRef       string `toml:"baseline_ref"`
	PullRequestFilter string `toml:"pull_request_filter"`
	CommentResults    bool   `toml:"comment_results"`
}

type Upload struct {
	URL         string `toml:"url"`
	Token       string `toml:"token"`
	SkipOnQuota bool   `toml:"skip_on_quota"`
}

type Metrics struct {
	PushgatewayURL string `toml:"pushgateway_url"`
	Job            string `toml:"job"`
}

type Server struct {
	HTTPListenAddr string `toml:"http_listen_addr"`
	// Schedule is a cron expression, when set integration runs are
	// triggered periodically.
	Schedule string `toml:"schedule"`
}

// Load reads the configuration from reader, applies the defaults for unset
// values and the overrides from the environment.
func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	result.applyDefaults()
	result.applyEnv(os.LookupEnv)

	if err := result.Validate(); err != nil {
		return nil, err
	}

	return &result, nil
}

// Default returns a configuration with all default values, it is used when
// no configuration file exists.
func Default() *Config {
	var result Config

	result.applyDefaults()
	result.applyEnv(os.LookupEnv)

	return &result
}

func setDefault(val *string, def string) {
	if *val == "" {
		*val = def
	}
}

func (c *Config) applyDefaults() {
	setDefault(&c.OutputDir, DefOutputDir)
	setDefault(&c.IntegrationBranch, scheduler.DefIntegrationBranch)
	setDefault(&c.LogFile, DefLogFile)
	setDefault(&c.LogFormat, DefLogFormat)
	setDefault(&c.LogTimeKey, DefLogTimeKey)
	setDefault(&c.LogLevel, DefLogLevel)
	setDefault(&c.LedgerStore, DefLedgerStore)
	setDefault(&c.Github.BaselineSource, DefBaselineSource)
	setDefault(&c.Github.BaselineRef, DefBaselineRef)
	setDefault(&c.Metrics.Job, DefMetricsJob)
	setDefault(&c.Server.HTTPListenAddr, DefHTTPListenAddr)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, exists := lookup(EnvGithubAPIToken); exists && v != "" {
		c.Github.APIToken = v
	}

	if v, exists := lookup(EnvUploadToken); exists && v != "" {
		c.Upload.Token = v
	}
}

// Validate returns an error if the configuration contains invalid values.
func (c *Config) Validate() error {
	switch c.LedgerStore {
	case LedgerStoreFile, LedgerStoreSQLite:
	default:
		return fmt.Errorf("ledger_store: unsupported value %q, supported: %s, %s",
			c.LedgerStore, LedgerStoreFile, LedgerStoreSQLite)
	}

	switch c.LogFormat {
	case "logfmt", "console", "json":
	default:
		return fmt.Errorf("log_format: unsupported value %q, supported: logfmt, console, json", c.LogFormat)
	}

	if (c.Github.Owner == "") != (c.Github.Repository == "") {
		return fmt.Errorf("github: owner and repository must be set together")
	}

	return nil
}

func (c *Config) Marshal(writer io.Writer) error {
	return toml.NewEncoder(writer).Encode(c)
}
