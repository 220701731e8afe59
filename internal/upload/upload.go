// Package upload publishes rendered reports to a review server.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/nextmerge/internal/fetcher"
	"github.com/simplesurance/nextmerge/internal/logfields"
	"github.com/simplesurance/nextmerge/internal/nexterr"
)

const loggerName = "upload"

const DefaultHTTPClientTimeout = time.Minute

// ErrServerProblem is returned when the server accepted the request but did
// not return the URL of the uploaded report.
// It happens e.g. when the server is over its quota.
var ErrServerProblem = errors.New("server response does not contain a task_url")

// ErrOverQuota is returned when the server rejected the upload because it
// exceeded its quota.
var ErrOverQuota = errors.New("server is over quota")

// Result values of a Report.
const (
	ResultPassed = "Passed"
	ResultFailed = "Failed"
)

// Report is the payload that is uploaded.
type Report struct {
	Stamp      string `json:"stamp"`
	Result     string `json:"result"`
	Summary    string `json:"summary"`
	ReportHTML string `json:"report_html"`
}

// Result describes the outcome of an upload.
type Result struct {
	// TaskURL is the URL under that the report can be viewed.
	TaskURL string
	// Skipped is true when the server was over quota and the upload was
	// given up.
	Skipped bool
}

type response struct {
	OK      bool   `json:"ok"`
	TaskURL string `json:"task_url"`
	Error   string `json:"error"`
}

// Config is the configuration of an Uploader.
type Config struct {
	URL         string
	Token       string
	SkipOnQuota bool
}

// Uploader sends reports via HTTP POST requests to a review server.
// Failed uploads are retried with exponentially increasing delays.
type Uploader struct {
	cfg     Config
	clt     fetcher.HTTPDoer
	retryer *fetcher.Retryer
	logger  *zap.Logger
}

type Option func(*Uploader)

// WithHTTPClient sets the client that is used to send requests.
func WithHTTPClient(clt fetcher.HTTPDoer) Option {
	return func(u *Uploader) {
		u.clt = clt
	}
}

func New(cfg Config, retryer *fetcher.Retryer, opts ...Option) *Uploader {
	u := Uploader{
		cfg:     cfg,
		clt:     &http.Client{Timeout: DefaultHTTPClientTimeout},
		retryer: retryer,
		logger:  zap.L().Named(loggerName),
	}

	for _, opt := range opts {
		opt(&u)
	}

	return &u
}

func (u *Uploader) String() string {
	return fmt.Sprintf("upload: POST to %s", u.cfg.URL)
}

// DetailedString returns a description of the configuration with masked
// secrets.
func (u *Uploader) DetailedString() string {
	const maskedStr = "************"
	var result strings.Builder

	result.WriteString("upload:\n")
	result.WriteString(fmt.Sprintf("  url: %s\n", u.cfg.URL))
	if u.cfg.Token != "" {
		result.WriteString("  token: " + maskedStr + "\n")
	}
	result.WriteString(fmt.Sprintf("  skip_on_quota: %t\n", u.cfg.SkipOnQuota))

	return result.String()
}

// LogFields returns fields that should be used when logging messages related
// to uploads.
func (u *Uploader) LogFields() []zap.Field {
	return []zap.Field{
		logfields.URL(u.cfg.URL),
		zap.String("http_method", http.MethodPost),
	}
}

// Upload sends the report to the server.
// Connection errors, server errors and responses without a task URL are
// retried until the upload succeeded or ctx is cancelled.
// When SkipOnQuota is enabled and the server is over quota, the upload is
// given up and a Result with Skipped set is returned.
func (u *Uploader) Upload(ctx context.Context, report *Report) (*Result, error) {
	logger := u.logger.With(u.LogFields()...).With(logfields.Stamp(report.Stamp))

	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encoding report failed: %w", err)
	}

	result, err := fetcher.Retry(
		ctx, u.retryer, "uploading report to "+u.cfg.URL,
		func(ctx context.Context) (*Result, error) {
			return u.post(ctx, data)
		},
		u.onError,
	)
	if err != nil {
		return nil, err
	}

	if result.Skipped {
		logger.Warn(
			"server is over quota, report was not uploaded",
			logfields.Event("report_upload_skipped"),
		)

		return result, nil
	}

	logger.Info(
		"report uploaded",
		logfields.Event("report_uploaded"),
		zap.String("task_url", result.TaskURL),
	)

	return result, nil
}

func (u *Uploader) onError(err error) (*Result, bool) {
	if !u.cfg.SkipOnQuota {
		return nil, false
	}

	if errors.Is(err, ErrOverQuota) {
		return &Result{Skipped: true}, true
	}

	var statusErr *nexterr.HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.Status == http.StatusTooManyRequests {
		return &Result{Skipped: true}, true
	}

	return nil, false
}

func (u *Uploader) post(ctx context.Context, data []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if u.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+u.cfg.Token)
	}

	resp, err := u.clt.Do(req)
	if err != nil {
		return nil, nexterr.NewRetryableAnytimeError(err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nexterr.NewRetryableAnytimeError(fmt.Errorf("reading http response body failed: %w", err))
	}

	if err := fetcher.CheckResponse(u.cfg.URL, resp, body); err != nil {
		var statusErr *nexterr.HTTPStatusError
		if errors.As(err, &statusErr) {
			statusErr.Method = http.MethodPost
		}

		return nil, err
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, nexterr.NewRetryableAnytimeError(fmt.Errorf("decoding response %q failed: %w", string(body), err))
	}

	if r.TaskURL == "" {
		if strings.Contains(strings.ToLower(r.Error), "quota") {
			return nil, nexterr.NewRetryableAnytimeError(fmt.Errorf("%w: %s", ErrOverQuota, r.Error))
		}

		return nil, nexterr.NewRetryableAnytimeError(fmt.Errorf("%w, response: %q", ErrServerProblem, string(body)))
	}

	return &Result{TaskURL: r.TaskURL}, nil
}
