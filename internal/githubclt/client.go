// Package githubclt provides a github API client.
package githubclt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/simplesurance/nextmerge/internal/fetcher"
	"github.com/simplesurance/nextmerge/internal/logfields"
	"github.com/simplesurance/nextmerge/internal/nexterr"
)

const DefaultHTTPClientTimeout = time.Minute

// DefaultAPIURL is the URL of the github.com REST API.
const DefaultAPIURL = "https://api.github.com/"

const loggerName = "github_client"

// New returns a new github api client.
// apiURL is the base URL of the REST API, the GraphQL endpoint is derived
// from it.
func New(apiURL, oauthAPItoken string, retryer *fetcher.Retryer) (*Client, error) {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}

	baseURL, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("parsing api url failed: %w", err)
	}

	httpClient := newHTTPClient(oauthAPItoken)

	restClt := github.NewClient(httpClient)
	restClt.BaseURL = baseURL

	return &Client{
		restClt:    restClt,
		graphQLClt: githubv4.NewEnterpriseClient(graphQLURL(baseURL), httpClient),
		httpClt:    httpClient,
		baseURL:    baseURL,
		retryer:    retryer,
		logger:     zap.L().Named(loggerName),
	}, nil
}

// graphQLURL returns the GraphQL endpoint for the REST API URL.
// For github.com it is https://api.github.com/graphql, for GitHub Enterprise
// servers the REST API is served at /api/v3/ and GraphQL at /api/graphql.
func graphQLURL(restURL *url.URL) string {
	u := *restURL
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/v3") + "/graphql"

	return u.String()
}

func newHTTPClient(apiToken string) *http.Client {
	if apiToken == "" {
		return &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: apiToken},
	)

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultHTTPClientTimeout

	return tc
}

// Client is an github API client.
// All methods return a nexterr.RetryableError when an operation can be retried.
// This can be e.g. the case when the API ratelimit is exceeded.
// Errors caused by rejected credentials wrap nexterr.ErrAuthenticationFailed.
type Client struct {
	restClt    *github.Client
	graphQLClt *githubv4.Client
	httpClt    *http.Client
	baseURL    *url.URL
	retryer    *fetcher.Retryer
	logger     *zap.Logger
}

// CheckAuthentication verifies that the API accepts the configured token and
// returns the login of the authenticated user.
func (clt *Client) CheckAuthentication(ctx context.Context) (string, error) {
	user, _, err := clt.restClt.Users.Get(ctx, "")
	if err != nil {
		return "", clt.wrapRetryableErrors(err)
	}

	return user.GetLogin(), nil
}

// Author returns the name and email address of a github user in the format
// "Name" <email>.
func (clt *Client) Author(ctx context.Context, login string) (string, error) {
	user, _, err := clt.restClt.Users.Get(ctx, login)
	if err != nil {
		return "", clt.wrapRetryableErrors(err)
	}

	name := user.GetName()
	if name == "" {
		name = "unknown"
	}

	return fmt.Sprintf("%q <%s>", name, user.GetEmail()), nil
}

// CreateIssueComment creates a comment in a issue or pull request
func (clt *Client) CreateIssueComment(ctx context.Context, owner, repo string, issueOrPRNr int, comment string) error {
	_, _, err := clt.restClt.Issues.CreateComment(ctx, owner, repo, issueOrPRNr, &github.IssueComment{Body: &comment})
	if err != nil {
		return clt.wrapRetryableErrors(err)
	}

	clt.logger.Debug(
		"comment created",
		logfields.Event("github_comment_created"),
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(issueOrPRNr),
	)

	return nil
}

// ListPullRequests returns all open pull requests of the repository.
// All pages are retrieved, failed requests are retried.
func (clt *Client) ListPullRequests(ctx context.Context, owner, repo string) ([]*github.PullRequest, error) {
	u := clt.baseURL.JoinPath("repos", owner, repo, "pulls")
	u.RawQuery = url.Values{"state": []string{"open"}}.Encode()

	hdr := http.Header{}
	hdr.Set("Accept", "application/vnd.github+json")

	prs, err := fetcher.FetchAll[*github.PullRequest](ctx, clt.retryer, clt.httpClt, u.String(), hdr)
	if err != nil {
		return nil, fmt.Errorf("listing pull requests of %s/%s failed: %w", owner, repo, err)
	}

	clt.logger.Debug(
		"retrieved open pull requests",
		logfields.Event("github_pull_requests_listed"),
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		zap.Int("pull_request_count", len(prs)),
	)

	return prs, nil
}

// Mergeable returns if github considers the pull request to be mergeable
// without conflicts.
func (clt *Client) Mergeable(ctx context.Context, owner, repo string, prNumber int) (githubv4.MergeableState, error) {
	var q struct {
		Repository struct {
			PullRequest struct {
				Mergeable githubv4.MergeableState
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	vars := map[string]any{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(repo),
		"number": githubv4.Int(prNumber),
	}

	if err := clt.graphQLClt.Query(ctx, &q, vars); err != nil {
		return "", clt.wrapGraphQLRetryableErrors(err)
	}

	return q.Repository.PullRequest.Mergeable, nil
}

func (clt *Client) wrapRetryableErrors(err error) error {
	switch v := err.(type) {
	case *github.RateLimitError:
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.Int("github_api_rate_limit", v.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", v.Rate.Reset.Time),
		)

		return nexterr.NewRetryableError(err, v.Rate.Reset.Time)

	case *github.AbuseRateLimitError:
		if v.RetryAfter != nil {
			return nexterr.NewRetryableError(err, time.Now().Add(*v.RetryAfter))
		}

		return nexterr.NewRetryableAnytimeError(err)

	case *github.ErrorResponse:
		if v.Response == nil {
			return err
		}

		if v.Response.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %w", nexterr.ErrAuthenticationFailed, err)
		}

		if v.Response.StatusCode >= 500 && v.Response.StatusCode < 600 {
			return nexterr.NewRetryableAnytimeError(err)
		}
	}

	return err
}

var graphQlHTTPStatusErrRe = regexp.MustCompile(`^non-200 OK status code: ([0-9]+) .*`)

func (clt *Client) wrapGraphQLRetryableErrors(err error) error {
	matches := graphQlHTTPStatusErrRe.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return err
	}

	errcode, atoiErr := strconv.Atoi(matches[1])
	if atoiErr != nil {
		clt.logger.Info(
			"parsing http code from error string failed",
			zap.Error(atoiErr),
			zap.String("error_string", err.Error()),
			zap.String("http_errcode", matches[1]),
		)
		return err
	}

	if errcode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %w", nexterr.ErrAuthenticationFailed, err)
	}

	if errcode >= 500 && errcode < 600 {
		return nexterr.NewRetryableAnytimeError(err)
	}

	return err
}

