package githubclt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/shurcooL/githubv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/nextmerge/internal/fetcher"
	"github.com/simplesurance/nextmerge/internal/nexterr"
)

func noSleepRetryer() *fetcher.Retryer {
	return fetcher.NewRetryer(fetcher.WithSleepFunc(func(context.Context, time.Duration) error { return nil }))
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	clt, err := New(srv.URL, "secret", noSleepRetryer())
	require.NoError(t, err)

	return clt
}

const pullsJSON = `[
  {"number": 7, "created_at": "2024-01-03T10:00:00Z", "user": {"login": "bob"},
   "head": {"ref": "feat-b", "repo": {"clone_url": "https://example.com/bob/r.git"}}},
  {"number": 3, "created_at": "2024-01-01T10:00:00Z", "user": {"login": "alice"},
   "head": {"ref": "feat-a", "repo": {"clone_url": "https://example.com/alice/r.git"}}},
  {"number": 9, "created_at": "2024-01-02T10:00:00Z", "user": {"login": "dependabot"},
   "head": {"ref": "bump", "repo": {"clone_url": "https://example.com/o/r.git"}}}
]`

type fakeGitHub struct {
	t          *testing.T
	mergeable  map[int]string
	graphQLHit int
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "Bearer secret", r.Header.Get("Authorization"))

	switch {
	case r.URL.Path == "/repos/o/r/pulls":
		assert.Equal(f.t, "open", r.URL.Query().Get("state"))
		_, _ = w.Write([]byte(pullsJSON))

	case strings.HasPrefix(r.URL.Path, "/users/"):
		login := strings.TrimPrefix(r.URL.Path, "/users/")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"login": login,
			"name":  strings.ToUpper(login[:1]) + login[1:],
			"email": login + "@example.com",
		})

	case r.URL.Path == "/graphql":
		f.graphQLHit++

		body, err := io.ReadAll(r.Body)
		require.NoError(f.t, err)

		var req struct {
			Variables struct {
				Number int `json:"number"`
			} `json:"variables"`
		}
		require.NoError(f.t, json.Unmarshal(body, &req))

		state, exists := f.mergeable[req.Variables.Number]
		if !exists {
			state = "UNKNOWN"
		}

		_, _ = w.Write([]byte(`{"data":{"repository":{"pullRequest":{"mergeable":"` + state + `"}}}}`))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestWrapRetryableErrorsGraphql(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	// is the same then in vendor/github.com/shurcooL/graphql/graphql.go do()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(503)
	}))

	t.Cleanup(srv.Close)

	clt := Client{
		logger:     zap.L(),
		graphQLClt: githubv4.NewEnterpriseClient(srv.URL, srv.Client()),
	}

	s, err := clt.Mergeable(context.Background(), "test", "test", 123)
	require.Error(t, err)
	assert.Empty(t, s)

	var retryableErr *nexterr.RetryableError
	assert.ErrorAs(t, err, &retryableErr)
}

func TestWrapRetryableErrorsGraphqlWithNonStatusErr(t *testing.T) {
	err := errors.New("error")
	wrappedErr := (&Client{}).wrapGraphQLRetryableErrors(err)
	assert.Equal(t, err, wrappedErr)
}

func TestUnauthorizedIsAuthenticationError(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	calls := 0
	clt := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message": "Bad credentials"}`))
	}))

	_, err := clt.CheckAuthentication(context.Background())
	require.ErrorIs(t, err, nexterr.ErrAuthenticationFailed)
	assert.False(t, nexterr.IsRetryable(err))

	_, err = clt.ListPullRequests(context.Background(), "o", "r")
	require.ErrorIs(t, err, nexterr.ErrAuthenticationFailed)

	_, err = clt.Mergeable(context.Background(), "o", "r", 1)
	require.ErrorIs(t, err, nexterr.ErrAuthenticationFailed)

	assert.Equal(t, 3, calls)
}

func TestGraphQLURL(t *testing.T) {
	clt, err := New("", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://api.github.com/", clt.baseURL.String())

	for rest, graphql := range map[string]string{
		"https://api.github.com/":          "https://api.github.com/graphql",
		"https://ghe.example.com/api/v3":   "https://ghe.example.com/api/graphql",
		"https://ghe.example.com/api/v3/":  "https://ghe.example.com/api/graphql",
		"http://127.0.0.1:8080/":           "http://127.0.0.1:8080/graphql",
		"http://127.0.0.1:8080/prefix/v3/": "http://127.0.0.1:8080/prefix/graphql",
	} {
		clt, err := New(rest, "", nil)
		require.NoError(t, err)
		assert.Equal(t, graphql, graphQLURL(clt.baseURL), rest)
	}
}

func TestAuthor(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	clt := newTestClient(t, &fakeGitHub{t: t})

	author, err := clt.Author(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, `"Alice" <alice@example.com>`, author)
}

func TestListPullRequests(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	clt := newTestClient(t, &fakeGitHub{t: t})

	prs, err := clt.ListPullRequests(context.Background(), "o", "r")
	require.NoError(t, err)
	require.Len(t, prs, 3)
	assert.Equal(t, 7, prs[0].GetNumber())
	assert.Equal(t, "feat-b", prs[0].GetHead().GetRef())
}

func TestListPullRequestSummaries(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	gh := &fakeGitHub{
		t: t,
		mergeable: map[int]string{
			3: "MERGEABLE",
			7: "CONFLICTING",
			9: "MERGEABLE",
		},
	}
	clt := newTestClient(t, gh)

	filter, err := NewPullRequestFilter(`.user.login != "dependabot"`)
	require.NoError(t, err)

	mergeable, nonMergeable, err := clt.ListPullRequestSummaries(context.Background(), "o", "r", filter)
	require.NoError(t, err)

	require.Len(t, mergeable, 1)
	assert.Equal(t, &PullRequestSummary{
		Number:    3,
		Source:    "https://example.com/alice/r.git",
		Ref:       "feat-a",
		Author:    `"Alice" <alice@example.com>`,
		CreatedAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		Mergeable: githubv4.MergeableStateMergeable,
	}, mergeable[0])

	require.Len(t, nonMergeable, 1)
	assert.Equal(t, 7, nonMergeable[0].Number)
	assert.Equal(t, githubv4.MergeableStateConflicting, nonMergeable[0].Mergeable)

	assert.Equal(t, 2, gh.graphQLHit)
}

func TestFilterRequiresBoolResult(t *testing.T) {
	pr := &github.PullRequest{Number: github.Int(1), Title: github.String("fix")}

	f, err := NewPullRequestFilter(`.title`)
	require.NoError(t, err)

	_, err = f.Match(context.Background(), pr)
	require.Error(t, err)

	f, err = NewPullRequestFilter(`.title == "fix"`)
	require.NoError(t, err)

	match, err := f.Match(context.Background(), pr)
	require.NoError(t, err)
	assert.True(t, match)

	_, err = NewPullRequestFilter(`.title ==`)
	require.Error(t, err)
}
