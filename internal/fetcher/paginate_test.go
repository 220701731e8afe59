package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/nextmerge/internal/nexterr"
)

func TestFetchAllFollowsNextLinks(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, strconv.Itoa(PageSize), r.URL.Query().Get("per_page"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		switch r.URL.Query().Get("page") {
		case "":
			w.Header().Set("Link", fmt.Sprintf(`<%s/items?page=2&per_page=100>; rel="next", <%s/items?page=3&per_page=100>; rel="last"`, srv.URL, srv.URL))
			_, _ = w.Write([]byte(`[1, 2]`))
		case "2":
			w.Header().Set("Link", fmt.Sprintf(`<%s/items?page=3&per_page=100>; rel="next"`, srv.URL))
			_, _ = w.Write([]byte(`[3]`))
		case "3":
			_, _ = w.Write([]byte(`[4]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer secret")

	items, err := FetchAll[int](context.Background(), NewRetryer(), srv.Client(), srv.URL+"/items", hdr)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, items)
}

func TestFetchAllRejectsPageSizeParameter(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	_, err := FetchAll[int](context.Background(), NewRetryer(), http.DefaultClient, "https://example.com/items?per_page=10", nil)
	assert.Error(t, err)
}

func TestFetchAllRetriesServerErrors(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`["a"]`))
	}))
	t.Cleanup(srv.Close)

	var rec sleepRecorder
	items, err := FetchAll[string](context.Background(), NewRetryer(WithSleepFunc(rec.sleep)), srv.Client(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, items)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestFetchAllFailsOnUnauthorized(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	var rec sleepRecorder
	_, err := FetchAll[string](context.Background(), NewRetryer(WithSleepFunc(rec.sleep)), srv.Client(), srv.URL, nil)
	require.ErrorIs(t, err, nexterr.ErrAuthenticationFailed)

	var statusErr *nexterr.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Status)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestCheckResponseRateLimited(t *testing.T) {
	reset := time.Now().Add(time.Minute).Truncate(time.Second)

	resp := http.Response{
		StatusCode: http.StatusForbidden,
		Header:     http.Header{},
	}
	resp.Header.Set("X-RateLimit-Remaining", "0")
	resp.Header.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

	err := CheckResponse("https://api.github.com/repos/o/r/pulls", &resp, nil)

	var retryErr *nexterr.RetryableError
	require.ErrorAs(t, err, &retryErr)
	assert.True(t, retryErr.After.Equal(reset))
}

func TestCheckResponseNotFoundIsFatal(t *testing.T) {
	resp := http.Response{StatusCode: http.StatusNotFound, Header: http.Header{}}

	err := CheckResponse("https://api.github.com/repos/o/r/pulls", &resp, []byte("not found"))
	assert.False(t, nexterr.IsRetryable(err))

	var statusErr *nexterr.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "https://api.github.com/repos/o/r/pulls", statusErr.URL)
}
