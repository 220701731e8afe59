package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/simplesurance/nextmerge/internal/nexterr"
)

// PageSize is the number of items requested per page.
const PageSize = 100

const pageSizeParam = "per_page"

// HTTPDoer sends HTTP requests, *http.Client implements it.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

type page[T any] struct {
	items []T
	next  string
}

// FetchAll retrieves all pages of a paginated JSON list endpoint.
// Every page is requested via Retry, the continuation link is read from the
// Link header (rel="next"). The items of all pages are returned in the order
// they were received.
// rawURL must not contain a per_page query parameter, it is set by FetchAll.
func FetchAll[T any](ctx context.Context, r *Retryer, clt HTTPDoer, rawURL string, hdr http.Header) ([]T, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url failed: %w", err)
	}

	q := u.Query()
	if q.Has(pageSizeParam) {
		return nil, fmt.Errorf("url %q already contains a %s parameter", rawURL, pageSizeParam)
	}

	q.Set(pageSizeParam, strconv.Itoa(PageSize))
	u.RawQuery = q.Encode()

	var result []T

	for next := u.String(); next != ""; {
		pageURL := next

		p, err := Retry(ctx, r, "fetching "+pageURL,
			func(ctx context.Context) (*page[T], error) {
				return fetchPage[T](ctx, clt, pageURL, hdr)
			},
			nil,
		)
		if err != nil {
			return nil, err
		}

		result = append(result, p.items...)
		next = p.next
	}

	return result, nil
}

func fetchPage[T any](ctx context.Context, clt HTTPDoer, pageURL string, hdr http.Header) (*page[T], error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request failed: %w", err)
	}

	for k, vals := range hdr {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := clt.Do(req)
	if err != nil {
		return nil, nexterr.NewRetryableAnytimeError(fmt.Errorf("GET %s failed: %w", pageURL, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nexterr.NewRetryableAnytimeError(fmt.Errorf("reading response body of GET %s failed: %w", pageURL, err))
	}

	if err := CheckResponse(pageURL, resp, body); err != nil {
		return nil, err
	}

	var items []T
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decoding response of GET %s failed: %w", pageURL, err)
	}

	links, err := ParseLinkHeader(resp.Header.Get("Link"))
	if err != nil {
		return nil, fmt.Errorf("parsing link header of GET %s response failed: %w", pageURL, err)
	}

	return &page[T]{items: items, next: links["next"]}, nil
}

// CheckResponse returns nil when resp has a 2xx status code.
// Otherwise it returns:
//   - an error wrapping nexterr.ErrAuthenticationFailed for 401,
//   - a nexterr.RetryableError with After set to the rate limit reset time
//     for 403 responses with an exhausted rate limit,
//   - a nexterr.RetryableError for 429 and 5xx responses,
//   - a *nexterr.HTTPStatusError for all other status codes.
func CheckResponse(reqURL string, resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	statusErr := &nexterr.HTTPStatusError{
		URL:    reqURL,
		Status: resp.StatusCode,
		Body:   body,
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nexterr.NewAuthenticationError(reqURL, resp.StatusCode, body)

	case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
		if err != nil {
			return nexterr.NewRetryableAnytimeError(errors.Join(statusErr, fmt.Errorf("parsing X-RateLimit-Reset header failed: %w", err)))
		}

		return nexterr.NewRetryableError(statusErr, time.Unix(reset, 0))

	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nexterr.NewRetryableAnytimeError(statusErr)

	default:
		return statusErr
	}
}
