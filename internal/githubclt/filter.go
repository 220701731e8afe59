package githubclt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/go-github/v59/github"
	"github.com/itchyny/gojq"
)

// PullRequestFilter selects pull requests by a jq query that is evaluated on
// the JSON representation of a pull request and must return a boolean.
type PullRequestFilter struct {
	query *gojq.Query
}

func NewPullRequestFilter(jqQuery string) (*PullRequestFilter, error) {
	query, err := gojq.Parse(jqQuery)
	if err != nil {
		return nil, fmt.Errorf("parsing jq query %q failed: %w", jqQuery, err)
	}

	return &PullRequestFilter{query: query}, nil
}

func goJQIterToSlice(iter gojq.Iter) ([]any, []error) {
	var result []any
	var errors []error

	for {
		res, ok := iter.Next()
		if !ok {
			return result, errors
		}

		if err, isErr := res.(error); isErr {
			errors = append(errors, err)
			continue
		}

		result = append(result, res)
	}
}

func errString(errs []error) string {
	var result strings.Builder

	for i, err := range errs {
		if i > 0 {
			result.WriteString("; ")
		}

		result.WriteString(fmt.Sprintf("error %d: %s", i, err))
	}

	return result.String()
}

// Match returns true if the query evaluates to true for pr.
func (f *PullRequestFilter) Match(ctx context.Context, pr *github.PullRequest) (bool, error) {
	buf, err := json.Marshal(pr)
	if err != nil {
		return false, fmt.Errorf("marshaling pull request failed: %w", err)
	}

	var prUn any
	if err := json.Unmarshal(buf, &prUn); err != nil {
		return false, fmt.Errorf("unmarshaling json failed: %w", err)
	}

	result, errs := goJQIterToSlice(f.query.RunWithContext(ctx, prUn))
	if len(errs) != 0 {
		return false, fmt.Errorf("json query returned errors, query: %q, errors: %s", f.query.String(), errString(errs))
	}

	if len(result) != 1 {
		return false, fmt.Errorf("json query returned %d results, expected 1, query: %q", len(result), f.query.String())
	}

	val, ok := result[0].(bool)
	if !ok {
		return false, fmt.Errorf(
			"json query returned non-bool result: %+v (%T), query: %q",
			result[0], result[0], f.query.String(),
		)
	}

	return val, nil
}

// Filter returns the pull requests for that the query evaluates to true.
func (f *PullRequestFilter) Filter(ctx context.Context, prs []*github.PullRequest) ([]*github.PullRequest, error) {
	result := make([]*github.PullRequest, 0, len(prs))

	for _, pr := range prs {
		match, err := f.Match(ctx, pr)
		if err != nil {
			return nil, fmt.Errorf("pull request #%d: %w", pr.GetNumber(), err)
		}

		if match {
			result = append(result, pr)
		}
	}

	return result, nil
}

// FilterPullRequests returns the pull requests for that jqQuery evaluates to
// true.
func FilterPullRequests(ctx context.Context, prs []*github.PullRequest, jqQuery string) ([]*github.PullRequest, error) {
	f, err := NewPullRequestFilter(jqQuery)
	if err != nil {
		return nil, err
	}

	return f.Filter(ctx, prs)
}
