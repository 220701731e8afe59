package githubclt

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shurcooL/githubv4"

	"github.com/simplesurance/nextmerge/internal/fetcher"
	"github.com/simplesurance/nextmerge/internal/logfields"
)

// PullRequestSummary contains the information about an open pull request
// that is shown when listing pull requests.
type PullRequestSummary struct {
	Number    int
	Source    string
	Ref       string
	Author    string
	CreatedAt time.Time
	Mergeable githubv4.MergeableState
}

// ListPullRequestSummaries returns summaries of all open pull requests
// ordered by their creation time, separated into the ones github considers
// mergeable without conflicts and all others.
// filter is optional.
func (clt *Client) ListPullRequestSummaries(ctx context.Context, owner, repo string, filter *PullRequestFilter) (mergeable, nonMergeable []*PullRequestSummary, err error) {
	prs, err := clt.ListPullRequests(ctx, owner, repo)
	if err != nil {
		return nil, nil, err
	}

	if filter != nil {
		prs, err = filter.Filter(ctx, prs)
		if err != nil {
			return nil, nil, err
		}
	}

	summaries := make([]*PullRequestSummary, 0, len(prs))
	authors := map[string]string{}

	for _, pr := range prs {
		logger := clt.logger.With(logfields.PullRequest(pr.GetNumber()))

		state, err := fetcher.Retry(ctx, clt.retryer,
			fmt.Sprintf("retrieving mergeable state of pull request #%d", pr.GetNumber()),
			func(ctx context.Context) (githubv4.MergeableState, error) {
				return clt.Mergeable(ctx, owner, repo, pr.GetNumber())
			},
			nil,
		)
		if err != nil {
			return nil, nil, err
		}

		login := pr.GetUser().GetLogin()
		author, exists := authors[login]
		if !exists && login != "" {
			author, err = fetcher.Retry(ctx, clt.retryer,
				"retrieving user information of "+login,
				func(ctx context.Context) (string, error) {
					return clt.Author(ctx, login)
				},
				nil,
			)
			if err != nil {
				return nil, nil, err
			}

			authors[login] = author
		}

		logger.Debug("retrieved pull request information", logfields.Event("github_pull_request_summarized"))

		summaries = append(summaries, &PullRequestSummary{
			Number:    pr.GetNumber(),
			Source:    pr.GetHead().GetRepo().GetCloneURL(),
			Ref:       pr.GetHead().GetRef(),
			Author:    author,
			CreatedAt: pr.GetCreatedAt().Time,
			Mergeable: state,
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})

	for _, s := range summaries {
		if s.Mergeable == githubv4.MergeableStateMergeable {
			mergeable = append(mergeable, s)
			continue
		}

		nonMergeable = append(nonMergeable, s)
	}

	return mergeable, nonMergeable, nil
}
