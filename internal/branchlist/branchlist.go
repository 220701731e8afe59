// Package branchlist reads the list of branches that are integrated.
// The first branch of a list is the baseline.
package branchlist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/google/go-github/v59/github"

	"github.com/simplesurance/nextmerge/internal/runrecord"
)

var ErrEmpty = errors.New("branch list is empty")

// Parse reads a branch list in the format:
//
//	<source> <ref>
//
// with one branch per line. Empty lines and lines starting with # are
// ignored.
func Parse(r io.Reader) ([]runrecord.Branch, error) {
	var result []runrecord.Branch
	var lineNr int

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNr++

		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected 2 fields (source, ref), got %d: %q", lineNr, len(fields), line)
		}

		result = append(result, runrecord.Branch{Source: fields[0], Ref: fields[1]})
	}

	if err := sc.Err(); err != nil {
		return nil, err
	}

	if len(result) == 0 {
		return nil, ErrEmpty
	}

	return result, nil
}

func ReadFile(path string) ([]runrecord.Branch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	result, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return result, nil
}

// FromPullRequests returns a branch list consisting of baseline followed by
// the head branches of prs, ordered by their creation time, oldest first.
// Pull requests whose head repository was deleted are skipped.
func FromPullRequests(baseline runrecord.Branch, prs []*github.PullRequest) []runrecord.Branch {
	sorted := make([]*github.PullRequest, 0, len(prs))
	for _, pr := range prs {
		if pr.GetHead().GetRepo() == nil || pr.GetHead().GetRef() == "" {
			continue
		}

		sorted = append(sorted, pr)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := sorted[i].GetCreatedAt(), sorted[j].GetCreatedAt()
		if !ti.Equal(tj) {
			return ti.Before(tj.Time)
		}

		return sorted[i].GetNumber() < sorted[j].GetNumber()
	})

	result := make([]runrecord.Branch, 0, len(sorted)+1)
	result = append(result, baseline)

	for _, pr := range sorted {
		result = append(result, runrecord.Branch{
			Source: pr.GetHead().GetRepo().GetCloneURL(),
			Ref:    pr.GetHead().GetRef(),
		})
	}

	return result
}
