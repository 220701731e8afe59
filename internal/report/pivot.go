package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/simplesurance/nextmerge/internal/runrecord"
)

// Bucket is a group of tests that is shown in its own table.
type Bucket string

const (
	BucketTests         Bucket = "Tests"
	BucketDoctests      Bucket = "Doctests"
	BucketDocumentation Bucket = "Documentation"
)

// Buckets contains all buckets in display order.
var Buckets = []Bucket{BucketTests, BucketDoctests, BucketDocumentation}

// BucketOf returns the bucket of a test by its name.
func BucketOf(testName string) Bucket {
	switch {
	case strings.Contains(testName, "tests/"):
		return BucketTests
	case strings.Contains(testName, "doc/"):
		return BucketDocumentation
	default:
		return BucketDoctests
	}
}

// Column identifies a test run by the timestamp of the invocation and the
// round.
type Column struct {
	Timestamp string
	Round     int
}

func (c Column) String() string {
	return fmt.Sprintf("%s-%d", c.Timestamp, c.Round)
}

func (c Column) less(o Column) bool {
	if c.Timestamp != o.Timestamp {
		return c.Timestamp < o.Timestamp
	}

	return c.Round < o.Round
}

// MergeCell is the terminal merge outcome of a branch in an invocation.
type MergeCell struct {
	Outcome runrecord.Outcome
	Round   int
}

// Pivot contains the merge and test matrices derived from a ledger.
type Pivot struct {
	// Timestamps are the sorted, distinct timestamps of all records.
	Timestamps []string
	// Columns are the sorted, distinct (timestamp, round) pairs of all test
	// runs.
	Columns []Column
	// Branches are all merged branches, sorted by source and ref.
	Branches []runrecord.Branch
	// Tests contains the sorted names of all tests per bucket.
	Tests map[Bucket][]string

	merges           map[runrecord.Branch]map[string]MergeCell
	tests            map[string]map[Column]bool
	unexpectedPasses map[Column][]string
}

// BuildPivot derives the pivot tables from ledger.
// When a branch has multiple terminal attempts for the same timestamp the
// last one wins, the same applies to test results of a column.
func BuildPivot(ledger Ledger) *Pivot {
	p := Pivot{
		Tests:            map[Bucket][]string{},
		merges:           map[runrecord.Branch]map[string]MergeCell{},
		tests:            map[string]map[Column]bool{},
		unexpectedPasses: map[Column][]string{},
	}

	timestamps := map[string]struct{}{}
	columns := map[Column]struct{}{}

	for _, rec := range ledger {
		timestamps[rec.Timestamp] = struct{}{}

		for _, attempt := range rec.Attempts {
			if !attempt.Outcome.IsTerminal() {
				continue
			}

			cells, exists := p.merges[attempt.Branch]
			if !exists {
				cells = map[string]MergeCell{}
				p.merges[attempt.Branch] = cells
			}

			cells[rec.Timestamp] = MergeCell{Outcome: attempt.Outcome, Round: attempt.Round}
		}

		for _, run := range rec.Runs {
			col := Column{Timestamp: rec.Timestamp, Round: run.Round}
			columns[col] = struct{}{}

			for _, res := range run.Results {
				cells, exists := p.tests[res.Name]
				if !exists {
					cells = map[Column]bool{}
					p.tests[res.Name] = cells
				}

				cells[col] = res.Passed
			}

			if len(run.UnexpectedPasses) > 0 {
				p.unexpectedPasses[col] = run.UnexpectedPasses
			}
		}
	}

	for ts := range timestamps {
		p.Timestamps = append(p.Timestamps, ts)
	}
	sort.Strings(p.Timestamps)

	for col := range columns {
		p.Columns = append(p.Columns, col)
	}
	sort.Slice(p.Columns, func(i, j int) bool {
		return p.Columns[i].less(p.Columns[j])
	})

	for br := range p.merges {
		p.Branches = append(p.Branches, br)
	}
	sort.Slice(p.Branches, func(i, j int) bool {
		if p.Branches[i].Source != p.Branches[j].Source {
			return p.Branches[i].Source < p.Branches[j].Source
		}

		return p.Branches[i].Ref < p.Branches[j].Ref
	})

	for name := range p.tests {
		b := BucketOf(name)
		p.Tests[b] = append(p.Tests[b], name)
	}
	for _, names := range p.Tests {
		sort.Strings(names)
	}

	return &p
}

// Merge returns the merge outcome of branch in the invocation with the
// timestamp. ok is false if the branch was not part of it.
func (p *Pivot) Merge(branch runrecord.Branch, timestamp string) (cell MergeCell, ok bool) {
	cell, ok = p.merges[branch][timestamp]
	return cell, ok
}

// Test returns if the test passed in the test run col.
// ok is false if the test was not run.
func (p *Pivot) Test(name string, col Column) (passed, ok bool) {
	passed, ok = p.tests[name][col]
	return passed, ok
}

// FailedCount returns the number of failed tests of bucket in col.
func (p *Pivot) FailedCount(bucket Bucket, col Column) int {
	var cnt int

	for _, name := range p.Tests[bucket] {
		if passed, ok := p.Test(name, col); ok && !passed {
			cnt++
		}
	}

	return cnt
}

// UnexpectedPasses returns the tests that passed in col although they were
// expected to fail.
func (p *Pivot) UnexpectedPasses(col Column) []string {
	return p.unexpectedPasses[col]
}
