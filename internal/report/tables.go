package report

import (
	"fmt"
	"strings"

	"github.com/simplesurance/nextmerge/internal/runrecord"
)

// NotAvailable is the label of cells without data.
const NotAvailable = "N/A"

// CellState is used by renderers to highlight cells.
type CellState string

const (
	CellStateOK      CellState = "ok"
	CellStateFail    CellState = "fail"
	CellStateWarn    CellState = "warn"
	CellStateMissing CellState = "missing"
)

type Cell struct {
	Text  string
	State CellState
}

type Row struct {
	Label string
	Cells []Cell
}

// Table is a rendered matrix.
type Table struct {
	Title  string
	Header []string
	Rows   []Row
}

// MergeLabel returns the text of a merge matrix cell.
func MergeLabel(cell MergeCell) string {
	switch cell.Outcome {
	case runrecord.OutcomeClean:
		return fmt.Sprintf("clean %d", cell.Round)
	case runrecord.OutcomeConflict:
		return "conflicts"
	case runrecord.OutcomeFetchFailed:
		return "fetch"
	default:
		return string(cell.Outcome)
	}
}

// SummaryLabel returns the text of a summary cell.
func SummaryLabel(failed int) string {
	if failed == 0 {
		return "OK"
	}

	return fmt.Sprintf("FAIL %d", failed)
}

func missingCell() Cell {
	return Cell{Text: NotAvailable, State: CellStateMissing}
}

func (p *Pivot) columnHeader() []string {
	result := make([]string, 0, len(p.Columns))
	for _, col := range p.Columns {
		result = append(result, col.String())
	}

	return result
}

// MergeTable returns the branch × timestamp matrix.
func (p *Pivot) MergeTable() Table {
	t := Table{
		Title:  "Merge Report",
		Header: append([]string(nil), p.Timestamps...),
	}

	for _, br := range p.Branches {
		row := Row{Label: br.String()}

		for _, ts := range p.Timestamps {
			cell, ok := p.Merge(br, ts)
			if !ok {
				row.Cells = append(row.Cells, missingCell())
				continue
			}

			state := CellStateOK
			switch cell.Outcome {
			case runrecord.OutcomeConflict:
				state = CellStateFail
			case runrecord.OutcomeFetchFailed:
				state = CellStateWarn
			}

			row.Cells = append(row.Cells, Cell{Text: MergeLabel(cell), State: state})
		}

		t.Rows = append(t.Rows, row)
	}

	return t
}

// SummaryTable returns a row per test run with the number of failed tests per
// bucket.
func (p *Pivot) SummaryTable() Table {
	t := Table{Title: "Test Report Summary"}

	for _, b := range Buckets {
		t.Header = append(t.Header, string(b))
	}

	for _, col := range p.Columns {
		row := Row{Label: col.String()}

		for _, b := range Buckets {
			failed := p.FailedCount(b, col)

			state := CellStateOK
			if failed > 0 {
				state = CellStateFail
			}

			row.Cells = append(row.Cells, Cell{Text: SummaryLabel(failed), State: state})
		}

		t.Rows = append(t.Rows, row)
	}

	return t
}

// TestTable returns the test × test run matrix of a bucket.
func (p *Pivot) TestTable(bucket Bucket) Table {
	t := Table{
		Title:  string(bucket) + " Report",
		Header: p.columnHeader(),
	}

	for _, name := range p.Tests[bucket] {
		row := Row{Label: name}

		for _, col := range p.Columns {
			passed, ok := p.Test(name, col)
			switch {
			case !ok:
				row.Cells = append(row.Cells, missingCell())
			case passed:
				row.Cells = append(row.Cells, Cell{Text: "OK", State: CellStateOK})
			default:
				row.Cells = append(row.Cells, Cell{Text: "FAIL", State: CellStateFail})
			}
		}

		t.Rows = append(t.Rows, row)
	}

	return t
}

// UnexpectedPassesTable returns a row per test run that had tests which
// passed although they were expected to fail.
func (p *Pivot) UnexpectedPassesTable() Table {
	t := Table{
		Title:  "Unexpected Passes",
		Header: []string{"xpassed"},
	}

	for _, col := range p.Columns {
		xpassed := p.UnexpectedPasses(col)
		if len(xpassed) == 0 {
			continue
		}

		t.Rows = append(t.Rows, Row{
			Label: col.String(),
			Cells: []Cell{{Text: strings.Join(xpassed, "\n"), State: CellStateWarn}},
		})
	}

	return t
}

// Tables returns all tables of the report in display order.
func (p *Pivot) Tables() []Table {
	result := []Table{p.MergeTable(), p.SummaryTable()}

	for _, b := range Buckets {
		result = append(result, p.TestTable(b))
	}

	if xpassed := p.UnexpectedPassesTable(); len(xpassed.Rows) > 0 {
		result = append(result, xpassed)
	}

	return result
}
