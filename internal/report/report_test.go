package report

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/nextmerge/internal/runrecord"
)

var (
	branchA = runrecord.Branch{Source: "A", Ref: "feat-a"}
	branchB = runrecord.Branch{Source: "B", Ref: "feat-b"}
	branchC = runrecord.Branch{Source: "C", Ref: "feat-c"}
)

const (
	unitTest = "sympy/core/tests/test_basic.py"
	docTest  = "doc/src/tutorial.rst"
	doctest  = "sympy/core/basic.py"
)

func scenarioRecord() *runrecord.RunRecord {
	return &runrecord.RunRecord{
		Timestamp: "20240101-1200",
		Attempts: []runrecord.MergeAttempt{
			{Branch: branchA, Round: 1, Outcome: runrecord.OutcomeClean},
			{Branch: branchB, Round: 2, Outcome: runrecord.OutcomeClean},
		},
		Runs: []runrecord.TestRun{
			{
				Round: 1,
				Results: []runrecord.TestResult{
					{Name: unitTest, Passed: true},
					{Name: docTest, Passed: false},
					{Name: doctest, Passed: true},
				},
				UnexpectedPasses: []string{"sympy/core/tests/test_args.py: test_sympy__x"},
				ExitCode:         1,
			},
			{
				Round: 2,
				Results: []runrecord.TestResult{
					{Name: unitTest, Passed: false},
					{Name: docTest, Passed: false},
					{Name: doctest, Passed: true},
				},
				ExitCode: 1,
			},
		},
	}
}

func secondRecord() *runrecord.RunRecord {
	return &runrecord.RunRecord{
		Timestamp: "20240102-1200",
		Attempts: []runrecord.MergeAttempt{
			{Branch: branchC, Round: 1, Outcome: runrecord.OutcomeFetchFailed},
			{Branch: branchA, Round: 1, Outcome: runrecord.OutcomeConflict},
		},
		Runs: []runrecord.TestRun{},
	}
}

func TestBucketOf(t *testing.T) {
	assert.Equal(t, BucketTests, BucketOf(unitTest))
	assert.Equal(t, BucketDocumentation, BucketOf(docTest))
	assert.Equal(t, BucketDoctests, BucketOf(doctest))
}

func TestMergeTable(t *testing.T) {
	p := BuildPivot(Ledger{*scenarioRecord(), *secondRecord()})

	tbl := p.MergeTable()
	assert.Equal(t, []string{"20240101-1200", "20240102-1200"}, tbl.Header)

	labels := map[string][]string{}
	for _, row := range tbl.Rows {
		for _, c := range row.Cells {
			labels[row.Label] = append(labels[row.Label], c.Text)
		}
	}

	assert.Equal(t, map[string][]string{
		"A feat-a": {"clean 1", "conflicts"},
		"B feat-b": {"clean 2", NotAvailable},
		"C feat-c": {NotAvailable, "fetch"},
	}, labels)

	require.Len(t, tbl.Rows, 3)
	assert.Equal(t, "A feat-a", tbl.Rows[0].Label)
	assert.Equal(t, "C feat-c", tbl.Rows[2].Label)
}

func TestSummaryTable(t *testing.T) {
	p := BuildPivot(Ledger{*scenarioRecord()})

	tbl := p.SummaryTable()
	assert.Equal(t, []string{"Tests", "Doctests", "Documentation"}, tbl.Header)
	require.Len(t, tbl.Rows, 2)

	assert.Equal(t, "20240101-1200-1", tbl.Rows[0].Label)
	assert.Equal(t, []Cell{
		{Text: "OK", State: CellStateOK},
		{Text: "OK", State: CellStateOK},
		{Text: "FAIL 1", State: CellStateFail},
	}, tbl.Rows[0].Cells)

	assert.Equal(t, "20240101-1200-2", tbl.Rows[1].Label)
	assert.Equal(t, "FAIL 1", tbl.Rows[1].Cells[0].Text)
}

func TestTestTablesPartitionTests(t *testing.T) {
	p := BuildPivot(Ledger{*scenarioRecord()})

	assert.Equal(t, []string{unitTest}, p.Tests[BucketTests])
	assert.Equal(t, []string{docTest}, p.Tests[BucketDocumentation])
	assert.Equal(t, []string{doctest}, p.Tests[BucketDoctests])

	tbl := p.TestTable(BucketTests)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, []Cell{
		{Text: "OK", State: CellStateOK},
		{Text: "FAIL", State: CellStateFail},
	}, tbl.Rows[0].Cells)

	xpassed := p.UnexpectedPassesTable()
	require.Len(t, xpassed.Rows, 1)
	assert.Equal(t, "20240101-1200-1", xpassed.Rows[0].Label)
}

func TestColumnsAreOrderedByTimestampAndRound(t *testing.T) {
	later := scenarioRecord()
	later.Timestamp = "20240105-0900"

	earlier := scenarioRecord()
	earlier.Timestamp = "20231230-2300"
	earlier.Runs[0], earlier.Runs[1] = earlier.Runs[1], earlier.Runs[0]

	p := BuildPivot(Ledger{*later, *earlier})

	assert.Equal(t, []Column{
		{Timestamp: "20231230-2300", Round: 1},
		{Timestamp: "20231230-2300", Round: 2},
		{Timestamp: "20240105-0900", Round: 1},
		{Timestamp: "20240105-0900", Round: 2},
	}, p.Columns)
	assert.Equal(t, []string{"20231230-2300", "20240105-0900"}, p.Timestamps)
}

func TestLastWriteWinsPerBranchAndTimestamp(t *testing.T) {
	first := secondRecord()
	second := secondRecord()
	second.Attempts = []runrecord.MergeAttempt{
		{Branch: branchA, Round: 3, Outcome: runrecord.OutcomeClean},
	}

	p := BuildPivot(Ledger{*first, *second})

	cell, ok := p.Merge(branchA, first.Timestamp)
	require.True(t, ok)
	assert.Equal(t, MergeCell{Outcome: runrecord.OutcomeClean, Round: 3}, cell)
	assert.Equal(t, "clean 3", MergeLabel(cell))
	assert.Len(t, p.Timestamps, 1)
}

func TestAppendAndRenderIsIdempotent(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	ctx := context.Background()
	store := NewFileStore(t.TempDir())

	_, err := AppendAndRender(ctx, store, secondRecord())
	require.NoError(t, err)

	appended, err := AppendAndRender(ctx, store, scenarioRecord())
	require.NoError(t, err)

	first, err := Render(ctx, store)
	require.NoError(t, err)
	second, err := Render(ctx, store)
	require.NoError(t, err)

	assert.Equal(t, first.HTML, second.HTML)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, appended.HTML, first.HTML)
	assert.Equal(t, appended.Text, first.Text)

	assert.Contains(t, first.Text, "Merge Report")
	assert.Contains(t, string(first.HTML), `<td class="ok">clean 1</td>`)
	assert.Contains(t, string(first.HTML), `<td class="fail">FAIL 1</td>`)

	l, err := LoadLedger(ctx, store)
	require.NoError(t, err)
	require.Len(t, l, 2)
	assert.Equal(t, "20240102-1200", l[0].Timestamp)
	assert.Equal(t, *scenarioRecord(), l[1])
}

func TestRenderEmptyLedger(t *testing.T) {
	r, err := Render(context.Background(), NewFileStore(t.TempDir()))
	require.NoError(t, err)
	assert.Contains(t, string(r.HTML), "no data")
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir)

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, []byte("first")))
	require.NoError(t, store.Save(ctx, []byte("second")))

	data, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files were not removed")
	assert.Equal(t, "ledger.json", entries[0].Name())
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.Load(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, []byte("first")))
	require.NoError(t, store.Save(ctx, []byte("second")))

	data, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestWriteHTML(t *testing.T) {
	dir := t.TempDir()

	r, err := RenderLedger(Ledger{*scenarioRecord()})
	require.NoError(t, err)

	path, err := WriteHTML(dir, r)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, HTMLFileName), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, r.HTML, content)
}

func TestSummarize(t *testing.T) {
	passed, summary := Summarize(scenarioRecord())
	assert.False(t, passed)
	assert.Equal(t, "round 1: FAIL 1, round 2: FAIL 2", summary)

	passed, _ = Summarize(secondRecord())
	assert.True(t, passed)
}

func TestHTTPService(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	store := NewFileStore(t.TempDir())
	require.NoError(t, SaveLedger(context.Background(), store, Ledger{*scenarioRecord()}))

	mux := http.NewServeMux()
	NewHTTPService(store).RegisterHandlers(mux, "/")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report.txt", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clean 2")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}
