// Package report maintains the ledger of all invocations and renders it as
// merge and test matrices.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/simplesurance/nextmerge/internal/logfields"
	"github.com/simplesurance/nextmerge/internal/runrecord"
)

const loggerName = "report"

// Ledger is the ordered sequence of all RunRecords.
type Ledger []runrecord.RunRecord

// LoadLedger loads the ledger from store.
// If the store does not contain a ledger, an empty ledger is returned.
func LoadLedger(ctx context.Context, store Store) (Ledger, error) {
	data, err := store.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Ledger{}, nil
		}

		return nil, fmt.Errorf("loading ledger failed: %w", err)
	}

	var result Ledger
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding ledger failed: %w", err)
	}

	return result, nil
}

// SaveLedger replaces the ledger in store with l.
func SaveLedger(ctx context.Context, store Store, l Ledger) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger failed: %w", err)
	}

	if err := store.Save(ctx, data); err != nil {
		return fmt.Errorf("saving ledger failed: %w", err)
	}

	return nil
}

// Rendered is the report derived from a ledger.
type Rendered struct {
	Pivot *Pivot
	HTML  []byte
	Text  string
}

// RenderLedger derives the pivot tables from l and renders them.
// The result only depends on l.
func RenderLedger(l Ledger) (*Rendered, error) {
	p := BuildPivot(l)

	var html bytes.Buffer
	if err := RenderHTML(&html, p); err != nil {
		return nil, fmt.Errorf("rendering html report failed: %w", err)
	}

	var text strings.Builder
	if err := RenderText(&text, p); err != nil {
		return nil, fmt.Errorf("rendering text report failed: %w", err)
	}

	return &Rendered{
		Pivot: p,
		HTML:  html.Bytes(),
		Text:  text.String(),
	}, nil
}

// Render loads the ledger from store and renders it.
func Render(ctx context.Context, store Store) (*Rendered, error) {
	l, err := LoadLedger(ctx, store)
	if err != nil {
		return nil, err
	}

	return RenderLedger(l)
}

// AppendAndRender appends rec to the ledger in store and renders the
// resulting ledger.
func AppendAndRender(ctx context.Context, store Store, rec *runrecord.RunRecord) (*Rendered, error) {
	logger := zap.L().Named(loggerName)

	l, err := LoadLedger(ctx, store)
	if err != nil {
		return nil, err
	}

	l = append(l, *rec)

	if err := SaveLedger(ctx, store, l); err != nil {
		return nil, err
	}

	logger.Info(
		"run record appended to ledger",
		logfields.Event("ledger_appended"),
		logfields.Stamp(rec.Timestamp),
		zap.Int("ledger_records", len(l)),
	)

	return RenderLedger(l)
}

// WriteHTML writes the HTML report to the file report.html in dir and returns
// its path.
func WriteHTML(dir string, r *Rendered) (string, error) {
	path := filepath.Join(dir, HTMLFileName)

	if err := writeFileAtomic(path, r.HTML); err != nil {
		return "", fmt.Errorf("writing %s failed: %w", path, err)
	}

	return path, nil
}

// Summarize returns if all test runs of rec passed and a one-line summary of
// the failed tests per test run.
func Summarize(rec *runrecord.RunRecord) (passed bool, summary string) {
	if len(rec.Runs) == 0 {
		return true, "no branch could be merged, tests were not run"
	}

	passed = true
	parts := make([]string, 0, len(rec.Runs))

	for i := range rec.Runs {
		run := &rec.Runs[i]
		if !run.Passed() {
			passed = false
		}

		parts = append(parts, fmt.Sprintf("round %d: %s", run.Round, SummaryLabel(run.FailedCount())))
	}

	return passed, strings.Join(parts, ", ")
}
