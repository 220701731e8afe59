package report

import (
	"context"
	"errors"
)

// LedgerName is the fixed key the ledger is stored under.
const LedgerName = "ledger"

// ErrNotFound is returned by Store.Load when no ledger has been saved yet.
var ErrNotFound = errors.New("ledger not found")

// Store persists the encoded ledger as a single blob.
// Load returns the complete ledger, Save replaces it completely.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}
