package sheets

import (
	"context"

	"kitty/internal/core"
)

// Ports for outbound adapters.
type (
	// LedgerWriter appends one audit row to the export target.
	LedgerWriter interface {
		Append(ctx context.Context, t core.Transaction) (rowRef string, err error)
	}
)
