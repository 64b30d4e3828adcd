// Package ledger talks to the external append-only archive that keeps a
// tamper-evident copy of every reading, keyed by device and record id.
package ledger

import (
	"context"

	"github.com/afladry360/telemetry/internal/model"
)

// Ledger is the archive collaborator used by reconciliation.
type Ledger interface {
	// FetchArchived returns every chunk already archived for deviceID.
	FetchArchived(ctx context.Context, deviceID string) ([]model.ArchivedChunk, error)
	// AppendBatch archives chunks for deviceID in one call.
	AppendBatch(ctx context.Context, deviceID string, chunks []model.ArchivedChunk) error
}
