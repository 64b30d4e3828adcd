package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/afladry360/telemetry/internal/errors"
	"github.com/afladry360/telemetry/internal/model"
)

// MemoryLedger is an in-process Ledger for local runs and tests. Like the
// real archive it is write-once: appending an id twice for a device fails.
type MemoryLedger struct {
	mu      sync.Mutex
	chunks  map[string][]model.ArchivedChunk
	appends int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{chunks: map[string][]model.ArchivedChunk{}}
}

func (l *MemoryLedger) FetchArchived(_ context.Context, deviceID string) ([]model.ArchivedChunk, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.ArchivedChunk(nil), l.chunks[deviceID]...), nil
}

func (l *MemoryLedger) AppendBatch(_ context.Context, deviceID string, chunks []model.ArchivedChunk) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	have := make(map[int64]struct{}, len(l.chunks[deviceID]))
	for _, c := range l.chunks[deviceID] {
		have[c.ID] = struct{}{}
	}
	for _, c := range chunks {
		if _, dup := have[c.ID]; dup {
			return errors.NewValidationError(fmt.Sprintf("chunk %d already archived for %s", c.ID, deviceID), nil)
		}
		have[c.ID] = struct{}{}
	}
	l.chunks[deviceID] = append(l.chunks[deviceID], chunks...)
	l.appends++
	return nil
}

// Appends returns how many batches were accepted.
func (l *MemoryLedger) Appends() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appends
}

// Devices returns the number of devices with archived chunks.
func (l *MemoryLedger) Devices() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.chunks)
}
