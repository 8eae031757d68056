// Package storage defines the archive repository consumed by the request
// tracker. Terminal request records are copied here so history survives
// the tracker's 24h on-disk garbage collection.
package storage

import (
	"context"

	"github.com/robinmin/ccbridge/internal/core/domain"
)

// ArchiveRepository stores terminal request records for history queries.
type ArchiveRepository interface {
	// SaveTerminal upserts a terminal-state record.
	SaveTerminal(ctx context.Context, rec *domain.RequestRecord) error

	// History returns archived records for a workspace, newest first.
	// limit <= 0 means unlimited.
	History(ctx context.Context, workspace string, limit int) ([]*domain.RequestRecord, error)

	// Count returns the number of archived records.
	Count(ctx context.Context) (int, error)

	// Close releases the underlying connection.
	Close() error
}
