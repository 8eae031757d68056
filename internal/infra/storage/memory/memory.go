// Package memory provides an in-process archive used when no database
// is configured. History survives only as long as the process.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/robinmin/ccbridge/internal/core/domain"
)

// ArchiveRepo implements storage.ArchiveRepository in memory.
type ArchiveRepo struct {
	mu      sync.RWMutex
	records map[string]*domain.RequestRecord
}

// NewArchiveRepo creates an empty in-memory archive.
func NewArchiveRepo() *ArchiveRepo {
	return &ArchiveRepo{records: make(map[string]*domain.RequestRecord)}
}

// SaveTerminal upserts a terminal-state record.
func (r *ArchiveRepo) SaveTerminal(_ context.Context, rec *domain.RequestRecord) error {
	clone := *rec

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.RequestID] = &clone
	return nil
}

// History returns archived records for a workspace, newest first.
func (r *ArchiveRepo) History(_ context.Context, workspace string, limit int) ([]*domain.RequestRecord, error) {
	r.mu.RLock()
	var records []*domain.RequestRecord
	for _, rec := range r.records {
		if rec.Workspace == workspace {
			clone := *rec
			records = append(records, &clone)
		}
	}
	r.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Count returns the number of archived records.
func (r *ArchiveRepo) Count(context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records), nil
}

// Close is a no-op.
func (r *ArchiveRepo) Close() error { return nil }
