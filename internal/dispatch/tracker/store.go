package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/robinmin/ccbridge/internal/core/domain"
)

const workspaceDirName = "by-workspace"

// fileStore persists request records as JSON files in two locations: a
// flat id-indexed file and a workspace-indexed file, so both lookups work
// without a secondary index. Every write goes to a *.tmp sibling first and
// is renamed into place, so a crash never leaves a half-written file at
// the canonical path.
type fileStore struct {
	dir string
}

func (s *fileStore) flatPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *fileStore) workspacePath(workspace, id string) string {
	return filepath.Join(s.dir, workspaceDirName, workspace, id+".json")
}

func (s *fileStore) init() error {
	if err := os.MkdirAll(filepath.Join(s.dir, workspaceDirName), 0o755); err != nil {
		return fmt.Errorf("create tracker dirs: %w", err)
	}
	return nil
}

func (s *fileStore) write(rec *domain.RequestRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.RequestID, err)
	}

	if err := writeAtomic(s.flatPath(rec.RequestID), data); err != nil {
		return err
	}
	return writeAtomic(s.workspacePath(rec.Workspace, rec.RequestID), data)
}

func (s *fileStore) read(id string) (*domain.RequestRecord, error) {
	return readRecord(s.flatPath(id))
}

// remove deletes both indexed files, tolerating already-missing ones.
func (s *fileStore) remove(id, workspace string) error {
	var firstErr error
	for _, path := range []string{s.flatPath(id), s.workspacePath(workspace, id)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *fileStore) listWorkspace(workspace string) ([]*domain.RequestRecord, error) {
	dir := filepath.Join(s.dir, workspaceDirName, workspace)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workspace dir %s: %w", workspace, err)
	}

	var records []*domain.RequestRecord
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		rec, err := readRecord(filepath.Join(dir, e.Name()))
		if err != nil || rec == nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *fileStore) listFlat() ([]*domain.RequestRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read tracker dir: %w", err)
	}

	var records []*domain.RequestRecord
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		rec, err := readRecord(filepath.Join(s.dir, e.Name()))
		if err != nil || rec == nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func readRecord(path string) (*domain.RequestRecord, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", path, err)
	}

	var rec domain.RequestRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse record %s: %w", path, err)
	}
	return &rec, nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
