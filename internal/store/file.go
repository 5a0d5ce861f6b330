package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/splax/localvercel/intake/internal/domain"
)

// DefaultFileMaxRecords bounds the fallback file.
const DefaultFileMaxRecords = 100

// File keeps records in a single JSON array on local disk, newest first.
//
// Every write reads the whole file, modifies it and writes it back. The mutex
// serializes writers inside one process only; several processes sharing the
// same path can still interleave and lose records.
type File struct {
	mu         sync.Mutex
	path       string
	maxRecords int
	retention  time.Duration
	now        func() time.Time
}

var _ Store = (*File)(nil)

// NewFile constructs the file backend. The parent directory is created on
// first write.
func NewFile(path string, maxRecords int) *File {
	if maxRecords <= 0 {
		maxRecords = DefaultFileMaxRecords
	}
	return &File{path: path, maxRecords: maxRecords, retention: domain.DefaultRetentionTime, now: time.Now}
}

// WithRetention sets the age past which listings skip records.
func (s *File) WithRetention(d time.Duration) *File {
	if d > 0 {
		s.retention = d
	}
	return s
}

func (s *File) Push(_ context.Context, rec domain.FailureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.read()
	if err != nil {
		return err
	}
	records = append([]domain.FailureRecord{rec}, records...)
	if len(records) > s.maxRecords {
		records = records[:s.maxRecords]
	}
	return s.write(records)
}

func (s *File) Expire(_ context.Context, maxAge time.Duration) error {
	if maxAge <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.read()
	if err != nil {
		return err
	}
	cutoff := s.now().Add(-maxAge)
	kept := records[:0]
	for _, rec := range records {
		if !rec.Timestamp.Before(cutoff) {
			kept = append(kept, rec)
		}
	}
	if len(kept) == len(records) {
		return nil
	}
	return s.write(kept)
}

func (s *File) Range(_ context.Context, start, end int) ([]domain.FailureRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.read()
	if err != nil {
		return nil, err
	}
	lo, hi, ok := rangeBounds(start, end, len(records))
	if !ok {
		return []domain.FailureRecord{}, nil
	}
	return records[lo:hi], nil
}

func (s *File) FilterByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.FailureRecord, error) {
	records, err := s.Range(ctx, 0, -1)
	if err != nil {
		return nil, err
	}
	return filterStatus(records, status, limit, s.now().Add(-s.retention)), nil
}

func (s *File) Get(_ context.Context, id string) (domain.FailureRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.read()
	if err != nil {
		return domain.FailureRecord{}, err
	}
	for _, rec := range records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return domain.FailureRecord{}, ErrNotFound
}

func (s *File) Update(_ context.Context, id string, fn UpdateFunc) (domain.FailureRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.read()
	if err != nil {
		return domain.FailureRecord{}, err
	}
	for i := range records {
		if records[i].ID != id {
			continue
		}
		rec := records[i]
		if err := fn(&rec); err != nil {
			return domain.FailureRecord{}, err
		}
		rec.ID = id
		records[i] = rec
		if err := s.write(records); err != nil {
			return domain.FailureRecord{}, err
		}
		return rec, nil
	}
	return domain.FailureRecord{}, ErrNotFound
}

// Ping checks that the parent directory is usable.
func (s *File) Ping(context.Context) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fallback dir: %w", err)
	}
	return nil
}

func (s *File) read() ([]domain.FailureRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []domain.FailureRecord{}, nil
		}
		return nil, fmt.Errorf("read fallback store: %w", err)
	}
	if len(data) == 0 {
		return []domain.FailureRecord{}, nil
	}
	var records []domain.FailureRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode fallback store: %w", err)
	}
	return records, nil
}

func (s *File) write(records []domain.FailureRecord) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("fallback dir: %w", err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fallback store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write fallback store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace fallback store: %w", err)
	}
	return nil
}
