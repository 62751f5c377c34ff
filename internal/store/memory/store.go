// Package memory provides an in-memory Store for tests and local runs.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/catalogwatch/harvester/internal/catalog"
	"github.com/catalogwatch/harvester/internal/store"
)

// Store keeps records and change-log entries in maps guarded by a mutex.
type Store struct {
	mu      sync.RWMutex
	records map[string]store.StoredRecord
	changes []catalog.ChangeEntry
	nextID  int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		records: make(map[string]store.StoredRecord),
		nextID:  1,
	}
}

// GetRecord returns the stored record for id, or store.ErrNotFound.
func (s *Store) GetRecord(_ context.Context, id string) (store.StoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return store.StoredRecord{}, store.ErrNotFound
	}
	return rec, nil
}

// PutRecord inserts or overwrites the record keyed by rec.ID.
func (s *Store) PutRecord(_ context.Context, rec store.StoredRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

// CountRecords returns the number of stored records.
func (s *Store) CountRecords(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// ListRecords filters, sorts, and paginates the stored records.
func (s *Store) ListRecords(_ context.Context, q store.RecordQuery) ([]catalog.Record, error) {
	s.mu.RLock()
	var matched []catalog.Record
	for _, rec := range s.records {
		if matches(rec.Record, q) {
			matched = append(matched, rec.Record)
		}
	}
	s.mu.RUnlock()

	sortRecords(matched, q.SortBy)

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

// AppendChange appends an immutable change-log entry.
func (s *Store) AppendChange(_ context.Context, entry catalog.ChangeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = s.nextID
	s.nextID++
	s.changes = append(s.changes, entry)
	return nil
}

// RecentChanges returns up to limit entries, newest first.
func (s *Store) RecentChanges(_ context.Context, limit int) ([]catalog.ChangeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]catalog.ChangeEntry(nil), s.changes...)
	sortChangesDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ChangesBetween returns entries with from <= timestamp < to, newest first.
func (s *Store) ChangesBetween(_ context.Context, from, to time.Time) ([]catalog.ChangeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []catalog.ChangeEntry
	for _, e := range s.changes {
		if !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
			out = append(out, e)
		}
	}
	sortChangesDesc(out)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() {}

func matches(rec catalog.Record, q store.RecordQuery) bool {
	if q.Category != "" && rec.Category != q.Category {
		return false
	}
	if q.Rating != nil && rec.Rating != *q.Rating {
		return false
	}
	if q.MinPrice != nil || q.MaxPrice != nil {
		price, err := strconv.ParseFloat(rec.PriceInclTax, 64)
		if err != nil {
			return false
		}
		if q.MinPrice != nil && price < *q.MinPrice {
			return false
		}
		if q.MaxPrice != nil && price > *q.MaxPrice {
			return false
		}
	}
	return true
}

func sortRecords(recs []catalog.Record, sortBy string) {
	switch sortBy {
	case store.SortPrice:
		sort.SliceStable(recs, func(i, j int) bool {
			pi, _ := strconv.ParseFloat(recs[i].PriceInclTax, 64)
			pj, _ := strconv.ParseFloat(recs[j].PriceInclTax, 64)
			return pi < pj
		})
	case store.SortReviews:
		sort.SliceStable(recs, func(i, j int) bool {
			return reviewCount(recs[i]) > reviewCount(recs[j])
		})
	default:
		sort.SliceStable(recs, func(i, j int) bool {
			return recs[i].Rating > recs[j].Rating
		})
	}
}

func reviewCount(rec catalog.Record) int {
	if rec.NumberOfReviews == nil {
		return -1
	}
	return *rec.NumberOfReviews
}

func sortChangesDesc(entries []catalog.ChangeEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].ID > entries[j].ID
		}
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
}
