// Package store defines the persistence interfaces for records and the
// append-only change log.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/catalogwatch/harvester/internal/catalog"
)

// ErrNotFound is returned when no record exists for an identifier.
var ErrNotFound = errors.New("record not found")

// StoredRecord pairs a record with the fingerprint it was persisted under.
type StoredRecord struct {
	catalog.Record
	Fingerprint string
}

// Sort orders accepted by ListRecords.
const (
	SortRating  = "rating"  // rating descending
	SortPrice   = "price"   // price ascending
	SortReviews = "reviews" // review count descending
)

// RecordQuery captures the read API's filter/sort/pagination surface.
type RecordQuery struct {
	Category string
	MinPrice *float64
	MaxPrice *float64
	Rating   *int
	SortBy   string
	Page     int
	PageSize int
}

// RecordStore persists harvested records keyed by their stable identifier.
type RecordStore interface {
	// GetRecord returns the stored record for id, or ErrNotFound.
	GetRecord(ctx context.Context, id string) (StoredRecord, error)
	// PutRecord inserts or overwrites the record for rec.ID.
	PutRecord(ctx context.Context, rec StoredRecord) error
	// ListRecords returns records matching q, sorted and paginated.
	ListRecords(ctx context.Context, q RecordQuery) ([]catalog.Record, error)
	// CountRecords returns the total number of stored records.
	CountRecords(ctx context.Context) (int, error)
}

// ChangeLog is the append-only ledger of detected differences. Entries are
// immutable once written; the core never edits or deletes them.
type ChangeLog interface {
	AppendChange(ctx context.Context, entry catalog.ChangeEntry) error
	// RecentChanges returns up to limit entries, newest first.
	RecentChanges(ctx context.Context, limit int) ([]catalog.ChangeEntry, error)
	// ChangesBetween returns entries with from <= timestamp < to, newest first.
	ChangesBetween(ctx context.Context, from, to time.Time) ([]catalog.ChangeEntry, error)
}

// Store is the full persistence surface handed to the pipeline and the API.
type Store interface {
	RecordStore
	ChangeLog
	Close()
}
