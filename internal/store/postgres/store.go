// Package postgres provides the Postgres-backed record and change-log store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/catalogwatch/harvester/internal/catalog"
	"github.com/catalogwatch/harvester/internal/store"
)

// dbPool is the subset of pgxpool.Pool the store uses; pgxmock stands in
// for it in tests.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements store.Store on Postgres.
type Store struct {
	pool dbPool
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// New connects to Postgres and ensures the schema exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS books (
			book_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			price_incl_tax TEXT NOT NULL DEFAULT '',
			price_excl_tax TEXT NOT NULL DEFAULT '',
			tax TEXT NOT NULL DEFAULT '',
			availability TEXT NOT NULL DEFAULT '',
			product_description TEXT NOT NULL DEFAULT '',
			upc TEXT NOT NULL DEFAULT '',
			number_of_reviews INTEGER,
			category TEXT NOT NULL DEFAULT '',
			rating INTEGER NOT NULL DEFAULT 0,
			image_url TEXT NOT NULL DEFAULT '',
			product_page_url TEXT NOT NULL DEFAULT '',
			raw_html TEXT NOT NULL DEFAULT '',
			crawl_metadata JSONB NOT NULL DEFAULT '{}',
			fingerprint TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS change_log (
			id BIGSERIAL PRIMARY KEY,
			book_id TEXT NOT NULL,
			change_type TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			run_id TEXT NOT NULL DEFAULT '',
			old_value JSONB NOT NULL DEFAULT '{}',
			new_value JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS change_log_ts_idx ON change_log (ts DESC)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const recordColumns = `book_id, name, price_incl_tax, price_excl_tax, tax,
	availability, product_description, upc, number_of_reviews, category, rating,
	image_url, product_page_url, raw_html, crawl_metadata, fingerprint`

// GetRecord returns the stored record for id, or store.ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, id string) (store.StoredRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM books WHERE book_id = $1`, recordColumns)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.StoredRecord{}, store.ErrNotFound
		}
		return store.StoredRecord{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// PutRecord inserts or overwrites the record keyed by rec.ID.
func (s *Store) PutRecord(ctx context.Context, rec store.StoredRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	metadata, err := json.Marshal(normalizeMetadata(rec.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	query := `
INSERT INTO books (
	book_id, name, price_incl_tax, price_excl_tax, tax,
	availability, product_description, upc, number_of_reviews, category, rating,
	image_url, product_page_url, raw_html, crawl_metadata, fingerprint, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,now()
)
ON CONFLICT (book_id) DO UPDATE SET
	name = EXCLUDED.name,
	price_incl_tax = EXCLUDED.price_incl_tax,
	price_excl_tax = EXCLUDED.price_excl_tax,
	tax = EXCLUDED.tax,
	availability = EXCLUDED.availability,
	product_description = EXCLUDED.product_description,
	upc = EXCLUDED.upc,
	number_of_reviews = EXCLUDED.number_of_reviews,
	category = EXCLUDED.category,
	rating = EXCLUDED.rating,
	image_url = EXCLUDED.image_url,
	product_page_url = EXCLUDED.product_page_url,
	raw_html = EXCLUDED.raw_html,
	crawl_metadata = EXCLUDED.crawl_metadata,
	fingerprint = EXCLUDED.fingerprint,
	updated_at = now()`

	args := []any{
		rec.ID,
		rec.Name,
		rec.PriceInclTax,
		rec.PriceExclTax,
		rec.Tax,
		rec.Availability,
		rec.Description,
		rec.UPC,
		rec.NumberOfReviews,
		rec.Category,
		rec.Rating,
		rec.ImageURL,
		rec.PageURL,
		rec.RawHTML,
		metadata,
		rec.Fingerprint,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// CountRecords returns the total number of stored records.
func (s *Store) CountRecords(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM books`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

// ListRecords filters, sorts, and paginates stored records. The filter and
// sort fields mirror the read API contract; prices compare numerically.
func (s *Store) ListRecords(ctx context.Context, q store.RecordQuery) ([]catalog.Record, error) {
	var conditions []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = %s", arg(q.Category)))
	}
	if q.Rating != nil {
		conditions = append(conditions, fmt.Sprintf("rating = %s", arg(*q.Rating)))
	}
	if q.MinPrice != nil {
		conditions = append(conditions, fmt.Sprintf("NULLIF(price_incl_tax,'')::numeric >= %s", arg(*q.MinPrice)))
	}
	if q.MaxPrice != nil {
		conditions = append(conditions, fmt.Sprintf("NULLIF(price_incl_tax,'')::numeric <= %s", arg(*q.MaxPrice)))
	}

	orderBy := map[string]string{
		store.SortRating:  "rating DESC",
		store.SortPrice:   "NULLIF(price_incl_tax,'')::numeric ASC NULLS LAST",
		store.SortReviews: "number_of_reviews DESC NULLS LAST",
	}[q.SortBy]
	if orderBy == "" {
		orderBy = "rating DESC"
	}

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}

	query := fmt.Sprintf(`SELECT %s FROM books`, recordColumns)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s LIMIT %s OFFSET %s", orderBy, arg(pageSize), arg((page-1)*pageSize))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []catalog.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		records = append(records, rec.Record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

// AppendChange appends one immutable change-log entry.
func (s *Store) AppendChange(ctx context.Context, entry catalog.ChangeEntry) error {
	oldJSON, err := json.Marshal(normalizeMetadata(entry.Old))
	if err != nil {
		return fmt.Errorf("marshal old snapshot: %w", err)
	}
	newJSON, err := json.Marshal(normalizeMetadata(entry.New))
	if err != nil {
		return fmt.Errorf("marshal new snapshot: %w", err)
	}
	query := `
INSERT INTO change_log (book_id, change_type, ts, run_id, old_value, new_value)
VALUES ($1,$2,$3,$4,$5,$6)`
	args := []any{
		entry.RecordID,
		string(entry.Kind),
		entry.Timestamp,
		entry.RunID,
		oldJSON,
		newJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("append change: %w", err)
	}
	return nil
}

const changeColumns = `id, book_id, change_type, ts, run_id, old_value, new_value`

// RecentChanges returns up to limit entries, newest first.
func (s *Store) RecentChanges(ctx context.Context, limit int) ([]catalog.ChangeEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM change_log ORDER BY ts DESC, id DESC LIMIT $1`, changeColumns)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("recent changes: %w", err)
	}
	defer rows.Close()
	return collectChanges(rows)
}

// ChangesBetween returns entries with from <= ts < to, newest first.
func (s *Store) ChangesBetween(ctx context.Context, from, to time.Time) ([]catalog.ChangeEntry, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM change_log WHERE ts >= $1 AND ts < $2 ORDER BY ts DESC, id DESC`,
		changeColumns,
	)
	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("changes between: %w", err)
	}
	defer rows.Close()
	return collectChanges(rows)
}

func collectChanges(rows pgx.Rows) ([]catalog.ChangeEntry, error) {
	var entries []catalog.ChangeEntry
	for rows.Next() {
		var e catalog.ChangeEntry
		var kind string
		var oldJSON, newJSON []byte
		if err := rows.Scan(&e.ID, &e.RecordID, &kind, &e.Timestamp, &e.RunID, &oldJSON, &newJSON); err != nil {
			return nil, fmt.Errorf("scan change row: %w", err)
		}
		e.Kind = catalog.ChangeKind(kind)
		if err := json.Unmarshal(oldJSON, &e.Old); err != nil {
			return nil, fmt.Errorf("decode old snapshot: %w", err)
		}
		if err := json.Unmarshal(newJSON, &e.New); err != nil {
			return nil, fmt.Errorf("decode new snapshot: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change rows: %w", err)
	}
	return entries, nil
}

func scanRecord(row pgx.Row) (store.StoredRecord, error) {
	var rec store.StoredRecord
	var metadata []byte
	err := row.Scan(
		&rec.ID,
		&rec.Name,
		&rec.PriceInclTax,
		&rec.PriceExclTax,
		&rec.Tax,
		&rec.Availability,
		&rec.Description,
		&rec.UPC,
		&rec.NumberOfReviews,
		&rec.Category,
		&rec.Rating,
		&rec.ImageURL,
		&rec.PageURL,
		&rec.RawHTML,
		&metadata,
		&rec.Fingerprint,
	)
	if err != nil {
		return store.StoredRecord{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return store.StoredRecord{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return rec, nil
}

func normalizeMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
