// Package api exposes the read-only HTTP interface over harvested records
// and the change log.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/catalogwatch/harvester/internal/catalog"
	"github.com/catalogwatch/harvester/internal/config"
	"github.com/catalogwatch/harvester/internal/metrics"
	"github.com/catalogwatch/harvester/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	defaultLimit    = 20
	maxLimit        = 100
)

// Server wires HTTP handlers to the record store and change log.
type Server struct {
	router chi.Router
	store  store.Store
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(st store.Store, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:  st,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.ServerTimeout()))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/books", s.listBooks)
		r.Get("/books/{book_id}", s.getBook)
		r.Get("/changes", s.listChanges)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.CountRecords(r.Context()); err != nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listBooks(w http.ResponseWriter, r *http.Request) {
	query, err := parseRecordQuery(r)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.store.ListRecords(r.Context(), query)
	if err != nil {
		s.logger.Error("list records failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to list books")
		return
	}
	if records == nil {
		records = []catalog.Record{}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"page":      query.Page,
		"page_size": query.PageSize,
		"books":     records,
	})
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "book_id")
	rec, err := s.store.GetRecord(r.Context(), bookID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(s.logger, w, http.StatusNotFound, "book not found")
			return
		}
		s.logger.Error("get record failed", zap.String("book_id", bookID), zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to fetch book")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, rec.Record)
}

func (s *Server) listChanges(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(s.logger, w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxLimit {
			n = maxLimit
		}
		limit = n
	}
	entries, err := s.store.RecentChanges(r.Context(), limit)
	if err != nil {
		s.logger.Error("list changes failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to list changes")
		return
	}
	if entries == nil {
		entries = []catalog.ChangeEntry{}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"limit":   limit,
		"changes": entries,
	})
}

func parseRecordQuery(r *http.Request) (store.RecordQuery, error) {
	q := r.URL.Query()
	query := store.RecordQuery{
		Category: q.Get("category"),
		SortBy:   q.Get("sort_by"),
		Page:     1,
		PageSize: defaultPageSize,
	}

	switch query.SortBy {
	case "", store.SortRating, store.SortPrice, store.SortReviews:
	default:
		return store.RecordQuery{}, fmt.Errorf("sort_by must be one of rating, price, reviews")
	}

	if raw := q.Get("min_price"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return store.RecordQuery{}, fmt.Errorf("min_price must be a number")
		}
		query.MinPrice = &v
	}
	if raw := q.Get("max_price"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return store.RecordQuery{}, fmt.Errorf("max_price must be a number")
		}
		query.MaxPrice = &v
	}
	if raw := q.Get("rating"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 5 {
			return store.RecordQuery{}, fmt.Errorf("rating must be an integer between 1 and 5")
		}
		query.Rating = &v
	}
	if raw := q.Get("page"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return store.RecordQuery{}, fmt.Errorf("page must be a positive integer")
		}
		query.Page = v
	}
	if raw := q.Get("page_size"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return store.RecordQuery{}, fmt.Errorf("page_size must be a positive integer")
		}
		if v > maxPageSize {
			v = maxPageSize
		}
		query.PageSize = v
	}
	return query, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestIDFrom(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(logger, w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(zap.NewNop(), w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

// requestIDFrom returns the request ID set by requestIDMiddleware, or "".
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
