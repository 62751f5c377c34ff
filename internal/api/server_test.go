package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/catalogwatch/harvester/internal/catalog"
	"github.com/catalogwatch/harvester/internal/config"
	"github.com/catalogwatch/harvester/internal/store"
	"github.com/catalogwatch/harvester/internal/store/memory"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New()
	ctx := context.Background()
	books := []struct {
		id, name, price, category string
		rating                    int
	}{
		{"1000", "A Light in the Attic", "51.77", "Poetry", 3},
		{"999", "Tipping the Velvet", "53.74", "Historical Fiction", 1},
		{"998", "Soumission", "50.10", "Fiction", 5},
	}
	for _, b := range books {
		require.NoError(t, st.PutRecord(ctx, store.StoredRecord{
			Record: catalog.Record{
				ID:           b.id,
				Name:         b.name,
				PriceInclTax: b.price,
				Category:     b.category,
				Rating:       b.rating,
			},
			Fingerprint: "fp-" + b.id,
		}))
	}
	require.NoError(t, st.AppendChange(ctx, catalog.ChangeEntry{
		RecordID:  "1000",
		Kind:      catalog.ChangeInsert,
		Timestamp: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		New:       map[string]string{"price_incl_tax": "51.77"},
	}))
	require.NoError(t, st.AppendChange(ctx, catalog.ChangeEntry{
		RecordID:  "1000",
		Kind:      catalog.ChangeUpdate,
		Timestamp: time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC),
		Old:       map[string]string{"price_incl_tax": "51.77"},
		New:       map[string]string{"price_incl_tax": "55.00"},
	}))
	return st
}

func doRequest(t *testing.T, srv *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv := NewServer(seedStore(t), testConfig(t), nil)

	rec := doRequest(t, srv, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDLogged(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.InfoLevel)
	srv := NewServer(seedStore(t), testConfig(t), zap.New(core))

	rec := doRequest(t, srv, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, rec.Header().Get("X-Request-ID"), fields["request_id"])
	require.NotEmpty(t, fields["request_id"])
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	srv := NewServer(seedStore(t), testConfig(t), nil)

	rec := doRequest(t, srv, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListBooksDefaultSort(t *testing.T) {
	t.Parallel()
	srv := NewServer(seedStore(t), testConfig(t), nil)

	rec := doRequest(t, srv, http.MethodGet, "/v1/books")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Page     int              `json:"page"`
		PageSize int              `json:"page_size"`
		Books    []catalog.Record `json:"books"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Page)
	require.Equal(t, 20, body.PageSize)
	require.Len(t, body.Books, 3)
	// Default sort is rating, highest first.
	require.Equal(t, "998", body.Books[0].ID)
	require.Equal(t, "1000", body.Books[1].ID)
	require.Equal(t, "999", body.Books[2].ID)
}

func TestListBooksFilters(t *testing.T) {
	t.Parallel()
	srv := NewServer(seedStore(t), testConfig(t), nil)

	rec := doRequest(t, srv, http.MethodGet, "/v1/books?category=Poetry")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Books []catalog.Record `json:"books"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Books, 1)
	require.Equal(t, "1000", body.Books[0].ID)

	rec = doRequest(t, srv, http.MethodGet, "/v1/books?min_price=51&max_price=52&sort_by=price")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Books, 1)
	require.Equal(t, "1000", body.Books[0].ID)
}

func TestListBooksRejectsBadParams(t *testing.T) {
	t.Parallel()
	srv := NewServer(seedStore(t), testConfig(t), nil)

	for _, target := range []string{
		"/v1/books?rating=9",
		"/v1/books?min_price=abc",
		"/v1/books?page=0",
		"/v1/books?sort_by=title",
	} {
		rec := doRequest(t, srv, http.MethodGet, target)
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestListBooksCapsPageSize(t *testing.T) {
	t.Parallel()
	srv := NewServer(seedStore(t), testConfig(t), nil)

	rec := doRequest(t, srv, http.MethodGet, "/v1/books?page_size=500")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		PageSize int `json:"page_size"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, maxPageSize, body.PageSize)
}

func TestGetBook(t *testing.T) {
	t.Parallel()
	srv := NewServer(seedStore(t), testConfig(t), nil)

	rec := doRequest(t, srv, http.MethodGet, "/v1/books/1000")
	require.Equal(t, http.StatusOK, rec.Code)
	var book catalog.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &book))
	require.Equal(t, "A Light in the Attic", book.Name)

	rec = doRequest(t, srv, http.MethodGet, "/v1/books/777777")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListChanges(t *testing.T) {
	t.Parallel()
	srv := NewServer(seedStore(t), testConfig(t), nil)

	rec := doRequest(t, srv, http.MethodGet, "/v1/changes")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Limit   int                   `json:"limit"`
		Changes []catalog.ChangeEntry `json:"changes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, defaultLimit, body.Limit)
	require.Len(t, body.Changes, 2)
	require.Equal(t, catalog.ChangeUpdate, body.Changes[0].Kind)

	rec = doRequest(t, srv, http.MethodGet, "/v1/changes?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Changes, 1)

	rec = doRequest(t, srv, http.MethodGet, "/v1/changes?limit=-3")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	srv := NewServer(seedStore(t), cfg, nil)

	rec := doRequest(t, srv, http.MethodGet, "/v1/books")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/books", nil)
	req.Header.Set("X-API-Key", "secret")
	out := httptest.NewRecorder()
	srv.Handler().ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code)

	rec = doRequest(t, srv, http.MethodGet, fmt.Sprintf("/v1/books?api_key=%s", "secret"))
	require.Equal(t, http.StatusOK, rec.Code)
}
