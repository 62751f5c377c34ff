package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/catalogwatch/harvester/internal/catalog"
	"github.com/catalogwatch/harvester/internal/store/memory"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func seedChanges(t *testing.T, st *memory.Store, base time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.AppendChange(ctx, catalog.ChangeEntry{
		RecordID:  "1000",
		Kind:      catalog.ChangeInsert,
		Timestamp: base,
		RunID:     "run-1",
		Old:       map[string]string{},
		New:       map[string]string{"price_incl_tax": "51.77"},
	}))
	require.NoError(t, st.AppendChange(ctx, catalog.ChangeEntry{
		RecordID:  "1000",
		Kind:      catalog.ChangeUpdate,
		Timestamp: base.Add(time.Hour),
		RunID:     "run-2",
		Old:       map[string]string{"price_incl_tax": "51.77"},
		New:       map[string]string{"price_incl_tax": "55.00"},
	}))
}

func TestGenerateWritesBothArtifacts(t *testing.T) {
	t.Parallel()
	st := memory.New()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	seedChanges(t, st, base)

	dir := t.TempDir()
	gen := New(st, dir, fixedClock{now: base.Add(2 * time.Hour)}, nil)

	artifacts, err := gen.Generate(context.Background(), Window{
		From: base,
		To:   base.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, 2, artifacts.Entries)

	raw, err := os.ReadFile(artifacts.JSONPath)
	require.NoError(t, err)
	var doc struct {
		Total   int                                   `json:"total"`
		Changes map[string][]catalog.ChangeEntry `json:"changes"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Equal(t, 2, doc.Total)
	require.Len(t, doc.Changes["insert"], 1)
	require.Len(t, doc.Changes["update"], 1)
	require.Equal(t, "55.00", doc.Changes["update"][0].New["price_incl_tax"])

	f, err := os.Open(artifacts.CSVPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, []string{"book_id", "change_type", "timestamp", "run_id", "old_value", "new_value"}, rows[0])
	require.Equal(t, "update", rows[1][1])
	require.JSONEq(t, `{"price_incl_tax":"51.77"}`, rows[1][4])
	require.JSONEq(t, `{"price_incl_tax":"55.00"}`, rows[1][5])
}

func TestGenerateEmptyWindowStillWritesArtifacts(t *testing.T) {
	t.Parallel()
	st := memory.New()
	dir := t.TempDir()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	gen := New(st, dir, fixedClock{now: now}, nil)

	artifacts, err := gen.Generate(context.Background(), Window{
		From: now.Add(-time.Hour),
		To:   now,
	})
	require.NoError(t, err)
	require.Zero(t, artifacts.Entries)

	raw, err := os.ReadFile(artifacts.JSONPath)
	require.NoError(t, err)
	var doc struct {
		Total   int                 `json:"total"`
		Changes map[string][]any `json:"changes"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Zero(t, doc.Total)
	require.Empty(t, doc.Changes["insert"])
	require.Empty(t, doc.Changes["update"])

	f, err := os.Open(artifacts.CSVPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestGenerateRejectsInvertedWindow(t *testing.T) {
	t.Parallel()
	gen := New(memory.New(), t.TempDir(), nil, nil)

	now := time.Now()
	_, err := gen.Generate(context.Background(), Window{From: now, To: now})
	require.Error(t, err)
}

func TestGenerateArtifactNamesCarryTimestamp(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	gen := New(memory.New(), t.TempDir(), fixedClock{now: now}, nil)

	artifacts, err := gen.Generate(context.Background(), Window{
		From: now.Add(-time.Hour),
		To:   now,
	})
	require.NoError(t, err)
	require.Contains(t, artifacts.JSONPath, "changes-20250301T103000Z.json")
	require.Contains(t, artifacts.CSVPath, "changes-20250301T103000Z.csv")
}
