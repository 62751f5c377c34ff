// Package report renders the change log for a time window into JSON and CSV
// artifacts on disk.
package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/catalogwatch/harvester/internal/catalog"
	"github.com/catalogwatch/harvester/internal/clock"
)

// ChangeSource reads change-log entries for a half-open time window.
type ChangeSource interface {
	ChangesBetween(ctx context.Context, from, to time.Time) ([]catalog.ChangeEntry, error)
}

// Window bounds a report: entries with From <= ts < To are included.
type Window struct {
	From time.Time
	To   time.Time
}

// Artifacts names the files one Generate call produced.
type Artifacts struct {
	JSONPath string
	CSVPath  string
	Entries  int
}

// Generator writes change reports into a fixed output directory.
type Generator struct {
	source ChangeSource
	outDir string
	clock  clock.Clock
	logger *zap.Logger
}

// New builds a Generator writing into outDir. A nil clk uses the system
// clock for artifact naming.
func New(source ChangeSource, outDir string, clk clock.Clock, logger *zap.Logger) *Generator {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		source: source,
		outDir: outDir,
		clock:  clk,
		logger: logger,
	}
}

// jsonReport is the top-level JSON artifact shape. Changes are grouped by
// kind so consumers can read inserts and updates without scanning.
type jsonReport struct {
	GeneratedAt time.Time                               `json:"generated_at"`
	WindowFrom  time.Time                               `json:"window_from"`
	WindowTo    time.Time                               `json:"window_to"`
	Total       int                                     `json:"total"`
	Changes     map[catalog.ChangeKind][]catalog.ChangeEntry `json:"changes"`
}

// Generate renders both artifacts for the window. A window with no entries
// still produces a valid JSON document and a header-only CSV.
func (g *Generator) Generate(ctx context.Context, w Window) (Artifacts, error) {
	if !w.To.After(w.From) {
		return Artifacts{}, fmt.Errorf("report window is empty: from %s, to %s", w.From, w.To)
	}
	entries, err := g.source.ChangesBetween(ctx, w.From, w.To)
	if err != nil {
		return Artifacts{}, fmt.Errorf("read change log: %w", err)
	}

	if err := os.MkdirAll(g.outDir, 0o755); err != nil {
		return Artifacts{}, fmt.Errorf("create report dir: %w", err)
	}

	stamp := g.clock.Now().UTC().Format("20060102T150405Z")
	artifacts := Artifacts{
		JSONPath: filepath.Join(g.outDir, fmt.Sprintf("changes-%s.json", stamp)),
		CSVPath:  filepath.Join(g.outDir, fmt.Sprintf("changes-%s.csv", stamp)),
		Entries:  len(entries),
	}

	if err := g.writeJSON(artifacts.JSONPath, w, entries); err != nil {
		return Artifacts{}, err
	}
	if err := g.writeCSV(artifacts.CSVPath, entries); err != nil {
		return Artifacts{}, err
	}

	g.logger.Info("change report written",
		zap.String("json", artifacts.JSONPath),
		zap.String("csv", artifacts.CSVPath),
		zap.Int("entries", len(entries)),
	)
	return artifacts, nil
}

func (g *Generator) writeJSON(path string, w Window, entries []catalog.ChangeEntry) error {
	doc := jsonReport{
		GeneratedAt: g.clock.Now().UTC(),
		WindowFrom:  w.From,
		WindowTo:    w.To,
		Total:       len(entries),
		Changes: map[catalog.ChangeKind][]catalog.ChangeEntry{
			catalog.ChangeInsert: {},
			catalog.ChangeUpdate: {},
			catalog.ChangeDelete: {},
		},
	}
	for _, e := range entries {
		doc.Changes[e.Kind] = append(doc.Changes[e.Kind], e)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create json report: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode json report: %w", err)
	}
	return f.Close()
}

func (g *Generator) writeCSV(path string, entries []catalog.ChangeEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"book_id", "change_type", "timestamp", "run_id", "old_value", "new_value"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range entries {
		oldJSON, err := json.Marshal(orEmpty(e.Old))
		if err != nil {
			return fmt.Errorf("encode old snapshot: %w", err)
		}
		newJSON, err := json.Marshal(orEmpty(e.New))
		if err != nil {
			return fmt.Errorf("encode new snapshot: %w", err)
		}
		row := []string{
			e.RecordID,
			string(e.Kind),
			e.Timestamp.UTC().Format(time.RFC3339),
			e.RunID,
			string(oldJSON),
			string(newJSON),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv report: %w", err)
	}
	return f.Close()
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
