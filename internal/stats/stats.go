// Package stats implements the renderer's external stats sink: a
// no-op sink for tests and demos, and a DuckDB-backed sink for counting
// processed elements, emitted tile features, and data-quality anomalies
// across a render run.
package stats

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
)

// Sink is the counter surface the renderer and slicer/geo packages write
// to. It matches internal/render.Stats and internal/geo.DataErrorRecorder
// structurally so any Sink can back either.
type Sink interface {
	ProcessedElement(kind, layer string)
	EmittedFeatures(z int, layer string, count int)
	DataError(tag string)
}

// NoopSink discards every count; useful for tests and one-shot CLI runs
// that don't need a report afterward.
type NoopSink struct{}

func (NoopSink) ProcessedElement(kind, layer string)          {}
func (NoopSink) EmittedFeatures(z int, layer string, count int) {}
func (NoopSink) DataError(tag string)                          {}

// DuckDBSink accumulates counts into three tables in a DuckDB file:
// processed_elements, emitted_features, data_errors. Unlike the donor's
// connection helper, it loads no format-reading extensions: this sink only
// ever runs plain INSERT/UPDATE statements against its own counter tables.
type DuckDBSink struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenDuckDBSink opens (creating if needed) a DuckDB database file at
// dataDir/duckdb/dbName.duckdb and prepares its counter tables.
func OpenDuckDBSink(dataDir, dbName string) (*DuckDBSink, error) {
	dir := filepath.Join(dataDir, "duckdb")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("stats: create duckdb directory: %w", err)
	}

	path := filepath.Join(dir, dbName+".duckdb")
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("stats: open duckdb: %w", err)
	}

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS processed_elements (
			kind VARCHAR, layer VARCHAR, count BIGINT,
			PRIMARY KEY (kind, layer)
		)`,
		`CREATE TABLE IF NOT EXISTS emitted_features (
			zoom INTEGER, layer VARCHAR, count BIGINT,
			PRIMARY KEY (zoom, layer)
		)`,
		`CREATE TABLE IF NOT EXISTS data_errors (
			tag VARCHAR PRIMARY KEY, count BIGINT
		)`,
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("stats: create counter tables: %w", err)
		}
	}

	return &DuckDBSink{db: db}, nil
}

func (s *DuckDBSink) ProcessedElement(kind, layer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.db.Exec(`
		INSERT INTO processed_elements (kind, layer, count) VALUES (?, ?, 1)
		ON CONFLICT (kind, layer) DO UPDATE SET count = count + 1`, kind, layer)
}

func (s *DuckDBSink) EmittedFeatures(z int, layer string, count int) {
	if count == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.db.Exec(`
		INSERT INTO emitted_features (zoom, layer, count) VALUES (?, ?, ?)
		ON CONFLICT (zoom, layer) DO UPDATE SET count = count + excluded.count`, z, layer, count)
}

func (s *DuckDBSink) DataError(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.db.Exec(`
		INSERT INTO data_errors (tag, count) VALUES (?, 1)
		ON CONFLICT (tag) DO UPDATE SET count = count + 1`, tag)
}

// Query runs a read-only statement against the sink's counter tables,
// mirroring the donor's db.Query helper (internal/db/duckdb.go).
func (s *DuckDBSink) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.Query(query, args...)
}

// Close releases the underlying DuckDB connection.
func (s *DuckDBSink) Close() error {
	return s.db.Close()
}
