// Package store persists market data to Parquet files on disk so tick
// history survives restarts and stays queryable with columnar tooling.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
)

// TickRecord is the Parquet schema for market ticks.
type TickRecord struct {
	Token        uint32  `parquet:"token"`
	Symbol       string  `parquet:"symbol"`
	Price        float64 `parquet:"price"`
	Volume       int64   `parquet:"volume"`
	OpenInterest int64   `parquet:"open_interest"`
	Timestamp    int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
}

// TickStore reads and writes tick history as Parquet files, one file per
// symbol per trading day.
type TickStore struct {
	DataDir string
}

// NewTickStore creates a TickStore rooted at the given data directory.
func NewTickStore(dataDir string) *TickStore {
	return &TickStore{DataDir: dataDir}
}

// tickPath returns <DataDir>/ticks/<SYMBOL>/<YYYY-MM-DD>.parquet.
func (s *TickStore) tickPath(symbol string, day time.Time) string {
	return filepath.Join(s.DataDir, "ticks", strings.ToUpper(symbol), day.Format("2006-01-02")+".parquet")
}

// WriteTicks appends the records to the per-day files for their symbol.
// Existing file contents are preserved and the result is kept sorted by
// timestamp.
func (s *TickStore) WriteTicks(_ context.Context, records []TickRecord) error {
	if len(records) == 0 {
		return nil
	}

	type key struct {
		symbol string
		day    string
	}
	groups := make(map[key][]TickRecord)
	for _, r := range records {
		ts := time.UnixMilli(r.Timestamp).UTC()
		k := key{symbol: r.Symbol, day: ts.Format("2006-01-02")}
		groups[k] = append(groups[k], r)
	}

	for k, recs := range groups {
		day, err := time.Parse("2006-01-02", k.day)
		if err != nil {
			return err
		}
		path := s.tickPath(k.symbol, day)

		existing, _ := readParquetFile[TickRecord](path)
		merged := append(existing, recs...)
		sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing ticks for %s/%s: %w", k.symbol, k.day, err)
		}
	}
	return nil
}

// ReadTicks returns all ticks for the symbol within [start, end], oldest
// first. Days with no file are skipped.
func (s *TickStore) ReadTicks(_ context.Context, symbol string, start, end time.Time) ([]TickRecord, error) {
	var out []TickRecord
	for day := start.UTC().Truncate(24 * time.Hour); !day.After(end.UTC()); day = day.AddDate(0, 0, 1) {
		records, err := readParquetFile[TickRecord](s.tickPath(symbol, day))
		if err != nil {
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp)
			if !ts.Before(start) && !ts.After(end) {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// ListSymbols returns the symbols that have recorded tick history.
func (s *TickStore) ListSymbols(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "ticks"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
