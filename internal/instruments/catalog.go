// Package instruments maintains a searchable catalog of tradable contracts,
// loaded from the broker's daily instrument dump into SQLite.
package instruments

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"tradeease/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

const schema = `
CREATE TABLE IF NOT EXISTS instruments (
	token            INTEGER PRIMARY KEY,
	tradingsymbol    TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	exchange         TEXT NOT NULL,
	segment          TEXT NOT NULL,
	expiry           TEXT NOT NULL DEFAULT '',
	strike           REAL NOT NULL DEFAULT 0,
	lot_size         INTEGER NOT NULL DEFAULT 0,
	tick_size        REAL NOT NULL DEFAULT 0,
	instrument_type  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_instruments_symbol ON instruments(tradingsymbol);
CREATE INDEX IF NOT EXISTS idx_instruments_chain ON instruments(name, expiry, segment);
`

// Catalog is a SQLite-backed instrument master.
type Catalog struct {
	db *sql.DB
}

// Open opens (or creates) the catalog database at dbPath.
func Open(dbPath string) (*Catalog, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating instruments schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close closes the underlying database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// ---------------------------------------------------------------------------
// Import
// ---------------------------------------------------------------------------

// ImportCSV replaces the catalog with the contents of a Kite instrument dump
// (CSV with a header row). It returns the number of rows imported.
func (c *Catalog) ImportCSV(ctx context.Context, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("reading instrument dump header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"instrument_token", "tradingsymbol", "exchange"} {
		if _, ok := col[required]; !ok {
			return 0, fmt.Errorf("instrument dump missing column %q", required)
		}
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM instruments`); err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO instruments
		(token, tradingsymbol, name, exchange, segment, expiry, strike, lot_size, tick_size, instrument_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	count := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("reading instrument dump row: %w", err)
		}

		token, err := strconv.ParseUint(field(row, "instrument_token"), 10, 32)
		if err != nil {
			continue // malformed rows are skipped, not fatal
		}
		strike, _ := strconv.ParseFloat(field(row, "strike"), 64)
		lotSize, _ := strconv.ParseInt(field(row, "lot_size"), 10, 64)
		tickSize, _ := strconv.ParseFloat(field(row, "tick_size"), 64)

		if _, err := stmt.Exec(
			uint32(token),
			field(row, "tradingsymbol"),
			field(row, "name"),
			field(row, "exchange"),
			field(row, "segment"),
			field(row, "expiry"),
			strike,
			lotSize,
			tickSize,
			field(row, "instrument_type"),
		); err != nil {
			return count, err
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return count, err
	}
	return count, nil
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func scanInstruments(rows *sql.Rows) ([]domain.Instrument, error) {
	defer rows.Close()
	var out []domain.Instrument
	for rows.Next() {
		var in domain.Instrument
		if err := rows.Scan(&in.Token, &in.Symbol, &in.Name, &in.Exchange, &in.Segment,
			&in.Expiry, &in.Strike, &in.LotSize, &in.TickSize, &in.InstrumentType); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

const selectCols = `token, tradingsymbol, name, exchange, segment, expiry, strike, lot_size, tick_size, instrument_type`

// Search returns up to limit instruments whose trading symbol or name
// contains the query, case-insensitively.
func (c *Catalog) Search(ctx context.Context, query string, limit int) ([]domain.Instrument, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + strings.ToUpper(strings.TrimSpace(query)) + "%"
	rows, err := c.db.QueryContext(ctx, `SELECT `+selectCols+`
		FROM instruments
		WHERE upper(tradingsymbol) LIKE ? OR upper(name) LIKE ?
		ORDER BY tradingsymbol LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	return scanInstruments(rows)
}

// BySymbol returns the instrument with the exact trading symbol on the given
// exchange.
func (c *Catalog) BySymbol(ctx context.Context, exchange, symbol string) (*domain.Instrument, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+selectCols+`
		FROM instruments WHERE exchange = ? AND tradingsymbol = ? LIMIT 1`, exchange, symbol)
	if err != nil {
		return nil, err
	}
	found, err := scanInstruments(rows)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, sql.ErrNoRows
	}
	return &found[0], nil
}

// ByToken returns the instrument with the given instrument token.
func (c *Catalog) ByToken(ctx context.Context, token uint32) (*domain.Instrument, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+selectCols+`
		FROM instruments WHERE token = ? LIMIT 1`, token)
	if err != nil {
		return nil, err
	}
	found, err := scanInstruments(rows)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, sql.ErrNoRows
	}
	return &found[0], nil
}

// Expiries returns the distinct option expiry dates for an underlying,
// soonest first.
func (c *Catalog) Expiries(ctx context.Context, name string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT expiry
		FROM instruments
		WHERE name = ? AND segment = ? AND expiry != ''
		ORDER BY expiry`, strings.ToUpper(name), domain.SegmentOptions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ChainRow pairs the call and put contracts at one strike.
type ChainRow struct {
	Strike float64            `json:"strike"`
	Call   *domain.Instrument `json:"call,omitempty"`
	Put    *domain.Instrument `json:"put,omitempty"`
}

// OptionChain returns CE/PE pairs for the underlying and expiry whose
// strikes lie within window points of spot, sorted by strike. A zero window
// returns the full chain.
func (c *Catalog) OptionChain(ctx context.Context, name, expiry string, spot, window float64) ([]ChainRow, error) {
	query := `SELECT ` + selectCols + `
		FROM instruments
		WHERE name = ? AND expiry = ? AND segment = ?`
	args := []any{strings.ToUpper(name), expiry, domain.SegmentOptions}
	if window > 0 {
		query += ` AND strike BETWEEN ? AND ?`
		args = append(args, spot-window, spot+window)
	}
	query += ` ORDER BY strike, instrument_type`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	contracts, err := scanInstruments(rows)
	if err != nil {
		return nil, err
	}

	byStrike := make(map[float64]*ChainRow)
	var strikes []float64
	for i := range contracts {
		in := contracts[i]
		row, ok := byStrike[in.Strike]
		if !ok {
			row = &ChainRow{Strike: in.Strike}
			byStrike[in.Strike] = row
			strikes = append(strikes, in.Strike)
		}
		switch in.InstrumentType {
		case "CE":
			row.Call = &in
		case "PE":
			row.Put = &in
		}
	}

	out := make([]ChainRow, 0, len(strikes))
	for _, s := range strikes {
		out = append(out, *byStrike[s])
	}
	return out, nil
}
