package instruments

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"tradeease/internal/domain"
)

const sampleDump = `instrument_token,exchange_token,tradingsymbol,name,last_price,expiry,strike,tick_size,lot_size,instrument_type,segment,exchange
256265,1001,NIFTY 50,NIFTY 50,0,,0,0.05,1,EQ,INDICES,NSE
12601602,49225,NIFTY2590224400CE,NIFTY,0,2025-09-02,24400,0.05,75,CE,NFO-OPT,NFO
12601858,49226,NIFTY2590224400PE,NIFTY,0,2025-09-02,24400,0.05,75,PE,NFO-OPT,NFO
12602114,49227,NIFTY2590224500CE,NIFTY,0,2025-09-02,24500,0.05,75,CE,NFO-OPT,NFO
12602370,49228,NIFTY2590224500PE,NIFTY,0,2025-09-02,24500,0.05,75,PE,NFO-OPT,NFO
12602626,49229,NIFTY2590226000CE,NIFTY,0,2025-09-02,26000,0.05,75,CE,NFO-OPT,NFO
12602882,49230,NIFTY2590924500CE,NIFTY,0,2025-09-09,24500,0.05,75,CE,NFO-OPT,NFO
`

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "instruments.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	n, err := c.ImportCSV(context.Background(), strings.NewReader(sampleDump))
	if err != nil {
		t.Fatalf("ImportCSV returned error: %v", err)
	}
	if n != 7 {
		t.Fatalf("imported %d rows, want 7", n)
	}
	return c
}

func TestSearch(t *testing.T) {
	c := newTestCatalog(t)

	found, err := c.Search(context.Background(), "nifty2590224500", 10)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("Search found %d instruments, want 2 (CE and PE)", len(found))
	}
	if found[0].Symbol != "NIFTY2590224500CE" {
		t.Errorf("first match = %q, want CE leg first", found[0].Symbol)
	}
	if found[0].LotSize != 75 {
		t.Errorf("lot size = %d, want 75", found[0].LotSize)
	}
}

func TestBySymbolAndByToken(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	in, err := c.BySymbol(ctx, domain.ExchangeNFO, "NIFTY2590224400PE")
	if err != nil {
		t.Fatalf("BySymbol returned error: %v", err)
	}
	if in.Token != 12601858 || in.Strike != 24400 || in.InstrumentType != "PE" {
		t.Errorf("instrument = %+v", in)
	}

	back, err := c.ByToken(ctx, in.Token)
	if err != nil {
		t.Fatalf("ByToken returned error: %v", err)
	}
	if back.Symbol != in.Symbol {
		t.Errorf("ByToken symbol = %q, want %q", back.Symbol, in.Symbol)
	}

	if _, err := c.BySymbol(ctx, domain.ExchangeNFO, "NOPE"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("missing symbol error = %v, want sql.ErrNoRows", err)
	}
}

func TestExpiries(t *testing.T) {
	c := newTestCatalog(t)

	expiries, err := c.Expiries(context.Background(), "NIFTY")
	if err != nil {
		t.Fatalf("Expiries returned error: %v", err)
	}
	want := []string{"2025-09-02", "2025-09-09"}
	if len(expiries) != len(want) {
		t.Fatalf("expiries = %v, want %v", expiries, want)
	}
	for i := range want {
		if expiries[i] != want[i] {
			t.Errorf("expiry[%d] = %q, want %q", i, expiries[i], want[i])
		}
	}
}

func TestOptionChainWindow(t *testing.T) {
	c := newTestCatalog(t)

	// Spot 24450 with a 1000-point window keeps 24400 and 24500 but drops
	// the 26000 strike.
	chain, err := c.OptionChain(context.Background(), "NIFTY", "2025-09-02", 24450, 1000)
	if err != nil {
		t.Fatalf("OptionChain returned error: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("chain rows = %d, want 2", len(chain))
	}
	if chain[0].Strike != 24400 || chain[1].Strike != 24500 {
		t.Errorf("strikes = %f, %f", chain[0].Strike, chain[1].Strike)
	}
	if chain[0].Call == nil || chain[0].Put == nil {
		t.Error("24400 row should pair a call and a put")
	}
	if chain[0].Call.Symbol != "NIFTY2590224400CE" {
		t.Errorf("call = %q", chain[0].Call.Symbol)
	}

	// 24500 has both legs too.
	if chain[1].Call == nil || chain[1].Put == nil {
		t.Error("24500 row should pair a call and a put")
	}
}

func TestOptionChainFullWithoutWindow(t *testing.T) {
	c := newTestCatalog(t)

	chain, err := c.OptionChain(context.Background(), "NIFTY", "2025-09-02", 24450, 0)
	if err != nil {
		t.Fatalf("OptionChain returned error: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("chain rows = %d, want 3", len(chain))
	}
	last := chain[2]
	if last.Strike != 26000 || last.Call == nil || last.Put != nil {
		t.Errorf("26000 row = %+v, want call-only", last)
	}
}

func TestImportReplacesCatalog(t *testing.T) {
	c := newTestCatalog(t)

	smaller := `instrument_token,tradingsymbol,name,exchange,segment,expiry,strike,lot_size,tick_size,instrument_type
99,SENSEX2590281000PE,SENSEX,BFO,BFO-OPT,2025-09-02,81000,30,0.05,PE
`
	n, err := c.ImportCSV(context.Background(), strings.NewReader(smaller))
	if err != nil {
		t.Fatalf("ImportCSV returned error: %v", err)
	}
	if n != 1 {
		t.Fatalf("imported %d rows, want 1", n)
	}

	if _, err := c.BySymbol(context.Background(), domain.ExchangeNFO, "NIFTY2590224400CE"); !errors.Is(err, sql.ErrNoRows) {
		t.Error("old rows should be gone after re-import")
	}
	in, err := c.ByToken(context.Background(), 99)
	if err != nil {
		t.Fatalf("ByToken returned error: %v", err)
	}
	if in.Symbol != "SENSEX2590281000PE" {
		t.Errorf("symbol = %q", in.Symbol)
	}
}

func TestImportRejectsMissingColumns(t *testing.T) {
	c := newTestCatalog(t)
	if _, err := c.ImportCSV(context.Background(), strings.NewReader("a,b,c\n1,2,3\n")); err == nil {
		t.Error("import without required columns should fail")
	}
}
