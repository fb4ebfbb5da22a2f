// One-shot tool: refresh the instrument catalog from the broker's daily
// instrument dump.
//
// Usage:
//
//	go run cmd/instruments-import/main.go            # download from the broker
//	go run cmd/instruments-import/main.go -file dump.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"tradeease/internal/config"
	"tradeease/internal/instruments"
	"tradeease/internal/util"
)

func main() {
	_ = godotenv.Load()

	file := flag.String("file", "", "import from a local CSV instead of downloading")
	flag.Parse()

	cfgPath := "config/tradeease.yaml"
	if p := os.Getenv("TRADEEASE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, "text")
	util.SetDefault(logger)

	catalog, err := instruments.Open(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening instrument catalog: %v", err)
	}
	defer catalog.Close()

	var src io.ReadCloser
	if *file != "" {
		src, err = os.Open(*file)
		if err != nil {
			log.Fatalf("opening %s: %v", *file, err)
		}
	} else {
		src, err = download(cfg.Kite.BaseURL + "/instruments")
		if err != nil {
			log.Fatalf("downloading instrument dump: %v", err)
		}
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := catalog.ImportCSV(ctx, src)
	if err != nil {
		log.Fatalf("importing instruments: %v", err)
	}
	logger.Info("instrument catalog refreshed", "instruments", n, "db", cfg.Storage.SQLitePath)
}

// download fetches the full instrument dump. It is a public endpoint; no
// session headers are needed. The GET is idempotent, so transient failures
// are retried.
func download(url string) (io.ReadCloser, error) {
	client := &http.Client{Timeout: 2 * time.Minute}
	var body io.ReadCloser
	err := util.Retry(context.Background(), 3, 2*time.Second, 30*time.Second, func() error {
		resp, err := client.Get(url)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("GET %s: %s", url, resp.Status)
		}
		body = resp.Body
		return nil
	})
	return body, err
}
