package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"

	"directindex/config"
	"directindex/internal/logger"
	"directindex/internal/marketdata"
	"directindex/internal/model"
	sqlitestore "directindex/internal/store/sqlite"
)

// loadweights ingests index constituent weights into the market data
// store. The default format is the iShares fund holdings download;
// "simple" takes a bare ticker,weight CSV for hand-built benchmarks.
func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// ---- Flags ----
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	file := flag.String("file", "", "holdings CSV to ingest (required)")
	format := flag.String("format", "ishares", "csv format: ishares | simple")
	asOfFlag := flag.String("as-of", "", "as-of date YYYY-MM-DD (simple format; default today)")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: loadweights -file holdings.csv [-format ishares|simple] [-config config.yaml]")
		os.Exit(2)
	}

	// ---- Config ----
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[loadweights] config load failed: %v", err)
	}
	logger.Init("loadweights", cfg.Log.Level)

	// ---- Parse ----
	var (
		ws   []model.IndexWeight
		asOf time.Time
	)
	switch *format {
	case "ishares":
		ws, asOf, err = marketdata.LoadISharesCSV(*file)
		if err != nil {
			log.Fatalf("[loadweights] parse failed: %v", err)
		}
		if asOf.IsZero() {
			log.Println("[loadweights] WARNING: no as-of date in file, using today")
			asOf = time.Now()
		}
	case "simple":
		ws, err = marketdata.LoadWeightsCSV(*file)
		if err != nil {
			log.Fatalf("[loadweights] parse failed: %v", err)
		}
		asOf = time.Now()
		if *asOfFlag != "" {
			asOf, err = time.Parse("2006-01-02", *asOfFlag)
			if err != nil {
				log.Fatalf("[loadweights] bad -as-of date %q: %v", *asOfFlag, err)
			}
		}
	default:
		log.Fatalf("[loadweights] unknown format %q (valid: ishares, simple)", *format)
	}

	// ---- Store ----
	os.MkdirAll(filepath.Dir(cfg.SQLite.MarketDataPath), 0o755)
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLite.MarketDataPath})
	if err != nil {
		log.Fatalf("[loadweights] sqlite init failed: %v", err)
	}
	defer store.Close()

	if err := store.SaveWeights(asOf, ws); err != nil {
		log.Fatalf("[loadweights] save failed: %v", err)
	}

	// ---- Summary ----
	var total float64
	for _, w := range ws {
		total += w.Weight
	}
	top := make([]model.IndexWeight, len(ws))
	copy(top, ws)
	sort.Slice(top, func(i, j int) bool { return top[i].Weight > top[j].Weight })
	if len(top) > 10 {
		top = top[:10]
	}

	tbl := tablewriter.NewWriter(os.Stdout)
	tbl.Header("Ticker", "Weight")
	for _, w := range top {
		tbl.Append(w.Ticker, fmt.Sprintf("%.4f", w.Weight))
	}
	tbl.Render()

	log.Printf("[loadweights] saved %d constituents as of %s (weight sum %.4f)",
		len(ws), asOf.Format("2006-01-02"), total)
}
