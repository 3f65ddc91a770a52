// Command genmock generates a deterministic synthetic CalSim-style monthly
// table and the matching series messages for the pipeline tests.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -table-out data/mock/calsim_monthly.csv \
//	  -messages-out data/mock/raw_series.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/calsim-tables/internal/adapter/csvfile"
	"github.com/couchcryptid/calsim-tables/internal/domain"
	"github.com/jonboulle/clockwork"
)

type seriesDef struct {
	location string
	category string
	units    string
	dataType string
	base     float64 // mean monthly value
	swing    float64 // seasonal amplitude
}

var defs = []seriesDef{
	{location: "S_SHSTA", category: "STORAGE", units: "TAF", dataType: "PER-AVER", base: 3200, swing: 900},
	{location: "S_OROVL", category: "STORAGE", units: "TAF", dataType: "PER-AVER", base: 2400, swing: 800},
	{location: "S_FOLSM", category: "STORAGE", units: "TAF", dataType: "PER-AVER", base: 650, swing: 250},
	{location: "C_KSWCK", category: "CHANNEL", units: "CFS", dataType: "PER-AVER", base: 8000, swing: 4000},
	{location: "D_JONES", category: "DELIVERY", units: "TAF", dataType: "PER-CUM", base: 180, swing: 60},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	tableOut := flag.String("table-out", "", "output path for the tidy table (.csv or .csv.zst)")
	messagesOut := flag.String("messages-out", "", "output path for the JSON series messages")
	startWY := flag.Int("start-wy", 2001, "first water year")
	years := flag.Int("years", 10, "number of water years")
	studies := flag.String("studies", "baseline,alt1", "comma-separated study names")
	seed := flag.Uint64("seed", 42, "random seed")
	flag.Parse()

	if *tableOut == "" && *messagesOut == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -table-out or -messages-out")
	}
	if *years < 1 {
		return fmt.Errorf("-years must be positive")
	}

	// Fixed clock for reproducible ProcessedAt timestamps.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(2024, time.April, 27, 6, 0, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	rng := rand.New(rand.NewPCG(*seed, *seed))
	var all []domain.Series
	for _, study := range strings.Split(*studies, ",") {
		study = strings.TrimSpace(study)
		if study == "" {
			continue
		}
		for _, d := range defs {
			all = append(all, generate(rng, study, d, *startWY, *years))
		}
	}
	log.Printf("generated %d series, %d months each", len(all), *years*12)

	if *tableOut != "" {
		t, err := domain.TidyFromSeries(all...)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(*tableOut), 0o755); err != nil {
			return err
		}
		if err := csvfile.Write(*tableOut, t); err != nil {
			return fmt.Errorf("writing table: %w", err)
		}
		log.Printf("wrote table fixture: %s (%d rows)", *tableOut, t.Len())
	}

	if *messagesOut != "" {
		for i := range all {
			all[i].ID = domain.SeriesID(all[i].Study, all[i].Pathname, all[i].Units, all[i].DataType)
		}
		if err := writeJSON(*messagesOut, all); err != nil {
			return fmt.Errorf("writing messages: %w", err)
		}
		log.Printf("wrote message fixture: %s", *messagesOut)
	}
	return nil
}

// generate produces a seasonal monthly series stamped at month end. About one
// value in fifty is missing.
func generate(rng *rand.Rand, study string, d seriesDef, startWY, years int) domain.Series {
	p := domain.Pathname{
		Source:   "CALSIM",
		Location: d.location,
		Category: d.category,
		Interval: domain.Interval1Month,
		Scenario: "L2020A",
	}
	s := domain.Series{
		Study:    study,
		Pathname: p.String(),
		Units:    d.units,
		DataType: d.dataType,
	}
	first := time.Date(startWY-1, time.October, 1, 0, 0, 0, 0, time.UTC)
	for i := range years * 12 {
		m := first.AddDate(0, i, 0)
		s.Times = append(s.Times, m.AddDate(0, 1, -1))

		if rng.IntN(50) == 0 {
			s.Values = append(s.Values, domain.Missing())
			continue
		}
		// Peak in spring, trough in autumn.
		phase := 2 * math.Pi * float64(i%12) / 12
		v := d.base + d.swing*math.Sin(phase) + d.swing*0.1*rng.NormFloat64()
		s.Values = append(s.Values, domain.Float(math.Round(math.Max(v, 0)*10)/10))
	}
	return s
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}
