// Command tstable converts, filters and summarizes time-series tables stored
// as CSV (optionally zstd-compressed) or parquet files.
//
// Usage:
//
//	tstable convert -in tidy.csv -out wide.csv -to wide
//	tstable stats -in tidy.csv.zst -op annual -out annual.parquet
//	tstable select -in tidy.csv -out shasta.csv -location S_SHSTA
//	tstable compare -in studies.csv -base baseline -alt alt1
//	tstable fetch -pathname /CDEC/SHA/15//1MON// -start 2020-10-01 -out sha.csv
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/calsim-tables/internal/adapter/csvfile"
	"github.com/couchcryptid/calsim-tables/internal/adapter/parquetfile"
	"github.com/couchcryptid/calsim-tables/internal/domain"
)

type command struct {
	name  string
	usage string
	run   func(args []string) error
}

var commands = []command{
	{"convert", "convert a table between tidy, wide and condense layouts", runConvert},
	{"stats", "aggregate a table: annual, mean, monthly, exceedance, annual-exceedance", runStats},
	{"select", "keep the series whose pathname parts match", runSelect},
	{"compare", "compare two studies of a tidy table", runCompare},
	{"fetch", "download an observed series from CDEC", runFetch},
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	for _, c := range commands {
		if c.name != os.Args[1] {
			continue
		}
		if err := c.run(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "tstable %s: %v\n", c.name, err)
			os.Exit(1)
		}
		return
	}
	usage()
	os.Exit(2)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: tstable <command> [flags]")
	fmt.Fprintln(os.Stderr)
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-9s %s\n", c.name, c.usage)
	}
}

func isParquet(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".parquet")
}

func readTable(path string) (domain.Table, error) {
	if isParquet(path) {
		return parquetfile.Read(path)
	}
	return csvfile.Read(path)
}

func writeTable(path string, t domain.Table) error {
	if isParquet(path) {
		return parquetfile.Write(path, t)
	}
	return csvfile.Write(path, t)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
