package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/calsim-tables/internal/adapter/cdec"
	"github.com/couchcryptid/calsim-tables/internal/adapter/csvfile"
	"github.com/couchcryptid/calsim-tables/internal/analysis"
	"github.com/couchcryptid/calsim-tables/internal/config"
	"github.com/couchcryptid/calsim-tables/internal/domain"
	"github.com/couchcryptid/calsim-tables/internal/observability"
)

// overrideFlags registers one flag per pathname part for layouts that drop
// constant parts.
func overrideFlags(fs *flag.FlagSet) func() domain.PartOverrides {
	levels := []domain.Level{
		domain.LevelStudy, domain.LevelSource, domain.LevelLocation,
		domain.LevelCategory, domain.LevelInterval, domain.LevelScenario,
	}
	vals := make([]*string, len(levels))
	for i, l := range levels {
		vals[i] = fs.String(lowerLevel(l), "", fmt.Sprintf("%s part when the input has no %s level", l, l))
	}
	return func() domain.PartOverrides {
		var o domain.PartOverrides
		for i, l := range levels {
			o = o.Set(l, *vals[i])
		}
		return o
	}
}

func lowerLevel(l domain.Level) string {
	return strings.ToLower(string(l))
}

func runConvert(args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	in := fs.String("in", "", "input table (.csv, .csv.zst or .parquet)")
	out := fs.String("out", "", "output table")
	to := fs.String("to", "tidy", "output layout: tidy, wide or condense")
	perStudy := fs.Bool("per-study", false, "write one tidy CSV per study")
	overrides := overrideFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		fs.Usage()
		return errors.New("-in and -out are required")
	}

	shape, err := domain.ParseShape(*to)
	if err != nil {
		return err
	}
	t, err := readTable(*in)
	if err != nil {
		return err
	}
	converted, err := domain.Convert(t, shape, overrides())
	if err != nil {
		return err
	}

	if *perStudy {
		tidy, ok := converted.(*domain.TidyTable)
		if !ok || isParquet(*out) {
			return errors.New("-per-study needs -to tidy and a CSV output")
		}
		paths, err := csvfile.WriteStudies(*out, tidy)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Println(p)
		}
		return nil
	}
	return writeTable(*out, converted)
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	in := fs.String("in", "", "input table")
	out := fs.String("out", "", "output table for -op annual")
	op := fs.String("op", "annual", "annual, mean, monthly, exceedance or annual-exceedance")
	eom := fs.Int("eom", int(time.September), "last month of the water year (1-12)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		fs.Usage()
		return errors.New("-in is required")
	}
	month := time.Month(*eom)

	t, err := readTable(*in)
	if err != nil {
		return err
	}

	w := csv.NewWriter(os.Stdout)
	defer w.Flush()

	switch *op {
	case "annual":
		annual, err := analysis.AggregateAnnual(t, month)
		if err != nil {
			return err
		}
		if *out == "" {
			return csvfile.Encode(os.Stdout, annual)
		}
		return writeTable(*out, annual)
	case "mean":
		s, err := analysis.PeriodMean(t, month)
		if err != nil {
			return err
		}
		return writeSummary(w, s)
	case "monthly":
		p, err := analysis.MonthlyMean(t)
		if err != nil {
			return err
		}
		return writeProfile(w, p, func(m time.Month) string { return m.String()[:3] })
	case "exceedance", "annual-exceedance":
		var p *analysis.Profile[float64]
		if *op == "exceedance" {
			p, err = analysis.MonthlyExceedance(t)
		} else {
			p, err = analysis.AnnualExceedance(t, month)
		}
		if err != nil {
			return err
		}
		return writeProfile(w, p, func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) })
	default:
		return fmt.Errorf("unknown -op %q", *op)
	}
}

func writeSummary(w *csv.Writer, s *analysis.Summary) error {
	header := make([]string, 0, len(s.Levels)+1)
	for _, l := range s.Levels {
		header = append(header, string(l))
	}
	if err := w.Write(append(header, domain.ColValue)); err != nil {
		return err
	}
	for _, sv := range s.Series {
		if err := w.Write(append(append([]string(nil), sv.Label...), sv.Value.String())); err != nil {
			return err
		}
	}
	return w.Error()
}

func writeProfile[K any](w *csv.Writer, p *analysis.Profile[K], format func(K) string) error {
	header := []string{p.IndexName}
	for _, l := range p.Levels {
		header = append(header, string(l))
	}
	if err := w.Write(append(header, domain.ColValue)); err != nil {
		return err
	}
	for _, r := range p.Rows() {
		rec := append([]string{format(r.Index)}, r.Label...)
		if err := w.Write(append(rec, r.Value.String())); err != nil {
			return err
		}
	}
	return w.Error()
}

func runSelect(args []string) error {
	fs := flag.NewFlagSet("select", flag.ExitOnError)
	in := fs.String("in", "", "input table")
	out := fs.String("out", "", "output table")
	source := fs.String("source", "", "comma-separated Source values")
	location := fs.String("location", "", "comma-separated Location values")
	category := fs.String("category", "", "comma-separated Category values")
	interval := fs.String("interval", "", "comma-separated Interval values")
	scenario := fs.String("scenario", "", "comma-separated Scenario values")
	contains := fs.Bool("contains", false, "match parts containing a value")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		fs.Usage()
		return errors.New("-in and -out are required")
	}

	f := domain.Filter{
		Source:   splitList(*source),
		Location: splitList(*location),
		Category: splitList(*category),
		Interval: splitList(*interval),
		Scenario: splitList(*scenario),
		Contains: *contains,
	}
	t, err := readTable(*in)
	if err != nil {
		return err
	}
	selected, err := domain.Select(t, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "selected %d of %d rows\n", selected.Len(), t.Len())
	return writeTable(*out, selected)
}

func runCompare(args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	in := fs.String("in", "", "tidy table with a Study column")
	base := fs.String("base", "", "base study")
	alt := fs.String("alt", "", "alternative study")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *base == "" || *alt == "" {
		fs.Usage()
		return errors.New("-in, -base and -alt are required")
	}

	t, err := readTable(*in)
	if err != nil {
		return err
	}
	tidy, ok := t.(*domain.TidyTable)
	if !ok {
		return fmt.Errorf("%s is a %s table; compare needs tidy", *in, t.Shape())
	}
	d, err := analysis.CompareStudies(tidy, *base, *alt)
	if err != nil {
		return err
	}

	fmt.Printf("%s vs %s: %d unchanged\n", d.Base, d.Alt, d.Unchanged)
	printList := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Printf("\n%s (%d):\n", title, len(items))
		for _, s := range items {
			fmt.Printf("  %s\n", s)
		}
	}
	printList("removed", d.Removed)
	printList("added", d.Added)
	printList("changed", d.Changed)
	if !d.Empty() {
		os.Exit(3)
	}
	return nil
}

func runFetch(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	pathname := fs.String("pathname", "", "series pathname: /CDEC/<station>/<sensor>//<interval>//")
	start := fs.String("start", "", "first day, YYYY-MM-DD")
	end := fs.String("end", "", "last day, YYYY-MM-DD")
	out := fs.String("out", "", "output table; stdout when empty")
	baseURL := fs.String("url", config.DefaultCDECBaseURL, "CDEC JSON servlet")
	timeout := fs.Duration("timeout", 30*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pathname == "" {
		fs.Usage()
		return errors.New("-pathname is required")
	}

	var r domain.TimeRange
	var err error
	if r.Start, err = parseDate(*start); err != nil {
		return err
	}
	if r.End, err = parseDate(*end); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	client := cdec.NewClient(*baseURL, *timeout, observability.NewMetrics(), logger)
	s, err := client.Read(context.Background(), *pathname, r)
	if err != nil {
		return err
	}
	t, err := domain.TidyFromSeries(s)
	if err != nil {
		return err
	}
	if *out == "" {
		return csvfile.Encode(os.Stdout, t)
	}
	return writeTable(*out, t)
}
