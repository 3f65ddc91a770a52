// Command validate checks a tidy table fixture end to end: the table shape,
// pathname decoding, lossless round trips through the wide and condense
// layouts, and annual aggregation.
//
// Usage:
//
//	go run ./cmd/validate -in data/mock/calsim_monthly.csv
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/couchcryptid/calsim-tables/internal/adapter/csvfile"
	"github.com/couchcryptid/calsim-tables/internal/adapter/parquetfile"
	"github.com/couchcryptid/calsim-tables/internal/analysis"
	"github.com/couchcryptid/calsim-tables/internal/domain"
	"github.com/google/go-cmp/cmp"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	in := flag.String("in", "", "tidy table fixture (.csv, .csv.zst or .parquet)")
	eom := flag.Int("eom", int(time.September), "last month of the water year (1-12)")
	flag.Parse()

	if *in == "" {
		flag.Usage()
		os.Exit(1)
	}
	if code := run(*in, time.Month(*eom)); code != 0 {
		os.Exit(code)
	}
}

func run(path string, eom time.Month) int {
	fmt.Println("=== Table Integrity Validation ===")
	fmt.Println()

	var (
		t   domain.Table
		err error
	)
	if strings.HasSuffix(path, ".parquet") {
		t, err = parquetfile.Read(path)
	} else {
		t, err = csvfile.Read(path)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load %s: %v\n", path, err)
		return 1
	}
	tidy, ok := t.(*domain.TidyTable)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s is a %s table, want tidy\n", path, t.Shape())
		return 1
	}

	phases := []*phase{
		validateShape(tidy),
		validatePathnames(tidy),
		validateWideRoundTrip(tidy),
		validateCondenseRoundTrip(tidy),
		validateAnnual(tidy, eom),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Rows: %d, series: %d\n", tidy.Len(), len(tidy.Series()))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func validateShape(t *domain.TidyTable) *phase {
	p := &phase{name: "Phase 1: Tidy shape"}
	if err := domain.ValidateTidy(t); err != nil {
		p.errorf("%v", err)
	}
	return p
}

func validatePathnames(t *domain.TidyTable) *phase {
	p := &phase{name: "Phase 2: Pathname decoding"}
	seen := map[string]bool{}
	for _, r := range t.Rows {
		if seen[r.Pathname] {
			continue
		}
		seen[r.Pathname] = true
		decoded, err := domain.ParsePathname(r.Pathname)
		if err != nil {
			p.errorf("%v", err)
			continue
		}
		if decoded.String() != r.Pathname {
			p.errorf("%s re-encodes as %s", r.Pathname, decoded.String())
		}
	}
	return p
}

func validateWideRoundTrip(t *domain.TidyTable) *phase {
	p := &phase{name: "Phase 3: Tidy -> wide -> tidy"}
	wide, err := domain.TidyToWide(t)
	if err != nil {
		p.errorf("to wide: %v", err)
		return p
	}
	if err := domain.ValidateWide(wide); err != nil {
		p.errorf("wide table invalid: %v", err)
	}
	back, err := domain.WideToTidy(wide)
	if err != nil {
		p.errorf("to tidy: %v", err)
		return p
	}
	compareRows(p, t, back)
	return p
}

func validateCondenseRoundTrip(t *domain.TidyTable) *phase {
	p := &phase{name: "Phase 4: Tidy -> condense -> tidy"}
	condense, err := domain.TidyToCondense(t)
	if err != nil {
		p.errorf("to condense: %v", err)
		return p
	}
	if err := domain.ValidateCondense(condense); err != nil {
		p.errorf("condense table invalid: %v", err)
	}
	back, err := domain.CondenseToTidy(condense, domain.PartOverrides{})
	if err != nil {
		p.errorf("to tidy: %v", err)
		return p
	}
	compareRows(p, t, back)
	return p
}

func validateAnnual(t *domain.TidyTable, eom time.Month) *phase {
	p := &phase{name: "Phase 5: Annual aggregation"}
	annual, err := analysis.AggregateAnnual(t, eom)
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	for _, r := range annual.(*domain.TidyTable).Rows {
		if r.Timestamp.Month() != eom {
			p.errorf("%s: water year stamped %s, want month %s", r.Pathname, r.Timestamp.Format(time.DateOnly), eom)
		}
		decoded, err := domain.ParsePathname(r.Pathname)
		if err == nil && decoded.Interval != domain.Interval1Year {
			p.errorf("%s: interval %s, want %s", r.Pathname, decoded.Interval, domain.Interval1Year)
		}
	}
	return p
}

func compareRows(p *phase, want, got *domain.TidyTable) {
	w, g := want.Clone(), got.Clone()
	w.SortRows()
	g.SortRows()
	if diff := cmp.Diff(w.Rows, g.Rows); diff != "" {
		p.errorf("rows differ (-want +got):\n%s", diff)
	}
}
