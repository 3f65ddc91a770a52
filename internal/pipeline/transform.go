package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/calsim-tables/internal/analysis"
	"github.com/couchcryptid/calsim-tables/internal/config"
	"github.com/couchcryptid/calsim-tables/internal/domain"
)

// SeriesTransformer implements Transformer. The annual operation reduces each
// series to water-year values; the validate operation passes series through
// after checking them.
type SeriesTransformer struct {
	operation string
	eom       time.Month
	logger    *slog.Logger
}

// NewTransformer creates a SeriesTransformer for one of the config.Operation*
// values.
func NewTransformer(operation string, eom time.Month, logger *slog.Logger) *SeriesTransformer {
	return &SeriesTransformer{
		operation: operation,
		eom:       eom,
		logger:    logger,
	}
}

func (t *SeriesTransformer) Transform(_ context.Context, raw domain.RawMessage) (domain.Series, error) {
	s, err := domain.ParseSeriesMessage(raw)
	if err != nil {
		return domain.Series{}, err
	}

	switch t.operation {
	case config.OperationAnnual:
		s, err = t.annual(s)
	case config.OperationValidate:
		err = validateSeries(s)
	default:
		err = fmt.Errorf("unknown operation %q", t.operation)
	}
	if err != nil {
		return domain.Series{}, err
	}
	return domain.MarkProcessed(s), nil
}

func (t *SeriesTransformer) annual(s domain.Series) (domain.Series, error) {
	tidy, err := domain.TidyFromSeries(s)
	if err != nil {
		return domain.Series{}, err
	}
	out, err := analysis.AggregateAnnual(tidy, t.eom)
	if err != nil {
		return domain.Series{}, err
	}

	p, err := domain.ParsePathname(s.Pathname)
	if err != nil {
		return domain.Series{}, err
	}
	p.Interval = domain.Interval1Year
	result := domain.Series{
		ID:       domain.SeriesID(s.Study, p.String(), s.Units, s.DataType),
		Study:    s.Study,
		Pathname: p.String(),
		Units:    s.Units,
		DataType: s.DataType,
	}
	if annual := out.(*domain.TidyTable).Series(); len(annual) == 1 {
		result.Times = annual[0].Times
		result.Values = annual[0].Values
	}
	if result.Len() == 0 {
		t.logger.Debug("series has no complete water year", "pathname", s.Pathname, "data_type", s.DataType)
	}
	return result, nil
}

// validateSeries rejects repeated timestamps and spacing that contradicts
// the pathname's interval.
func validateSeries(s domain.Series) error {
	tidy, err := domain.TidyFromSeries(s)
	if err != nil {
		return err
	}
	if err := domain.ValidateTidy(tidy); err != nil {
		return fmt.Errorf("validate %s: %w", s.Pathname, err)
	}
	p, err := domain.ParsePathname(s.Pathname)
	if err != nil {
		return err
	}
	if inferred, ok := domain.InferInterval(s.Times); ok && p.Interval != "" && domain.NormalizePart(p.Interval) != inferred {
		return fmt.Errorf("validate %s: timestamps are spaced %s", s.Pathname, inferred)
	}
	return nil
}
