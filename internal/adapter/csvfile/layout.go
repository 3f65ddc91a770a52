package csvfile

import (
	"encoding/csv"
	"fmt"
	"slices"
	"strings"

	"github.com/couchcryptid/calsim-tables/internal/domain"
)

var knownLevels = []domain.Level{
	domain.LevelStudy, domain.LevelSource, domain.LevelLocation, domain.LevelCategory,
	domain.LevelInterval, domain.LevelScenario, domain.LevelUnits, domain.LevelDataType,
	domain.LevelUnitsType,
}

// elidedOrder is the order elided constants are written in.
var elidedOrder = []domain.Level{
	domain.LevelStudy, domain.LevelSource, domain.LevelCategory, domain.LevelInterval, domain.LevelScenario,
}

func decodeTidy(records [][]string) (*domain.TidyTable, error) {
	header := make([]string, len(records[0]))
	col := make(map[string]int, len(header))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
		col[header[i]] = i
	}
	for _, required := range domain.TidyColumns(false) {
		if _, ok := col[required]; !ok {
			return nil, &domain.UnrecognizedFormatError{Want: domain.ShapeTidy, Reason: "missing column " + required}
		}
	}
	studyCol, hasStudy := col[domain.ColStudy]

	rows := make([]domain.Row, 0, len(records)-1)
	for n, rec := range records[1:] {
		line := n + 2
		if len(rec) != len(header) {
			return nil, &domain.UnrecognizedFormatError{
				Want:   domain.ShapeTidy,
				Reason: fmt.Sprintf("line %d has %d fields, header has %d", line, len(rec), len(header)),
			}
		}
		ts, err := parseTime(rec[col[domain.ColTimestamp]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		v, err := domain.ParseValue(strings.TrimSpace(rec[col[domain.ColValue]]))
		if err != nil {
			return nil, fmt.Errorf("line %d: value: %w", line, err)
		}
		r := domain.Row{
			Timestamp: ts,
			Pathname:  rec[col[domain.ColPathname]],
			Units:     rec[col[domain.ColUnits]],
			DataType:  rec[col[domain.ColDataType]],
			Value:     v,
		}
		if hasStudy {
			r.Study = rec[studyCol]
		}
		rows = append(rows, r)
	}
	return &domain.TidyTable{Columns: header, Rows: rows}, nil
}

func encodeTidy(cw *csv.Writer, t *domain.TidyTable) error {
	withStudy := t.HasStudy()
	if err := cw.Write(domain.TidyColumns(withStudy)); err != nil {
		return err
	}
	for _, r := range t.Rows {
		rec := []string{formatTime(r.Timestamp), r.Pathname, r.Units, r.DataType, r.Value.String()}
		if withStudy {
			rec = append(rec, r.Study)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

func decodePivot(records [][]string) (domain.Table, error) {
	i := 0
	var elided map[domain.Level]string
	for ; i < len(records) && strings.HasPrefix(records[i][0], elidedPrefix); i++ {
		if elided == nil {
			elided = make(map[domain.Level]string)
		}
		l := domain.Level(strings.TrimSpace(strings.TrimPrefix(records[i][0], elidedPrefix)))
		v := ""
		if len(records[i]) > 1 {
			v = records[i][1]
		}
		elided[l] = v
	}

	var p domain.Pivot
	var labelRows [][]string
	for ; i < len(records); i++ {
		l := domain.Level(strings.TrimSpace(records[i][0]))
		if !slices.Contains(knownLevels, l) {
			break
		}
		p.Levels = append(p.Levels, l)
		labelRows = append(labelRows, records[i][1:])
	}
	if len(p.Levels) == 0 {
		return nil, &domain.UnrecognizedFormatError{Reason: "header has neither tidy columns nor label levels"}
	}

	ncols := len(labelRows[0])
	for k, row := range labelRows {
		if len(row) != ncols {
			return nil, &domain.UnrecognizedFormatError{
				Reason: fmt.Sprintf("level %s has %d labels, expected %d", p.Levels[k], len(row), ncols),
			}
		}
	}
	p.Columns = make([]domain.Column, ncols)
	for j := range p.Columns {
		label := make([]string, len(p.Levels))
		for k := range p.Levels {
			label[k] = labelRows[k][j]
		}
		p.Columns[j].Label = label
	}

	for ; i < len(records); i++ {
		rec := records[i]
		line := i + 1
		ts, err := parseTime(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec)-1 > ncols {
			return nil, &domain.UnrecognizedFormatError{
				Reason: fmt.Sprintf("line %d has %d values for %d columns", line, len(rec)-1, ncols),
			}
		}
		p.Index = append(p.Index, ts)
		for j := range p.Columns {
			var cell domain.Cell
			if j+1 < len(rec) && rec[j+1] != "" {
				v, err := domain.ParseValue(strings.TrimSpace(rec[j+1]))
				if err != nil {
					return nil, fmt.Errorf("line %d column %d: %w", line, j+2, err)
				}
				cell = domain.RecordedCell(v)
			}
			p.Columns[j].Cells = append(p.Columns[j].Cells, cell)
		}
	}

	if slices.Contains(p.Levels, domain.LevelUnitsType) {
		return &domain.CondenseTable{Pivot: p, Elided: elided}, nil
	}
	if elided != nil {
		return nil, &domain.UnrecognizedFormatError{Reason: "elided parts on a table without a Units & Type level"}
	}
	return &domain.WideTable{Pivot: p}, nil
}

func encodePivot(cw *csv.Writer, p *domain.Pivot, elided map[domain.Level]string) error {
	for _, l := range elidedOrder {
		if v, ok := elided[l]; ok {
			if err := cw.Write([]string{elidedPrefix + string(l), v}); err != nil {
				return err
			}
		}
	}
	for k, l := range p.Levels {
		rec := make([]string, 0, len(p.Columns)+1)
		rec = append(rec, string(l))
		for _, c := range p.Columns {
			rec = append(rec, c.Label[k])
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	for i, ts := range p.Index {
		rec := make([]string, 0, len(p.Columns)+1)
		rec = append(rec, formatTime(ts))
		for _, c := range p.Columns {
			rec = append(rec, formatCell(c.Cells[i]))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

func formatCell(c domain.Cell) string {
	switch {
	case !c.Recorded:
		return ""
	case !c.Valid:
		return missingToken
	default:
		return c.String()
	}
}
