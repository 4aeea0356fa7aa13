package snapshot

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"featureflow/errs"
	"featureflow/models"
	"featureflow/writer"
)

const maxMissingListed = 10

// CombineWithBase left-joins features onto base by its date column. Feature
// rows for dates absent from base are dropped. Every base date must have a
// feature row, otherwise errs.ErrIncompleteCoverage names the missing dates.
func CombineWithBase(base *models.Table, dateColumn string, features *models.FeatureTable) (*models.Table, error) {
	idx := base.Column(dateColumn)
	if idx < 0 {
		return nil, fmt.Errorf("%w: base table has no column %q", errs.ErrInvalidInput, dateColumn)
	}

	extra := make([]string, 0, len(features.Names)+len(features.Families))
	extra = append(extra, features.Names...)
	for _, family := range features.Families {
		extra = append(extra, writer.SourceColumn(family))
	}
	for _, col := range extra {
		if base.Column(col) >= 0 {
			return nil, fmt.Errorf("%w: column %q exists in base table", errs.ErrInvalidInput, col)
		}
	}

	header := make([]string, 0, len(base.Header)+len(extra))
	header = append(header, base.Header...)
	header = append(header, extra...)

	byDate := features.Index()
	missing := make(map[string]bool)
	out := &models.Table{Header: header, Rows: make([][]string, 0, len(base.Rows))}
	for i, rec := range base.Rows {
		if idx >= len(rec) {
			return nil, fmt.Errorf("%w: base row %d has no %s value", errs.ErrInvalidInput, i+1, dateColumn)
		}
		d, err := models.ParseDate(strings.TrimSpace(rec[idx]))
		if err != nil {
			return nil, fmt.Errorf("%w: base row %d: %v", errs.ErrInvalidInput, i+1, err)
		}
		key := models.FormatDate(d)
		pos, ok := byDate[key]
		if !ok {
			missing[key] = true
			continue
		}

		row := features.Rows[pos]
		combined := make([]string, 0, len(header))
		combined = append(combined, rec...)
		for len(combined) < len(base.Header) {
			combined = append(combined, "")
		}
		for _, name := range features.Names {
			combined = append(combined, strconv.FormatFloat(row.Values[name], 'f', -1, 64))
		}
		for _, family := range features.Families {
			combined = append(combined, row.Sources[family])
		}
		out.Rows = append(out.Rows, combined)
	}

	if len(missing) > 0 {
		dates := make([]string, 0, len(missing))
		for d := range missing {
			dates = append(dates, d)
		}
		sort.Strings(dates)
		listed := dates
		if len(listed) > maxMissingListed {
			listed = listed[:maxMissingListed]
		}
		return nil, fmt.Errorf("%w: %d base dates without features: %s", errs.ErrIncompleteCoverage, len(dates), strings.Join(listed, ", "))
	}
	return out, nil
}
