package models

import (
	"fmt"
	"time"
)

// Provenance values recorded per feature family on every row.
const (
	SourceNager        = "nager"
	SourceCalendarific = "calendarific"
	SourceBundesbank   = "bundesbank"
	SourceFred         = "fred"
	SourceStatic       = "static"
	SourceLocal        = "local"
)

// FamilyRow is one day of features produced by a single feature family.
type FamilyRow struct {
	Date   time.Time
	Values map[string]float64
	Source string
}

// FeatureRow is the merged feature set for one calendar day. Sources maps a
// family name to the provider that supplied its values.
type FeatureRow struct {
	Date    time.Time
	Values  map[string]float64
	Sources map[string]string
}

// Degraded reports whether any family on the row came from static data.
func (r FeatureRow) Degraded() bool {
	for _, src := range r.Sources {
		if src == SourceStatic {
			return true
		}
	}
	return false
}

// FeatureTable is an ordered run of feature rows sharing one schema.
type FeatureTable struct {
	Names    []string
	Families []string
	Rows     []FeatureRow
}

func (t *FeatureTable) Len() int {
	return len(t.Rows)
}

// DateRange returns the first and last row dates. ok is false for an empty table.
func (t *FeatureTable) DateRange() (from, to time.Time, ok bool) {
	if len(t.Rows) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return t.Rows[0].Date, t.Rows[len(t.Rows)-1].Date, true
}

// Index maps each row date, formatted as YYYY-MM-DD, to its position.
func (t *FeatureTable) Index() map[string]int {
	idx := make(map[string]int, len(t.Rows))
	for i, row := range t.Rows {
		idx[FormatDate(row.Date)] = i
	}
	return idx
}

// Validate checks ascending unique dates and that every row carries every name.
func (t *FeatureTable) Validate() error {
	for i, row := range t.Rows {
		if i > 0 && !row.Date.After(t.Rows[i-1].Date) {
			return fmt.Errorf("row %d: date %s not after %s", i, FormatDate(row.Date), FormatDate(t.Rows[i-1].Date))
		}
		for _, name := range t.Names {
			if _, ok := row.Values[name]; !ok {
				return fmt.Errorf("row %s: missing feature %q", FormatDate(row.Date), name)
			}
		}
	}
	return nil
}

// SourceCounts tallies providers per family across the table.
func (t *FeatureTable) SourceCounts() map[string]map[string]int {
	counts := make(map[string]map[string]int, len(t.Families))
	for _, row := range t.Rows {
		for family, src := range row.Sources {
			if counts[family] == nil {
				counts[family] = make(map[string]int)
			}
			counts[family][src]++
		}
	}
	return counts
}

// Table is a plain string table, such as the retail base dataset.
type Table struct {
	Header []string
	Rows   [][]string
}

// Column returns the index of name in the header, or -1.
func (t *Table) Column(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}
