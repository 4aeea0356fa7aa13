// Package orchestrator merges the feature families into one row per day.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"featureflow/errs"
	"featureflow/internal/metrics"
	"featureflow/logger"
	"featureflow/models"
)

// Family is a group of features served by one provider chain.
type Family interface {
	Name() string
	// FeatureNames is the fixed set of names every row carries.
	FeatureNames() []string
	// Features returns one row per day in [start, end], ascending.
	Features(ctx context.Context, start, end time.Time) ([]models.FamilyRow, error)
}

type Orchestrator struct {
	families []Family
	names    []string
	owner    map[string]string
	log      *logger.Log
}

// New registers families in order; calendar features are appended last. Two
// families declaring the same family or feature name is a configuration error.
func New(log *logger.Log, families ...Family) (*Orchestrator, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	o := &Orchestrator{owner: make(map[string]string), log: log}

	all := append(append([]Family(nil), families...), calendar{})
	seen := make(map[string]bool, len(all))
	for _, f := range all {
		if f == nil {
			continue
		}
		if seen[f.Name()] {
			return nil, errs.Configuration("orchestrator", "family %q registered twice", f.Name())
		}
		seen[f.Name()] = true
		for _, name := range f.FeatureNames() {
			if prev, ok := o.owner[name]; ok {
				return nil, errs.Configuration("orchestrator", "feature %q declared by both %s and %s", name, prev, f.Name())
			}
			o.owner[name] = f.Name()
			o.names = append(o.names, name)
		}
		o.families = append(o.families, f)
	}
	return o, nil
}

// FeatureNames lists every feature a row carries, in column order. It does
// not fetch anything.
func (o *Orchestrator) FeatureNames() []string {
	return append([]string(nil), o.names...)
}

// Families lists family names in registration order.
func (o *Orchestrator) Families() []string {
	out := make([]string, 0, len(o.families))
	for _, f := range o.families {
		out = append(out, f.Name())
	}
	return out
}

// FeaturesForDate returns the merged row for a single day.
func (o *Orchestrator) FeaturesForDate(ctx context.Context, d time.Time) (models.FeatureRow, error) {
	table, err := o.FeaturesForRange(ctx, d, d)
	if err != nil {
		return models.FeatureRow{}, err
	}
	return table.Rows[0], nil
}

// FeaturesForRange asks each family once for the whole range and merges the
// rows by date. The table has one row per day, ascending, with every name.
func (o *Orchestrator) FeaturesForRange(ctx context.Context, start, end time.Time) (*models.FeatureTable, error) {
	start, end = models.Day(start), models.Day(end)
	if start.After(end) {
		return nil, fmt.Errorf("%w: start %s after end %s", errs.ErrInvalidInput, models.FormatDate(start), models.FormatDate(end))
	}

	began := time.Now()
	entry := o.log.WithComponent("orchestrator").WithFields(logger.Fields{
		"start": models.FormatDate(start),
		"end":   models.FormatDate(end),
	})

	dates := models.Dates(start, end)
	rows := make([]models.FeatureRow, len(dates))
	for i, d := range dates {
		rows[i] = models.FeatureRow{
			Date:    d,
			Values:  make(map[string]float64, len(o.names)),
			Sources: make(map[string]string, len(o.families)),
		}
	}

	for _, f := range o.families {
		familyRows, err := f.Features(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("%s features: %w", f.Name(), err)
		}
		fallbackRows, err := o.merge(f, dates, familyRows, rows)
		if err != nil {
			return nil, err
		}
		if fallbackRows > 0 {
			entry.WithFields(logger.Fields{
				"family": f.Name(),
				"rows":   fallbackRows,
			}).Warn("family served from static fallback")
			metrics.EmitMetric(o.log, "orchestrator", "fallback_rows", fallbackRows, metrics.TypeCounter, logger.Fields{"family": f.Name()})
		}
	}

	table := &models.FeatureTable{Names: o.FeatureNames(), Families: o.Families(), Rows: rows}
	if err := table.Validate(); err != nil {
		return nil, errs.Configuration("orchestrator", "merged table is inconsistent: %v", err)
	}

	logger.LogPerformanceEntry(entry, "orchestrator", "features_for_range", time.Since(began), logger.Fields{
		"rows":     table.Len(),
		"features": len(table.Names),
	})
	return table, nil
}

// merge copies one family's rows into the output rows and returns how many
// came from the static fallback.
func (o *Orchestrator) merge(f Family, dates []time.Time, familyRows []models.FamilyRow, rows []models.FeatureRow) (int, error) {
	byDate := make(map[string]models.FamilyRow, len(familyRows))
	for _, r := range familyRows {
		byDate[models.FormatDate(r.Date)] = r
	}

	declared := f.FeatureNames()
	fallback := 0
	for i, d := range dates {
		key := models.FormatDate(d)
		fr, ok := byDate[key]
		if !ok {
			return 0, errs.Configuration("orchestrator", "family %s returned no row for %s", f.Name(), key)
		}
		for name, value := range fr.Values {
			if owner := o.owner[name]; owner != f.Name() {
				return 0, errs.Configuration("orchestrator", "family %s produced feature %q not declared by it", f.Name(), name)
			}
			rows[i].Values[name] = value
		}
		for _, name := range declared {
			if _, ok := fr.Values[name]; !ok {
				return 0, errs.Configuration("orchestrator", "family %s row %s is missing %q", f.Name(), key, name)
			}
		}
		rows[i].Sources[f.Name()] = fr.Source
		if fr.Source == models.SourceStatic {
			fallback++
		}
	}
	return fallback, nil
}
