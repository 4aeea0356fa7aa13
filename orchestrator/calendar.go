package orchestrator

import (
	"context"
	"time"

	"featureflow/models"
)

const CalendarFamily = "calendar"

const (
	FeatureDayOfWeek    = "day_of_week"
	FeatureDayOfMonth   = "day_of_month"
	FeatureMonth        = "month"
	FeatureQuarter      = "quarter"
	FeatureWeekOfYear   = "week_of_year"
	FeatureIsWeekend    = "is_weekend"
	FeatureIsMonthStart = "is_month_start"
	FeatureIsMonthEnd   = "is_month_end"
)

// calendar derives date-only features locally. It never fails.
type calendar struct{}

func (calendar) Name() string {
	return CalendarFamily
}

func (calendar) FeatureNames() []string {
	return []string{
		FeatureDayOfWeek,
		FeatureDayOfMonth,
		FeatureMonth,
		FeatureQuarter,
		FeatureWeekOfYear,
		FeatureIsWeekend,
		FeatureIsMonthStart,
		FeatureIsMonthEnd,
	}
}

func (c calendar) Features(_ context.Context, start, end time.Time) ([]models.FamilyRow, error) {
	dates := models.Dates(start, end)
	rows := make([]models.FamilyRow, 0, len(dates))
	for _, d := range dates {
		rows = append(rows, models.FamilyRow{Date: d, Values: calendarValues(d), Source: models.SourceLocal})
	}
	return rows, nil
}

func calendarValues(d time.Time) map[string]float64 {
	// Monday is 0.
	weekday := (int(d.Weekday()) + 6) % 7
	_, week := d.ISOWeek()
	return map[string]float64{
		FeatureDayOfWeek:    float64(weekday),
		FeatureDayOfMonth:   float64(d.Day()),
		FeatureMonth:        float64(d.Month()),
		FeatureQuarter:      float64((int(d.Month())-1)/3 + 1),
		FeatureWeekOfYear:   float64(week),
		FeatureIsWeekend:    flag(weekday >= 5),
		FeatureIsMonthStart: flag(d.Day() <= 7),
		FeatureIsMonthEnd:   flag(d.Day() >= 24),
	}
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
