package models

import (
	"testing"
	"time"
)

func date(s string) time.Time {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestDatesInclusive(t *testing.T) {
	days := Dates(date("2024-02-27"), date("2024-03-01"))
	if len(days) != 4 {
		t.Fatalf("expected 4 days across leap day, got %d", len(days))
	}
	if FormatDate(days[2]) != "2024-02-29" {
		t.Fatalf("unexpected third day: %s", FormatDate(days[2]))
	}
	if Dates(date("2024-03-02"), date("2024-03-01")) != nil {
		t.Fatalf("reversed range must be empty")
	}
}

func TestParseDateTruncatesTimestamps(t *testing.T) {
	d, err := ParseDate("2025-03-30T02:00:00+01:00")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if FormatDate(d) != "2025-03-30" {
		t.Fatalf("unexpected date: %s", FormatDate(d))
	}
}

func TestDaysBetweenIgnoresClockTime(t *testing.T) {
	a := time.Date(2025, 12, 24, 23, 59, 0, 0, time.UTC)
	b := time.Date(2025, 12, 25, 0, 1, 0, 0, time.UTC)
	if got := DaysBetween(a, b); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := DaysBetween(b, a); got != -1 {
		t.Fatalf("expected -1, got %d", got)
	}
}

func TestFeatureTableValidate(t *testing.T) {
	table := FeatureTable{
		Names: []string{"is_holiday"},
		Rows: []FeatureRow{
			{Date: date("2025-01-01"), Values: map[string]float64{"is_holiday": 1}},
			{Date: date("2025-01-02"), Values: map[string]float64{"is_holiday": 0}},
		},
	}
	if err := table.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	table.Rows[1].Date = date("2025-01-01")
	if err := table.Validate(); err == nil {
		t.Fatalf("expected duplicate date error")
	}

	table.Rows[1] = FeatureRow{Date: date("2025-01-03"), Values: map[string]float64{}}
	if err := table.Validate(); err == nil {
		t.Fatalf("expected missing feature error")
	}
}

func TestFeatureRowDegraded(t *testing.T) {
	row := FeatureRow{Sources: map[string]string{"holiday": SourceNager, "rates": SourceStatic}}
	if !row.Degraded() {
		t.Fatalf("static source should mark row degraded")
	}
	row.Sources["rates"] = SourceBundesbank
	if row.Degraded() {
		t.Fatalf("remote sources should not be degraded")
	}
}
