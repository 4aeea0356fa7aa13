package holiday

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"featureflow/cache"
	"featureflow/client"
	"featureflow/errs"
	"featureflow/logger"
	"featureflow/models"
	"featureflow/provider"
	"featureflow/ratelimit"
	"featureflow/retry"
)

func day(s string) time.Time {
	d, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newBase(t *testing.T, name string) *client.Base {
	t.Helper()
	log := logger.Logger()
	store, err := cache.NewFileStore(t.TempDir(), log)
	require.NoError(t, err)
	b, err := client.New(client.Options{
		Name:    name,
		Store:   store,
		Limiter: ratelimit.NewWindow(1000, name, log),
		Retry:   retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2},
		Log:     log,
	})
	require.NoError(t, err)
	return b
}

func rowByDate(rows []models.FamilyRow, date string) models.FamilyRow {
	for _, r := range rows {
		if models.FormatDate(r.Date) == date {
			return r
		}
	}
	return models.FamilyRow{}
}

func TestEasterSunday(t *testing.T) {
	cases := map[int]string{
		2000: "2000-04-23",
		2019: "2019-04-21",
		2024: "2024-03-31",
		2025: "2025-04-20",
		2026: "2026-04-05",
	}
	for year, want := range cases {
		assert.Equal(t, want, models.FormatDate(EasterSunday(year)), "year %d", year)
	}
}

func TestStaticHolidaysGermany(t *testing.T) {
	got := StaticHolidays("DE", 2025)
	dates := make([]string, 0, len(got))
	for _, h := range got {
		dates = append(dates, h.Date)
	}
	assert.Equal(t, []string{
		"2025-01-01", "2025-04-18", "2025-04-21", "2025-05-01", "2025-05-29",
		"2025-06-09", "2025-10-03", "2025-12-25", "2025-12-26",
	}, dates)
	assert.NotContains(t, dates, "2025-12-24")
	assert.NotContains(t, dates, "2025-12-31")
}

func TestStaticHolidaysUnknownCountry(t *testing.T) {
	got := StaticHolidays("FR", 2025)
	require.Len(t, got, 3)
	assert.Equal(t, "2025-01-01", got[0].Date)
	assert.Equal(t, "2025-12-26", got[2].Date)
}

func TestFeaturesChristmasScenario(t *testing.T) {
	c, err := New(Options{Country: "DE", Log: logger.Logger()})
	require.NoError(t, err)

	rows, err := c.Features(context.Background(), day("2025-12-24"), day("2025-12-26"))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	eve := rows[0]
	assert.Equal(t, 0.0, eve.Values[FeatureIsHoliday])
	assert.Equal(t, 1.0, eve.Values[FeatureDaysToNext])
	assert.Equal(t, 82.0, eve.Values[FeatureDaysSinceLast])
	assert.Equal(t, 1.0, eve.Values[FeatureIsHolidayWeek])
	assert.Equal(t, models.SourceStatic, eve.Source)

	for _, r := range rows[1:] {
		assert.Equal(t, 1.0, r.Values[FeatureIsHoliday], models.FormatDate(r.Date))
		assert.Equal(t, 0.0, r.Values[FeatureDaysToNext])
		assert.Equal(t, 0.0, r.Values[FeatureDaysSinceLast])
	}
}

func TestFeaturesCrossYearBoundary(t *testing.T) {
	c, err := New(Options{Country: "DE"})
	require.NoError(t, err)

	rows, err := c.Features(context.Background(), day("2024-12-31"), day("2025-01-02"))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, 1.0, rows[0].Values[FeatureDaysToNext])
	assert.Equal(t, 5.0, rows[0].Values[FeatureDaysSinceLast])
	assert.Equal(t, 1.0, rows[1].Values[FeatureIsHoliday])
	assert.Equal(t, 1.0, rows[2].Values[FeatureDaysSinceLast])
}

func TestFeaturesRejectsInvertedRange(t *testing.T) {
	c, err := New(Options{Country: "DE"})
	require.NoError(t, err)
	_, err = c.Features(context.Background(), day("2025-02-01"), day("2025-01-01"))
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestNewRejectsBadCountry(t *testing.T) {
	_, err := New(Options{Country: "GER"})
	assert.True(t, errs.IsConfiguration(err))
}

func nagerServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if !assert.Len(t, parts, 3) || !assert.Equal(t, "PublicHolidays", parts[0]) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		year := parts[1]
		body := []nagerHoliday{
			{Date: year + "-01-01", LocalName: "Neujahr", Global: true},
			{Date: year + "-12-24", LocalName: "Heiligabend", Global: false},
			{Date: year + "-12-25", LocalName: "Erster Weihnachtstag", Global: true},
			{Date: year + "-12-26", LocalName: "Zweiter Weihnachtstag", Global: true},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func TestFeaturesFromNager(t *testing.T) {
	var hits atomic.Int32
	srv := nagerServer(t, &hits)
	defer srv.Close()

	c, err := New(Options{Country: "de", NagerURL: srv.URL, Nager: newBase(t, "nager")})
	require.NoError(t, err)
	ctx := context.Background()

	rows, err := c.Features(ctx, day("2025-12-23"), day("2025-12-26"))
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.EqualValues(t, 3, hits.Load(), "one request per year, neighbours included")

	eve := rowByDate(rows, "2025-12-24")
	assert.Equal(t, models.SourceNager, eve.Source)
	assert.Equal(t, 0.0, eve.Values[FeatureIsHoliday], "regional holidays are excluded by default")
	assert.Equal(t, 1.0, rowByDate(rows, "2025-12-25").Values[FeatureIsHoliday])

	_, err = c.Features(ctx, day("2025-12-23"), day("2025-12-26"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, hits.Load(), "second run is served from cache")
}

func TestNagerIncludeRegional(t *testing.T) {
	var hits atomic.Int32
	srv := nagerServer(t, &hits)
	defer srv.Close()

	c, err := New(Options{Country: "DE", NagerURL: srv.URL, IncludeRegional: true, Nager: newBase(t, "nager")})
	require.NoError(t, err)

	cal, err := c.Holidays(context.Background(), 2025)
	require.NoError(t, err)
	assert.True(t, cal.Contains(day("2025-12-24")))
	assert.Equal(t, TypeRegional, cal.Holidays[1].Type)
}

func TestFallbackWhenRemotesUnavailable(t *testing.T) {
	var nagerHits, calHits atomic.Int32
	nagerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nagerHits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer nagerSrv.Close()
	calSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calHits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer calSrv.Close()

	c, err := New(Options{
		Country:            "DE",
		NagerURL:           nagerSrv.URL,
		CalendarificURL:    calSrv.URL,
		CalendarificAPIKey: "secret",
		Cooldown:           time.Minute,
		Nager:              newBase(t, "nager"),
		Calendarific:       newBase(t, "calendarific"),
	})
	require.NoError(t, err)

	rows, err := c.Features(context.Background(), day("2025-12-24"), day("2025-12-26"))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Equal(t, models.SourceStatic, r.Source)
		assert.Len(t, r.Values, len(c.FeatureNames()))
	}
	assert.EqualValues(t, 3, nagerHits.Load(), "cooldown skips nager after the first exhausted year")
	assert.EqualValues(t, 3, calHits.Load(), "cooldown skips calendarific after the first exhausted year")
}

func TestCalendarificNationalOnly(t *testing.T) {
	nagerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer nagerSrv.Close()
	calSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		year := r.URL.Query().Get("year")
		fmt.Fprintf(w, `{"response":{"holidays":[
			{"name":"New Year's Day","date":{"iso":"%[1]s-01-01"},"type":["National holiday"]},
			{"name":"Valentine's Day","date":{"iso":"%[1]s-02-14"},"type":["Observance"]},
			{"name":"Christmas Day","date":{"iso":"%[1]s-12-25T00:00:00+01:00"},"type":["National holiday"]}
		]}}`, year)
	}))
	defer calSrv.Close()

	c, err := New(Options{
		Country:            "DE",
		NagerURL:           nagerSrv.URL,
		CalendarificURL:    calSrv.URL,
		CalendarificAPIKey: "secret",
		Nager:              newBase(t, "nager"),
		Calendarific:       newBase(t, "calendarific"),
	})
	require.NoError(t, err)

	cal, err := c.Holidays(context.Background(), 2025)
	require.NoError(t, err)
	assert.Equal(t, models.SourceCalendarific, cal.Source)
	assert.Equal(t, provider.TierSecondary, cal.Tier)
	require.Len(t, cal.Holidays, 2)
	assert.Equal(t, "2025-12-25", cal.Holidays[1].Date)
	assert.False(t, cal.Contains(day("2025-02-14")))
}

func TestHolidaysFromTier(t *testing.T) {
	c, err := New(Options{Country: "DE", NagerURL: "http://unused", Nager: newBase(t, "nager")})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.HolidaysFromTier(ctx, 2025, provider.TierSecondary)
	assert.True(t, errs.IsConfiguration(err), "calendarific without a key is a configuration error")

	cal, err := c.HolidaysFromTier(ctx, 2025, provider.TierFallback)
	require.NoError(t, err)
	assert.Equal(t, models.SourceStatic, cal.Source)
	assert.Len(t, cal.Holidays, 9)
}
