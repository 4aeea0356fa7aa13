package rates

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
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
		Retry:   retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2},
		Log:     log,
	})
	require.NoError(t, err)
	return b
}

// bundesbankServer serves a semicolon CSV per series. value reports the
// observation for a code on a day, or false to omit the day.
func bundesbankServer(t *testing.T, hits *atomic.Int32, value func(code string, d time.Time) (float64, bool)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, sdmxCSVAccept, r.Header.Get("Accept"))
		assert.Equal(t, "dataonly", r.URL.Query().Get("detail"))
		code := path.Base(r.URL.Path)
		start, err := models.ParseDate(r.URL.Query().Get("startPeriod"))
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		end, err := models.ParseDate(r.URL.Query().Get("endPeriod"))
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		fmt.Fprintln(w, "BBK_STD_SERIES;TIME_PERIOD;OBS_VALUE;BBK_OBS_STATUS")
		for _, d := range models.Dates(start, end) {
			if v, ok := value(code, d); ok {
				fmt.Fprintf(w, "BBK01.%s;%s;%s;A\n", code, models.FormatDate(d), commaDecimal(v))
			}
		}
	}))
}

func commaDecimal(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	return s[:len(s)-3] + "," + s[len(s)-2:]
}

func unavailableServer(hits *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
}

func TestStaticValueFollowsECBHistory(t *testing.T) {
	assert.Equal(t, 0.05, StaticValue(FeatureECBMainRate, day("2016-03-15")))
	assert.Equal(t, 0.00, StaticValue(FeatureECBMainRate, day("2016-03-16")))
	assert.Equal(t, 4.50, StaticValue(FeatureECBMainRate, day("2024-01-15")))
	assert.Equal(t, 2.15, StaticValue(FeatureECBMainRate, day("2025-11-01")))
	assert.Equal(t, 4.00, StaticValue(FeatureECBMainRate, day("2001-01-01")))
	assert.Equal(t, 2.50, StaticValue(FeatureBundYield10y, day("2025-01-01")))
	assert.Equal(t, 3.80, StaticValue(FeatureEuribor3m, day("2025-01-01")))
}

func TestParseSDMXCSV(t *testing.T) {
	t.Run("comma separated", func(t *testing.T) {
		body := "\ufeffKEY,TIME_PERIOD,OBS_VALUE\nBBK01.SU0202,2025-01-02,3.15\nBBK01.SU0202,2025-01-01,.\nBBK01.SU0202,2025-01-03,\n"
		obs, err := parseSDMXCSV([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, []Observation{{Date: "2025-01-02", Value: 3.15}}, obs)
	})

	t.Run("semicolon with decimal comma and monthly periods", func(t *testing.T) {
		body := "TIME_PERIOD;OBS_VALUE\n2024-12;2,91\n2024-11;3,01\n"
		obs, err := parseSDMXCSV([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, []Observation{
			{Date: "2024-11-01", Value: 3.01},
			{Date: "2024-12-01", Value: 2.91},
		}, obs)
	})

	t.Run("missing columns", func(t *testing.T) {
		_, err := parseSDMXCSV([]byte("DATE,VALUE\n2025-01-01,1\n"))
		assert.Error(t, err)
	})

	t.Run("empty body", func(t *testing.T) {
		obs, err := parseSDMXCSV(nil)
		require.NoError(t, err)
		assert.Empty(t, obs)
	})
}

func TestFeaturesFromBundesbank(t *testing.T) {
	var hits atomic.Int32
	srv := bundesbankServer(t, &hits, func(code string, d time.Time) (float64, bool) {
		switch code {
		case "SU0202":
			if d.Before(day("2024-12-18")) {
				return 3.40, true
			}
			return 3.15, true
		case "WU3706":
			return 2.21, true
		default:
			return 2.85, true
		}
	})
	defer srv.Close()

	c := New(Options{BundesbankURL: srv.URL, Bundesbank: newBase(t, "bundesbank")})
	ctx := context.Background()

	rows, err := c.Features(ctx, day("2024-12-18"), day("2024-12-20"))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.EqualValues(t, 3, hits.Load(), "one request per series")

	first := rows[0]
	assert.Equal(t, models.SourceBundesbank, first.Source)
	assert.Equal(t, 3.15, first.Values[FeatureECBMainRate])
	assert.Equal(t, 2.21, first.Values[FeatureBundYield10y])
	assert.Equal(t, 2.85, first.Values[FeatureEuribor3m])
	assert.Equal(t, -0.25, first.Values[FeatureTrend7d])
	assert.Equal(t, -0.25, first.Values[FeatureTrend30d])
	assert.Equal(t, 0.0456, first.Values[FeatureVolatility])
	assert.Equal(t, 0.0763, rows[2].Values[FeatureVolatility])

	for _, r := range rows {
		assert.Len(t, r.Values, len(c.FeatureNames()))
	}

	_, err = c.Features(ctx, day("2024-12-18"), day("2024-12-20"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, hits.Load(), "repeat range is served from cache")
}

func TestFeaturesBeforeFirstObservation(t *testing.T) {
	var hits atomic.Int32
	srv := bundesbankServer(t, &hits, func(code string, d time.Time) (float64, bool) {
		return 3.15, !d.Before(day("2024-12-05"))
	})
	defer srv.Close()

	c := New(Options{BundesbankURL: srv.URL, Bundesbank: newBase(t, "bundesbank")})
	rows, err := c.Features(context.Background(), day("2024-12-01"), day("2024-12-10"))
	require.NoError(t, err)
	require.Len(t, rows, 10)

	for _, r := range rows {
		require.Len(t, r.Values, len(c.FeatureNames()), models.FormatDate(r.Date))
		if r.Date.Before(day("2024-12-05")) {
			assert.Equal(t, models.SourceStatic, r.Source, models.FormatDate(r.Date))
			assert.Equal(t, StaticValue(FeatureECBMainRate, r.Date), r.Values[FeatureECBMainRate])
		} else {
			assert.Equal(t, models.SourceBundesbank, r.Source, models.FormatDate(r.Date))
		}
	}
}

func TestFeaturesStaleGapUsesStaticValues(t *testing.T) {
	var hits atomic.Int32
	srv := bundesbankServer(t, &hits, func(code string, d time.Time) (float64, bool) {
		return 9.99, models.FormatDate(d) == "2024-05-02"
	})
	defer srv.Close()

	c := New(Options{BundesbankURL: srv.URL, MaxForwardFillDays: 62, Bundesbank: newBase(t, "bundesbank")})
	rows, err := c.Features(context.Background(), day("2024-06-01"), day("2024-07-04"))
	require.NoError(t, err)
	require.Len(t, rows, 34)

	byDate := make(map[string]models.FamilyRow, len(rows))
	for _, r := range rows {
		byDate[models.FormatDate(r.Date)] = r
	}

	assert.Equal(t, models.SourceBundesbank, byDate["2024-06-01"].Source)
	assert.Equal(t, 9.99, byDate["2024-06-01"].Values[FeatureECBMainRate])
	assert.Equal(t, models.SourceBundesbank, byDate["2024-07-03"].Source, "62 days after the observation is still filled")

	beyond := byDate["2024-07-04"]
	assert.Equal(t, models.SourceStatic, beyond.Source, "63 days is beyond the fill limit")
	assert.Equal(t, 4.25, beyond.Values[FeatureECBMainRate])
	assert.Equal(t, 2.50, beyond.Values[FeatureBundYield10y])
}

func TestFeaturesFillsFromObservationBeforeLookback(t *testing.T) {
	var hits atomic.Int32
	var earliest atomic.Value
	srv := bundesbankServer(t, &hits, func(code string, d time.Time) (float64, bool) {
		if prev, ok := earliest.Load().(time.Time); !ok || d.Before(prev) {
			earliest.Store(d)
		}
		return 9.99, models.FormatDate(d) == "2025-08-22"
	})
	defer srv.Close()

	c := New(Options{BundesbankURL: srv.URL, MaxForwardFillDays: 62, Bundesbank: newBase(t, "bundesbank")})
	rows, err := c.Features(context.Background(), day("2025-10-01"), day("2025-10-01"))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, models.SourceBundesbank, row.Source, "40 days after the observation is within the fill bound")
	assert.Equal(t, 9.99, row.Values[FeatureECBMainRate])
	assert.Equal(t, 9.99, row.Values[FeatureBundYield10y])
	assert.Equal(t, 0.0, row.Values[FeatureTrend7d])
	assert.Equal(t, 0.0, row.Values[FeatureTrend30d])
	assert.True(t, earliest.Load().(time.Time).Before(day("2025-08-22")), "fetch window must reach the observation")
}

func TestFeaturesFallbackWhenUnavailable(t *testing.T) {
	var bbkHits, fredHits atomic.Int32
	bbk := unavailableServer(&bbkHits)
	defer bbk.Close()
	fredSrv := unavailableServer(&fredHits)
	defer fredSrv.Close()

	c := New(Options{
		BundesbankURL: bbk.URL,
		FredURL:       fredSrv.URL,
		FredAPIKey:    "key",
		Bundesbank:    newBase(t, "bundesbank"),
		Fred:          newBase(t, "fred"),
	})
	rows, err := c.Features(context.Background(), day("2025-06-09"), day("2025-06-12"))
	require.NoError(t, err)
	require.Len(t, rows, 4)

	for _, r := range rows {
		assert.Equal(t, models.SourceStatic, r.Source)
		assert.Len(t, r.Values, len(c.FeatureNames()))
	}
	assert.Equal(t, 2.40, rows[0].Values[FeatureECBMainRate])
	assert.Equal(t, 2.15, rows[2].Values[FeatureECBMainRate])
	assert.Equal(t, -0.25, rows[2].Values[FeatureTrend7d])
	assert.EqualValues(t, 2, bbkHits.Load())
	assert.EqualValues(t, 2, fredHits.Load())
}

func TestFredSecondary(t *testing.T) {
	var bbkHits atomic.Int32
	bbk := unavailableServer(&bbkHits)
	defer bbk.Close()

	fredSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/series/observations", r.URL.Path)
		assert.Equal(t, "key", r.URL.Query().Get("api_key"))
		fmt.Fprint(w, `{"observations":[
			{"date":"2025-01-01","value":"3.00"},
			{"date":"2025-01-10","value":"."},
			{"date":"2025-01-20","value":"2.90"}
		]}`)
	}))
	defer fredSrv.Close()

	c := New(Options{
		BundesbankURL: bbk.URL,
		FredURL:       fredSrv.URL,
		FredAPIKey:    "key",
		Bundesbank:    newBase(t, "bundesbank"),
		Fred:          newBase(t, "fred"),
	})
	series, err := c.Rates(context.Background(), day("2025-01-01"), day("2025-01-31"))
	require.NoError(t, err)
	assert.Equal(t, models.SourceFred, series.Source)
	assert.Equal(t, []Observation{{Date: "2025-01-01", Value: 3.00}, {Date: "2025-01-20", Value: 2.90}}, series.Observations[FeatureECBMainRate])
}

func TestFeaturesRejectsInvertedRange(t *testing.T) {
	c := New(Options{})
	_, err := c.Features(context.Background(), day("2025-02-01"), day("2025-01-01"))
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}
