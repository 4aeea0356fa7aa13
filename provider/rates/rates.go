// Package rates derives interest-rate features: the ECB main refinancing
// rate, the 10-year Bund yield and 3-month Euribor, plus trend and volatility
// of the ECB rate.
package rates

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"featureflow/client"
	"featureflow/errs"
	"featureflow/logger"
	"featureflow/models"
	"featureflow/provider"
)

const FamilyName = "rates"

const (
	FeatureECBMainRate  = "ecb_main_rate"
	FeatureBundYield10y = "bund_yield_10y"
	FeatureEuribor3m    = "euribor_3m"
	FeatureTrend7d      = "rate_trend_7d"
	FeatureTrend30d     = "rate_trend_30d"
	FeatureVolatility   = "rate_volatility"
)

const (
	lookbackDays       = 30
	volatilityWindow   = 30
	defaultMaxFillDays = 62
	roundingPlaces     = 4
)

var seriesNames = []string{FeatureECBMainRate, FeatureBundYield10y, FeatureEuribor3m}

// Observation is one published value. Date is YYYY-MM-DD.
type Observation struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// Query is an inclusive date range.
type Query struct {
	Start time.Time
	End   time.Time
}

// Series holds the observations of every rate for a range, all from one
// provider.
type Series struct {
	Source       string
	Tier         provider.Tier
	Observations map[string][]Observation
}

// Options configures New. Bundesbank and Fred may be nil, which disables
// that tier.
type Options struct {
	BundesbankURL      string
	FredURL            string
	FredAPIKey         string
	MaxForwardFillDays int
	TTL                time.Duration
	Cooldown           time.Duration
	Bundesbank         *client.Base
	Fred               *client.Base
	Log                *logger.Log
}

type Client struct {
	chain       *provider.Chain[Query, map[string][]Observation]
	maxFillDays int
	log         *logger.Log
}

func New(opts Options) *Client {
	if opts.Log == nil {
		opts.Log = logger.GetLogger()
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.MaxForwardFillDays <= 0 {
		opts.MaxForwardFillDays = defaultMaxFillDays
	}

	remotes := []provider.Provider[Query, map[string][]Observation]{
		&bundesbank{base: opts.Bundesbank, baseURL: opts.BundesbankURL, ttl: opts.TTL},
		&fred{base: opts.Fred, baseURL: opts.FredURL, apiKey: opts.FredAPIKey, ttl: opts.TTL},
	}
	fallback := provider.NewStatic(models.SourceStatic, staticObservations)

	return &Client{
		chain:       provider.NewChain(FamilyName, opts.Log, opts.Cooldown, fallback, remotes...),
		maxFillDays: opts.MaxForwardFillDays,
		log:         opts.Log,
	}
}

func (c *Client) Name() string {
	return FamilyName
}

// Providers lists the chain's providers in traversal order.
func (c *Client) Providers() []string {
	return c.chain.Providers()
}

func (c *Client) FeatureNames() []string {
	return []string{
		FeatureECBMainRate,
		FeatureBundYield10y,
		FeatureEuribor3m,
		FeatureTrend7d,
		FeatureTrend30d,
		FeatureVolatility,
	}
}

// Rates fetches every series for [start, end] in one batch per provider.
func (c *Client) Rates(ctx context.Context, start, end time.Time) (Series, error) {
	res, err := c.chain.Resolve(ctx, Query{Start: models.Day(start), End: models.Day(end)})
	if err != nil {
		return Series{}, err
	}
	return Series{Source: res.Source, Tier: res.Tier, Observations: res.Value}, nil
}

// Features derives one row per day in [start, end]. Series are forward
// filled across a daily grid that reaches back far enough for the trend and
// volatility windows. Days with no usable observation take the static value
// and are marked static.
func (c *Client) Features(ctx context.Context, start, end time.Time) ([]models.FamilyRow, error) {
	start, end = models.Day(start), models.Day(end)
	if start.After(end) {
		return nil, fmt.Errorf("%w: start %s after end %s", errs.ErrInvalidInput, models.FormatDate(start), models.FormatDate(end))
	}

	from := start.AddDate(0, 0, -lookbackDays)
	// Reach back a further fill bound so an observation that still covers
	// the first grid day is part of the batch.
	series, err := c.Rates(ctx, from.AddDate(0, 0, -c.maxFillDays), end)
	if err != nil {
		return nil, err
	}

	grid := models.Dates(from, end)
	filled := make(map[string][]float64, len(seriesNames))
	stale := make(map[string][]bool, len(seriesNames))
	for _, name := range seriesNames {
		filled[name], stale[name] = c.forwardFill(name, grid, series.Observations[name])
	}

	ecb := filled[FeatureECBMainRate]
	rows := make([]models.FamilyRow, 0, len(grid)-lookbackDays)
	staleDays := 0
	for i := lookbackDays; i < len(grid); i++ {
		source := series.Source
		for _, name := range seriesNames {
			if stale[name][i] {
				source = models.SourceStatic
			}
		}
		if source == models.SourceStatic && series.Source != models.SourceStatic {
			staleDays++
		}

		rows = append(rows, models.FamilyRow{
			Date: grid[i],
			Values: map[string]float64{
				FeatureECBMainRate:  round(ecb[i]),
				FeatureBundYield10y: round(filled[FeatureBundYield10y][i]),
				FeatureEuribor3m:    round(filled[FeatureEuribor3m][i]),
				FeatureTrend7d:      round(ecb[i] - ecb[i-7]),
				FeatureTrend30d:     round(ecb[i] - ecb[i-30]),
				FeatureVolatility:   round(volatility(ecb[i-volatilityWindow+1 : i+1])),
			},
			Source: source,
		})
	}

	if staleDays > 0 {
		c.log.WithComponent("rates").WithFields(logger.Fields{
			"provider":   series.Source,
			"stale_days": staleDays,
			"max_fill":   c.maxFillDays,
		}).Warn("no fresh observation for some days; using static values")
	}
	return rows, nil
}

// forwardFill carries each observation forward over the grid for at most
// maxFillDays. Days outside that reach get the static value and stale=true.
func (c *Client) forwardFill(name string, grid []time.Time, obs []Observation) ([]float64, []bool) {
	dates := make([]time.Time, 0, len(obs))
	values := make([]float64, 0, len(obs))
	for _, o := range obs {
		d, err := models.ParseDate(o.Date)
		if err != nil {
			continue
		}
		dates = append(dates, d)
		values = append(values, o.Value)
	}

	out := make([]float64, len(grid))
	stale := make([]bool, len(grid))
	j := -1
	for i, g := range grid {
		for j+1 < len(dates) && !dates[j+1].After(g) {
			j++
		}
		if j < 0 || models.DaysBetween(dates[j], g) > c.maxFillDays {
			out[i] = StaticValue(name, g)
			stale[i] = true
			continue
		}
		out[i] = values[j]
	}
	return out, stale
}

// volatility is the sample standard deviation, zero below two points.
func volatility(window []float64) float64 {
	if len(window) < 2 {
		return 0
	}
	return stat.StdDev(window, nil)
}

func round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(roundingPlaces).InexactFloat64()
}
