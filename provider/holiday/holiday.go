// Package holiday derives public-holiday features for one country. Calendars
// come from Nager.Date, then Calendarific when a key is configured, then a
// built-in national table.
package holiday

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"featureflow/client"
	"featureflow/errs"
	"featureflow/logger"
	"featureflow/models"
	"featureflow/provider"
)

const FamilyName = "holiday"

const (
	FeatureIsHoliday     = "is_holiday"
	FeatureDaysToNext    = "days_to_next_holiday"
	FeatureDaysSinceLast = "days_since_last_holiday"
	FeatureIsHolidayWeek = "is_holiday_week"

	maxDistance       = 365
	holidayWeekRadius = 7
)

const (
	TypePublic   = "public"
	TypeRegional = "regional"
)

// Holiday is one dated entry of a calendar. Date is YYYY-MM-DD.
type Holiday struct {
	Date string `json:"date"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Calendar is a country's holidays for one year and the provider behind them.
type Calendar struct {
	Country  string
	Year     int
	Source   string
	Tier     provider.Tier
	Holidays []Holiday
}

// Contains reports whether d is listed.
func (c Calendar) Contains(d time.Time) bool {
	day := models.FormatDate(d)
	for _, h := range c.Holidays {
		if h.Date == day {
			return true
		}
	}
	return false
}

// Options configures New. Nager and Calendarific may be nil, which disables
// that tier.
type Options struct {
	Country            string
	NagerURL           string
	CalendarificURL    string
	CalendarificAPIKey string
	IncludeRegional    bool
	TTL                time.Duration
	Cooldown           time.Duration
	Nager              *client.Base
	Calendarific       *client.Base
	Log                *logger.Log
}

type Client struct {
	country string
	chain   *provider.Chain[int, []Holiday]
	log     *logger.Log
}

func New(opts Options) (*Client, error) {
	country := strings.ToUpper(strings.TrimSpace(opts.Country))
	if len(country) != 2 {
		return nil, errs.Configuration("holiday", "country code must be ISO 3166-1 alpha-2, got %q", opts.Country)
	}
	if opts.Log == nil {
		opts.Log = logger.GetLogger()
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}

	remotes := []provider.Provider[int, []Holiday]{
		&nager{
			base:            opts.Nager,
			baseURL:         opts.NagerURL,
			country:         country,
			includeRegional: opts.IncludeRegional,
			ttl:             opts.TTL,
		},
		&calendarific{
			base:    opts.Calendarific,
			baseURL: opts.CalendarificURL,
			apiKey:  opts.CalendarificAPIKey,
			country: country,
			ttl:     opts.TTL,
		},
	}
	fallback := provider.NewStatic(models.SourceStatic, staticCalendar(country))

	return &Client{
		country: country,
		chain:   provider.NewChain(FamilyName, opts.Log, opts.Cooldown, fallback, remotes...),
		log:     opts.Log,
	}, nil
}

func (c *Client) Name() string {
	return FamilyName
}

func (c *Client) Country() string {
	return c.country
}

// Providers lists the chain's providers in traversal order.
func (c *Client) Providers() []string {
	return c.chain.Providers()
}

// FeatureNames lists the features every row carries, in column order.
func (c *Client) FeatureNames() []string {
	return []string{FeatureIsHoliday, FeatureDaysToNext, FeatureDaysSinceLast, FeatureIsHolidayWeek}
}

// Holidays resolves the calendar for year through the provider chain. It only
// fails when ctx ends.
func (c *Client) Holidays(ctx context.Context, year int) (Calendar, error) {
	res, err := c.chain.Resolve(ctx, year)
	if err != nil {
		return Calendar{}, err
	}
	return c.calendar(year, res), nil
}

// HolidaysFromTier queries a single tier without falling back.
func (c *Client) HolidaysFromTier(ctx context.Context, year int, tier provider.Tier) (Calendar, error) {
	res, err := c.chain.ResolveTier(ctx, year, tier)
	if err != nil {
		return Calendar{}, err
	}
	return c.calendar(year, res), nil
}

func (c *Client) calendar(year int, res provider.Result[[]Holiday]) Calendar {
	return Calendar{
		Country:  c.country,
		Year:     year,
		Source:   res.Source,
		Tier:     res.Tier,
		Holidays: res.Value,
	}
}

// IsHoliday reports whether d is a public holiday.
func (c *Client) IsHoliday(ctx context.Context, d time.Time) (bool, error) {
	cal, err := c.Holidays(ctx, d.Year())
	if err != nil {
		return false, err
	}
	return cal.Contains(d), nil
}

// Features derives one row per day in [start, end]. Calendars for the
// neighbouring years are included so distances cross year boundaries.
func (c *Client) Features(ctx context.Context, start, end time.Time) ([]models.FamilyRow, error) {
	start, end = models.Day(start), models.Day(end)
	if start.After(end) {
		return nil, fmt.Errorf("%w: start %s after end %s", errs.ErrInvalidInput, models.FormatDate(start), models.FormatDate(end))
	}

	sources := make(map[int]string)
	var days []time.Time
	for year := start.Year() - 1; year <= end.Year()+1; year++ {
		cal, err := c.Holidays(ctx, year)
		if err != nil {
			return nil, err
		}
		sources[year] = cal.Source
		for _, h := range cal.Holidays {
			d, err := models.ParseDate(h.Date)
			if err != nil {
				c.log.WithComponent("holiday").WithError(err).WithField("source", cal.Source).Warn("skipping holiday with bad date")
				continue
			}
			days = append(days, d)
		}
	}
	days = uniqueSorted(days)

	dates := models.Dates(start, end)
	rows := make([]models.FamilyRow, 0, len(dates))
	for _, d := range dates {
		rows = append(rows, models.FamilyRow{
			Date:   d,
			Values: featuresFor(d, days),
			Source: sources[d.Year()],
		})
	}
	return rows, nil
}

// featuresFor computes the feature values for d against sorted holidays.
func featuresFor(d time.Time, holidays []time.Time) map[string]float64 {
	next := sort.Search(len(holidays), func(i int) bool { return !holidays[i].Before(d) })

	isHoliday := next < len(holidays) && holidays[next].Equal(d)

	toNext := maxDistance
	if next < len(holidays) {
		toNext = min(models.DaysBetween(d, holidays[next]), maxDistance)
	}

	sinceLast := maxDistance
	switch {
	case isHoliday:
		sinceLast = 0
	case next > 0:
		sinceLast = min(models.DaysBetween(holidays[next-1], d), maxDistance)
	}

	week := toNext <= holidayWeekRadius || sinceLast <= holidayWeekRadius

	return map[string]float64{
		FeatureIsHoliday:     boolFloat(isHoliday),
		FeatureDaysToNext:    float64(toNext),
		FeatureDaysSinceLast: float64(sinceLast),
		FeatureIsHolidayWeek: boolFloat(week),
	}
}

func uniqueSorted(days []time.Time) []time.Time {
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	out := make([]time.Time, 0, len(days))
	for _, d := range days {
		if len(out) > 0 && d.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
