package rates

import (
	"sort"
	"time"

	"featureflow/models"
)

// Anchors used when no published value is available.
const (
	staticBundYield10y = 2.50
	staticEuribor3m    = 3.80
)

type rateChange struct {
	effective string
	rate      float64
}

// ECB main refinancing operations rate, by effective date.
var ecbMainRateHistory = []rateChange{
	{"2007-06-13", 4.00},
	{"2008-07-09", 4.25},
	{"2008-10-15", 3.75},
	{"2008-11-12", 3.25},
	{"2008-12-10", 2.50},
	{"2009-01-21", 2.00},
	{"2009-03-11", 1.50},
	{"2009-04-08", 1.25},
	{"2009-05-13", 1.00},
	{"2011-04-13", 1.25},
	{"2011-07-13", 1.50},
	{"2011-11-09", 1.25},
	{"2011-12-14", 1.00},
	{"2012-07-11", 0.75},
	{"2013-05-08", 0.50},
	{"2013-11-13", 0.25},
	{"2014-06-11", 0.15},
	{"2014-09-10", 0.05},
	{"2016-03-16", 0.00},
	{"2022-07-27", 0.50},
	{"2022-09-14", 1.25},
	{"2022-11-02", 2.00},
	{"2022-12-21", 2.50},
	{"2023-02-08", 3.00},
	{"2023-03-22", 3.50},
	{"2023-05-10", 3.75},
	{"2023-06-21", 4.00},
	{"2023-08-02", 4.25},
	{"2023-09-20", 4.50},
	{"2024-06-12", 4.25},
	{"2024-09-18", 3.65},
	{"2024-10-23", 3.40},
	{"2024-12-18", 3.15},
	{"2025-02-05", 2.90},
	{"2025-03-12", 2.65},
	{"2025-04-23", 2.40},
	{"2025-06-11", 2.15},
}

// StaticValue returns the built-in value of series on d. The ECB rate follows
// its change history; dates before the first entry take the earliest rate.
func StaticValue(series string, d time.Time) float64 {
	switch series {
	case FeatureBundYield10y:
		return staticBundYield10y
	case FeatureEuribor3m:
		return staticEuribor3m
	default:
		day := models.FormatDate(d)
		i := sort.Search(len(ecbMainRateHistory), func(i int) bool {
			return ecbMainRateHistory[i].effective > day
		})
		if i == 0 {
			return ecbMainRateHistory[0].rate
		}
		return ecbMainRateHistory[i-1].rate
	}
}

// staticObservations answers a query with one observation per day.
func staticObservations(q Query) map[string][]Observation {
	days := models.Dates(q.Start, q.End)
	out := make(map[string][]Observation, len(seriesNames))
	for _, name := range seriesNames {
		obs := make([]Observation, 0, len(days))
		for _, d := range days {
			obs = append(obs, Observation{Date: models.FormatDate(d), Value: StaticValue(name, d)})
		}
		out[name] = obs
	}
	return out
}
