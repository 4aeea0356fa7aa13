package rates

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"featureflow/client"
	"featureflow/errs"
	"featureflow/models"
	"featureflow/provider"
)

const sdmxCSVAccept = "application/vnd.sdmx.data+csv;version=1.0.0"

var bundesbankSeries = map[string]string{
	FeatureECBMainRate:  "SU0202",
	FeatureBundYield10y: "WU3706",
	FeatureEuribor3m:    "SU0206",
}

var fredSeries = map[string]string{
	FeatureECBMainRate:  "ECBMRRFR",
	FeatureBundYield10y: "IRLTLT01DEM156N",
	FeatureEuribor3m:    "IR3TIB01EZM156N",
}

// fetchSeries runs fetch once per series code. Every series goes through the
// cache on its own key. At least one observation overall is required.
func fetchSeries(ctx context.Context, base *client.Base, source string, codes map[string]string, q Query, ttl time.Duration,
	fetch func(ctx context.Context, code string) ([]Observation, error)) (map[string][]Observation, error) {
	from, to := models.FormatDate(q.Start), models.FormatDate(q.End)
	out := make(map[string][]Observation, len(codes))
	total := 0
	for _, name := range seriesNames {
		code := codes[name]
		key := fmt.Sprintf("rates:%s:%s:%s:%s", source, code, from, to)
		obs, err := client.FetchJSON(ctx, base, key, ttl, func(ctx context.Context) ([]Observation, error) {
			return fetch(ctx, code)
		})
		if err != nil {
			return nil, err
		}
		out[name] = obs
		total += len(obs)
	}
	if total == 0 {
		return nil, errs.WrapInvalid(fmt.Errorf("no observations between %s and %s", from, to), source, "fetch", "empty series")
	}
	return out, nil
}

// bundesbank is the keyless primary tier backed by the Bundesbank SDMX API.
type bundesbank struct {
	base    *client.Base
	baseURL string
	ttl     time.Duration
}

func (b *bundesbank) Name() string        { return models.SourceBundesbank }
func (b *bundesbank) Tier() provider.Tier { return provider.TierPrimary }
func (b *bundesbank) Enabled() bool       { return b.base != nil && b.baseURL != "" }

func (b *bundesbank) FetchFor(ctx context.Context, q Query) (map[string][]Observation, error) {
	return fetchSeries(ctx, b.base, b.Name(), bundesbankSeries, q, b.ttl, func(ctx context.Context, code string) ([]Observation, error) {
		params := url.Values{}
		params.Set("startPeriod", models.FormatDate(q.Start))
		params.Set("endPeriod", models.FormatDate(q.End))
		params.Set("detail", "dataonly")
		endpoint := fmt.Sprintf("%s/BBK01/%s?%s", strings.TrimRight(b.baseURL, "/"), code, params.Encode())

		header := http.Header{}
		header.Set("Accept", sdmxCSVAccept)
		body, err := b.base.GetBody(ctx, endpoint, header)
		if err != nil {
			return nil, err
		}
		obs, err := parseSDMXCSV(body)
		if err != nil {
			return nil, errs.WrapInvalid(err, b.Name(), "parse", "series "+code)
		}
		return obs, nil
	})
}

// parseSDMXCSV reads TIME_PERIOD and OBS_VALUE columns. The separator may be
// a comma or a semicolon; with semicolons, values may use decimal commas.
// Monthly periods map to the first of the month.
func parseSDMXCSV(body []byte) ([]Observation, error) {
	body = bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(body)) == 0 {
		return []Observation{}, nil
	}

	firstLine := body
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		firstLine = body[:i]
	}
	sep := ','
	if bytes.Count(firstLine, []byte(";")) > bytes.Count(firstLine, []byte(",")) {
		sep = ';'
	}

	r := csv.NewReader(bytes.NewReader(body))
	r.Comma = sep
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	timeIdx, valueIdx := -1, -1
	for i, h := range header {
		switch strings.ToUpper(strings.TrimSpace(h)) {
		case "TIME_PERIOD":
			timeIdx = i
		case "OBS_VALUE":
			valueIdx = i
		}
	}
	if timeIdx < 0 || valueIdx < 0 {
		return nil, fmt.Errorf("missing TIME_PERIOD or OBS_VALUE column in header %v", header)
	}

	obs := []Observation{}
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		if len(record) <= timeIdx || len(record) <= valueIdx {
			continue
		}
		d, ok := parsePeriod(strings.TrimSpace(record[timeIdx]))
		if !ok {
			continue
		}
		raw := strings.TrimSpace(record[valueIdx])
		if sep == ';' {
			raw = strings.Replace(raw, ",", ".", 1)
		}
		v, ok := parseValue(raw)
		if !ok {
			continue
		}
		obs = append(obs, Observation{Date: models.FormatDate(d), Value: v})
	}
	sort.Slice(obs, func(i, j int) bool { return obs[i].Date < obs[j].Date })
	return obs, nil
}

func parsePeriod(s string) (time.Time, bool) {
	switch len(s) {
	case len(models.DateLayout):
		d, err := models.ParseDate(s)
		return d, err == nil
	case len("2006-01"):
		d, err := time.Parse("2006-01", s)
		return d, err == nil
	default:
		return time.Time{}, false
	}
}

// parseValue skips the markers providers use for missing observations.
func parseValue(raw string) (float64, bool) {
	if raw == "" || raw == "." || strings.EqualFold(raw, "nan") {
		return 0, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}

type fredResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// fred is the secondary tier. It needs an API key.
type fred struct {
	base    *client.Base
	baseURL string
	apiKey  string
	ttl     time.Duration
}

func (f *fred) Name() string        { return models.SourceFred }
func (f *fred) Tier() provider.Tier { return provider.TierSecondary }
func (f *fred) Enabled() bool       { return f.base != nil && f.apiKey != "" && f.baseURL != "" }

func (f *fred) FetchFor(ctx context.Context, q Query) (map[string][]Observation, error) {
	return fetchSeries(ctx, f.base, f.Name(), fredSeries, q, f.ttl, func(ctx context.Context, code string) ([]Observation, error) {
		params := url.Values{}
		params.Set("series_id", code)
		params.Set("api_key", f.apiKey)
		params.Set("file_type", "json")
		params.Set("observation_start", models.FormatDate(q.Start))
		params.Set("observation_end", models.FormatDate(q.End))
		endpoint := strings.TrimRight(f.baseURL, "/") + "/series/observations?" + params.Encode()

		var resp fredResponse
		if err := f.base.GetJSON(ctx, endpoint, nil, &resp); err != nil {
			return nil, err
		}
		obs := make([]Observation, 0, len(resp.Observations))
		for _, o := range resp.Observations {
			d, err := models.ParseDate(o.Date)
			if err != nil {
				return nil, errs.WrapInvalid(err, f.Name(), "parse", "series "+code)
			}
			v, ok := parseValue(strings.TrimSpace(o.Value))
			if !ok {
				continue
			}
			obs = append(obs, Observation{Date: models.FormatDate(d), Value: v})
		}
		sort.Slice(obs, func(i, j int) bool { return obs[i].Date < obs[j].Date })
		return obs, nil
	})
}
