package holiday

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"featureflow/client"
	"featureflow/errs"
	"featureflow/models"
	"featureflow/provider"
)

type nagerHoliday struct {
	Date      string   `json:"date"`
	LocalName string   `json:"localName"`
	Name      string   `json:"name"`
	Global    bool     `json:"global"`
	Types     []string `json:"types"`
}

// nager is the keyless primary tier backed by Nager.Date.
type nager struct {
	base            *client.Base
	baseURL         string
	country         string
	includeRegional bool
	ttl             time.Duration
}

func (n *nager) Name() string        { return models.SourceNager }
func (n *nager) Tier() provider.Tier { return provider.TierPrimary }
func (n *nager) Enabled() bool       { return n.base != nil && n.baseURL != "" }

func (n *nager) FetchFor(ctx context.Context, year int) ([]Holiday, error) {
	key := fmt.Sprintf("holidays:nager:%s:%d", n.country, year)
	if n.includeRegional {
		key += ":regional"
	}
	return client.FetchJSON(ctx, n.base, key, n.ttl, func(ctx context.Context) ([]Holiday, error) {
		endpoint := fmt.Sprintf("%s/PublicHolidays/%d/%s", strings.TrimRight(n.baseURL, "/"), year, url.PathEscape(n.country))

		var raw []nagerHoliday
		if err := n.base.GetJSON(ctx, endpoint, nil, &raw); err != nil {
			return nil, err
		}

		out := make([]Holiday, 0, len(raw))
		for _, h := range raw {
			if !h.Global && !n.includeRegional {
				continue
			}
			typ := TypePublic
			if !h.Global {
				typ = TypeRegional
			}
			name := h.LocalName
			if name == "" {
				name = h.Name
			}
			out = append(out, Holiday{Date: h.Date, Name: name, Type: typ})
		}
		return normalize(out, n.Name(), year)
	})
}

type calendarificResponse struct {
	Response struct {
		Holidays []struct {
			Name string `json:"name"`
			Date struct {
				ISO string `json:"iso"`
			} `json:"date"`
			Type []string `json:"type"`
		} `json:"holidays"`
	} `json:"response"`
}

// calendarific is the secondary tier. It needs an API key.
type calendarific struct {
	base    *client.Base
	baseURL string
	apiKey  string
	country string
	ttl     time.Duration
}

func (c *calendarific) Name() string        { return models.SourceCalendarific }
func (c *calendarific) Tier() provider.Tier { return provider.TierSecondary }
func (c *calendarific) Enabled() bool       { return c.base != nil && c.apiKey != "" && c.baseURL != "" }

func (c *calendarific) FetchFor(ctx context.Context, year int) ([]Holiday, error) {
	key := fmt.Sprintf("holidays:calendarific:%s:%d", c.country, year)
	return client.FetchJSON(ctx, c.base, key, c.ttl, func(ctx context.Context) ([]Holiday, error) {
		q := url.Values{}
		q.Set("api_key", c.apiKey)
		q.Set("country", c.country)
		q.Set("year", strconv.Itoa(year))
		endpoint := strings.TrimRight(c.baseURL, "/") + "/holidays?" + q.Encode()

		var resp calendarificResponse
		if err := c.base.GetJSON(ctx, endpoint, nil, &resp); err != nil {
			return nil, err
		}

		out := make([]Holiday, 0, len(resp.Response.Holidays))
		for _, h := range resp.Response.Holidays {
			if !isNational(h.Type) {
				continue
			}
			out = append(out, Holiday{Date: h.Date.ISO, Name: h.Name, Type: TypePublic})
		}
		return normalize(out, c.Name(), year)
	})
}

func isNational(types []string) bool {
	for _, t := range types {
		if strings.Contains(strings.ToLower(t), "national") {
			return true
		}
	}
	return false
}

// normalize trims dates to YYYY-MM-DD, drops duplicates and sorts. An empty
// calendar is rejected so the chain moves on to the next tier.
func normalize(in []Holiday, source string, year int) ([]Holiday, error) {
	seen := make(map[string]bool, len(in))
	out := make([]Holiday, 0, len(in))
	for _, h := range in {
		d, err := models.ParseDate(h.Date)
		if err != nil {
			return nil, errs.WrapInvalid(err, source, "parse", "bad holiday date")
		}
		h.Date = models.FormatDate(d)
		if seen[h.Date] {
			continue
		}
		seen[h.Date] = true
		out = append(out, h)
	}
	if len(out) == 0 {
		return nil, errs.WrapInvalid(fmt.Errorf("no holidays for %d", year), source, "parse", "empty calendar")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}
