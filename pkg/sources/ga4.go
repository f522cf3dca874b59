package sources

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const ga4Endpoint = "https://analyticsdata.googleapis.com/v1beta"
const ga4AdminEndpoint = "https://analyticsadmin.googleapis.com/v1beta"

// GA4Client reads page-level metrics from the Google Analytics Data API.
// Analytics keys results by page path, not absolute URL.
type GA4Client struct {
	tokens     TokenSource
	client     *http.Client
	propertyID string
	endpoint   string
	adminURL   string
}

// NewGA4Client creates the analytics adapter for one property.
func NewGA4Client(tokens TokenSource, propertyID string) *GA4Client {
	return &GA4Client{
		tokens:     tokens,
		client:     &http.Client{Timeout: 30 * time.Second},
		propertyID: propertyID,
		endpoint:   ga4Endpoint,
		adminURL:   ga4AdminEndpoint,
	}
}

// SetEndpoints overrides the API bases (tests).
func (c *GA4Client) SetEndpoints(data, admin string) {
	c.endpoint = data
	c.adminURL = admin
}

// PageMetrics is one merged current/previous reading for a page path.
type PageMetrics struct {
	PagePath           string
	ActiveUsers        int
	Sessions           int
	PageViews          int
	BounceRate         float64
	AvgSessionDuration float64
	PreviousUsers      int
	PreviousSessions   int
}

type runReportRequest struct {
	DateRanges []ga4DateRange `json:"dateRanges"`
	Dimensions []ga4Name      `json:"dimensions"`
	Metrics    []ga4Name      `json:"metrics"`
	Limit      string         `json:"limit"`
}

type ga4DateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type ga4Name struct {
	Name string `json:"name"`
}

type runReportResponse struct {
	Rows []struct {
		DimensionValues []struct {
			Value string `json:"value"`
		} `json:"dimensionValues"`
		MetricValues []struct {
			Value string `json:"value"`
		} `json:"metricValues"`
	} `json:"rows"`
}

func (c *GA4Client) runReport(ctx context.Context, req runReportRequest) (*runReportResponse, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/properties/%s:runReport", c.endpoint, c.propertyID)
	var resp runReportResponse
	if err := doJSON(ctx, c.client, "ga4", http.MethodPost, url, token, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PagePerformance runs two independent report queries, the current and the
// previous window, and merges them by page path. Paths seen only in the
// previous window still produce a row so traffic collapses are visible.
func (c *GA4Client) PagePerformance(ctx context.Context, current, previous DateRange) ([]PageMetrics, error) {
	dims := []ga4Name{{Name: "pagePath"}}
	metrics := []ga4Name{
		{Name: "activeUsers"}, {Name: "sessions"}, {Name: "screenPageViews"},
		{Name: "bounceRate"}, {Name: "averageSessionDuration"},
	}

	curResp, err := c.runReport(ctx, runReportRequest{
		DateRanges: []ga4DateRange{{StartDate: current.Start, EndDate: current.End}},
		Dimensions: dims, Metrics: metrics, Limit: "1000",
	})
	if err != nil {
		return nil, err
	}
	prevResp, err := c.runReport(ctx, runReportRequest{
		DateRanges: []ga4DateRange{{StartDate: previous.Start, EndDate: previous.End}},
		Dimensions: dims, Metrics: []ga4Name{{Name: "activeUsers"}, {Name: "sessions"}},
		Limit: "1000",
	})
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*PageMetrics)
	for _, row := range curResp.Rows {
		if len(row.DimensionValues) == 0 || len(row.MetricValues) < 5 {
			continue
		}
		path := row.DimensionValues[0].Value
		merged[path] = &PageMetrics{
			PagePath:           path,
			ActiveUsers:        atoi(row.MetricValues[0].Value),
			Sessions:           atoi(row.MetricValues[1].Value),
			PageViews:          atoi(row.MetricValues[2].Value),
			BounceRate:         atof(row.MetricValues[3].Value),
			AvgSessionDuration: atof(row.MetricValues[4].Value),
		}
	}
	for _, row := range prevResp.Rows {
		if len(row.DimensionValues) == 0 || len(row.MetricValues) < 2 {
			continue
		}
		path := row.DimensionValues[0].Value
		m, ok := merged[path]
		if !ok {
			m = &PageMetrics{PagePath: path}
			merged[path] = m
		}
		m.PreviousUsers = atoi(row.MetricValues[0].Value)
		m.PreviousSessions = atoi(row.MetricValues[1].Value)
	}

	out := make([]PageMetrics, 0, len(merged))
	for _, m := range merged {
		out = append(out, *m)
	}
	return out, nil
}

// PageDetail returns daily metrics for one page path over the last days.
type PageDetailRow struct {
	Date        string  `json:"date"`
	ActiveUsers int     `json:"active_users"`
	Sessions    int     `json:"sessions"`
	BounceRate  float64 `json:"bounce_rate"`
}

// PageDetail fetches a per-day series for one page path (agent tool).
func (c *GA4Client) PageDetail(ctx context.Context, pagePath string, days int) ([]PageDetailRow, error) {
	if days <= 0 || days > 30 {
		days = 30
	}
	end := time.Now()
	start := end.AddDate(0, 0, -days)
	resp, err := c.runReport(ctx, runReportRequest{
		DateRanges: []ga4DateRange{{StartDate: start.Format("2006-01-02"), EndDate: end.Format("2006-01-02")}},
		Dimensions: []ga4Name{{Name: "date"}, {Name: "pagePath"}},
		Metrics:    []ga4Name{{Name: "activeUsers"}, {Name: "sessions"}, {Name: "bounceRate"}},
		Limit:      "1000",
	})
	if err != nil {
		return nil, err
	}
	var out []PageDetailRow
	for _, row := range resp.Rows {
		if len(row.DimensionValues) < 2 || len(row.MetricValues) < 3 {
			continue
		}
		if row.DimensionValues[1].Value != pagePath {
			continue
		}
		out = append(out, PageDetailRow{
			Date:        row.DimensionValues[0].Value,
			ActiveUsers: atoi(row.MetricValues[0].Value),
			Sessions:    atoi(row.MetricValues[1].Value),
			BounceRate:  atof(row.MetricValues[2].Value),
		})
	}
	return out, nil
}

// ChannelMetrics is the traffic-source breakdown for one channel group.
type ChannelMetrics struct {
	Channel     string `json:"channel"`
	ActiveUsers int    `json:"active_users"`
	Sessions    int    `json:"sessions"`
}

// knownChannels is the closed channel-group set the breakdown reports.
var knownChannels = map[string]string{
	"Organic Search": "organic",
	"Paid Search":    "paid",
	"Direct":         "direct",
	"Referral":       "referral",
	"Organic Social": "social",
}

// TrafficSources returns the site-wide channel breakdown over the window.
func (c *GA4Client) TrafficSources(ctx context.Context, rng DateRange) ([]ChannelMetrics, error) {
	resp, err := c.runReport(ctx, runReportRequest{
		DateRanges: []ga4DateRange{{StartDate: rng.Start, EndDate: rng.End}},
		Dimensions: []ga4Name{{Name: "sessionDefaultChannelGroup"}},
		Metrics:    []ga4Name{{Name: "activeUsers"}, {Name: "sessions"}},
		Limit:      "50",
	})
	if err != nil {
		return nil, err
	}
	var out []ChannelMetrics
	for _, row := range resp.Rows {
		if len(row.DimensionValues) == 0 || len(row.MetricValues) < 2 {
			continue
		}
		channel, ok := knownChannels[row.DimensionValues[0].Value]
		if !ok {
			continue
		}
		out = append(out, ChannelMetrics{
			Channel:     channel,
			ActiveUsers: atoi(row.MetricValues[0].Value),
			Sessions:    atoi(row.MetricValues[1].Value),
		})
	}
	return out, nil
}

// KeyEvent is one configured conversion event.
type KeyEvent struct {
	EventName string `json:"eventName"`
}

type keyEventsResponse struct {
	KeyEvents []KeyEvent `json:"keyEvents"`
}

// KeyEvents enumerates the property's configured conversion events.
func (c *GA4Client) KeyEvents(ctx context.Context) ([]KeyEvent, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/properties/%s/keyEvents", c.adminURL, c.propertyID)
	var resp keyEventsResponse
	if err := doJSON(ctx, c.client, "ga4", http.MethodGet, url, token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.KeyEvents, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
