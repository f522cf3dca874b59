package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const gscEndpoint = "https://www.googleapis.com/webmasters/v3"

// GSCClient reads per-page search performance from the Search Console
// Search Analytics API. Position semantics: lower is better; the change
// field flips sign so that positive means improved.
type GSCClient struct {
	tokens   TokenSource
	client   *http.Client
	siteURL  string
	endpoint string
}

// NewGSCClient creates the search-index adapter for one verified site.
func NewGSCClient(tokens TokenSource, siteURL string) *GSCClient {
	return &GSCClient{
		tokens:   tokens,
		client:   &http.Client{Timeout: 30 * time.Second},
		siteURL:  siteURL,
		endpoint: gscEndpoint,
	}
}

// SetEndpoint overrides the API base (tests).
func (c *GSCClient) SetEndpoint(endpoint string) { c.endpoint = endpoint }

type gscQuery struct {
	StartDate             string            `json:"startDate"`
	EndDate               string            `json:"endDate"`
	Dimensions            []string          `json:"dimensions"`
	RowLimit              int               `json:"rowLimit"`
	DimensionFilterGroups []gscFilterGroup  `json:"dimensionFilterGroups,omitempty"`
}

type gscFilterGroup struct {
	Filters []gscFilter `json:"filters"`
}

type gscFilter struct {
	Dimension  string `json:"dimension"`
	Operator   string `json:"operator"`
	Expression string `json:"expression"`
}

type gscResponse struct {
	Rows []struct {
		Keys        []string `json:"keys"`
		Clicks      float64  `json:"clicks"`
		Impressions float64  `json:"impressions"`
		CTR         float64  `json:"ctr"`
		Position    float64  `json:"position"`
	} `json:"rows"`
}

func (c *GSCClient) query(ctx context.Context, q gscQuery) (*gscResponse, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/sites/%s/searchAnalytics/query",
		c.endpoint, url.PathEscape(c.siteURL))
	var resp gscResponse
	if err := doJSON(ctx, c.client, "search-console", http.MethodPost, endpoint, token, q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PageSearchMetrics is one merged current/previous reading for a page URL.
type PageSearchMetrics struct {
	PageURL             string
	Clicks              int
	Impressions         int
	CTR                 float64
	Position            float64
	PreviousClicks      int
	PreviousImpressions int
	PreviousPosition    float64
}

// PositionChange is previous − current: positive when the page moved up.
func (m PageSearchMetrics) PositionChange() float64 {
	if m.PreviousPosition == 0 {
		return 0
	}
	return m.PreviousPosition - m.Position
}

// PagePerformance aggregates clicks, impressions, CTR and position per page
// for the current window, with previous-window counterparts merged in.
func (c *GSCClient) PagePerformance(ctx context.Context, current, previous DateRange) ([]PageSearchMetrics, error) {
	curResp, err := c.query(ctx, gscQuery{
		StartDate: current.Start, EndDate: current.End,
		Dimensions: []string{"page"}, RowLimit: 1000,
	})
	if err != nil {
		return nil, err
	}
	prevResp, err := c.query(ctx, gscQuery{
		StartDate: previous.Start, EndDate: previous.End,
		Dimensions: []string{"page"}, RowLimit: 1000,
	})
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*PageSearchMetrics)
	for _, row := range curResp.Rows {
		if len(row.Keys) == 0 {
			continue
		}
		merged[row.Keys[0]] = &PageSearchMetrics{
			PageURL:     row.Keys[0],
			Clicks:      int(row.Clicks),
			Impressions: int(row.Impressions),
			CTR:         row.CTR,
			Position:    row.Position,
		}
	}
	for _, row := range prevResp.Rows {
		if len(row.Keys) == 0 {
			continue
		}
		m, ok := merged[row.Keys[0]]
		if !ok {
			m = &PageSearchMetrics{PageURL: row.Keys[0]}
			merged[row.Keys[0]] = m
		}
		m.PreviousClicks = int(row.Clicks)
		m.PreviousImpressions = int(row.Impressions)
		m.PreviousPosition = row.Position
	}

	out := make([]PageSearchMetrics, 0, len(merged))
	for _, m := range merged {
		out = append(out, *m)
	}
	return out, nil
}

// QueryRanking is one search query's performance for a page or keyword.
type QueryRanking struct {
	Query       string  `json:"query"`
	PageURL     string  `json:"page_url,omitempty"`
	Clicks      int     `json:"clicks"`
	Impressions int     `json:"impressions"`
	Position    float64 `json:"position"`
}

// TopQueries returns the best queries for one page, bounded by limit.
func (c *GSCClient) TopQueries(ctx context.Context, pageURL string, days, limit int) ([]QueryRanking, error) {
	if days <= 0 || days > 30 {
		days = 30
	}
	if limit <= 0 || limit > 25 {
		limit = 10
	}
	end := time.Now()
	start := end.AddDate(0, 0, -days)
	resp, err := c.query(ctx, gscQuery{
		StartDate:  start.Format("2006-01-02"),
		EndDate:    end.Format("2006-01-02"),
		Dimensions: []string{"query"},
		RowLimit:   limit,
		DimensionFilterGroups: []gscFilterGroup{{Filters: []gscFilter{{
			Dimension: "page", Operator: "equals", Expression: pageURL,
		}}}},
	})
	if err != nil {
		return nil, err
	}
	var out []QueryRanking
	for _, row := range resp.Rows {
		if len(row.Keys) == 0 {
			continue
		}
		out = append(out, QueryRanking{
			Query:       row.Keys[0],
			Clicks:      int(row.Clicks),
			Impressions: int(row.Impressions),
			Position:    row.Position,
		})
	}
	return out, nil
}

// QueryContains returns pages ranking for queries containing the keyword.
// Used by the weekly keyword-coverage analysis.
func (c *GSCClient) QueryContains(ctx context.Context, keyword string, days int) ([]QueryRanking, error) {
	if days <= 0 {
		days = 30
	}
	end := time.Now()
	start := end.AddDate(0, 0, -days)
	resp, err := c.query(ctx, gscQuery{
		StartDate:  start.Format("2006-01-02"),
		EndDate:    end.Format("2006-01-02"),
		Dimensions: []string{"query", "page"},
		RowLimit:   100,
		DimensionFilterGroups: []gscFilterGroup{{Filters: []gscFilter{{
			Dimension: "query", Operator: "contains",
			Expression: strings.ToLower(keyword),
		}}}},
	})
	if err != nil {
		return nil, err
	}
	var out []QueryRanking
	for _, row := range resp.Rows {
		if len(row.Keys) < 2 {
			continue
		}
		out = append(out, QueryRanking{
			Query:       row.Keys[0],
			PageURL:     row.Keys[1],
			Clicks:      int(row.Clicks),
			Impressions: int(row.Impressions),
			Position:    row.Position,
		})
	}
	return out, nil
}
