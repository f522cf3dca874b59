package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/thymehq/thyme/pkg/models"
)

const pagespeedEndpoint = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"

// PageSpeedClient runs Lighthouse audits through the PageSpeed Insights API.
// Each audit takes 15-25s upstream, so calls go through a shared limiter.
type PageSpeedClient struct {
	client   *http.Client
	apiKey   string
	endpoint string
	limiter  *rate.Limiter
}

// NewPageSpeedClient creates the performance-tester adapter.
func NewPageSpeedClient(apiKey string) *PageSpeedClient {
	return &PageSpeedClient{
		client:   &http.Client{Timeout: 60 * time.Second},
		apiKey:   apiKey,
		endpoint: pagespeedEndpoint,
		// The API quota is roughly one audit per 2s sustained.
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
}

// SetEndpoint overrides the API base (tests).
func (c *PageSpeedClient) SetEndpoint(endpoint string) { c.endpoint = endpoint }

type lighthouseResponse struct {
	LighthouseResult *struct {
		Categories map[string]struct {
			Score float64 `json:"score"`
		} `json:"categories"`
		Audits map[string]struct {
			NumericValue float64         `json:"numericValue"`
			Title        string          `json:"title"`
			Details      json.RawMessage `json:"details"`
		} `json:"audits"`
	} `json:"lighthouseResult"`
}

type auditDetails struct {
	Type             string  `json:"type"`
	OverallSavingsMs float64 `json:"overallSavingsMs"`
}

// Audit runs one full Lighthouse audit for a (url, strategy) pair and
// extracts category scores, Core Web Vitals and the top improvement
// opportunities ranked by estimated savings.
func (c *PageSpeedClient) Audit(ctx context.Context, pageURL string, strategy models.SpeedStrategy) (*models.SpeedScore, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire pagespeed slot: %w", err)
	}

	q := url.Values{}
	q.Set("url", pageURL)
	q.Set("strategy", string(strategy))
	q.Set("key", c.apiKey)
	q["category"] = []string{"performance", "accessibility", "seo", "best-practices"}

	var resp lighthouseResponse
	if err := doJSON(ctx, c.client, "pagespeed", http.MethodGet,
		c.endpoint+"?"+q.Encode(), "", nil, &resp); err != nil {
		return nil, err
	}
	if resp.LighthouseResult == nil {
		return nil, &DataError{Source: "pagespeed", Err: fmt.Errorf("missing lighthouseResult for %s", pageURL)}
	}
	lr := resp.LighthouseResult

	score := &models.SpeedScore{
		PageURL:  pageURL,
		Strategy: strategy,
		TestDate: time.Now(),
	}
	// Category scores come back as 0-1 fractions.
	score.PerformanceScore = int(lr.Categories["performance"].Score * 100)
	score.AccessibilityScore = int(lr.Categories["accessibility"].Score * 100)
	score.SEOScore = int(lr.Categories["seo"].Score * 100)
	score.BestPracticesScore = int(lr.Categories["best-practices"].Score * 100)

	if a, ok := lr.Audits["largest-contentful-paint"]; ok {
		score.LCPMs = a.NumericValue
	}
	if a, ok := lr.Audits["max-potential-fid"]; ok {
		score.FIDMs = a.NumericValue
	}
	if a, ok := lr.Audits["cumulative-layout-shift"]; ok {
		score.CLS = a.NumericValue
	}
	if a, ok := lr.Audits["interaction-to-next-paint"]; ok {
		score.INPMs = a.NumericValue
	}

	for id, a := range lr.Audits {
		if len(a.Details) == 0 {
			continue
		}
		var d auditDetails
		if err := json.Unmarshal(a.Details, &d); err != nil || d.Type != "opportunity" {
			continue
		}
		if d.OverallSavingsMs <= 0 {
			continue
		}
		score.Opportunities = append(score.Opportunities, models.Opportunity{
			ID:        id,
			Title:     a.Title,
			SavingsMs: d.OverallSavingsMs,
		})
	}
	sort.Slice(score.Opportunities, func(i, j int) bool {
		return score.Opportunities[i].SavingsMs > score.Opportunities[j].SavingsMs
	})
	if len(score.Opportunities) > 10 {
		score.Opportunities = score.Opportunities[:10]
	}
	return score, nil
}
