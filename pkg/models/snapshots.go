package models

import "time"

// AnalyticsSnapshot is one GA4 page-level reading. Natural key:
// (page_url, snapshot_date). Re-running a scan on the same day upserts.
type AnalyticsSnapshot struct {
	ID                 int64     `db:"id" json:"id"`
	PageURL            string    `db:"page_url" json:"page_url"`
	SnapshotDate       time.Time `db:"snapshot_date" json:"snapshot_date"`
	ActiveUsers        int       `db:"active_users" json:"active_users"`
	Sessions           int       `db:"sessions" json:"sessions"`
	PageViews          int       `db:"page_views" json:"page_views"`
	BounceRate         float64   `db:"bounce_rate" json:"bounce_rate"`
	AvgSessionDuration float64   `db:"avg_session_duration" json:"avg_session_duration"`
	UsersPrevious      int       `db:"users_previous_period" json:"users_previous_period"`
	SessionsPrevious   int       `db:"sessions_previous_period" json:"sessions_previous_period"`
	TrafficChangePct   float64   `db:"traffic_change_pct" json:"traffic_change_pct"`
}

// TrafficChange computes the period-over-period change percentage.
// Zero previous users yields 0 (not infinity).
func TrafficChange(current, previous int) float64 {
	if previous <= 0 {
		return 0
	}
	return 100 * float64(current-previous) / float64(previous)
}

// SearchSnapshot is one Search Console page-level reading. Natural key:
// (page_url, snapshot_date).
type SearchSnapshot struct {
	ID                  int64     `db:"id" json:"id"`
	PageURL             string    `db:"page_url" json:"page_url"`
	SnapshotDate        time.Time `db:"snapshot_date" json:"snapshot_date"`
	TotalClicks         int       `db:"total_clicks" json:"total_clicks"`
	TotalImpressions    int       `db:"total_impressions" json:"total_impressions"`
	AvgCTR              float64   `db:"avg_ctr" json:"avg_ctr"`
	AvgPosition         float64   `db:"avg_position" json:"avg_position"`
	ClicksPrevious      int       `db:"clicks_previous_period" json:"clicks_previous_period"`
	ImpressionsPrevious int       `db:"impressions_previous_period" json:"impressions_previous_period"`
	PositionPrevious    float64   `db:"position_previous_period" json:"position_previous_period"`
	// Positive means the page moved up (position number went down).
	PositionChange float64 `db:"position_change" json:"position_change"`
}

// SpeedScore is one PageSpeed Insights audit result. Append-only; grouped
// by (page_url, test_date, strategy) when querying the latest per page.
type SpeedScore struct {
	ID                 int64         `db:"id" json:"id"`
	PageURL            string        `db:"page_url" json:"page_url"`
	TestDate           time.Time     `db:"test_date" json:"test_date"`
	Strategy           SpeedStrategy `db:"strategy" json:"strategy"`
	PerformanceScore   int           `db:"performance_score" json:"performance_score"`
	AccessibilityScore int           `db:"accessibility_score" json:"accessibility_score"`
	SEOScore           int           `db:"seo_score" json:"seo_score"`
	BestPracticesScore int           `db:"best_practices_score" json:"best_practices_score"`
	LCPMs              float64       `db:"lcp_ms" json:"lcp_ms"`
	FIDMs              float64       `db:"fid_ms" json:"fid_ms"`
	CLS                float64       `db:"cls" json:"cls"`
	INPMs              float64       `db:"inp_ms" json:"inp_ms"`
	// Ranked improvement opportunities, highest estimated savings first.
	Opportunities []Opportunity `db:"-" json:"opportunities"`
}

// Opportunity is one ranked Lighthouse improvement suggestion.
type Opportunity struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	SavingsMs float64 `json:"savings_ms"`
}

// LinkHealthRecord tracks one (source page, target URL) link. For
// sitemap-driven sweeps source equals target, making the table a URL-health
// table for those runs.
type LinkHealthRecord struct {
	ID              int64      `db:"id" json:"id"`
	SourcePageURL   string     `db:"source_page_url" json:"source_page_url"`
	TargetURL       string     `db:"target_url" json:"target_url"`
	LinkType        LinkType   `db:"link_type" json:"link_type"`
	HTTPStatus      *int       `db:"http_status" json:"http_status"`
	IsBroken        bool       `db:"is_broken" json:"is_broken"`
	IsRedirect      bool       `db:"is_redirect" json:"is_redirect"`
	RedirectChain   []string   `db:"-" json:"redirect_chain"`
	RedirectCount   int        `db:"redirect_count" json:"redirect_count"`
	ErrorMessage    string     `db:"error_message" json:"error_message"`
	FirstDetectedAt time.Time  `db:"first_detected_at" json:"first_detected_at"`
	LastCheckedAt   time.Time  `db:"last_checked_at" json:"last_checked_at"`
	IsResolved      bool       `db:"is_resolved" json:"is_resolved"`
	ResolvedAt      *time.Time `db:"resolved_at" json:"resolved_at"`
}
