package models

import "time"

// TrendSnapshot aggregates one period (daily or weekly) of site-wide health.
type TrendSnapshot struct {
	ID                int64       `db:"id" json:"id"`
	Period            string      `db:"period" json:"period"` // daily | weekly
	SnapshotDate      time.Time   `db:"snapshot_date" json:"snapshot_date"`
	TotalTraffic      int         `db:"total_traffic" json:"total_traffic"`
	TrafficChangePct  float64     `db:"traffic_change_pct" json:"traffic_change_pct"`
	AvgHealthScore    float64     `db:"avg_health_score" json:"avg_health_score"`
	ScoreDistribution [5]int      `db:"-" json:"health_score_distribution"`
	TopDeclining      []PageTrend `db:"-" json:"top_declining_pages"`
	TopImproving      []PageTrend `db:"-" json:"top_improving_pages"`
	BrokenLinksCount  int         `db:"broken_links_count" json:"broken_links_count"`
	NewBrokenLinks    int         `db:"new_broken_links" json:"new_broken_links"`
	MetaIssuesCount   int         `db:"meta_issues_count" json:"meta_issues_count"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
}

// PageTrend is one page's movement inside a trend snapshot.
type PageTrend struct {
	URL              string  `json:"url"`
	TrafficChangePct float64 `json:"traffic_change_pct"`
	ActiveUsers      int     `json:"active_users"`
}

// ScoreBucket returns the 5-bucket distribution index for a health score:
// [0-19, 20-39, 40-59, 60-79, 80-100].
func ScoreBucket(score int) int {
	if score < 0 {
		score = 0
	}
	b := score / 20
	if b > 4 {
		b = 4
	}
	return b
}

// ConversionAudit is the weekly cross-reference of configured GA4 key
// events against CMS forms.
type ConversionAudit struct {
	ID               int64                      `db:"id" json:"id"`
	AuditDate        time.Time                  `db:"audit_date" json:"audit_date"`
	TrackingHealth   string                     `db:"tracking_health" json:"tracking_health"` // not_configured | healthy | degraded | broken
	KeyEventCount    int                        `db:"key_event_count" json:"key_event_count"`
	FormCount        int                        `db:"form_count" json:"form_count"`
	TotalSubmissions int                        `db:"total_submissions" json:"total_submissions"`
	Gaps             []string                   `db:"-" json:"gaps"`
	Recommendations  []ConversionRecommendation `db:"-" json:"recommendations"`
	CreatedAt        time.Time                  `db:"created_at" json:"created_at"`
}

// ConversionRecommendation is one prioritized fix from the conversion audit.
type ConversionRecommendation struct {
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
}

// WeeklyDigest is the persisted narrative summary of one weekly run.
type WeeklyDigest struct {
	ID         int64          `db:"id" json:"id"`
	WeekStart  time.Time      `db:"week_start" json:"week_start"`
	Narrative  string         `db:"narrative" json:"narrative"`
	Figures    map[string]any `db:"-" json:"figures"`
	IsFallback bool           `db:"is_fallback" json:"is_fallback"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// Credential is the single-row OAuth credential pair maintained by the
// token broker.
type Credential struct {
	ID           int64     `db:"id" json:"-"`
	AccessToken  string    `db:"access_token" json:"-"`
	RefreshToken string    `db:"refresh_token" json:"-"`
	ExpiresAt    time.Time `db:"expires_at" json:"expires_at"`
	Scopes       []string  `db:"-" json:"scopes"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
