package models

import (
	"time"
)

// Page is the canonical inventory record for one live page. Identity is the
// canonical URL; the surrogate id exists for foreign keys only.
type Page struct {
	ID              int64      `db:"id" json:"id"`
	URL             string     `db:"url" json:"url"`
	Slug            string     `db:"slug" json:"slug"`
	Title           string     `db:"title" json:"title"`
	MetaDescription string     `db:"meta_description" json:"meta_description"`
	PageType        PageType   `db:"page_type" json:"page_type"`
	HubSpotPageID   string     `db:"hubspot_page_id" json:"hubspot_page_id"`
	HasForm         bool       `db:"has_form" json:"has_form"`
	FormIDs         []string   `db:"-" json:"form_ids"`
	HasCTA          bool       `db:"has_cta" json:"has_cta"`
	CTAIDs          []string   `db:"-" json:"cta_ids"`
	PublishedAt     *time.Time `db:"published_at" json:"published_at"`
	LastUpdatedAt   *time.Time `db:"last_updated_at" json:"last_updated_at"`
	ContentAgeDays  *int       `db:"content_age_days" json:"content_age_days"`
	IsIndexed       bool       `db:"is_indexed" json:"is_indexed"`
	IsActive        bool       `db:"is_active" json:"is_active"`

	TitleLength           int      `db:"title_length" json:"title_length"`
	MetaDescriptionLength int      `db:"meta_description_length" json:"meta_description_length"`
	MetaIssues            []string `db:"-" json:"meta_issues"`

	HasBrokenLinks  bool `db:"has_broken_links" json:"has_broken_links"`
	BrokenLinkCount int  `db:"broken_link_count" json:"broken_link_count"`

	HealthScore       *int             `db:"health_score" json:"health_score"`
	HealthBreakdown   *HealthBreakdown `db:"-" json:"health_score_breakdown"`
	LastHealthCheckAt *time.Time       `db:"last_health_check_at" json:"last_health_check_at"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HealthBreakdown is the six-dimension composite behind a health score.
// The total is always the sum of the components.
type HealthBreakdown struct {
	TrafficTrend     int `json:"traffic_trend"`      // 0-20
	SEORanking       int `json:"seo_ranking"`        // 0-20
	PageSpeed        int `json:"page_speed"`         // 0-20
	ContentFreshness int `json:"content_freshness"`  // 0-15
	ConversionHealth int `json:"conversion_health"`  // 0-15
	TechnicalHealth  int `json:"technical_health"`   // 0-10
}

// Total returns the composite score.
func (b HealthBreakdown) Total() int {
	return b.TrafficTrend + b.SEORanking + b.PageSpeed +
		b.ContentFreshness + b.ConversionHealth + b.TechnicalHealth
}

// ContentAge computes whole days since last update, nil when the page has
// never been updated.
func ContentAge(lastUpdated *time.Time, now time.Time) *int {
	if lastUpdated == nil {
		return nil
	}
	days := int(now.Sub(*lastUpdated).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return &days
}
