package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/thymehq/thyme/pkg/models"
)

// PageStore is the canonical page inventory (thyme_pages, keyed by URL).
type PageStore struct {
	db *sqlx.DB
}

const pageColumns = `
	id, url, slug, title, meta_description, page_type, hubspot_page_id,
	has_form, form_ids, has_cta, cta_ids, published_at, last_updated_at,
	content_age_days, is_indexed, is_active, title_length,
	meta_description_length, meta_issues, has_broken_links,
	broken_link_count, health_score, health_breakdown,
	last_health_check_at, created_at, updated_at`

func scanPage(row sqlx.ColScanner) (*models.Page, error) {
	var p models.Page
	var formIDs, ctaIDs, metaIssues pq.StringArray
	var breakdown []byte
	err := row.Scan(
		&p.ID, &p.URL, &p.Slug, &p.Title, &p.MetaDescription, &p.PageType,
		&p.HubSpotPageID, &p.HasForm, &formIDs, &p.HasCTA, &ctaIDs,
		&p.PublishedAt, &p.LastUpdatedAt, &p.ContentAgeDays, &p.IsIndexed,
		&p.IsActive, &p.TitleLength, &p.MetaDescriptionLength, &metaIssues,
		&p.HasBrokenLinks, &p.BrokenLinkCount, &p.HealthScore, &breakdown,
		&p.LastHealthCheckAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.FormIDs = formIDs
	p.CTAIDs = ctaIDs
	p.MetaIssues = metaIssues
	if len(breakdown) > 0 {
		var b models.HealthBreakdown
		if err := unmarshalJSON(breakdown, &b); err != nil {
			return nil, err
		}
		p.HealthBreakdown = &b
	}
	return &p, nil
}

func (s *PageStore) scanPages(rows *sqlx.Rows) ([]models.Page, error) {
	var pages []models.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		pages = append(pages, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pages: %w", err)
	}
	return pages, nil
}

// Active returns every active page.
func (s *PageStore) Active(ctx context.Context) ([]models.Page, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT `+pageColumns+` FROM thyme_pages WHERE is_active ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active pages: %w", err)
	}
	defer rows.Close()
	return s.scanPages(rows)
}

// GetByURL returns one page, nil when absent.
func (s *PageStore) GetByURL(ctx context.Context, url string) (*models.Page, error) {
	row := s.db.QueryRowxContext(ctx,
		`SELECT `+pageColumns+` FROM thyme_pages WHERE url = $1`, url)
	p, err := scanPage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get page by url: %w", err)
	}
	return p, nil
}

// InsertBatch inserts new pages in chunks of chunkSize rows.
// Existing URLs are left untouched so a replayed sync stays idempotent.
func (s *PageStore) InsertBatch(ctx context.Context, pages []models.Page, chunkSize int) error {
	for _, batch := range chunk(pages, chunkSize) {
		placeholders := make([]string, 0, len(batch))
		args := make([]any, 0, len(batch)*15)
		i := 0
		for _, p := range batch {
			placeholders = append(placeholders, fmt.Sprintf(
				"($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
				i+1, i+2, i+3, i+4, i+5, i+6, i+7, i+8, i+9, i+10, i+11, i+12, i+13, i+14, i+15))
			args = append(args,
				p.URL, p.Slug, p.Title, p.MetaDescription, p.PageType,
				p.HubSpotPageID, p.HasForm, pq.Array(p.FormIDs), p.HasCTA,
				pq.Array(p.CTAIDs), p.PublishedAt, p.LastUpdatedAt,
				p.ContentAgeDays, len(p.Title), len(p.MetaDescription))
			i += 15
		}
		query := `
			INSERT INTO thyme_pages
				(url, slug, title, meta_description, page_type, hubspot_page_id,
				 has_form, form_ids, has_cta, cta_ids, published_at,
				 last_updated_at, content_age_days, title_length,
				 meta_description_length)
			VALUES ` + strings.Join(placeholders, ",") + `
			ON CONFLICT (url) DO NOTHING`
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert page batch: %w", err)
		}
	}
	return nil
}

// UpdateFromCMS overwrites the CMS-owned attributes of one existing page.
func (s *PageStore) UpdateFromCMS(ctx context.Context, p *models.Page) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE thyme_pages SET
			slug = $1, title = $2, meta_description = $3, page_type = $4,
			hubspot_page_id = $5, has_form = $6, form_ids = $7, has_cta = $8,
			cta_ids = $9, published_at = $10, last_updated_at = $11,
			content_age_days = $12, title_length = $13,
			meta_description_length = $14, updated_at = $15
		WHERE url = $16`,
		p.Slug, p.Title, p.MetaDescription, p.PageType, p.HubSpotPageID,
		p.HasForm, pq.Array(p.FormIDs), p.HasCTA, pq.Array(p.CTAIDs),
		p.PublishedAt, p.LastUpdatedAt, p.ContentAgeDays, len(p.Title),
		len(p.MetaDescription), time.Now(), p.URL)
	if err != nil {
		return fmt.Errorf("failed to update page %s: %w", p.URL, err)
	}
	return nil
}

// SetHasForm flips the detected-form flag after the HTML supplement.
func (s *PageStore) SetHasForm(ctx context.Context, url string, hasForm bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE thyme_pages SET has_form = $1, updated_at = $2 WHERE url = $3`,
		hasForm, time.Now(), url)
	if err != nil {
		return fmt.Errorf("failed to set has_form for %s: %w", url, err)
	}
	return nil
}

// UpdateMetaIssues replaces the issue set for one page.
func (s *PageStore) UpdateMetaIssues(ctx context.Context, url string, issues []string) error {
	if issues == nil {
		issues = []string{}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE thyme_pages SET meta_issues = $1, updated_at = $2 WHERE url = $3`,
		pq.Array(issues), time.Now(), url)
	if err != nil {
		return fmt.Errorf("failed to update meta issues for %s: %w", url, err)
	}
	return nil
}

// UpdateBrokenLinks records the derived link-health counters for one page.
func (s *PageStore) UpdateBrokenLinks(ctx context.Context, url string, count int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE thyme_pages
		SET has_broken_links = $1, broken_link_count = $2, updated_at = $3
		WHERE url = $4`,
		count > 0, count, time.Now(), url)
	if err != nil {
		return fmt.Errorf("failed to update broken links for %s: %w", url, err)
	}
	return nil
}

// UpdateScore persists a freshly computed health score and its breakdown.
func (s *PageStore) UpdateScore(ctx context.Context, url string, score int, breakdown models.HealthBreakdown, checkedAt time.Time) error {
	b, err := marshalJSON(breakdown)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE thyme_pages
		SET health_score = $1, health_breakdown = $2, last_health_check_at = $3, updated_at = $3
		WHERE url = $4`,
		score, b, checkedAt, url)
	if err != nil {
		return fmt.Errorf("failed to update health score for %s: %w", url, err)
	}
	return nil
}

// ListFilter narrows and orders the pages read API.
type ListFilter struct {
	PageType    string
	FlaggedOnly bool
	SortBy      string // health_score | url | traffic (default health_score asc)
	Limit       int
	Offset      int
}

// List returns pages for the read API, filtered, sorted and paginated.
func (s *PageStore) List(ctx context.Context, f ListFilter) ([]models.Page, error) {
	var conds []string
	var args []any
	conds = append(conds, "is_active")
	if f.PageType != "" {
		args = append(args, f.PageType)
		conds = append(conds, fmt.Sprintf("page_type = $%d", len(args)))
	}
	if f.FlaggedOnly {
		conds = append(conds, "health_score IS NOT NULL AND health_score < 50")
	}

	order := "health_score ASC NULLS LAST"
	if f.SortBy == "url" {
		order = "url ASC"
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	limitPos := len(args)
	args = append(args, f.Offset)
	offsetPos := len(args)

	query := fmt.Sprintf(
		`SELECT %s FROM thyme_pages WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		pageColumns, strings.Join(conds, " AND "), order, limitPos, offsetPos)

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()
	return s.scanPages(rows)
}

// Overview aggregates the site-wide counters for the dashboard read API.
type Overview struct {
	TotalPages     int     `db:"total_pages" json:"total_pages"`
	FlaggedPages   int     `db:"flagged_pages" json:"flagged_pages"`
	CriticalPages  int     `db:"critical_pages" json:"critical_pages"`
	AvgHealthScore float64 `db:"avg_health_score" json:"avg_health_score"`
	BrokenLinks    int     `db:"broken_links" json:"broken_links"`
	MetaIssues     int     `db:"meta_issues" json:"meta_issues"`
}

// GetOverview computes the dashboard counters in one round trip.
func (s *PageStore) GetOverview(ctx context.Context) (*Overview, error) {
	var o Overview
	err := s.db.QueryRowxContext(ctx, `
		SELECT
			COUNT(*) AS total_pages,
			COUNT(*) FILTER (WHERE health_score < 50) AS flagged_pages,
			COUNT(*) FILTER (WHERE health_score < 30) AS critical_pages,
			COALESCE(AVG(health_score), 0) AS avg_health_score,
			COALESCE(SUM(broken_link_count), 0) AS broken_links,
			COALESCE(SUM(cardinality(meta_issues)), 0) AS meta_issues
		FROM thyme_pages
		WHERE is_active`).
		Scan(&o.TotalPages, &o.FlaggedPages, &o.CriticalPages,
			&o.AvgHealthScore, &o.BrokenLinks, &o.MetaIssues)
	if err != nil {
		return nil, fmt.Errorf("failed to compute overview: %w", err)
	}
	return &o, nil
}
