package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/thymehq/thyme/pkg/models"
)

// LinkHealthStore tracks checked links, keyed by (source_page_url, target_url).
type LinkHealthStore struct {
	db *sqlx.DB
}

// Upsert writes one check result. first_detected_at is preserved on conflict;
// a record that turned healthy again keeps its history until Resolve marks it.
func (s *LinkHealthStore) Upsert(ctx context.Context, r *models.LinkHealthRecord) error {
	chain, err := marshalJSON(r.RedirectChain)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO thyme_link_health
			(source_page_url, target_url, link_type, http_status, is_broken,
			 is_redirect, redirect_chain, redirect_count, error_message,
			 first_detected_at, last_checked_at, is_resolved, resolved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10,false,NULL)
		ON CONFLICT (source_page_url, target_url) DO UPDATE SET
			link_type = EXCLUDED.link_type,
			http_status = EXCLUDED.http_status,
			is_broken = EXCLUDED.is_broken,
			is_redirect = EXCLUDED.is_redirect,
			redirect_chain = EXCLUDED.redirect_chain,
			redirect_count = EXCLUDED.redirect_count,
			error_message = EXCLUDED.error_message,
			last_checked_at = EXCLUDED.last_checked_at,
			is_resolved = CASE WHEN EXCLUDED.is_broken THEN false ELSE thyme_link_health.is_resolved END,
			resolved_at = CASE WHEN EXCLUDED.is_broken THEN NULL ELSE thyme_link_health.resolved_at END`,
		r.SourcePageURL, r.TargetURL, r.LinkType, r.HTTPStatus, r.IsBroken,
		r.IsRedirect, chain, r.RedirectCount, r.ErrorMessage, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert link health record: %w", err)
	}
	return nil
}

// BrokenTargets returns the distinct target URLs currently marked broken.
func (s *LinkHealthStore) BrokenTargets(ctx context.Context) ([]string, error) {
	var urls []string
	err := s.db.SelectContext(ctx, &urls, `
		SELECT DISTINCT target_url
		FROM thyme_link_health
		WHERE is_broken AND NOT is_resolved
		ORDER BY target_url`)
	if err != nil {
		return nil, fmt.Errorf("failed to query broken targets: %w", err)
	}
	return urls, nil
}

// Resolve marks recovered targets resolved, recording the resolution time.
func (s *LinkHealthStore) Resolve(ctx context.Context, targetURLs []string) (int64, error) {
	if len(targetURLs) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE thyme_link_health
		SET is_broken = false, is_resolved = true, resolved_at = $1
		WHERE target_url = ANY($2) AND is_broken`,
		time.Now(), pq.Array(targetURLs))
	if err != nil {
		return 0, fmt.Errorf("failed to resolve recovered links: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Counters summarizes broken-link state for the trend snapshot.
type LinkCounters struct {
	Broken    int `db:"broken"`
	NewBroken int `db:"new_broken"` // first detected within the last 24 h
}

// Counters returns the current and newly detected broken-link counts.
func (s *LinkHealthStore) Counters(ctx context.Context) (*LinkCounters, error) {
	var c LinkCounters
	err := s.db.QueryRowxContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE is_broken AND NOT is_resolved) AS broken,
			COUNT(*) FILTER (WHERE is_broken AND NOT is_resolved
				AND first_detected_at > $1) AS new_broken
		FROM thyme_link_health`,
		time.Now().Add(-24*time.Hour)).Scan(&c.Broken, &c.NewBroken)
	if err != nil {
		return nil, fmt.Errorf("failed to compute link counters: %w", err)
	}
	return &c, nil
}

// BrokenCountBySource groups unresolved broken links by source page.
func (s *LinkHealthStore) BrokenCountBySource(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT source_page_url, COUNT(*)
		FROM thyme_link_health
		WHERE is_broken AND NOT is_resolved
		GROUP BY source_page_url`)
	if err != nil {
		return nil, fmt.Errorf("failed to group broken links: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			return nil, fmt.Errorf("failed to scan broken link count: %w", err)
		}
		out[src] = n
	}
	return out, rows.Err()
}
