package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/thymehq/thyme/pkg/models"
)

// TrendStore persists trend snapshots, conversion audits and weekly digests.
type TrendStore struct {
	db *sqlx.DB
}

// InsertTrend appends one trend snapshot.
func (s *TrendStore) InsertTrend(ctx context.Context, t *models.TrendSnapshot) error {
	dist, err := marshalJSON(t.ScoreDistribution)
	if err != nil {
		return err
	}
	declining, err := marshalJSON(t.TopDeclining)
	if err != nil {
		return err
	}
	improving, err := marshalJSON(t.TopImproving)
	if err != nil {
		return err
	}
	err = s.db.QueryRowxContext(ctx, `
		INSERT INTO thyme_trend_snapshots
			(period, snapshot_date, total_traffic, traffic_change_pct,
			 avg_health_score, score_distribution, top_declining,
			 top_improving, broken_links_count, new_broken_links,
			 meta_issues_count, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id`,
		t.Period, t.SnapshotDate, t.TotalTraffic, t.TrafficChangePct,
		t.AvgHealthScore, dist, declining, improving, t.BrokenLinksCount,
		t.NewBrokenLinks, t.MetaIssuesCount, time.Now()).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to insert trend snapshot: %w", err)
	}
	return nil
}

// LatestTrend returns the most recent snapshot for a period, nil when the
// history is empty.
func (s *TrendStore) LatestTrend(ctx context.Context, period string) (*models.TrendSnapshot, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, period, snapshot_date, total_traffic, traffic_change_pct,
		       avg_health_score, score_distribution, top_declining,
		       top_improving, broken_links_count, new_broken_links,
		       meta_issues_count, created_at
		FROM thyme_trend_snapshots
		WHERE period = $1
		ORDER BY snapshot_date DESC
		LIMIT 1`, period)
	t, err := scanTrend(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest trend: %w", err)
	}
	return t, nil
}

// ListTrends returns the trend history for a period, newest first.
func (s *TrendStore) ListTrends(ctx context.Context, period string, limit int) ([]models.TrendSnapshot, error) {
	if limit <= 0 || limit > 100 {
		limit = 12
	}
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, period, snapshot_date, total_traffic, traffic_change_pct,
		       avg_health_score, score_distribution, top_declining,
		       top_improving, broken_links_count, new_broken_links,
		       meta_issues_count, created_at
		FROM thyme_trend_snapshots
		WHERE period = $1
		ORDER BY snapshot_date DESC
		LIMIT $2`, period, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trends: %w", err)
	}
	defer rows.Close()

	var out []models.TrendSnapshot
	for rows.Next() {
		t, err := scanTrend(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trend: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTrend(row sqlx.ColScanner) (*models.TrendSnapshot, error) {
	var t models.TrendSnapshot
	var dist, declining, improving []byte
	err := row.Scan(&t.ID, &t.Period, &t.SnapshotDate, &t.TotalTraffic,
		&t.TrafficChangePct, &t.AvgHealthScore, &dist, &declining,
		&improving, &t.BrokenLinksCount, &t.NewBrokenLinks,
		&t.MetaIssuesCount, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(dist, &t.ScoreDistribution); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(declining, &t.TopDeclining); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(improving, &t.TopImproving); err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertConversionAudit appends one weekly conversion audit.
func (s *TrendStore) InsertConversionAudit(ctx context.Context, a *models.ConversionAudit) error {
	gaps, err := marshalJSON(a.Gaps)
	if err != nil {
		return err
	}
	recs, err := marshalJSON(a.Recommendations)
	if err != nil {
		return err
	}
	err = s.db.QueryRowxContext(ctx, `
		INSERT INTO thyme_conversion_audits
			(audit_date, tracking_health, key_event_count, form_count,
			 total_submissions, gaps, recommendations, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id`,
		a.AuditDate, a.TrackingHealth, a.KeyEventCount, a.FormCount,
		a.TotalSubmissions, gaps, recs, time.Now()).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to insert conversion audit: %w", err)
	}
	return nil
}

// LatestConversionAudit returns the newest audit, nil when none exists.
func (s *TrendStore) LatestConversionAudit(ctx context.Context) (*models.ConversionAudit, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, audit_date, tracking_health, key_event_count, form_count,
		       total_submissions, gaps, recommendations, created_at
		FROM thyme_conversion_audits
		ORDER BY audit_date DESC
		LIMIT 1`)
	var a models.ConversionAudit
	var gaps, recs []byte
	err := row.Scan(&a.ID, &a.AuditDate, &a.TrackingHealth, &a.KeyEventCount,
		&a.FormCount, &a.TotalSubmissions, &gaps, &recs, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest conversion audit: %w", err)
	}
	if err := unmarshalJSON(gaps, &a.Gaps); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(recs, &a.Recommendations); err != nil {
		return nil, err
	}
	return &a, nil
}

// InsertDigest persists one weekly digest row.
func (s *TrendStore) InsertDigest(ctx context.Context, d *models.WeeklyDigest) error {
	figures, err := marshalJSON(d.Figures)
	if err != nil {
		return err
	}
	err = s.db.QueryRowxContext(ctx, `
		INSERT INTO thyme_weekly_digests
			(week_start, narrative, figures, is_fallback, created_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id`,
		d.WeekStart, d.Narrative, figures, d.IsFallback, time.Now()).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("failed to insert weekly digest: %w", err)
	}
	return nil
}
