package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/thymehq/thyme/pkg/models"
)

// SnapshotStore holds the per-source per-day snapshot families.
// Analytics and search upserts are idempotent on (page_url, snapshot_date);
// speed scores are append-only.
type SnapshotStore struct {
	db *sqlx.DB
}

// UpsertAnalytics writes analytics snapshots in chunks of chunkSize rows.
func (s *SnapshotStore) UpsertAnalytics(ctx context.Context, snaps []models.AnalyticsSnapshot, chunkSize int) error {
	for _, batch := range chunk(snaps, chunkSize) {
		placeholders := make([]string, 0, len(batch))
		args := make([]any, 0, len(batch)*10)
		i := 0
		for _, sn := range batch {
			placeholders = append(placeholders, fmt.Sprintf(
				"($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
				i+1, i+2, i+3, i+4, i+5, i+6, i+7, i+8, i+9, i+10))
			args = append(args, sn.PageURL, sn.SnapshotDate, sn.ActiveUsers,
				sn.Sessions, sn.PageViews, sn.BounceRate, sn.AvgSessionDuration,
				sn.UsersPrevious, sn.SessionsPrevious, sn.TrafficChangePct)
			i += 10
		}
		query := `
			INSERT INTO thyme_analytics_snapshots
				(page_url, snapshot_date, active_users, sessions, page_views,
				 bounce_rate, avg_session_duration, users_previous_period,
				 sessions_previous_period, traffic_change_pct)
			VALUES ` + strings.Join(placeholders, ",") + `
			ON CONFLICT (page_url, snapshot_date) DO UPDATE SET
				active_users = EXCLUDED.active_users,
				sessions = EXCLUDED.sessions,
				page_views = EXCLUDED.page_views,
				bounce_rate = EXCLUDED.bounce_rate,
				avg_session_duration = EXCLUDED.avg_session_duration,
				users_previous_period = EXCLUDED.users_previous_period,
				sessions_previous_period = EXCLUDED.sessions_previous_period,
				traffic_change_pct = EXCLUDED.traffic_change_pct`
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to upsert analytics snapshots: %w", err)
		}
	}
	return nil
}

// UpsertSearch writes search snapshots in chunks of chunkSize rows.
func (s *SnapshotStore) UpsertSearch(ctx context.Context, snaps []models.SearchSnapshot, chunkSize int) error {
	for _, batch := range chunk(snaps, chunkSize) {
		placeholders := make([]string, 0, len(batch))
		args := make([]any, 0, len(batch)*10)
		i := 0
		for _, sn := range batch {
			placeholders = append(placeholders, fmt.Sprintf(
				"($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
				i+1, i+2, i+3, i+4, i+5, i+6, i+7, i+8, i+9, i+10))
			args = append(args, sn.PageURL, sn.SnapshotDate, sn.TotalClicks,
				sn.TotalImpressions, sn.AvgCTR, sn.AvgPosition,
				sn.ClicksPrevious, sn.ImpressionsPrevious, sn.PositionPrevious,
				sn.PositionChange)
			i += 10
		}
		query := `
			INSERT INTO thyme_search_snapshots
				(page_url, snapshot_date, total_clicks, total_impressions,
				 avg_ctr, avg_position, clicks_previous_period,
				 impressions_previous_period, position_previous_period,
				 position_change)
			VALUES ` + strings.Join(placeholders, ",") + `
			ON CONFLICT (page_url, snapshot_date) DO UPDATE SET
				total_clicks = EXCLUDED.total_clicks,
				total_impressions = EXCLUDED.total_impressions,
				avg_ctr = EXCLUDED.avg_ctr,
				avg_position = EXCLUDED.avg_position,
				clicks_previous_period = EXCLUDED.clicks_previous_period,
				impressions_previous_period = EXCLUDED.impressions_previous_period,
				position_previous_period = EXCLUDED.position_previous_period,
				position_change = EXCLUDED.position_change`
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to upsert search snapshots: %w", err)
		}
	}
	return nil
}

// InsertSpeedScore appends one PageSpeed audit result.
func (s *SnapshotStore) InsertSpeedScore(ctx context.Context, sc *models.SpeedScore) error {
	opps, err := marshalJSON(sc.Opportunities)
	if err != nil {
		return err
	}
	err = s.db.QueryRowxContext(ctx, `
		INSERT INTO thyme_speed_scores
			(page_url, test_date, strategy, performance_score,
			 accessibility_score, seo_score, best_practices_score,
			 lcp_ms, fid_ms, cls, inp_ms, opportunities)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id`,
		sc.PageURL, sc.TestDate, sc.Strategy, sc.PerformanceScore,
		sc.AccessibilityScore, sc.SEOScore, sc.BestPracticesScore,
		sc.LCPMs, sc.FIDMs, sc.CLS, sc.INPMs, opps).Scan(&sc.ID)
	if err != nil {
		return fmt.Errorf("failed to insert speed score: %w", err)
	}
	return nil
}

// LatestSpeedByPage returns the most recent speed score per page URL.
func (s *SnapshotStore) LatestSpeedByPage(ctx context.Context) (map[string]models.SpeedScore, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT DISTINCT ON (page_url)
			id, page_url, test_date, strategy, performance_score,
			accessibility_score, seo_score, best_practices_score,
			lcp_ms, fid_ms, cls, inp_ms, opportunities
		FROM thyme_speed_scores
		ORDER BY page_url, test_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest speed scores: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.SpeedScore)
	for rows.Next() {
		var sc models.SpeedScore
		var opps []byte
		if err := rows.Scan(&sc.ID, &sc.PageURL, &sc.TestDate, &sc.Strategy,
			&sc.PerformanceScore, &sc.AccessibilityScore, &sc.SEOScore,
			&sc.BestPracticesScore, &sc.LCPMs, &sc.FIDMs, &sc.CLS, &sc.INPMs,
			&opps); err != nil {
			return nil, fmt.Errorf("failed to scan speed score: %w", err)
		}
		if err := unmarshalJSON(opps, &sc.Opportunities); err != nil {
			return nil, err
		}
		out[sc.PageURL] = sc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating speed scores: %w", err)
	}
	return out, nil
}

// AnalyticsForDate returns the analytics snapshots of one day keyed by page URL.
func (s *SnapshotStore) AnalyticsForDate(ctx context.Context, date time.Time) (map[string]models.AnalyticsSnapshot, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, page_url, snapshot_date, active_users, sessions, page_views,
		       bounce_rate, avg_session_duration, users_previous_period,
		       sessions_previous_period, traffic_change_pct
		FROM thyme_analytics_snapshots
		WHERE snapshot_date = $1`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query analytics snapshots: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.AnalyticsSnapshot)
	for rows.Next() {
		var sn models.AnalyticsSnapshot
		if err := rows.StructScan(&sn); err != nil {
			return nil, fmt.Errorf("failed to scan analytics snapshot: %w", err)
		}
		out[sn.PageURL] = sn
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analytics snapshots: %w", err)
	}
	return out, nil
}

// TotalTrafficForDate sums active users over one snapshot day.
func (s *SnapshotStore) TotalTrafficForDate(ctx context.Context, date time.Time) (int, error) {
	var total int
	err := s.db.QueryRowxContext(ctx, `
		SELECT COALESCE(SUM(active_users), 0)
		FROM thyme_analytics_snapshots
		WHERE snapshot_date = $1`, date).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum traffic: %w", err)
	}
	return total, nil
}
