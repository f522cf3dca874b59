package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/thymehq/thyme/pkg/models"
)

// FindingStore persists agent investigation artifacts.
type FindingStore struct {
	db *sqlx.DB
}

const findingColumns = `
	id, page_url, finding_type, severity, title, description,
	business_impact, agent_loop_iterations, tools_used,
	investigation_summary, status, skip_reason, expires_at,
	health_score_at_detection, health_score_at_resolution,
	created_at, updated_at`

func scanFinding(row sqlx.ColScanner) (*models.Finding, error) {
	var f models.Finding
	var tools pq.StringArray
	err := row.Scan(&f.ID, &f.PageURL, &f.FindingType, &f.Severity, &f.Title,
		&f.Description, &f.BusinessImpact, &f.AgentLoopIterations, &tools,
		&f.InvestigationSummary, &f.Status, &f.SkipReason, &f.ExpiresAt,
		&f.HealthScoreAtDetect, &f.HealthScoreAtResolve, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.ToolsUsed = tools
	return &f, nil
}

// InsertTx inserts a finding inside the caller's transaction. The finding
// writer composes this with the queue-item, changelog and notification
// inserts so they land together.
func (s *FindingStore) InsertTx(ctx context.Context, tx *sqlx.Tx, f *models.Finding) error {
	now := time.Now()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO thyme_findings
			(id, page_url, finding_type, severity, title, description,
			 business_impact, agent_loop_iterations, tools_used,
			 investigation_summary, status, skip_reason, expires_at,
			 health_score_at_detection, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)`,
		f.ID, f.PageURL, f.FindingType, f.Severity, f.Title, f.Description,
		f.BusinessImpact, f.AgentLoopIterations, pq.Array(f.ToolsUsed),
		f.InvestigationSummary, f.Status, f.SkipReason, f.ExpiresAt,
		f.HealthScoreAtDetect, now)
	if err != nil {
		return fmt.Errorf("failed to insert finding: %w", err)
	}
	f.CreatedAt = now
	return nil
}

// OpenForPage returns the open (new / recommendation_drafted / approved)
// finding for a page URL, nil when none exists. Used by the agent dedup
// pre-check.
func (s *FindingStore) OpenForPage(ctx context.Context, pageURL string) (*models.Finding, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT `+findingColumns+`
		FROM thyme_findings
		WHERE page_url = $1 AND status IN ('new', 'recommendation_drafted', 'approved')
		ORDER BY created_at DESC
		LIMIT 1`, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to query open finding: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	f, err := scanFinding(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan finding: %w", err)
	}
	return f, nil
}

// SetStatusTx transitions a finding's status inside the caller's transaction.
func (s *FindingStore) SetStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.FindingStatus) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE thyme_findings SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set finding status: %w", err)
	}
	return nil
}

// ResolveStale closes open findings whose page has recovered above the
// flag threshold, recording the recovery score. Returns the resolved IDs.
func (s *FindingStore) ResolveStale(ctx context.Context, threshold int) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		UPDATE thyme_findings f
		SET status = 'resolved',
		    health_score_at_resolution = p.health_score,
		    updated_at = $2
		FROM thyme_pages p
		WHERE f.page_url = p.url
		  AND f.status IN ('new', 'recommendation_drafted', 'approved')
		  AND p.health_score IS NOT NULL
		  AND p.health_score >= $1
		RETURNING f.id`, threshold, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recovered findings: %w", err)
	}
	return ids, nil
}

// FindingFilter narrows the findings read API.
type FindingFilter struct {
	Status   string
	Severity string
	PageURL  string
	Limit    int
}

// List returns findings for the read API, newest first.
func (s *FindingStore) List(ctx context.Context, f FindingFilter) ([]models.Finding, error) {
	conds := []string{"true"}
	var args []any
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Severity != "" {
		args = append(args, f.Severity)
		conds = append(conds, fmt.Sprintf("severity = $%d", len(args)))
	}
	if f.PageURL != "" {
		args = append(args, f.PageURL)
		conds = append(conds, fmt.Sprintf("page_url = $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s FROM thyme_findings
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d`, findingColumns, strings.Join(conds, " AND "), len(args))

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	var out []models.Finding
	for rows.Next() {
		fd, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		out = append(out, *fd)
	}
	return out, rows.Err()
}
