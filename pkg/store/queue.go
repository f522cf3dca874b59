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

// ErrNotPending is returned when a review targets a queue item that is not
// currently pending (or does not exist). The API maps it to a 404.
var ErrNotPending = errors.New("queue item is not pending")

// QueueStore persists decision-queue items awaiting human review.
type QueueStore struct {
	db *sqlx.DB
}

const queueColumns = `
	id, finding_id, action_type, action_summary, action_detail, severity,
	confidence, risk_level, priority, status, reviewer, reviewed_at,
	review_notes, expires_at, created_at`

func scanQueueItem(row sqlx.ColScanner) (*models.DecisionQueueItem, error) {
	var q models.DecisionQueueItem
	var detail []byte
	err := row.Scan(&q.ID, &q.FindingID, &q.ActionType, &q.ActionSummary,
		&detail, &q.Severity, &q.Confidence, &q.RiskLevel, &q.Priority,
		&q.Status, &q.Reviewer, &q.ReviewedAt, &q.ReviewNotes, &q.ExpiresAt,
		&q.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(detail, &q.ActionDetail); err != nil {
		return nil, err
	}
	return &q, nil
}

// InsertTx inserts a queue item inside the caller's transaction.
func (s *QueueStore) InsertTx(ctx context.Context, tx *sqlx.Tx, q *models.DecisionQueueItem) error {
	detail, err := marshalJSON(q.ActionDetail)
	if err != nil {
		return err
	}
	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO thyme_decision_queue
			(id, finding_id, action_type, action_summary, action_detail,
			 severity, confidence, risk_level, priority, status, expires_at,
			 created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		q.ID, q.FindingID, q.ActionType, q.ActionSummary, detail, q.Severity,
		q.Confidence, q.RiskLevel, q.Priority, q.Status, q.ExpiresAt, now)
	if err != nil {
		return fmt.Errorf("failed to insert queue item: %w", err)
	}
	q.CreatedAt = now
	return nil
}

// Get returns one queue item, nil when absent.
func (s *QueueStore) Get(ctx context.Context, id string) (*models.DecisionQueueItem, error) {
	row := s.db.QueryRowxContext(ctx,
		`SELECT `+queueColumns+` FROM thyme_decision_queue WHERE id = $1`, id)
	q, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return q, nil
}

// ReviewTx transitions a pending item to approved/rejected inside the
// caller's transaction. The WHERE status = 'pending' guard makes the
// transition atomic; a concurrent or repeated review gets ErrNotPending.
func (s *QueueStore) ReviewTx(ctx context.Context, tx *sqlx.Tx, id string, status models.QueueStatus, reviewer, notes string) (*models.DecisionQueueItem, error) {
	row := tx.QueryRowxContext(ctx, `
		UPDATE thyme_decision_queue
		SET status = $1, reviewer = $2, review_notes = $3, reviewed_at = $4
		WHERE id = $5 AND status = 'pending'
		RETURNING `+queueColumns,
		status, reviewer, notes, time.Now(), id)
	q, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotPending
		}
		return nil, fmt.Errorf("failed to review queue item: %w", err)
	}
	return q, nil
}

// ExpirePending flips pending items past their expiry to expired and
// returns them so the sweep can mirror the findings.
func (s *QueueStore) ExpirePending(ctx context.Context) ([]models.DecisionQueueItem, error) {
	rows, err := s.db.QueryxContext(ctx, `
		UPDATE thyme_decision_queue
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at < $1
		RETURNING `+queueColumns, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to expire queue items: %w", err)
	}
	defer rows.Close()

	var out []models.DecisionQueueItem
	for rows.Next() {
		q, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired item: %w", err)
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

// ListPending returns pending items ordered by priority for the review UI.
func (s *QueueStore) ListPending(ctx context.Context, limit int) ([]models.DecisionQueueItem, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryxContext(ctx, `
		SELECT `+queueColumns+`
		FROM thyme_decision_queue
		WHERE status = 'pending'
		ORDER BY priority DESC, created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending queue items: %w", err)
	}
	defer rows.Close()

	var out []models.DecisionQueueItem
	for rows.Next() {
		q, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}
