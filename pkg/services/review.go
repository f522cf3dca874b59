package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/thymehq/thyme/pkg/models"
	"github.com/thymehq/thyme/pkg/store"
)

// ReviewService applies human decisions to pending queue items. Approve and
// reject mirror onto the finding (approve -> approved, reject -> expired),
// append a log entry and notify, all in one transaction.
type ReviewService struct {
	stores *store.Stores
	logger *slog.Logger
}

// NewReviewService wires the review flow over the store set.
func NewReviewService(stores *store.Stores, logger *slog.Logger) *ReviewService {
	return &ReviewService{stores: stores, logger: logger}
}

// Approve marks a pending item approved and its finding approved. Returns
// store.ErrNotPending when the item is missing or already decided.
func (s *ReviewService) Approve(ctx context.Context, id, reviewer, notes string) (*models.DecisionQueueItem, error) {
	return s.decide(ctx, id, reviewer, notes,
		models.QueueStatusApproved, models.FindingStatusApproved, "executed")
}

// Reject marks a pending item rejected and expires its finding.
func (s *ReviewService) Reject(ctx context.Context, id, reviewer, notes string) (*models.DecisionQueueItem, error) {
	return s.decide(ctx, id, reviewer, notes,
		models.QueueStatusRejected, models.FindingStatusExpired, "rejected")
}

func (s *ReviewService) decide(ctx context.Context, id, reviewer, notes string,
	queueStatus models.QueueStatus, findingStatus models.FindingStatus, outcome string) (*models.DecisionQueueItem, error) {

	var decided *models.DecisionQueueItem
	err := s.stores.Tx(ctx, func(tx *sqlx.Tx) error {
		item, err := s.stores.Queue.ReviewTx(ctx, tx, id, queueStatus, reviewer, notes)
		if err != nil {
			return err
		}
		decided = item

		if item.FindingID != nil {
			if err := s.stores.Findings.SetStatusTx(ctx, tx, *item.FindingID, findingStatus); err != nil {
				return err
			}
		}

		now := time.Now()
		executedBy := reviewer
		entry := &models.ChangeLogEntry{
			Action:     "recommendation_" + string(queueStatus),
			EntityType: "decision_queue",
			EntityID:   &item.ID,
			Outcome:    outcome,
			Details: map[string]any{
				"action_type": item.ActionType,
				"notes":       notes,
			},
			ExecutedBy: &executedBy,
		}
		if outcome == "executed" {
			entry.ExecutedAt = &now
		}
		if err := s.stores.ChangeLog.AppendTx(ctx, tx, entry); err != nil {
			return err
		}

		return s.stores.Notifications.InsertTx(ctx, tx, &models.Notification{
			ID:        uuid.NewString(),
			Title:     fmt.Sprintf("Recommendation %s", queueStatus),
			Body:      item.ActionSummary,
			Severity:  item.Severity,
			FindingID: item.FindingID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Review decision applied",
		"queue_id", id, "status", queueStatus, "reviewer", reviewer)
	return decided, nil
}
