package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/thymehq/thyme/pkg/models"
	"github.com/thymehq/thyme/pkg/scoring"
	"github.com/thymehq/thyme/pkg/store"
)

// Sweeper runs the periodic maintenance passes: queue expiry and
// auto-resolution of findings whose pages recovered.
type Sweeper struct {
	stores *store.Stores
	logger *slog.Logger
}

// NewSweeper wires the maintenance sweeps.
func NewSweeper(stores *store.Stores, logger *slog.Logger) *Sweeper {
	return &Sweeper{stores: stores, logger: logger}
}

// ExpireStale flips pending queue items past their 48h window to expired
// and mirrors the expiry onto their findings. Returns the number expired.
func (s *Sweeper) ExpireStale(ctx context.Context) (int, error) {
	expired, err := s.stores.Queue.ExpirePending(ctx)
	if err != nil {
		return 0, err
	}
	for _, item := range expired {
		if item.FindingID == nil {
			continue
		}
		err := s.stores.Tx(ctx, func(tx *sqlx.Tx) error {
			if err := s.stores.Findings.SetStatusTx(ctx, tx, *item.FindingID, models.FindingStatusExpired); err != nil {
				return err
			}
			return s.stores.ChangeLog.AppendTx(ctx, tx, &models.ChangeLogEntry{
				Action:     "recommendation_expired",
				EntityType: "decision_queue",
				EntityID:   &item.ID,
				Outcome:    "rejected",
				Details:    map[string]any{"action_type": item.ActionType},
			})
		})
		if err != nil {
			s.logger.Warn("Expiry mirror failed",
				"queue_id", item.ID, "error", err)
		}
	}
	if len(expired) > 0 {
		s.logger.Info("Expired stale recommendations", "count", len(expired))
	}
	return len(expired), nil
}

// ResolveRecovered closes open findings whose page scored back above the
// flag threshold on the latest scan. Returns the number resolved.
func (s *Sweeper) ResolveRecovered(ctx context.Context) (int, error) {
	ids, err := s.stores.Findings.ResolveStale(ctx, scoring.FlagThreshold)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	system := "thyme"
	for _, id := range ids {
		if err := s.stores.ChangeLog.Append(ctx, &models.ChangeLogEntry{
			Action:     "finding_auto_resolved",
			EntityType: "finding",
			EntityID:   &id,
			Outcome:    "executed",
			ExecutedBy: &system,
			ExecutedAt: &now,
		}); err != nil {
			s.logger.Warn("Resolution log append failed",
				"finding_id", id, "error", err)
		}
	}
	if len(ids) > 0 {
		s.logger.Info("Auto-resolved recovered findings", "count", len(ids))
	}
	return len(ids), nil
}
