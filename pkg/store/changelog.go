package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/thymehq/thyme/pkg/models"
)

// ChangeLogStore is the append-only audit log.
type ChangeLogStore struct {
	db *sqlx.DB
}

// Append writes one audit entry.
func (s *ChangeLogStore) Append(ctx context.Context, e *models.ChangeLogEntry) error {
	return s.append(ctx, s.db, e)
}

// AppendTx writes one audit entry inside the caller's transaction.
func (s *ChangeLogStore) AppendTx(ctx context.Context, tx *sqlx.Tx, e *models.ChangeLogEntry) error {
	return s.append(ctx, tx, e)
}

func (s *ChangeLogStore) append(ctx context.Context, q sqlx.ExtContext, e *models.ChangeLogEntry) error {
	details, err := marshalJSON(e.Details)
	if err != nil {
		return err
	}
	err = sqlx.GetContext(ctx, q, &e.ID, `
		INSERT INTO thyme_change_log
			(action, entity_type, entity_id, outcome, details, executed_by,
			 executed_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id`,
		e.Action, e.EntityType, e.EntityID, e.Outcome, details, e.ExecutedBy,
		e.ExecutedAt, time.Now())
	if err != nil {
		return fmt.Errorf("failed to append changelog entry: %w", err)
	}
	return nil
}
