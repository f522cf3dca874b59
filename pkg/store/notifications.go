package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/thymehq/thyme/pkg/models"
)

// NotificationStore surfaces recommendations and review outcomes.
type NotificationStore struct {
	db *sqlx.DB
}

// InsertTx writes one notification inside the caller's transaction.
func (s *NotificationStore) InsertTx(ctx context.Context, tx *sqlx.Tx, n *models.Notification) error {
	now := time.Now()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO thyme_notifications
			(id, title, body, severity, finding_id, is_read, created_at)
		VALUES ($1,$2,$3,$4,$5,false,$6)`,
		n.ID, n.Title, n.Body, n.Severity, n.FindingID, now)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	n.CreatedAt = now
	return nil
}
