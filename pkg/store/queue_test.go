package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thymehq/thyme/pkg/models"
)

func queueRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "finding_id", "action_type", "action_summary", "action_detail",
		"severity", "confidence", "risk_level", "priority", "status",
		"reviewer", "reviewed_at", "review_notes", "expires_at", "created_at",
	})
}

func TestReviewTxApprovesPendingItem(t *testing.T) {
	stores, mock := newMockStores(t)

	findingID := "f-1"
	reviewer := "casey"
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE thyme_decision_queue").
		WithArgs(models.QueueStatusApproved, reviewer, "looks right", sqlmock.AnyArg(), "q-1").
		WillReturnRows(queueRows().AddRow(
			"q-1", &findingID, "update_meta", "Refresh the title tag",
			[]byte(`{"field":"title"}`), "high", 0.82, "low", 8,
			"approved", &reviewer, &now, nil, now.Add(48*time.Hour), now))
	mock.ExpectCommit()

	err := stores.Tx(context.Background(), func(tx *sqlx.Tx) error {
		item, err := stores.Queue.ReviewTx(context.Background(), tx, "q-1",
			models.QueueStatusApproved, reviewer, "looks right")
		if err != nil {
			return err
		}
		assert.Equal(t, models.QueueStatusApproved, item.Status)
		assert.Equal(t, map[string]any{"field": "title"}, item.ActionDetail)
		require.NotNil(t, item.FindingID)
		assert.Equal(t, "f-1", *item.FindingID)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewTxNotPending(t *testing.T) {
	stores, mock := newMockStores(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE thyme_decision_queue").
		WillReturnRows(queueRows())
	mock.ExpectRollback()

	err := stores.Tx(context.Background(), func(tx *sqlx.Tx) error {
		_, err := stores.Queue.ReviewTx(context.Background(), tx, "q-gone",
			models.QueueStatusRejected, "casey", "")
		return err
	})
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestExpirePendingReturnsFlippedItems(t *testing.T) {
	stores, mock := newMockStores(t)

	findingID := "f-9"
	now := time.Now()
	mock.ExpectQuery("UPDATE thyme_decision_queue").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(queueRows().AddRow(
			"q-9", &findingID, "update_meta", "Stale recommendation",
			nil, "medium", 0.7, "low", 5,
			"expired", nil, nil, nil, now.Add(-time.Hour), now.Add(-49*time.Hour)))

	items, err := stores.Queue.ExpirePending(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "q-9", items[0].ID)
	assert.Equal(t, models.QueueStatusExpired, items[0].Status)
}

func TestListPendingOrderedByPriority(t *testing.T) {
	stores, mock := newMockStores(t)

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM thyme_decision_queue").
		WithArgs(50).
		WillReturnRows(queueRows().
			AddRow("q-1", nil, "update_meta", "Critical fix", nil, "critical",
				0.9, "low", 10, "pending", nil, nil, nil, now.Add(time.Hour), now).
			AddRow("q-2", nil, "update_meta", "Medium fix", nil, "medium",
				0.7, "low", 5, "pending", nil, nil, nil, now.Add(time.Hour), now))

	items, err := stores.Queue.ListPending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 10, items[0].Priority)
}
