package signalbus

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thymehq/thyme/pkg/database"
	"github.com/thymehq/thyme/pkg/store"
)

func newMockBus(t *testing.T) (*Bus, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	stores := store.New(database.NewClientFromDB(sqlx.NewDb(db, "sqlmock")))
	return New(stores.Signals, slog.New(slog.DiscardHandler)), mock
}

func TestEmitRecordsSignal(t *testing.T) {
	bus, mock := newMockBus(t)

	mock.ExpectQuery("INSERT INTO thyme_signals").
		WithArgs(SourceAgent, EventPageTrafficDrop, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).
			AddRow(int64(7), time.Now()))

	bus.Emit(context.Background(), EventPageTrafficDrop, map[string]any{
		"page_url": "https://example.com/pricing",
		"drop_pct": -42.0,
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmitSwallowsStoreFailure(t *testing.T) {
	bus, mock := newMockBus(t)

	mock.ExpectQuery("INSERT INTO thyme_signals").
		WillReturnError(errors.New("connection lost"))

	// Must not panic or surface the error; the bus is best-effort.
	bus.Emit(context.Background(), EventHealthScanComplete, nil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeFiltersByTypeAndTime(t *testing.T) {
	bus, mock := newMockBus(t)

	since := time.Now().AddDate(0, 0, -7)
	mock.ExpectQuery("SELECT id, source_agent, event_type, payload, created_at").
		WithArgs(sqlmock.AnyArg(), since, 20).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "source_agent", "event_type", "payload", "created_at",
		}).AddRow(int64(1), "adwords-agent", EventTrendingSearchTerm,
			[]byte(`{"keyword":"food erp"}`), time.Now()))

	signals, err := bus.Consume(context.Background(),
		[]string{EventTrendingSearchTerm, EventHighCPCAlert}, since, 20)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "adwords-agent", signals[0].SourceAgent)
	assert.Equal(t, "food erp", signals[0].Payload["keyword"])
}
