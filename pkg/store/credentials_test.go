package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thymehq/thyme/pkg/database"
	"github.com/thymehq/thyme/pkg/models"
)

func newMockStores(t *testing.T) (*Stores, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(database.NewClientFromDB(sqlx.NewDb(db, "sqlmock"))), mock
}

func TestCredentialGet(t *testing.T) {
	stores, mock := newMockStores(t)

	now := time.Now()
	expires := now.Add(time.Hour)
	mock.ExpectQuery("SELECT id, access_token, refresh_token, expires_at, scopes, updated_at").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "access_token", "refresh_token", "expires_at", "scopes", "updated_at",
		}).AddRow(int64(1), "tok", "ref", expires, pq.StringArray{"analytics"}, now))

	cred, err := stores.Credentials.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", cred.AccessToken)
	assert.Equal(t, "ref", cred.RefreshToken)
	assert.Equal(t, []string{"analytics"}, cred.Scopes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialGetMissingRow(t *testing.T) {
	stores, mock := newMockStores(t)

	mock.ExpectQuery("SELECT id, access_token").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "access_token", "refresh_token", "expires_at", "scopes", "updated_at",
		}))

	_, err := stores.Credentials.Get(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestCredentialSave(t *testing.T) {
	stores, mock := newMockStores(t)

	mock.ExpectExec("UPDATE thyme_credentials").
		WithArgs("new-tok", "new-ref", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := stores.Credentials.Save(context.Background(), &models.Credential{
		ID:           1,
		AccessToken:  "new-tok",
		RefreshToken: "new-ref",
		ExpiresAt:    time.Now().Add(time.Hour),
		Scopes:       []string{"analytics"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialSaveMissingRow(t *testing.T) {
	stores, mock := newMockStores(t)

	mock.ExpectExec("UPDATE thyme_credentials").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := stores.Credentials.Save(context.Background(), &models.Credential{ID: 2})
	assert.ErrorIs(t, err, ErrNoCredential)
}
