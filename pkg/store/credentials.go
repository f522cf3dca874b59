package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/thymehq/thyme/pkg/models"
)

// ErrNoCredential is returned when the single credential row is absent.
// The token broker maps it to an AuthError.
var ErrNoCredential = errors.New("no credential row exists")

// CredentialStore manages the single-row OAuth credential pair.
type CredentialStore struct {
	db *sqlx.DB
}

// Get returns the credential row.
func (s *CredentialStore) Get(ctx context.Context) (*models.Credential, error) {
	var c models.Credential
	var scopes pq.StringArray
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, access_token, refresh_token, expires_at, scopes, updated_at
		FROM thyme_credentials
		ORDER BY id
		LIMIT 1`)
	err := row.Scan(&c.ID, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &scopes, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	c.Scopes = scopes
	return &c, nil
}

// Save overwrites the credential row with the refreshed pair.
func (s *CredentialStore) Save(ctx context.Context, c *models.Credential) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE thyme_credentials
		SET access_token = $1, refresh_token = $2, expires_at = $3, scopes = $4, updated_at = $5
		WHERE id = $6`,
		c.AccessToken, c.RefreshToken, c.ExpiresAt, pq.Array(c.Scopes), time.Now(), c.ID)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoCredential
	}
	return nil
}
