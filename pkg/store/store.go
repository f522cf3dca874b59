// Package store implements the logical persistence stores over the thyme_*
// tables. Each store owns one table family; cross-store transactions are
// composed by the services layer through Tx.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/thymehq/thyme/pkg/database"
)

// Stores aggregates every repository over one shared pool.
type Stores struct {
	db *sqlx.DB

	Credentials   *CredentialStore
	Pages         *PageStore
	Snapshots     *SnapshotStore
	LinkHealth    *LinkHealthStore
	Findings      *FindingStore
	Queue         *QueueStore
	Signals       *SignalStore
	ChangeLog     *ChangeLogStore
	Notifications *NotificationStore
	Guardrails    *GuardrailStore
	Trends        *TrendStore
}

// New builds the store set over the database client.
func New(client *database.Client) *Stores {
	db := client.DB()
	return &Stores{
		db:            db,
		Credentials:   &CredentialStore{db: db},
		Pages:         &PageStore{db: db},
		Snapshots:     &SnapshotStore{db: db},
		LinkHealth:    &LinkHealthStore{db: db},
		Findings:      &FindingStore{db: db},
		Queue:         &QueueStore{db: db},
		Signals:       &SignalStore{db: db},
		ChangeLog:     &ChangeLogStore{db: db},
		Notifications: &NotificationStore{db: db},
		Guardrails:    &GuardrailStore{db: db},
		Trends:        &TrendStore{db: db},
	}
}

// Tx runs fn inside a transaction, rolling back on error.
func (s *Stores) Tx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// marshalJSON converts a value to JSONB bytes, mapping nil to SQL NULL.
func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jsonb value: %w", err)
	}
	return b, nil
}

// unmarshalJSON fills dst from JSONB bytes, tolerating NULL.
func unmarshalJSON(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to unmarshal jsonb value: %w", err)
	}
	return nil
}

// chunk splits items into slices of at most size elements.
func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
