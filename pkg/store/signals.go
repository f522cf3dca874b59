package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/thymehq/thyme/pkg/models"
)

// SignalStore is the append-only shared signal log.
type SignalStore struct {
	db *sqlx.DB
}

// Insert appends one signal.
func (s *SignalStore) Insert(ctx context.Context, sig *models.Signal) error {
	payload, err := marshalJSON(sig.Payload)
	if err != nil {
		return err
	}
	err = s.db.QueryRowxContext(ctx, `
		INSERT INTO thyme_signals (source_agent, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		sig.SourceAgent, sig.EventType, payload, time.Now()).
		Scan(&sig.ID, &sig.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}
	return nil
}

// SignalQuery filters the signal log.
type SignalQuery struct {
	SourceAgent string    // empty = any
	EventTypes  []string  // empty = any
	Since       time.Time // zero = no lower bound
	Limit       int
}

// Query returns matching signals, newest first.
func (s *SignalStore) Query(ctx context.Context, q SignalQuery) ([]models.Signal, error) {
	conds := []string{"true"}
	var args []any
	if q.SourceAgent != "" {
		args = append(args, q.SourceAgent)
		conds = append(conds, fmt.Sprintf("source_agent = $%d", len(args)))
	}
	if len(q.EventTypes) > 0 {
		args = append(args, pq.Array(q.EventTypes))
		conds = append(conds, fmt.Sprintf("event_type = ANY($%d)", len(args)))
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, source_agent, event_type, payload, created_at
		FROM thyme_signals
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d`, joinConds(conds), len(args))

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var out []models.Signal
	for rows.Next() {
		var sig models.Signal
		var payload []byte
		if err := rows.Scan(&sig.ID, &sig.SourceAgent, &sig.EventType,
			&payload, &sig.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		if err := unmarshalJSON(payload, &sig.Payload); err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func joinConds(conds []string) string {
	out := conds[0]
	for _, c := range conds[1:] {
		out += " AND " + c
	}
	return out
}
