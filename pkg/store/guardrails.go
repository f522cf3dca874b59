package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/thymehq/thyme/pkg/models"
)

// GuardrailStore loads the active guardrail rules for the agent evaluator.
type GuardrailStore struct {
	db *sqlx.DB
}

// ListActive returns every active guardrail.
func (s *GuardrailStore) ListActive(ctx context.Context) ([]models.Guardrail, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, name, rule_category, threshold, rule_config,
		       violation_action, is_active, created_at
		FROM thyme_guardrails
		WHERE is_active
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query guardrails: %w", err)
	}
	defer rows.Close()

	var out []models.Guardrail
	for rows.Next() {
		var g models.Guardrail
		var cfg []byte
		if err := rows.Scan(&g.ID, &g.Name, &g.RuleCategory, &g.Threshold,
			&cfg, &g.ViolationAction, &g.IsActive, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan guardrail: %w", err)
		}
		if err := unmarshalJSON(cfg, &g.RuleConfig); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
