package models

import "time"

// Signal is one append-only record on the shared cross-agent bus.
type Signal struct {
	ID          int64          `db:"id" json:"id"`
	SourceAgent string         `db:"source_agent" json:"source_agent"`
	EventType   string         `db:"event_type" json:"event_type"`
	Payload     map[string]any `db:"-" json:"payload"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// Guardrail is a named active rule consulted by the agent's
// self-evaluation tool before a recommendation is finalized.
type Guardrail struct {
	ID              int64           `db:"id" json:"id"`
	Name            string          `db:"name" json:"name"`
	RuleCategory    string          `db:"rule_category" json:"rule_category"`
	Threshold       *float64        `db:"threshold" json:"threshold"`
	RuleConfig      map[string]any  `db:"-" json:"rule_config"`
	ViolationAction ViolationAction `db:"violation_action" json:"violation_action"`
	IsActive        bool            `db:"is_active" json:"is_active"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}
