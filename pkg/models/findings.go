package models

import "time"

// Finding is the artifact of one agent investigation: either a drafted
// recommendation awaiting review, or an audited skip.
type Finding struct {
	ID                    string        `db:"id" json:"id"`
	PageURL               *string       `db:"page_url" json:"page_url"`
	FindingType           FindingType   `db:"finding_type" json:"finding_type"`
	Severity              Severity      `db:"severity" json:"severity"`
	Title                 string        `db:"title" json:"title"`
	Description           string        `db:"description" json:"description"`
	BusinessImpact        string        `db:"business_impact" json:"business_impact"`
	AgentLoopIterations   int           `db:"agent_loop_iterations" json:"agent_loop_iterations"`
	ToolsUsed             []string      `db:"-" json:"tools_used"`
	InvestigationSummary  string        `db:"investigation_summary" json:"investigation_summary"`
	Status                FindingStatus `db:"status" json:"status"`
	SkipReason            string        `db:"skip_reason" json:"skip_reason"`
	ExpiresAt             *time.Time    `db:"expires_at" json:"expires_at"`
	HealthScoreAtDetect   *int          `db:"health_score_at_detection" json:"health_score_at_detection"`
	HealthScoreAtResolve  *int          `db:"health_score_at_resolution" json:"health_score_at_resolution"`
	CreatedAt             time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time     `db:"updated_at" json:"updated_at"`
}

// DecisionQueueItem is a recommendation awaiting human review. Status moves
// out of pending only through the review operation or the expiry sweep.
type DecisionQueueItem struct {
	ID            string         `db:"id" json:"id"`
	FindingID     *string        `db:"finding_id" json:"finding_id"`
	ActionType    string         `db:"action_type" json:"action_type"`
	ActionSummary string         `db:"action_summary" json:"action_summary"`
	ActionDetail  map[string]any `db:"-" json:"action_detail"`
	Severity      Severity       `db:"severity" json:"severity"`
	Confidence    float64        `db:"confidence" json:"confidence"`
	RiskLevel     RiskLevel      `db:"risk_level" json:"risk_level"`
	Priority      int            `db:"priority" json:"priority"`
	Status        QueueStatus    `db:"status" json:"status"`
	Reviewer      *string        `db:"reviewer" json:"reviewer"`
	ReviewedAt    *time.Time     `db:"reviewed_at" json:"reviewed_at"`
	ReviewNotes   *string        `db:"review_notes" json:"review_notes"`
	ExpiresAt     time.Time      `db:"expires_at" json:"expires_at"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// ChangeLogEntry is the append-only audit record of every externally
// meaningful action.
type ChangeLogEntry struct {
	ID         int64          `db:"id" json:"id"`
	Action     string         `db:"action" json:"action"`
	EntityType string         `db:"entity_type" json:"entity_type"`
	EntityID   *string        `db:"entity_id" json:"entity_id"`
	Outcome    string         `db:"outcome" json:"outcome"` // pending | rejected | executed
	Details    map[string]any `db:"-" json:"details"`
	ExecutedBy *string        `db:"executed_by" json:"executed_by"`
	ExecutedAt *time.Time     `db:"executed_at" json:"executed_at"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// Notification surfaces a recommendation or review outcome to reviewers.
type Notification struct {
	ID        string    `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	Body      string    `db:"body" json:"body"`
	Severity  Severity  `db:"severity" json:"severity"`
	FindingID *string   `db:"finding_id" json:"finding_id"`
	IsRead    bool      `db:"is_read" json:"is_read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
