// Package services composes store operations into the transactional units
// the orchestrators and the API depend on: the finding writer, the review
// flow and the maintenance sweeps.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/thymehq/thyme/pkg/models"
	"github.com/thymehq/thyme/pkg/signalbus"
	"github.com/thymehq/thyme/pkg/store"
)

// findingTTL is how long a drafted recommendation waits for review.
const findingTTL = 48 * time.Hour

// Draft is everything the agent submits for one finding.
type Draft struct {
	PageURL              string
	FindingType          models.FindingType
	Severity             models.Severity
	Title                string
	Description          string
	BusinessImpact       string
	ActionType           string
	ActionSummary        string
	ActionDetail         map[string]any
	Confidence           float64
	RiskLevel            models.RiskLevel
	InvestigationSummary string
	Iterations           int
	ToolsUsed            []string
	HealthScore          *int
}

// FindingWriter materializes a drafted finding with its queue item, audit
// entry and reviewer notification in one transaction, then emits the
// finding-type signal.
type FindingWriter struct {
	stores *store.Stores
	bus    *signalbus.Bus
	logger *slog.Logger
}

// NewFindingWriter wires the writer over the store set and signal bus.
func NewFindingWriter(stores *store.Stores, bus *signalbus.Bus, logger *slog.Logger) *FindingWriter {
	return &FindingWriter{stores: stores, bus: bus, logger: logger}
}

// Submit persists a drafted finding. The finding, queue item, change-log
// entry and notification land together or not at all.
func (w *FindingWriter) Submit(ctx context.Context, d Draft) (*models.Finding, error) {
	now := time.Now()
	expires := now.Add(findingTTL)

	if d.Confidence <= 0 {
		d.Confidence = 0.7
	}
	if d.RiskLevel == "" {
		d.RiskLevel = models.RiskLow
	}

	finding := &models.Finding{
		ID:                   uuid.NewString(),
		PageURL:              &d.PageURL,
		FindingType:          d.FindingType,
		Severity:             d.Severity,
		Title:                d.Title,
		Description:          d.Description,
		BusinessImpact:       d.BusinessImpact,
		AgentLoopIterations:  d.Iterations,
		ToolsUsed:            d.ToolsUsed,
		InvestigationSummary: d.InvestigationSummary,
		Status:               models.FindingStatusRecommendationDrafted,
		ExpiresAt:            &expires,
		HealthScoreAtDetect:  d.HealthScore,
	}
	item := &models.DecisionQueueItem{
		ID:            uuid.NewString(),
		FindingID:     &finding.ID,
		ActionType:    d.ActionType,
		ActionSummary: d.ActionSummary,
		ActionDetail:  d.ActionDetail,
		Severity:      d.Severity,
		Confidence:    d.Confidence,
		RiskLevel:     d.RiskLevel,
		Priority:      models.QueuePriority(d.Severity),
		Status:        models.QueueStatusPending,
		ExpiresAt:     expires,
	}

	err := w.stores.Tx(ctx, func(tx *sqlx.Tx) error {
		if err := w.stores.Findings.InsertTx(ctx, tx, finding); err != nil {
			return err
		}
		if err := w.stores.Queue.InsertTx(ctx, tx, item); err != nil {
			return err
		}
		if err := w.stores.ChangeLog.AppendTx(ctx, tx, &models.ChangeLogEntry{
			Action:     "finding_created",
			EntityType: "finding",
			EntityID:   &finding.ID,
			Outcome:    "pending",
			Details: map[string]any{
				"page_url":     d.PageURL,
				"finding_type": d.FindingType,
				"severity":     d.Severity,
				"action_type":  d.ActionType,
			},
		}); err != nil {
			return err
		}
		return w.stores.Notifications.InsertTx(ctx, tx, &models.Notification{
			ID:        uuid.NewString(),
			Title:     fmt.Sprintf("Review needed: %s", d.Title),
			Body:      d.ActionSummary,
			Severity:  d.Severity,
			FindingID: &finding.ID,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write finding: %w", err)
	}

	if event := signalForType(d.FindingType); event != "" {
		w.bus.Emit(ctx, event, map[string]any{
			"page_url":   d.PageURL,
			"finding_id": finding.ID,
			"severity":   d.Severity,
		})
	}
	if d.HealthScore != nil && *d.HealthScore < 30 {
		w.bus.Emit(ctx, signalbus.EventPageHealthCritical, map[string]any{
			"page_url":     d.PageURL,
			"health_score": *d.HealthScore,
		})
	}

	w.logger.Info("Finding drafted",
		"finding_id", finding.ID,
		"page_url", d.PageURL,
		"finding_type", d.FindingType,
		"severity", d.Severity)
	return finding, nil
}

// Skip records an audit-only skipped finding. Skips carry no queue item.
func (w *FindingWriter) Skip(ctx context.Context, pageURL, reason, summary string, iterations int, toolsUsed []string) (*models.Finding, error) {
	finding := &models.Finding{
		ID:                   uuid.NewString(),
		PageURL:              &pageURL,
		FindingType:          models.FindingContentStale,
		Severity:             models.SeverityLow,
		Title:                fmt.Sprintf("Investigation skipped: %s", pageURL),
		AgentLoopIterations:  iterations,
		ToolsUsed:            toolsUsed,
		InvestigationSummary: summary,
		Status:               models.FindingStatusSkipped,
		SkipReason:           reason,
	}
	err := w.stores.Tx(ctx, func(tx *sqlx.Tx) error {
		if err := w.stores.Findings.InsertTx(ctx, tx, finding); err != nil {
			return err
		}
		return w.stores.ChangeLog.AppendTx(ctx, tx, &models.ChangeLogEntry{
			Action:     "investigation_skipped",
			EntityType: "finding",
			EntityID:   &finding.ID,
			Outcome:    "rejected",
			Details:    map[string]any{"page_url": pageURL, "reason": reason},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record skip: %w", err)
	}
	w.logger.Info("Investigation skipped", "page_url", pageURL, "reason", reason)
	return finding, nil
}

func signalForType(t models.FindingType) string {
	switch t {
	case models.FindingTrafficDrop:
		return signalbus.EventPageTrafficDrop
	case models.FindingRankingLoss:
		return signalbus.EventPageRankingLoss
	case models.FindingSpeedIssue:
		return signalbus.EventPageSpeedAlert
	default:
		return ""
	}
}
