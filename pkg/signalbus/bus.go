// Package signalbus is the shared cross-agent event log. Emitting is
// best-effort and never returns an error to the caller; other agents'
// signals are read back with filtered queries.
package signalbus

import (
	"context"
	"log/slog"
	"time"

	"github.com/thymehq/thyme/pkg/models"
	"github.com/thymehq/thyme/pkg/store"
)

// SourceAgent identifies this producer on the shared bus.
const SourceAgent = "thyme"

// Event types this agent emits.
const (
	EventHealthScanComplete = "health_scan_complete"
	EventPageTrafficDrop    = "page_traffic_drop"
	EventPageRankingLoss    = "page_ranking_loss"
	EventPageSpeedAlert     = "page_speed_alert"
	EventPageHealthCritical = "page_health_critical"

	// Site-wide trend alerts, distinct from the per-page vocabulary.
	EventBrokenLinksSpike = "broken_links_spike"
	EventTrafficDropAlert = "traffic_drop_alert"
)

// Event types this agent consumes from other producers.
const (
	EventTrendingSearchTerm = "trending_search_term"
	EventHighCPCAlert       = "high_cpc_alert"
)

// Bus wraps the signal store with emit-and-forget semantics.
type Bus struct {
	signals *store.SignalStore
	logger  *slog.Logger
}

// New creates a bus over the shared signal table.
func New(signals *store.SignalStore, logger *slog.Logger) *Bus {
	return &Bus{signals: signals, logger: logger}
}

// Emit appends a signal. Failures are logged and swallowed; the bus is
// coordination, not a system of record.
func (b *Bus) Emit(ctx context.Context, eventType string, payload map[string]any) {
	sig := &models.Signal{
		SourceAgent: SourceAgent,
		EventType:   eventType,
		Payload:     payload,
		CreatedAt:   time.Now(),
	}
	if err := b.signals.Insert(ctx, sig); err != nil {
		b.logger.Warn("Signal emit failed",
			"event_type", eventType,
			"error", err)
		return
	}
	b.logger.Debug("Signal emitted", "event_type", eventType)
}

// Consume returns recent signals of the given types from any producer,
// newest first.
func (b *Bus) Consume(ctx context.Context, eventTypes []string, since time.Time, limit int) ([]models.Signal, error) {
	return b.signals.Query(ctx, store.SignalQuery{
		EventTypes: eventTypes,
		Since:      since,
		Limit:      limit,
	})
}

// Recent returns this agent's own recent signals for one event type. Used
// by the agent's check_signal_bus tool.
func (b *Bus) Recent(ctx context.Context, eventType string, limit int) ([]models.Signal, error) {
	return b.signals.Query(ctx, store.SignalQuery{
		EventTypes: []string{eventType},
		Since:      time.Now().AddDate(0, 0, -7),
		Limit:      limit,
	})
}
