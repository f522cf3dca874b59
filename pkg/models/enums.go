// Package models defines the domain entities persisted in the thyme_* tables
// and shared by the stores, orchestrators and the agent.
package models

// PageType classifies CMS pages.
type PageType string

const (
	PageTypeLanding PageType = "landing"
	PageTypeSite    PageType = "site"
	PageTypeBlog    PageType = "blog"
	PageTypePillar  PageType = "pillar"
)

// Severity grades findings and recommendations.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// QueuePriority maps a severity to the 1-10 review priority scale.
func QueuePriority(s Severity) int {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 8
	case SeverityMedium:
		return 5
	default:
		return 3
	}
}

// FindingStatus is the finding lifecycle. Terminal states: completed,
// expired, resolved.
type FindingStatus string

const (
	FindingStatusNew                  FindingStatus = "new"
	FindingStatusRecommendationDrafted FindingStatus = "recommendation_drafted"
	FindingStatusApproved             FindingStatus = "approved"
	FindingStatusCompleted            FindingStatus = "completed"
	FindingStatusExpired              FindingStatus = "expired"
	FindingStatusSkipped              FindingStatus = "skipped"
	FindingStatusResolved             FindingStatus = "resolved"
)

// IsTerminal reports whether the status admits no further transitions.
func (s FindingStatus) IsTerminal() bool {
	return s == FindingStatusCompleted || s == FindingStatusExpired || s == FindingStatusResolved
}

// FindingType is the closed finding vocabulary.
type FindingType string

const (
	FindingTrafficDrop   FindingType = "traffic_drop"
	FindingRankingLoss   FindingType = "ranking_loss"
	FindingSpeedIssue    FindingType = "speed_issue"
	FindingContentStale  FindingType = "content_stale"
	FindingBrokenLinks   FindingType = "broken_links"
	FindingMetaIssue     FindingType = "meta_issue"
	FindingConversionGap FindingType = "conversion_gap"
)

// QueueStatus is the decision-queue lifecycle.
type QueueStatus string

const (
	QueueStatusPending  QueueStatus = "pending"
	QueueStatusApproved QueueStatus = "approved"
	QueueStatusRejected QueueStatus = "rejected"
	QueueStatusExpired  QueueStatus = "expired"
)

// RiskLevel grades the blast radius of a recommended action.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ViolationAction decides what a failing guardrail check does.
type ViolationAction string

const (
	ViolationWarn  ViolationAction = "warn"
	ViolationBlock ViolationAction = "block"
	ViolationAlert ViolationAction = "alert"
)

// SpeedStrategy selects the PageSpeed test device profile.
type SpeedStrategy string

const (
	StrategyMobile  SpeedStrategy = "mobile"
	StrategyDesktop SpeedStrategy = "desktop"
)

// LinkType classifies a checked link relative to the site origin.
type LinkType string

const (
	LinkInternal LinkType = "internal"
	LinkExternal LinkType = "external"
)
