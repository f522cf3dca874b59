// Package scoring computes the composite page health score. Pure functions
// over inventory and snapshot rows; missing data per dimension scores a
// defined default instead of failing.
package scoring

import (
	"github.com/thymehq/thyme/pkg/audit"
	"github.com/thymehq/thyme/pkg/models"
)

// Flagging thresholds on the 0-100 composite.
const (
	FlagThreshold     = 50
	CriticalThreshold = 30
)

// Inputs bundles the per-page signals available to the scorer. Nil pointers
// mean the source produced no row for this page.
type Inputs struct {
	Page      *models.Page
	Analytics *models.AnalyticsSnapshot
	Search    *models.SearchSnapshot
	Speed     *models.SpeedScore
}

// Score computes the six-dimension breakdown for one page.
func Score(in Inputs) models.HealthBreakdown {
	return models.HealthBreakdown{
		TrafficTrend:     trafficTrend(in.Analytics),
		SEORanking:       seoRanking(in.Search),
		PageSpeed:        pageSpeed(in.Speed),
		ContentFreshness: contentFreshness(in.Page.ContentAgeDays),
		ConversionHealth: conversionHealth(in.Page),
		TechnicalHealth:  technicalHealth(in.Page),
	}
}

// IsFlagged reports whether a composite score falls below the review line.
func IsFlagged(total int) bool { return total < FlagThreshold }

// IsCritical reports whether a composite score is critically low.
func IsCritical(total int) bool { return total < CriticalThreshold }

func trafficTrend(a *models.AnalyticsSnapshot) int {
	if a == nil {
		return 10
	}
	change := a.TrafficChangePct
	switch {
	case change >= 0:
		return 20
	case change > -10:
		return 15
	case change > -30:
		return 8
	default:
		return 0
	}
}

func seoRanking(s *models.SearchSnapshot) int {
	if s == nil || s.AvgPosition <= 0 {
		return 0
	}
	switch {
	case s.AvgPosition <= 10:
		return 20
	case s.AvgPosition <= 20:
		return 15
	case s.AvgPosition <= 50:
		return 8
	default:
		return 0
	}
}

func pageSpeed(sp *models.SpeedScore) int {
	if sp == nil {
		return 10
	}
	switch {
	case sp.PerformanceScore >= 90:
		return 20
	case sp.PerformanceScore >= 70:
		return 15
	case sp.PerformanceScore >= 50:
		return 8
	default:
		return 0
	}
}

func contentFreshness(ageDays *int) int {
	if ageDays == nil {
		return 0
	}
	switch {
	case *ageDays < 90:
		return 15
	case *ageDays < 180:
		return 10
	case *ageDays < 365:
		return 5
	default:
		return 0
	}
}

func conversionHealth(p *models.Page) int {
	if p.HasForm {
		return 5
	}
	switch p.PageType {
	case models.PageTypeBlog:
		return 10
	case models.PageTypeLanding:
		return 0
	default:
		return 8
	}
}

func technicalHealth(p *models.Page) int {
	score := 10
	hasTitleLength := false
	hasDuplicate := false
	for _, issue := range p.MetaIssues {
		switch issue {
		case audit.IssueMissingMeta:
			score -= 2
		case audit.IssueMissingTitle:
			score -= 2
		case audit.IssueTitleTooLong, audit.IssueTitleTooShort:
			hasTitleLength = true
		case audit.IssueDupTitle, audit.IssueDupMeta:
			hasDuplicate = true
		}
	}
	if hasTitleLength {
		score--
	}
	if hasDuplicate {
		score--
	}
	if p.HasBrokenLinks {
		score -= 2
	}
	if !p.IsIndexed {
		score -= 2
	}
	if score < 0 {
		score = 0
	}
	return score
}

// FlagReasons names the dimensions dragging a breakdown down, for the
// investigation prompt.
func FlagReasons(b models.HealthBreakdown) []string {
	var reasons []string
	if b.TrafficTrend <= 8 {
		reasons = append(reasons, "traffic declining")
	}
	if b.SEORanking <= 8 {
		reasons = append(reasons, "weak search ranking")
	}
	if b.PageSpeed <= 8 {
		reasons = append(reasons, "poor page speed")
	}
	if b.ContentFreshness <= 5 {
		reasons = append(reasons, "stale content")
	}
	if b.ConversionHealth <= 5 {
		reasons = append(reasons, "conversion gap")
	}
	if b.TechnicalHealth <= 6 {
		reasons = append(reasons, "technical issues")
	}
	return reasons
}
