package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thymehq/thyme/pkg/models"
)

func daysAgo(n int) *time.Time {
	t := time.Now().AddDate(0, 0, -n)
	return &t
}

func agePtr(lastUpdated *time.Time) *int {
	return models.ContentAge(lastUpdated, time.Now())
}

func TestScoreStablePageIsNotFlagged(t *testing.T) {
	updated := daysAgo(45)
	page := &models.Page{
		URL:           "https://example.com/pricing",
		PageType:      models.PageTypeLanding,
		HasForm:       true,
		IsIndexed:     true,
		LastUpdatedAt: updated,
		ContentAgeDays: agePtr(updated),
	}
	analytics := &models.AnalyticsSnapshot{
		ActiveUsers:      110,
		UsersPrevious:    120,
		TrafficChangePct: models.TrafficChange(110, 120),
	}
	search := &models.SearchSnapshot{AvgPosition: 8}
	speed := &models.SpeedScore{PerformanceScore: 95}

	assert.InDelta(t, -8.33, analytics.TrafficChangePct, 0.01)

	b := Score(Inputs{Page: page, Analytics: analytics, Search: search, Speed: speed})
	assert.Equal(t, 15, b.TrafficTrend)
	assert.Equal(t, 20, b.SEORanking)
	assert.Equal(t, 20, b.PageSpeed)
	assert.Equal(t, 15, b.ContentFreshness)
	assert.Equal(t, 5, b.ConversionHealth)
	assert.Equal(t, 10, b.TechnicalHealth)

	require.Equal(t, 85, b.Total())
	assert.False(t, IsFlagged(b.Total()))
}

func TestScoreSevereDeclineIsCritical(t *testing.T) {
	updated := daysAgo(400)
	page := &models.Page{
		URL:            "https://example.com/old-campaign",
		PageType:       models.PageTypeLanding,
		HasForm:        true,
		IsIndexed:      true,
		LastUpdatedAt:  updated,
		ContentAgeDays: agePtr(updated),
		MetaIssues:     []string{"missing_meta", "title_too_long"},
	}
	analytics := &models.AnalyticsSnapshot{
		ActiveUsers:      50,
		UsersPrevious:    120,
		TrafficChangePct: models.TrafficChange(50, 120),
	}
	search := &models.SearchSnapshot{AvgPosition: 25}
	speed := &models.SpeedScore{PerformanceScore: 45}

	assert.InDelta(t, -58.3, analytics.TrafficChangePct, 0.05)

	b := Score(Inputs{Page: page, Analytics: analytics, Search: search, Speed: speed})
	assert.Equal(t, 0, b.TrafficTrend)
	assert.Equal(t, 8, b.SEORanking)
	assert.Equal(t, 0, b.PageSpeed)
	assert.Equal(t, 0, b.ContentFreshness)
	assert.Equal(t, 5, b.ConversionHealth)
	assert.Equal(t, 7, b.TechnicalHealth)

	require.Equal(t, 20, b.Total())
	assert.True(t, IsFlagged(b.Total()))
	assert.True(t, IsCritical(b.Total()))
}

func TestScoreMissingDataDefaults(t *testing.T) {
	page := &models.Page{
		URL:       "https://example.com/about",
		PageType:  models.PageTypeSite,
		IsIndexed: true,
	}
	b := Score(Inputs{Page: page})
	assert.Equal(t, 10, b.TrafficTrend, "no analytics data")
	assert.Equal(t, 0, b.SEORanking, "no search data")
	assert.Equal(t, 10, b.PageSpeed, "no speed data")
	assert.Equal(t, 0, b.ContentFreshness, "never updated")
}

func TestContentFreshnessBoundaries(t *testing.T) {
	cases := []struct {
		days int
		want int
	}{
		{0, 15},
		{89, 15},
		{90, 10}, // strict <90
		{179, 10},
		{180, 5},
		{364, 5},
		{365, 0},
	}
	for _, tc := range cases {
		age := tc.days
		got := contentFreshness(&age)
		assert.Equalf(t, tc.want, got, "age %d days", tc.days)
	}
}

func TestTrafficTrendBuckets(t *testing.T) {
	cases := []struct {
		change float64
		want   int
	}{
		{12, 20},
		{0, 20},
		{-5, 15},
		{-9.99, 15},
		{-10, 8},
		{-29.9, 8},
		{-30, 0},
		{-80, 0},
	}
	for _, tc := range cases {
		got := trafficTrend(&models.AnalyticsSnapshot{TrafficChangePct: tc.change, UsersPrevious: 1})
		assert.Equalf(t, tc.want, got, "change %.2f%%", tc.change)
	}
}

func TestSEORankingBuckets(t *testing.T) {
	cases := []struct {
		position float64
		want     int
	}{
		{1, 20},
		{10, 20},
		{10.5, 15},
		{20, 15},
		{35, 8},
		{50, 8},
		{51, 0},
	}
	for _, tc := range cases {
		got := seoRanking(&models.SearchSnapshot{AvgPosition: tc.position})
		assert.Equalf(t, tc.want, got, "position %.1f", tc.position)
	}
}

func TestPageSpeedBuckets(t *testing.T) {
	cases := []struct {
		perf int
		want int
	}{
		{100, 20},
		{90, 20},
		{89, 15},
		{70, 15},
		{69, 8},
		{50, 8},
		{49, 0},
	}
	for _, tc := range cases {
		got := pageSpeed(&models.SpeedScore{PerformanceScore: tc.perf})
		assert.Equalf(t, tc.want, got, "performance %d", tc.perf)
	}
}

func TestConversionHealthByTypeAndForm(t *testing.T) {
	assert.Equal(t, 5, conversionHealth(&models.Page{HasForm: true, PageType: models.PageTypeLanding}))
	assert.Equal(t, 10, conversionHealth(&models.Page{PageType: models.PageTypeBlog}))
	assert.Equal(t, 0, conversionHealth(&models.Page{PageType: models.PageTypeLanding}))
	assert.Equal(t, 8, conversionHealth(&models.Page{PageType: models.PageTypeSite}))
	assert.Equal(t, 8, conversionHealth(&models.Page{PageType: models.PageTypePillar}))
}

func TestTechnicalHealthDeductions(t *testing.T) {
	clean := &models.Page{IsIndexed: true}
	assert.Equal(t, 10, technicalHealth(clean))

	// Length issues of both kinds deduct once, duplicates of both kinds
	// deduct once.
	p := &models.Page{
		IsIndexed: true,
		MetaIssues: []string{
			"title_too_long", "title_too_short",
			"duplicate_title", "duplicate_meta",
		},
	}
	assert.Equal(t, 8, technicalHealth(p))

	worst := &models.Page{
		IsIndexed:      false,
		HasBrokenLinks: true,
		MetaIssues: []string{
			"missing_title", "missing_meta", "title_too_long", "duplicate_meta",
		},
	}
	// 10 -2 -2 -1 -1 -2 -2 = 0, floored at 0.
	assert.Equal(t, 0, technicalHealth(worst))
}

func TestTotalIsSumOfComponents(t *testing.T) {
	b := models.HealthBreakdown{
		TrafficTrend:     15,
		SEORanking:       8,
		PageSpeed:        20,
		ContentFreshness: 10,
		ConversionHealth: 5,
		TechnicalHealth:  6,
	}
	assert.Equal(t, 64, b.Total())
}

func TestFlagReasonsNamesWeakDimensions(t *testing.T) {
	reasons := FlagReasons(models.HealthBreakdown{
		TrafficTrend:     0,
		SEORanking:       20,
		PageSpeed:        8,
		ContentFreshness: 15,
		ConversionHealth: 8,
		TechnicalHealth:  10,
	})
	assert.Contains(t, reasons, "traffic declining")
	assert.Contains(t, reasons, "poor page speed")
	assert.NotContains(t, reasons, "weak search ranking")
}
