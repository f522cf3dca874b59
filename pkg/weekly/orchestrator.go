// Package weekly runs the deeper Sunday sweep: conversion audit, full link
// sweep, keyword coverage, trend snapshot and the narrative digest.
package weekly

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thymehq/thyme/pkg/audit"
	"github.com/thymehq/thyme/pkg/config"
	"github.com/thymehq/thyme/pkg/llm"
	"github.com/thymehq/thyme/pkg/metrics"
	"github.com/thymehq/thyme/pkg/models"
	"github.com/thymehq/thyme/pkg/signalbus"
	"github.com/thymehq/thyme/pkg/sources"
	"github.com/thymehq/thyme/pkg/store"
)

// Site-wide alerting thresholds for the trend snapshot.
const trafficDropAlertPct = -15.0

// staleAgeDays marks a page stale for the weekly sweep.
const staleAgeDays = 180

// AnalyticsSource is the analytics slice the weekly run needs.
type AnalyticsSource interface {
	PagePerformance(ctx context.Context, current, previous sources.DateRange) ([]sources.PageMetrics, error)
	KeyEvents(ctx context.Context) ([]sources.KeyEvent, error)
}

// SearchSource is the search slice the weekly run needs.
type SearchSource interface {
	PagePerformance(ctx context.Context, current, previous sources.DateRange) ([]sources.PageSearchMetrics, error)
	QueryContains(ctx context.Context, keyword string, days int) ([]sources.QueryRanking, error)
}

// CMSSource enumerates forms with submission counts.
type CMSSource interface {
	ListForms(ctx context.Context) ([]sources.Form, error)
}

// LinkSource enumerates and probes site URLs.
type LinkSource interface {
	SitemapURLs(ctx context.Context) ([]string, error)
	Check(ctx context.Context, target string) sources.LinkResult
	LinkTypeFor(target string) string
}

// TokenSource gates the run on a live credential.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Result is the weekly run report.
type Result struct {
	Success        bool     `json:"success"`
	TrackingHealth string   `json:"tracking_health"`
	LinksSwept     int      `json:"links_swept"`
	LinksResolved  int      `json:"links_resolved"`
	StalePages     int      `json:"stale_pages"`
	DigestFallback bool     `json:"digest_fallback"`
	DurationMs     int64    `json:"duration_ms"`
	StepErrors     []string `json:"step_errors,omitempty"`
}

// Orchestrator drives the nine weekly stages.
type Orchestrator struct {
	stores    *store.Stores
	tokens    TokenSource
	analytics AnalyticsSource
	search    SearchSource
	cms       CMSSource
	links     LinkSource
	chat      llm.Chat
	bus       *signalbus.Bus
	tuning    config.Tuning
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New wires the weekly orchestrator.
func New(stores *store.Stores, tokens TokenSource, analytics AnalyticsSource,
	search SearchSource, cms CMSSource, links LinkSource, chat llm.Chat,
	bus *signalbus.Bus, tuning config.Tuning, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		stores:    stores,
		tokens:    tokens,
		analytics: analytics,
		search:    search,
		cms:       cms,
		links:     links,
		chat:      chat,
		bus:       bus,
		tuning:    tuning,
		metrics:   m,
		logger:    logger,
	}
}

// stepRecorder builds the per-run failure recorder. Stages report from
// bounded goroutine groups, so the append is guarded.
func (o *Orchestrator) stepRecorder(result *Result) func(step string, err error) {
	var mu sync.Mutex
	return func(step string, err error) {
		msg := fmt.Sprintf("%s: %v", step, err)
		mu.Lock()
		result.StepErrors = append(result.StepErrors, msg)
		mu.Unlock()
		o.metrics.StepErrors.WithLabelValues(step).Inc()
		o.logger.Warn("Weekly step failed", "step", step, "error", err)
	}
}

// Run executes one weekly sweep under the same deadline discipline as the
// scan: step failures are recorded, only a dead credential aborts.
func (o *Orchestrator) Run(ctx context.Context) *Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.tuning.ScanBudget)
	defer cancel()

	result := &Result{}
	stepErr := o.stepRecorder(result)

	o.logger.Info("Weekly sweep starting")
	figures := map[string]any{}

	// Stage 1: token and windows.
	if _, err := o.tokens.AccessToken(ctx); err != nil {
		stepErr("token", err)
		result.DurationMs = time.Since(start).Milliseconds()
		o.metrics.ScanRuns.WithLabelValues("weekly", "failed").Inc()
		return result
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	current := window(today.AddDate(0, 0, -7), today)
	previous := window(today.AddDate(0, 0, -14), today.AddDate(0, 0, -7))

	// Stage 2: refresh both snapshot families in parallel.
	var analyticsRows []sources.PageMetrics
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := o.search.PagePerformance(gctx, current, previous)
		if err != nil {
			stepErr("search_snapshots", err)
			return nil
		}
		snaps := make([]models.SearchSnapshot, 0, len(rows))
		for _, r := range rows {
			snaps = append(snaps, models.SearchSnapshot{
				PageURL:             r.PageURL,
				SnapshotDate:        today,
				TotalClicks:         r.Clicks,
				TotalImpressions:    r.Impressions,
				AvgCTR:              r.CTR,
				AvgPosition:         r.Position,
				ClicksPrevious:      r.PreviousClicks,
				ImpressionsPrevious: r.PreviousImpressions,
				PositionPrevious:    r.PreviousPosition,
				PositionChange:      r.PositionChange(),
			})
		}
		if err := o.stores.Snapshots.UpsertSearch(gctx, snaps, o.tuning.UpsertChunkSize); err != nil {
			stepErr("search_snapshots", err)
		}
		return nil
	})
	g.Go(func() error {
		rows, err := o.analytics.PagePerformance(gctx, current, previous)
		if err != nil {
			stepErr("analytics_snapshots", err)
			return nil
		}
		analyticsRows = rows
		snaps := make([]models.AnalyticsSnapshot, 0, len(rows))
		for _, r := range rows {
			snaps = append(snaps, models.AnalyticsSnapshot{
				PageURL:            r.PagePath,
				SnapshotDate:       today,
				ActiveUsers:        r.ActiveUsers,
				Sessions:           r.Sessions,
				PageViews:          r.PageViews,
				BounceRate:         r.BounceRate,
				AvgSessionDuration: r.AvgSessionDuration,
				UsersPrevious:      r.PreviousUsers,
				SessionsPrevious:   r.PreviousSessions,
				TrafficChangePct:   models.TrafficChange(r.ActiveUsers, r.PreviousUsers),
			})
		}
		if err := o.stores.Snapshots.UpsertAnalytics(gctx, snaps, o.tuning.UpsertChunkSize); err != nil {
			stepErr("analytics_snapshots", err)
		}
		return nil
	})
	g.Wait()

	// Stage 3: conversion audit.
	if a := o.conversionAudit(ctx, stepErr); a != nil {
		result.TrackingHealth = a.TrackingHealth
		figures["conversion_audit"] = a
	}

	// Stage 4: full link sweep with resolution.
	result.LinksSwept, result.LinksResolved = o.linkSweep(ctx, stepErr)
	figures["links_swept"] = result.LinksSwept
	figures["links_resolved"] = result.LinksResolved

	// Stage 5: full meta audit over the inventory.
	pages, err := o.stores.Pages.Active(ctx)
	if err != nil {
		stepErr("inventory", err)
	}
	metaIssues := o.metaAudit(ctx, pages, stepErr)
	figures["meta_issues"] = metaIssues

	// Stage 6: keyword coverage from cross-agent signals.
	coverage := o.keywordCoverage(ctx, stepErr)
	if len(coverage) > 0 {
		figures["keyword_coverage"] = coverage
	}

	// Stage 7: stale pages.
	stale := stalePages(pages)
	result.StalePages = len(stale)
	figures["stale_pages"] = stale

	// Stage 8: trend snapshot with threshold signals.
	if trend := o.trendSnapshot(ctx, today, pages, analyticsRows, metaIssues, stepErr); trend != nil {
		figures["trend"] = trend
	}

	// Stage 9: narrative digest.
	result.DigestFallback = o.digest(ctx, today.AddDate(0, 0, -7), figures, stepErr)

	result.Success = true
	result.DurationMs = time.Since(start).Milliseconds()
	o.metrics.ScanRuns.WithLabelValues("weekly", "success").Inc()
	o.metrics.ScanDuration.Observe(time.Since(start).Seconds())
	o.logger.Info("Weekly sweep complete",
		"tracking_health", result.TrackingHealth,
		"links_swept", result.LinksSwept,
		"stale_pages", result.StalePages,
		"duration_ms", result.DurationMs,
		"step_errors", len(result.StepErrors))
	return result
}

func (o *Orchestrator) conversionAudit(ctx context.Context, stepErr func(string, error)) *models.ConversionAudit {
	events, err := o.analytics.KeyEvents(ctx)
	if err != nil {
		stepErr("conversion_audit", err)
		return nil
	}
	forms, err := o.cms.ListForms(ctx)
	if err != nil {
		stepErr("conversion_audit", err)
		return nil
	}
	a := AuditConversions(events, forms, time.Now())
	if err := o.stores.Trends.InsertConversionAudit(ctx, a); err != nil {
		stepErr("conversion_audit", err)
		return nil
	}
	o.logger.Info("Conversion audit complete",
		"tracking_health", a.TrackingHealth,
		"key_events", a.KeyEventCount,
		"forms", a.FormCount,
		"gaps", len(a.Gaps))
	return a
}

// linkSweep probes every sitemap URL and resolves targets that recovered.
func (o *Orchestrator) linkSweep(ctx context.Context, stepErr func(string, error)) (swept, resolved int) {
	urls, err := o.links.SitemapURLs(ctx)
	if err != nil {
		stepErr("link_sweep", err)
		return 0, 0
	}

	previouslyBroken := make(map[string]bool)
	if broken, err := o.stores.LinkHealth.BrokenTargets(ctx); err != nil {
		stepErr("link_sweep", err)
	} else {
		for _, u := range broken {
			previouslyBroken[u] = true
		}
	}

	results := make([]sources.LinkResult, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.tuning.LinkCheckParallel)
	for i, target := range urls {
		g.Go(func() error {
			results[i] = o.links.Check(gctx, target)
			return nil
		})
	}
	g.Wait()

	// Resolution must run before the upserts: the upsert rewrites
	// is_broken from the fresh check, and Resolve only matches rows
	// still marked broken.
	var recovered []string
	for _, r := range results {
		if r.URL != "" && !r.IsBroken && previouslyBroken[r.URL] {
			recovered = append(recovered, r.URL)
		}
	}
	n, err := o.stores.LinkHealth.Resolve(ctx, recovered)
	if err != nil {
		stepErr("link_sweep", err)
	}

	for _, r := range results {
		if r.URL == "" {
			continue
		}
		var status *int
		if r.Status != 0 {
			status = &r.Status
		}
		rec := &models.LinkHealthRecord{
			SourcePageURL: r.URL,
			TargetURL:     r.URL,
			LinkType:      models.LinkType(o.links.LinkTypeFor(r.URL)),
			HTTPStatus:    status,
			IsBroken:      r.IsBroken,
			IsRedirect:    r.IsRedirect,
			RedirectChain: r.RedirectChain,
			RedirectCount: len(r.RedirectChain) - 1,
			ErrorMessage:  r.Error,
		}
		if err := o.stores.LinkHealth.Upsert(ctx, rec); err != nil {
			stepErr("link_sweep", err)
			continue
		}
		swept++
	}
	return swept, int(n)
}

func (o *Orchestrator) metaAudit(ctx context.Context, pages []models.Page, stepErr func(string, error)) int {
	issuesByURL := audit.MetaIssues(pages)
	total := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.tuning.CMSUpdateParallel)
	for i := range pages {
		issues := issuesByURL[pages[i].URL]
		total += len(issues)
		pages[i].MetaIssues = issues
		g.Go(func() error {
			if err := o.stores.Pages.UpdateMetaIssues(gctx, pages[i].URL, issues); err != nil {
				stepErr("meta_audit", err)
			}
			return nil
		})
	}
	g.Wait()
	return total
}

// KeywordCoverage is one keyword's organic-coverage verdict.
type KeywordCoverage struct {
	Keyword     string  `json:"keyword"`
	HasCoverage bool    `json:"has_coverage"`
	BestPageURL string  `json:"best_page_url,omitempty"`
	BestPos     float64 `json:"best_position,omitempty"`
}

// keywordCoverage consumes trending keywords other agents surfaced and
// checks whether the site already ranks for them.
func (o *Orchestrator) keywordCoverage(ctx context.Context, stepErr func(string, error)) []KeywordCoverage {
	signals, err := o.bus.Consume(ctx,
		[]string{signalbus.EventTrendingSearchTerm, signalbus.EventHighCPCAlert},
		time.Now().AddDate(0, 0, -30), 100)
	if err != nil {
		stepErr("keyword_coverage", err)
		return nil
	}

	seen := make(map[string]bool)
	var out []KeywordCoverage
	for _, sig := range signals {
		keyword, _ := sig.Payload["keyword"].(string)
		if keyword == "" || seen[keyword] {
			continue
		}
		seen[keyword] = true

		rows, err := o.search.QueryContains(ctx, keyword, 30)
		if err != nil {
			stepErr("keyword_coverage", err)
			continue
		}
		cov := KeywordCoverage{Keyword: keyword}
		for _, r := range rows {
			if r.Position <= 20 && (!cov.HasCoverage || r.Position < cov.BestPos) {
				cov.HasCoverage = true
				cov.BestPageURL = r.PageURL
				cov.BestPos = r.Position
			}
		}
		out = append(out, cov)
	}
	return out
}

// stalePages lists pages never updated or older than the stale threshold.
func stalePages(pages []models.Page) []string {
	var out []string
	for _, p := range pages {
		if p.LastUpdatedAt == nil || (p.ContentAgeDays != nil && *p.ContentAgeDays > staleAgeDays) {
			out = append(out, p.URL)
		}
	}
	return out
}

// trendSnapshot aggregates the site-wide figures, persists the snapshot and
// emits threshold signals.
func (o *Orchestrator) trendSnapshot(ctx context.Context, today time.Time,
	pages []models.Page, analyticsRows []sources.PageMetrics, metaIssues int,
	stepErr func(string, error)) *models.TrendSnapshot {

	trend := &models.TrendSnapshot{
		Period:          "weekly",
		SnapshotDate:    today,
		MetaIssuesCount: metaIssues,
	}

	var scoreSum, scored int
	for _, p := range pages {
		if p.HealthScore == nil {
			continue
		}
		scored++
		scoreSum += *p.HealthScore
		trend.ScoreDistribution[models.ScoreBucket(*p.HealthScore)]++
	}
	if scored > 0 {
		trend.AvgHealthScore = float64(scoreSum) / float64(scored)
	}

	byChange := make([]models.PageTrend, 0, len(analyticsRows))
	for _, r := range analyticsRows {
		trend.TotalTraffic += r.ActiveUsers
		byChange = append(byChange, models.PageTrend{
			URL:              r.PagePath,
			TrafficChangePct: models.TrafficChange(r.ActiveUsers, r.PreviousUsers),
			ActiveUsers:      r.ActiveUsers,
		})
	}
	// Analytics stage failed: fall back to whatever was stored today so the
	// site total is not reported as zero.
	if len(analyticsRows) == 0 {
		if total, err := o.stores.Snapshots.TotalTrafficForDate(ctx, today); err != nil {
			stepErr("trend_snapshot", err)
		} else {
			trend.TotalTraffic = total
		}
	}
	sort.Slice(byChange, func(i, j int) bool {
		return byChange[i].TrafficChangePct < byChange[j].TrafficChangePct
	})
	trend.TopDeclining = topN(byChange, 5)
	reversed := make([]models.PageTrend, len(byChange))
	for i, t := range byChange {
		reversed[len(byChange)-1-i] = t
	}
	trend.TopImproving = topN(reversed, 5)

	if prior, err := o.stores.Trends.LatestTrend(ctx, "weekly"); err != nil {
		stepErr("trend_snapshot", err)
	} else if prior != nil && prior.TotalTraffic > 0 {
		trend.TrafficChangePct = models.TrafficChange(trend.TotalTraffic, prior.TotalTraffic)
	}

	if counters, err := o.stores.LinkHealth.Counters(ctx); err != nil {
		stepErr("trend_snapshot", err)
	} else {
		trend.BrokenLinksCount = counters.Broken
		trend.NewBrokenLinks = counters.NewBroken
	}

	if err := o.stores.Trends.InsertTrend(ctx, trend); err != nil {
		stepErr("trend_snapshot", err)
		return nil
	}

	if trend.NewBrokenLinks > 0 {
		o.bus.Emit(ctx, signalbus.EventBrokenLinksSpike, map[string]any{
			"new_broken_links": trend.NewBrokenLinks,
			"broken_links":     trend.BrokenLinksCount,
		})
	}
	if trend.TrafficChangePct < trafficDropAlertPct {
		o.bus.Emit(ctx, signalbus.EventTrafficDropAlert, map[string]any{
			"scope":              "site",
			"traffic_change_pct": trend.TrafficChangePct,
		})
	}
	return trend
}

const digestSystemPrompt = `You write the weekly website health digest for a marketing team.
Summarize the figures into a short plain-language narrative: overall health,
what got worse, what improved, and the two or three actions that matter most.`

// digest renders the narrative from the collected figures, falling back to
// a deterministic line when the model is unavailable. Returns whether the
// fallback was used.
func (o *Orchestrator) digest(ctx context.Context, weekStart time.Time,
	figures map[string]any, stepErr func(string, error)) bool {

	body, err := json.MarshalIndent(figures, "", "  ")
	if err != nil {
		stepErr("digest", err)
		return true
	}

	fallback := false
	narrative, err := o.chat.Complete(ctx, digestSystemPrompt,
		"This week's figures:\n"+string(body), o.tuning.DigestMaxTokens)
	if err != nil || narrative == "" {
		if err != nil {
			stepErr("digest", err)
		}
		fallback = true
		narrative = fmt.Sprintf(
			"Weekly sweep for week of %s completed; narrative generation unavailable.",
			weekStart.Format("2006-01-02"))
	}

	if err := o.stores.Trends.InsertDigest(ctx, &models.WeeklyDigest{
		WeekStart:  weekStart,
		Narrative:  narrative,
		Figures:    figures,
		IsFallback: fallback,
	}); err != nil {
		stepErr("digest", err)
	}
	return fallback
}

func topN(in []models.PageTrend, n int) []models.PageTrend {
	if len(in) > n {
		in = in[:n]
	}
	out := make([]models.PageTrend, len(in))
	copy(out, in)
	return out
}

func window(start, end time.Time) sources.DateRange {
	return sources.DateRange{
		Start: start.Format("2006-01-02"),
		End:   end.Format("2006-01-02"),
	}
}
