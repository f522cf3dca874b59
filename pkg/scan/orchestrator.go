// Package scan runs the scheduled health scan: snapshot refresh, inventory
// sync, scoring and the investigation handoff, all against a global
// deadline with per-step error recording.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thymehq/thyme/pkg/agent"
	"github.com/thymehq/thyme/pkg/audit"
	"github.com/thymehq/thyme/pkg/config"
	"github.com/thymehq/thyme/pkg/inventory"
	"github.com/thymehq/thyme/pkg/metrics"
	"github.com/thymehq/thyme/pkg/models"
	"github.com/thymehq/thyme/pkg/scoring"
	"github.com/thymehq/thyme/pkg/services"
	"github.com/thymehq/thyme/pkg/signalbus"
	"github.com/thymehq/thyme/pkg/sources"
	"github.com/thymehq/thyme/pkg/store"
)

// TokenSource gates the run on a live credential.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// AnalyticsSource pulls the merged analytics comparison.
type AnalyticsSource interface {
	PagePerformance(ctx context.Context, current, previous sources.DateRange) ([]sources.PageMetrics, error)
}

// SearchSource pulls the merged search comparison.
type SearchSource interface {
	PagePerformance(ctx context.Context, current, previous sources.DateRange) ([]sources.PageSearchMetrics, error)
}

// SpeedSource runs one performance audit.
type SpeedSource interface {
	Audit(ctx context.Context, pageURL string, strategy models.SpeedStrategy) (*models.SpeedScore, error)
}

// LinkSource enumerates and probes site URLs.
type LinkSource interface {
	SitemapURLs(ctx context.Context) ([]string, error)
	Check(ctx context.Context, target string) sources.LinkResult
	LinkTypeFor(target string) string
}

// Result is the user-visible scan report.
type Result struct {
	Success          bool     `json:"success"`
	PagesScanned     int      `json:"pages_scanned"`
	PagesFlagged     int      `json:"pages_flagged"`
	FindingsCreated  int      `json:"findings_created"`
	BrokenLinksFound int      `json:"broken_links_found"`
	MetaIssuesFound  int      `json:"meta_issues_found"`
	DurationMs       int64    `json:"duration_ms"`
	StepErrors       []string `json:"step_errors,omitempty"`
}

// Orchestrator drives the twelve scan stages.
type Orchestrator struct {
	stores       *store.Stores
	tokens       TokenSource
	analytics    AnalyticsSource
	search       SearchSource
	speed        SpeedSource
	links        LinkSource
	syncer       *inventory.Syncer
	investigator *agent.Investigator
	sweeper      *services.Sweeper
	bus          *signalbus.Bus
	tuning       config.Tuning
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// New wires the orchestrator.
func New(stores *store.Stores, tokens TokenSource, analytics AnalyticsSource,
	search SearchSource, speed SpeedSource, links LinkSource,
	syncer *inventory.Syncer, investigator *agent.Investigator,
	sweeper *services.Sweeper, bus *signalbus.Bus,
	tuning config.Tuning, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		stores:       stores,
		tokens:       tokens,
		analytics:    analytics,
		search:       search,
		speed:        speed,
		links:        links,
		syncer:       syncer,
		investigator: investigator,
		sweeper:      sweeper,
		bus:          bus,
		tuning:       tuning,
		metrics:      m,
		logger:       logger,
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
		o.logger.Warn("Scan step failed", "step", step, "error", err)
	}
}

// Run executes one full scan. Only a failed token acquisition aborts; every
// other stage failure is recorded as a step error and the run continues.
func (o *Orchestrator) Run(ctx context.Context) *Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.tuning.ScanBudget)
	defer cancel()

	result := &Result{}
	stepErr := o.stepRecorder(result)

	o.logger.Info("Health scan starting", "budget", o.tuning.ScanBudget)

	// Stage 1: the token gates everything downstream.
	if _, err := o.tokens.AccessToken(ctx); err != nil {
		stepErr("token", err)
		result.DurationMs = time.Since(start).Milliseconds()
		o.metrics.ScanRuns.WithLabelValues("scan", "failed").Inc()
		return result
	}
	pages, err := o.stores.Pages.Active(ctx)
	if err != nil {
		stepErr("inventory", err)
	}

	// Stage 2: reporting windows.
	today := time.Now().UTC().Truncate(24 * time.Hour)
	current := window(today.AddDate(0, 0, -7), today)
	previous := window(today.AddDate(0, 0, -14), today.AddDate(0, 0, -7))

	// Stage 3: search snapshots.
	searchByURL := make(map[string]models.SearchSnapshot)
	if rows, err := o.search.PagePerformance(ctx, current, previous); err != nil {
		stepErr("search_snapshots", err)
	} else {
		snaps := make([]models.SearchSnapshot, 0, len(rows))
		for _, r := range rows {
			sn := models.SearchSnapshot{
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
			}
			snaps = append(snaps, sn)
			searchByURL[normalizeURL(r.PageURL)] = sn
		}
		if err := o.stores.Snapshots.UpsertSearch(ctx, snaps, o.tuning.UpsertChunkSize); err != nil {
			stepErr("search_snapshots", err)
		}
	}

	// Stage 4: analytics snapshots. Analytics keys by path, so the snapshot
	// page_url column carries the path.
	analyticsByPath := make(map[string]models.AnalyticsSnapshot)
	if rows, err := o.analytics.PagePerformance(ctx, current, previous); err != nil {
		stepErr("analytics_snapshots", err)
		// Recoverable remote trouble: score against today's stored rows
		// instead of treating every page as missing data.
		if sources.IsRecoverable(err) {
			if stored, serr := o.stores.Snapshots.AnalyticsForDate(ctx, today); serr != nil {
				stepErr("analytics_snapshots", serr)
			} else {
				analyticsByPath = stored
			}
		}
	} else {
		snaps := make([]models.AnalyticsSnapshot, 0, len(rows))
		for _, r := range rows {
			sn := models.AnalyticsSnapshot{
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
			}
			snaps = append(snaps, sn)
			analyticsByPath[r.PagePath] = sn
		}
		if err := o.stores.Snapshots.UpsertAnalytics(ctx, snaps, o.tuning.UpsertChunkSize); err != nil {
			stepErr("analytics_snapshots", err)
		}
	}

	// Stage 5: speed spot checks, abandoned past the stage cutoff.
	speedByURL := make(map[string]models.SpeedScore)
	if historical, err := o.stores.Snapshots.LatestSpeedByPage(ctx); err != nil {
		stepErr("speed_history", err)
	} else {
		for k, v := range historical {
			speedByURL[normalizeURL(k)] = v
		}
		for _, target := range o.pickSpeedTargets(pages, historical) {
			if time.Since(start) > o.tuning.SpeedStageCutoff {
				o.logger.Info("Speed stage cutoff reached, skipping remaining audits")
				break
			}
			sc, err := o.speed.Audit(ctx, target, models.StrategyMobile)
			if err != nil {
				stepErr("speed_audit", err)
				continue
			}
			if err := o.stores.Snapshots.InsertSpeedScore(ctx, sc); err != nil {
				stepErr("speed_audit", err)
				continue
			}
			// In-run results take precedence over historical rows.
			speedByURL[normalizeURL(target)] = *sc
		}
	}

	// Stage 6: CMS sync, inventory reload, HTML form supplement.
	if _, err := o.syncer.Sync(ctx); err != nil {
		stepErr("cms_sync", err)
	}
	if reloaded, err := o.stores.Pages.Active(ctx); err != nil {
		stepErr("inventory_reload", err)
	} else {
		pages = reloaded
	}
	o.syncer.SupplementForms(ctx, pages)
	result.PagesScanned = len(pages)

	// Stage 7: broken-link spot check.
	result.BrokenLinksFound = o.checkLinks(ctx, pages, stepErr)

	// Stage 8: meta audit.
	result.MetaIssuesFound = o.metaAudit(ctx, pages, stepErr)

	// Stage 9 and 10: score everything and collect the flagged set.
	flagged := o.scorePages(ctx, pages, analyticsByPath, searchByURL, speedByURL, stepErr)
	result.PagesFlagged = len(flagged)
	o.metrics.PagesFlagged.Set(float64(len(flagged)))

	// Maintenance sweeps before new investigations: expire stale
	// recommendations and close findings whose pages recovered.
	if _, err := o.sweeper.ExpireStale(ctx); err != nil {
		stepErr("expiry_sweep", err)
	}
	if _, err := o.sweeper.ResolveRecovered(ctx); err != nil {
		stepErr("resolution_sweep", err)
	}

	// Stage 11: agent loop, only while there is budget left.
	if time.Since(start) < o.tuning.AgentStageCutoff {
		result.FindingsCreated = o.investigate(ctx, flagged, stepErr)
	} else {
		o.logger.Info("Agent stage skipped, budget exhausted",
			"elapsed", time.Since(start))
	}

	// Stage 12: audit trail and completion signal.
	result.Success = true
	result.DurationMs = time.Since(start).Milliseconds()
	if err := o.stores.ChangeLog.Append(ctx, &models.ChangeLogEntry{
		Action:     "health_scan",
		EntityType: "scan",
		Outcome:    "executed",
		Details: map[string]any{
			"pages_scanned":      result.PagesScanned,
			"pages_flagged":      result.PagesFlagged,
			"findings_created":   result.FindingsCreated,
			"broken_links_found": result.BrokenLinksFound,
			"meta_issues_found":  result.MetaIssuesFound,
			"duration_ms":        result.DurationMs,
			"step_errors":        result.StepErrors,
		},
		ExecutedBy: ptr("thyme"),
		ExecutedAt: ptr(time.Now()),
	}); err != nil {
		stepErr("changelog", err)
	}
	o.bus.Emit(ctx, signalbus.EventHealthScanComplete, map[string]any{
		"pages_scanned":    result.PagesScanned,
		"pages_flagged":    result.PagesFlagged,
		"findings_created": result.FindingsCreated,
		"duration_ms":      result.DurationMs,
	})

	o.metrics.ScanRuns.WithLabelValues("scan", "success").Inc()
	o.metrics.ScanDuration.Observe(time.Since(start).Seconds())
	o.logger.Info("Health scan complete",
		"pages_scanned", result.PagesScanned,
		"pages_flagged", result.PagesFlagged,
		"findings_created", result.FindingsCreated,
		"duration_ms", result.DurationMs,
		"step_errors", len(result.StepErrors))
	return result
}

// pickSpeedTargets selects the spot-check URLs by priority: never tested,
// then lowest scored, then landing pages, then anything, deduped.
func (o *Orchestrator) pickSpeedTargets(pages []models.Page, tested map[string]models.SpeedScore) []string {
	limit := o.tuning.SpeedChecksPerScan
	seen := make(map[string]bool)
	var targets []string
	add := func(u string) {
		if len(targets) < limit && !seen[u] {
			seen[u] = true
			targets = append(targets, u)
		}
	}

	for _, p := range pages {
		if _, ok := tested[p.URL]; !ok {
			add(p.URL)
		}
	}
	scored := make([]models.Page, 0, len(pages))
	for _, p := range pages {
		if p.HealthScore != nil {
			scored = append(scored, p)
		}
	}
	sort.Slice(scored, func(i, j int) bool {
		return *scored[i].HealthScore < *scored[j].HealthScore
	})
	for _, p := range scored {
		add(p.URL)
	}
	for _, p := range pages {
		if p.PageType == models.PageTypeLanding {
			add(p.URL)
		}
	}
	for _, p := range pages {
		add(p.URL)
	}
	return targets
}

// checkLinks probes a bounded URL selection: previously broken targets
// first, then landing pages, then the sitemap order.
func (o *Orchestrator) checkLinks(ctx context.Context, pages []models.Page,
	stepErr func(string, error)) int {

	seen := make(map[string]bool)
	var targets []string
	add := func(u string) {
		if len(targets) < o.tuning.LinkChecksPerScan && u != "" && !seen[u] {
			seen[u] = true
			targets = append(targets, u)
		}
	}

	if broken, err := o.stores.LinkHealth.BrokenTargets(ctx); err != nil {
		stepErr("link_check", err)
	} else {
		for _, u := range broken {
			add(u)
		}
	}
	for _, p := range pages {
		if p.PageType == models.PageTypeLanding {
			add(p.URL)
		}
	}
	if sitemap, err := o.links.SitemapURLs(ctx); err != nil {
		stepErr("sitemap", err)
	} else {
		for _, u := range sitemap {
			add(u)
		}
	}

	results := make([]sources.LinkResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.tuning.LinkCheckParallel)
	for i, target := range targets {
		g.Go(func() error {
			results[i] = o.links.Check(gctx, target)
			return nil
		})
	}
	g.Wait()

	brokenFound := 0
	for _, r := range results {
		if r.URL == "" {
			continue
		}
		var status *int
		if r.Status != 0 {
			status = &r.Status
		}
		// Sitemap sweeps probe the page itself, so source equals target.
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
			stepErr("link_check", err)
			continue
		}
		if r.IsBroken {
			brokenFound++
		}
	}

	// Reflect the counters onto the pages that were just checked.
	if counts, err := o.stores.LinkHealth.BrokenCountBySource(ctx); err != nil {
		stepErr("link_check", err)
	} else {
		for i := range pages {
			if !seen[pages[i].URL] {
				continue
			}
			n := counts[pages[i].URL]
			if err := o.stores.Pages.UpdateBrokenLinks(ctx, pages[i].URL, n); err != nil {
				stepErr("link_check", err)
				continue
			}
			pages[i].BrokenLinkCount = n
			pages[i].HasBrokenLinks = n > 0
		}
	}
	return brokenFound
}

// metaAudit recomputes every page's issue set and persists changed sets in
// bounded groups. Returns the total issue count.
func (o *Orchestrator) metaAudit(ctx context.Context, pages []models.Page,
	stepErr func(string, error)) int {

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

// scorePages computes and persists every page's breakdown, returning the
// flagged set sorted worst first.
func (o *Orchestrator) scorePages(ctx context.Context, pages []models.Page,
	analyticsByPath map[string]models.AnalyticsSnapshot,
	searchByURL map[string]models.SearchSnapshot,
	speedByURL map[string]models.SpeedScore,
	stepErr func(string, error)) []agent.PageContext {

	now := time.Now()
	unparseable := 0
	var flagged []agent.PageContext

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.tuning.CMSUpdateParallel)
	for i := range pages {
		p := &pages[i]

		path := pagePath(p.URL)
		if path == "" {
			// Unparseable page URL: fall back to the raw string so the
			// lookup still has a chance to hit.
			path = p.URL
			unparseable++
		}
		in := scoring.Inputs{Page: p}
		if sn, ok := analyticsByPath[path]; ok {
			in.Analytics = &sn
		}
		if sn, ok := searchByURL[normalizeURL(p.URL)]; ok {
			in.Search = &sn
		}
		if sc, ok := speedByURL[normalizeURL(p.URL)]; ok {
			in.Speed = &sc
		}

		breakdown := scoring.Score(in)
		total := breakdown.Total()
		p.HealthScore = &total
		p.HealthBreakdown = &breakdown

		g.Go(func() error {
			if err := o.stores.Pages.UpdateScore(gctx, p.URL, total, breakdown, now); err != nil {
				stepErr("scoring", err)
			}
			return nil
		})

		if scoring.IsFlagged(total) {
			flagged = append(flagged, agent.PageContext{
				Page:        *p,
				Breakdown:   breakdown,
				FlagReasons: scoring.FlagReasons(breakdown),
				Analytics:   in.Analytics,
				Search:      in.Search,
				Speed:       in.Speed,
			})
		}
	}
	g.Wait()

	if unparseable > 0 {
		o.logger.Warn("Pages with unparseable URLs scored against raw string",
			"count", unparseable)
	}
	sort.Slice(flagged, func(i, j int) bool {
		return *flagged[i].Page.HealthScore < *flagged[j].Page.HealthScore
	})
	return flagged
}

// investigate hands the worst flagged pages to the agent, bounded by the
// per-scan investigation cap. Returns the number of drafted findings.
func (o *Orchestrator) investigate(ctx context.Context, flagged []agent.PageContext,
	stepErr func(string, error)) int {

	created := 0
	for i, pc := range flagged {
		if i >= o.tuning.MaxInvestigations {
			break
		}
		outcome, err := o.investigator.Investigate(ctx, pc)
		if err != nil {
			stepErr("agent_loop", err)
			continue
		}
		for _, call := range outcome.ToolCalls {
			o.metrics.ToolCalls.WithLabelValues(call.ToolName).Inc()
		}
		if outcome.Skipped {
			o.metrics.Findings.WithLabelValues("skipped").Inc()
			continue
		}
		o.metrics.Findings.WithLabelValues("drafted").Inc()
		created++
	}
	return created
}

func window(start, end time.Time) sources.DateRange {
	return sources.DateRange{
		Start: start.Format("2006-01-02"),
		End:   end.Format("2006-01-02"),
	}
}

// pagePath extracts the URL path, "" when the URL does not parse.
func pagePath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return ""
	}
	return u.Path
}

// normalizeURL strips the trailing slash so search and page keys join.
func normalizeURL(raw string) string {
	if raw == "/" {
		return raw
	}
	return strings.TrimRight(raw, "/")
}

func ptr[T any](v T) *T { return &v }
