package agent

import (
	"context"
	"fmt"

	"github.com/thymehq/thyme/pkg/llm"
	"github.com/thymehq/thyme/pkg/models"
	"github.com/thymehq/thyme/pkg/sources"
)

// Tool names. The set is closed; the loop rejects anything else.
const (
	ToolPageAnalytics  = "get_page_analytics"
	ToolPageRankings   = "get_page_rankings"
	ToolPageSpeed      = "get_page_speed_detail"
	ToolPageDetail     = "get_hubspot_page_detail"
	ToolKeywordGap     = "check_keyword_page_gap"
	ToolSignalBus      = "check_signal_bus"
	ToolEvaluate       = "evaluate_recommendation"
	ToolSubmitFinding  = "submit_finding"
	ToolSkipFinding    = "skip_finding"
)

// IsTerminal reports whether a tool ends the investigation.
func IsTerminal(name string) bool {
	return name == ToolSubmitFinding || name == ToolSkipFinding
}

// AnalyticsSource is the analytics slice the tools need.
type AnalyticsSource interface {
	PageDetail(ctx context.Context, pagePath string, days int) ([]sources.PageDetailRow, error)
}

// SearchSource is the search-index slice the tools need.
type SearchSource interface {
	TopQueries(ctx context.Context, pageURL string, days, limit int) ([]sources.QueryRanking, error)
	QueryContains(ctx context.Context, keyword string, days int) ([]sources.QueryRanking, error)
}

// SpeedSource runs an on-demand performance audit.
type SpeedSource interface {
	Audit(ctx context.Context, pageURL string, strategy models.SpeedStrategy) (*models.SpeedScore, error)
}

// CMSSource fetches one CMS page record.
type CMSSource interface {
	PageDetail(ctx context.Context, pageID string) (*sources.CMSPage, error)
}

// PageLookup maps a page URL to its inventory record. Implemented by
// store.PageStore.
type PageLookup interface {
	GetByURL(ctx context.Context, url string) (*models.Page, error)
}

// SignalReader reads recent bus signals. Implemented by signalbus.Bus.
type SignalReader interface {
	Recent(ctx context.Context, eventType string, limit int) ([]models.Signal, error)
}

// Toolset executes the non-terminal investigation tools.
type Toolset struct {
	analytics AnalyticsSource
	search    SearchSource
	speed     SpeedSource
	cms       CMSSource
	pages     PageLookup
	bus       SignalReader
	evaluator *GuardrailEvaluator
}

// NewToolset wires the tool executors.
func NewToolset(analytics AnalyticsSource, search SearchSource, speed SpeedSource,
	cms CMSSource, pages PageLookup, bus SignalReader, evaluator *GuardrailEvaluator) *Toolset {
	return &Toolset{
		analytics: analytics,
		search:    search,
		speed:     speed,
		cms:       cms,
		pages:     pages,
		bus:       bus,
		evaluator: evaluator,
	}
}

// Specs declares the full closed tool set to the model, terminal tools
// included.
func (t *Toolset) Specs() []llm.ToolSpec {
	str := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	obj := func(props map[string]any, required ...string) map[string]any {
		return map[string]any{"type": "object", "properties": props, "required": required}
	}
	return []llm.ToolSpec{
		{
			Name:        ToolPageAnalytics,
			Description: "Daily analytics series for one page path over up to 30 days.",
			Parameters: obj(map[string]any{
				"page_path": str("URL path of the page, e.g. /pricing"),
				"days":      map[string]any{"type": "integer", "maximum": 30},
			}, "page_path"),
		},
		{
			Name:        ToolPageRankings,
			Description: "Top search queries and positions for one page URL.",
			Parameters: obj(map[string]any{
				"page_url": str("Absolute page URL"),
				"days":     map[string]any{"type": "integer", "maximum": 30},
			}, "page_url"),
		},
		{
			Name:        ToolPageSpeed,
			Description: "Run a fresh performance audit for a page. Slow (15-25s); use sparingly.",
			Parameters: obj(map[string]any{
				"url":      str("Absolute page URL"),
				"strategy": map[string]any{"type": "string", "enum": []string{"mobile", "desktop"}},
			}, "url"),
		},
		{
			Name:        ToolPageDetail,
			Description: "CMS record for one page: forms, CTAs, publish and update dates.",
			Parameters: obj(map[string]any{
				"page_url": str("Absolute page URL"),
			}, "page_url"),
		},
		{
			Name:        ToolKeywordGap,
			Description: "Check whether any page already ranks organically for a keyword.",
			Parameters: obj(map[string]any{
				"keyword": str("Search keyword"),
			}, "keyword"),
		},
		{
			Name:        ToolSignalBus,
			Description: "Recent cross-agent signals for one event type.",
			Parameters: obj(map[string]any{
				"topic": str("Event type to query"),
			}, "topic"),
		},
		{
			Name:        ToolEvaluate,
			Description: "Check a proposed recommendation against the active guardrails before submitting.",
			Parameters: obj(map[string]any{
				"action_type":    str("Proposed action type"),
				"action_summary": str("One-line action summary"),
				"severity":       map[string]any{"type": "string", "enum": []string{"critical", "high", "medium", "low"}},
				"confidence":     map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			}, "action_type", "confidence"),
		},
		{
			Name:        ToolSubmitFinding,
			Description: "Finalize the investigation with a finding and a recommendation for human review.",
			Parameters: obj(map[string]any{
				"finding_type": map[string]any{"type": "string", "enum": []string{
					"traffic_drop", "ranking_loss", "speed_issue", "content_stale",
					"broken_links", "meta_issue", "conversion_gap"}},
				"severity":              map[string]any{"type": "string", "enum": []string{"critical", "high", "medium", "low"}},
				"title":                 str("Short finding title"),
				"description":           str("What is wrong and the evidence"),
				"business_impact":       str("Why it matters"),
				"action_type":           str("Recommended action type"),
				"action_summary":        str("One-line recommended action"),
				"action_detail":         map[string]any{"type": "object"},
				"confidence":            map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				"risk_level":            map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
				"investigation_summary": str("Full narrative of the investigation"),
			}, "finding_type", "severity", "title", "description", "action_type", "action_summary"),
		},
		{
			Name:        ToolSkipFinding,
			Description: "End the investigation without a recommendation, recording why.",
			Parameters: obj(map[string]any{
				"reason":                str("Why no action is warranted"),
				"investigation_summary": str("What was checked"),
			}, "reason"),
		},
	}
}

// Execute runs one non-terminal tool and returns its JSON-ready output.
func (t *Toolset) Execute(ctx context.Context, name string, input map[string]any) (any, error) {
	switch name {
	case ToolPageAnalytics:
		path := strField(input, "page_path")
		if path == "" {
			return nil, fmt.Errorf("page_path is required")
		}
		return t.analytics.PageDetail(ctx, path, intField(input, "days", 30))

	case ToolPageRankings:
		pageURL := strField(input, "page_url")
		if pageURL == "" {
			return nil, fmt.Errorf("page_url is required")
		}
		return t.search.TopQueries(ctx, pageURL, intField(input, "days", 30), 10)

	case ToolPageSpeed:
		pageURL := strField(input, "url")
		if pageURL == "" {
			return nil, fmt.Errorf("url is required")
		}
		strategy := models.SpeedStrategy(strField(input, "strategy"))
		if strategy != models.StrategyDesktop {
			strategy = models.StrategyMobile
		}
		return t.speed.Audit(ctx, pageURL, strategy)

	case ToolPageDetail:
		pageURL := strField(input, "page_url")
		if pageURL == "" {
			return nil, fmt.Errorf("page_url is required")
		}
		page, err := t.pages.GetByURL(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		if page == nil || page.HubSpotPageID == "" {
			return nil, fmt.Errorf("no CMS record for %s", pageURL)
		}
		return t.cms.PageDetail(ctx, page.HubSpotPageID)

	case ToolKeywordGap:
		keyword := strField(input, "keyword")
		if keyword == "" {
			return nil, fmt.Errorf("keyword is required")
		}
		rows, err := t.search.QueryContains(ctx, keyword, 30)
		if err != nil {
			return nil, err
		}
		covered := false
		for _, r := range rows {
			if r.Position <= 20 {
				covered = true
				break
			}
		}
		return map[string]any{"keyword": keyword, "has_coverage": covered, "rankings": rows}, nil

	case ToolSignalBus:
		topic := strField(input, "topic")
		if topic == "" {
			return nil, fmt.Errorf("topic is required")
		}
		return t.bus.Recent(ctx, topic, 20)

	case ToolEvaluate:
		actionType := strField(input, "action_type")
		if actionType == "" {
			return nil, fmt.Errorf("action_type is required")
		}
		return t.evaluator.Evaluate(ctx, actionType, floatField(input, "confidence", 0))

	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}

func strField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func floatField(m map[string]any, key string, def float64) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return def
}
