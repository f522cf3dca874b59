// Package agent runs the bounded LLM investigation loop over flagged pages.
// The model drives the conversation through a closed tool set and always
// terminates through submit_finding or skip_finding; budget exhaustion and
// malformed turns are converted to synthetic skips, never errors.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/thymehq/thyme/pkg/llm"
	"github.com/thymehq/thyme/pkg/models"
	"github.com/thymehq/thyme/pkg/services"
)

const systemPrompt = `You are a website health analyst investigating one underperforming page.
Use the tools to gather evidence, then finish with exactly one terminal tool:
submit_finding when a concrete, reviewable action is warranted, or skip_finding
when the page needs no intervention. Be specific and cite the numbers you saw.`

// ToolCall is one executed non-terminal tool invocation.
type ToolCall struct {
	ToolName   string         `json:"tool_name"`
	Input      map[string]any `json:"input"`
	Output     string         `json:"output"`
	DurationMs int64          `json:"duration_ms"`
}

// PageContext is the flagged-page evidence the initial prompt is built from.
type PageContext struct {
	Page        models.Page
	Breakdown   models.HealthBreakdown
	FlagReasons []string
	Analytics   *models.AnalyticsSnapshot
	Search      *models.SearchSnapshot
	Speed       *models.SpeedScore
}

// Outcome is the result of one investigation.
type Outcome struct {
	Finding    *models.Finding
	Skipped    bool
	SkipReason string
	Iterations int
	ToolCalls  []ToolCall
}

// ToolRunner exposes the tool set to the loop. Implemented by Toolset.
type ToolRunner interface {
	Specs() []llm.ToolSpec
	Execute(ctx context.Context, name string, input map[string]any) (any, error)
}

// FindingSink persists terminal outcomes. Implemented by
// services.FindingWriter.
type FindingSink interface {
	Submit(ctx context.Context, d services.Draft) (*models.Finding, error)
	Skip(ctx context.Context, pageURL, reason, summary string, iterations int, toolsUsed []string) (*models.Finding, error)
}

// OpenFindingSource is the dedup pre-check. Implemented by
// store.FindingStore.
type OpenFindingSource interface {
	OpenForPage(ctx context.Context, pageURL string) (*models.Finding, error)
}

// Investigator runs one bounded conversation per flagged page.
type Investigator struct {
	chat     llm.Chat
	tools    ToolRunner
	writer   FindingSink
	findings OpenFindingSource
	logger   *slog.Logger

	maxToolCalls int
	maxDuration  time.Duration
}

// NewInvestigator wires the loop with its budgets.
func NewInvestigator(chat llm.Chat, tools ToolRunner, writer FindingSink,
	findings OpenFindingSource, logger *slog.Logger,
	maxToolCalls int, maxDuration time.Duration) *Investigator {
	return &Investigator{
		chat:         chat,
		tools:        tools,
		writer:       writer,
		findings:     findings,
		logger:       logger,
		maxToolCalls: maxToolCalls,
		maxDuration:  maxDuration,
	}
}

// Investigate runs the loop for one flagged page. It never returns an error
// for model or tool trouble; those become recorded skips. Errors here mean
// the store itself failed.
func (inv *Investigator) Investigate(ctx context.Context, pc PageContext) (*Outcome, error) {
	pageURL := pc.Page.URL

	// Dedup pre-check: one open finding per page at a time.
	open, err := inv.findings.OpenForPage(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if open != nil {
		inv.logger.Info("Investigation skipped, open finding exists",
			"page_url", pageURL, "finding_id", open.ID)
		f, err := inv.writer.Skip(ctx, pageURL,
			fmt.Sprintf("open finding %s already awaiting review", open.ID), "", 0, nil)
		if err != nil {
			return nil, err
		}
		return &Outcome{Finding: f, Skipped: true, SkipReason: f.SkipReason}, nil
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: buildPrompt(pc)},
	}
	specs := inv.tools.Specs()

	start := time.Now()
	var calls []ToolCall
	iterations := 0

	for {
		iterations++
		turn, err := inv.chat.ToolTurn(ctx, messages, specs)
		if err != nil {
			inv.logger.Warn("Model turn failed", "page_url", pageURL, "error", err)
			return inv.forceSkip(ctx, pc, iterations, calls,
				fmt.Sprintf("model call failed: %v", err))
		}
		if len(turn.ToolUses) == 0 {
			return inv.forceSkip(ctx, pc, iterations, calls,
				"model returned no tool invocation")
		}

		messages = append(messages, turn.Raw)
		for _, use := range turn.ToolUses {
			if IsTerminal(use.Name) {
				return inv.terminal(ctx, pc, use, iterations, calls)
			}

			if len(calls) >= inv.maxToolCalls || time.Since(start) > inv.maxDuration {
				return inv.forceSkip(ctx, pc, iterations, calls, "Forced termination")
			}

			callStart := time.Now()
			output, err := inv.tools.Execute(ctx, use.Name, use.Input)
			var payload string
			if err != nil {
				payload = fmt.Sprintf(`{"error":%q}`, err.Error())
			} else {
				b, merr := json.Marshal(output)
				if merr != nil {
					payload = fmt.Sprintf(`{"error":%q}`, merr.Error())
				} else {
					payload = string(b)
				}
			}
			calls = append(calls, ToolCall{
				ToolName:   use.Name,
				Input:      use.Input,
				Output:     payload,
				DurationMs: time.Since(callStart).Milliseconds(),
			})
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: use.ID,
				Content:    payload,
			})
		}
	}
}

// terminal handles submit_finding and skip_finding.
func (inv *Investigator) terminal(ctx context.Context, pc PageContext, use llm.ToolUse,
	iterations int, calls []ToolCall) (*Outcome, error) {

	outcome := &Outcome{Iterations: iterations, ToolCalls: calls}

	if use.Name == ToolSkipFinding {
		reason := strField(use.Input, "reason")
		if reason == "" {
			reason = "no reason given"
		}
		f, err := inv.writer.Skip(ctx, pc.Page.URL, reason,
			strField(use.Input, "investigation_summary"), iterations, toolNames(calls))
		if err != nil {
			return nil, err
		}
		outcome.Finding = f
		outcome.Skipped = true
		outcome.SkipReason = reason
		return outcome, nil
	}

	draft := services.Draft{
		PageURL:              pc.Page.URL,
		FindingType:          models.FindingType(strField(use.Input, "finding_type")),
		Severity:             models.Severity(strField(use.Input, "severity")),
		Title:                strField(use.Input, "title"),
		Description:          strField(use.Input, "description"),
		BusinessImpact:       strField(use.Input, "business_impact"),
		ActionType:           strField(use.Input, "action_type"),
		ActionSummary:        strField(use.Input, "action_summary"),
		Confidence:           floatField(use.Input, "confidence", 0.7),
		RiskLevel:            models.RiskLevel(strField(use.Input, "risk_level")),
		InvestigationSummary: strField(use.Input, "investigation_summary"),
		Iterations:           iterations,
		ToolsUsed:            toolNames(calls),
		HealthScore:          pc.Page.HealthScore,
	}
	if detail, ok := use.Input["action_detail"].(map[string]any); ok {
		draft.ActionDetail = detail
	}
	if draft.Severity == "" {
		draft.Severity = models.SeverityMedium
	}

	f, err := inv.writer.Submit(ctx, draft)
	if err != nil {
		return nil, err
	}
	outcome.Finding = f
	return outcome, nil
}

// forceSkip records a synthetic skip for budget exhaustion or malformed
// model output.
func (inv *Investigator) forceSkip(ctx context.Context, pc PageContext,
	iterations int, calls []ToolCall, reason string) (*Outcome, error) {
	f, err := inv.writer.Skip(ctx, pc.Page.URL, reason,
		fmt.Sprintf("terminated after %d tool calls", len(calls)),
		iterations, toolNames(calls))
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Finding:    f,
		Skipped:    true,
		SkipReason: reason,
		Iterations: iterations,
		ToolCalls:  calls,
	}, nil
}

func toolNames(calls []ToolCall) []string {
	names := make([]string, 0, len(calls))
	for _, c := range calls {
		names = append(names, c.ToolName)
	}
	return names
}

// buildPrompt renders the flagged-page evidence block.
func buildPrompt(pc PageContext) string {
	ctx := map[string]any{
		"url":             pc.Page.URL,
		"page_type":       pc.Page.PageType,
		"title":           pc.Page.Title,
		"health_score":    pc.Page.HealthScore,
		"score_breakdown": pc.Breakdown,
		"flag_reasons":    pc.FlagReasons,
		"last_updated_at": pc.Page.LastUpdatedAt,
		"has_form":        pc.Page.HasForm,
		"meta_issues":     pc.Page.MetaIssues,
		"has_broken_links": pc.Page.HasBrokenLinks,
	}
	if pc.Analytics != nil {
		ctx["analytics"] = pc.Analytics
	}
	if pc.Search != nil {
		ctx["search"] = pc.Search
	}
	if pc.Speed != nil {
		ctx["speed"] = pc.Speed
	}
	b, _ := json.MarshalIndent(ctx, "", "  ")
	return "Investigate this flagged page and decide whether to recommend an action:\n" + string(b)
}
