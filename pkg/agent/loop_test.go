package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thymehq/thyme/pkg/llm"
	"github.com/thymehq/thyme/pkg/models"
	"github.com/thymehq/thyme/pkg/services"
)

// scriptedChat replays a fixed sequence of turns; past the end it repeats
// the last one.
type scriptedChat struct {
	turns []*llm.Turn
	errs  []error
	calls int
}

func (s *scriptedChat) ToolTurn(_ context.Context, _ []openai.ChatCompletionMessage, _ []llm.ToolSpec) (*llm.Turn, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.turns) {
		i = len(s.turns) - 1
	}
	return s.turns[i], nil
}

func (s *scriptedChat) Complete(_ context.Context, _, _ string, _ int) (string, error) {
	return "", errors.New("not used")
}

type fakeTools struct {
	executed []string
	err      error
}

func (f *fakeTools) Specs() []llm.ToolSpec { return nil }

func (f *fakeTools) Execute(_ context.Context, name string, _ map[string]any) (any, error) {
	f.executed = append(f.executed, name)
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"ok": true}, nil
}

type fakeSink struct {
	submitted  *services.Draft
	skipReason string
	skipCount  int
}

func (f *fakeSink) Submit(_ context.Context, d services.Draft) (*models.Finding, error) {
	f.submitted = &d
	return &models.Finding{
		ID:          "f-1",
		FindingType: d.FindingType,
		Severity:    d.Severity,
		Title:       d.Title,
		Status:      models.FindingStatusRecommendationDrafted,
	}, nil
}

func (f *fakeSink) Skip(_ context.Context, pageURL, reason, summary string, iterations int, toolsUsed []string) (*models.Finding, error) {
	f.skipReason = reason
	f.skipCount++
	url := pageURL
	return &models.Finding{
		ID:         "f-skip",
		PageURL:    &url,
		Status:     models.FindingStatusSkipped,
		SkipReason: reason,
	}, nil
}

type fakeOpenSource struct {
	open *models.Finding
}

func (f *fakeOpenSource) OpenForPage(_ context.Context, _ string) (*models.Finding, error) {
	return f.open, nil
}

func toolUse(id, name string, input map[string]any) llm.ToolUse {
	if input == nil {
		input = map[string]any{}
	}
	return llm.ToolUse{ID: id, Name: name, Input: input}
}

func turnWith(uses ...llm.ToolUse) *llm.Turn {
	return &llm.Turn{
		ToolUses: uses,
		Raw:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant},
	}
}

func flaggedContext(score int) PageContext {
	return PageContext{
		Page: models.Page{
			URL:         "https://example.com/pricing",
			PageType:    models.PageTypeLanding,
			HealthScore: &score,
		},
		Breakdown:   models.HealthBreakdown{TrafficTrend: 0, PageSpeed: 8},
		FlagReasons: []string{"traffic declining", "poor page speed"},
	}
}

func newTestInvestigator(chat llm.Chat, tools ToolRunner, sink FindingSink, open OpenFindingSource) *Investigator {
	return NewInvestigator(chat, tools, sink, open, testLogger(), 6, 40*time.Second)
}

func TestInvestigateDedupSkipsWithoutModelCall(t *testing.T) {
	chat := &scriptedChat{}
	sink := &fakeSink{}
	open := &fakeOpenSource{open: &models.Finding{ID: "existing-1", Status: models.FindingStatusRecommendationDrafted}}

	inv := newTestInvestigator(chat, &fakeTools{}, sink, open)
	outcome, err := inv.Investigate(context.Background(), flaggedContext(40))
	require.NoError(t, err)

	assert.True(t, outcome.Skipped)
	assert.Contains(t, outcome.SkipReason, "existing-1")
	assert.NotEmpty(t, outcome.SkipReason, "skipped findings must record a reason")
	assert.Equal(t, 0, chat.calls, "no model call for deduped pages")
}

func TestInvestigateForcedTerminationAtToolBudget(t *testing.T) {
	// The model never terminates; every turn asks for another analytics pull.
	chat := &scriptedChat{turns: []*llm.Turn{
		turnWith(toolUse("c1", ToolPageAnalytics, map[string]any{"page_path": "/pricing"})),
	}}
	tools := &fakeTools{}
	sink := &fakeSink{}

	inv := newTestInvestigator(chat, tools, sink, &fakeOpenSource{})
	outcome, err := inv.Investigate(context.Background(), flaggedContext(40))
	require.NoError(t, err)

	assert.True(t, outcome.Skipped)
	assert.Equal(t, "Forced termination", outcome.SkipReason)
	assert.Len(t, tools.executed, 6, "budget caps executed tool calls at 6")
	assert.Len(t, outcome.ToolCalls, 6)
}

func TestInvestigateModelErrorBecomesSkip(t *testing.T) {
	chat := &scriptedChat{errs: []error{errors.New("rate limited")}}
	sink := &fakeSink{}

	inv := newTestInvestigator(chat, &fakeTools{}, sink, &fakeOpenSource{})
	outcome, err := inv.Investigate(context.Background(), flaggedContext(40))
	require.NoError(t, err)

	assert.True(t, outcome.Skipped)
	assert.Contains(t, outcome.SkipReason, "model call failed")
	assert.Equal(t, 1, sink.skipCount)
}

func TestInvestigateNoToolInvocationBecomesSkip(t *testing.T) {
	chat := &scriptedChat{turns: []*llm.Turn{
		{Text: "I think this page is fine.", Raw: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}},
	}}
	sink := &fakeSink{}

	inv := newTestInvestigator(chat, &fakeTools{}, sink, &fakeOpenSource{})
	outcome, err := inv.Investigate(context.Background(), flaggedContext(40))
	require.NoError(t, err)

	assert.True(t, outcome.Skipped)
	assert.Equal(t, "model returned no tool invocation", outcome.SkipReason)
}

func TestInvestigateSubmitFinding(t *testing.T) {
	score := 28
	chat := &scriptedChat{turns: []*llm.Turn{
		turnWith(toolUse("c1", ToolPageAnalytics, map[string]any{"page_path": "/pricing"})),
		turnWith(toolUse("c2", ToolPageRankings, map[string]any{"page_url": "https://example.com/pricing"})),
		turnWith(toolUse("c3", ToolSubmitFinding, map[string]any{
			"finding_type":          "traffic_drop",
			"severity":              "high",
			"title":                 "Pricing page traffic down 40%",
			"description":           "Organic sessions fell from 800 to 480 week over week.",
			"action_type":           "update_meta",
			"action_summary":        "Refresh title and meta to match the winning query",
			"confidence":            0.82,
			"risk_level":            "low",
			"investigation_summary": "Checked analytics and rankings; drop aligns with position loss.",
		})),
	}}
	tools := &fakeTools{}
	sink := &fakeSink{}

	inv := newTestInvestigator(chat, tools, sink, &fakeOpenSource{})
	outcome, err := inv.Investigate(context.Background(), flaggedContext(score))
	require.NoError(t, err)

	assert.False(t, outcome.Skipped)
	require.NotNil(t, outcome.Finding)
	assert.Equal(t, 3, outcome.Iterations)
	assert.Len(t, outcome.ToolCalls, 2)

	require.NotNil(t, sink.submitted)
	d := sink.submitted
	assert.Equal(t, "https://example.com/pricing", d.PageURL)
	assert.Equal(t, models.FindingTrafficDrop, d.FindingType)
	assert.Equal(t, models.SeverityHigh, d.Severity)
	assert.Equal(t, "update_meta", d.ActionType)
	assert.InDelta(t, 0.82, d.Confidence, 0.001)
	assert.Equal(t, []string{ToolPageAnalytics, ToolPageRankings}, d.ToolsUsed)
	require.NotNil(t, d.HealthScore)
	assert.Equal(t, score, *d.HealthScore)
}

func TestInvestigateSubmitDefaults(t *testing.T) {
	chat := &scriptedChat{turns: []*llm.Turn{
		turnWith(toolUse("c1", ToolSubmitFinding, map[string]any{
			"finding_type":   "meta_issue",
			"title":          "Duplicate titles on two landing pages",
			"description":    "Both pages share an identical title tag.",
			"action_type":    "update_meta",
			"action_summary": "Differentiate the titles",
		})),
	}}
	sink := &fakeSink{}

	inv := newTestInvestigator(chat, &fakeTools{}, sink, &fakeOpenSource{})
	_, err := inv.Investigate(context.Background(), flaggedContext(45))
	require.NoError(t, err)

	require.NotNil(t, sink.submitted)
	assert.Equal(t, models.SeverityMedium, sink.submitted.Severity, "missing severity defaults to medium")
	assert.InDelta(t, 0.7, sink.submitted.Confidence, 0.001, "missing confidence defaults to 0.7")
}

func TestInvestigateSkipFindingTool(t *testing.T) {
	chat := &scriptedChat{turns: []*llm.Turn{
		turnWith(toolUse("c1", ToolSkipFinding, map[string]any{
			"reason":                "traffic dip matches a seasonal pattern",
			"investigation_summary": "Compared against the same week last year.",
		})),
	}}
	sink := &fakeSink{}

	inv := newTestInvestigator(chat, &fakeTools{}, sink, &fakeOpenSource{})
	outcome, err := inv.Investigate(context.Background(), flaggedContext(42))
	require.NoError(t, err)

	assert.True(t, outcome.Skipped)
	assert.Equal(t, "traffic dip matches a seasonal pattern", outcome.SkipReason)
	assert.NotEmpty(t, sink.skipReason)
}

func TestInvestigateToolErrorIsFedBackNotFatal(t *testing.T) {
	chat := &scriptedChat{turns: []*llm.Turn{
		turnWith(toolUse("c1", ToolPageSpeed, map[string]any{"url": "https://example.com/pricing"})),
		turnWith(toolUse("c2", ToolSkipFinding, map[string]any{"reason": "speed audit unavailable"})),
	}}
	tools := &fakeTools{err: errors.New("quota exceeded")}
	sink := &fakeSink{}

	inv := newTestInvestigator(chat, tools, sink, &fakeOpenSource{})
	outcome, err := inv.Investigate(context.Background(), flaggedContext(40))
	require.NoError(t, err)

	assert.True(t, outcome.Skipped)
	require.Len(t, outcome.ToolCalls, 1)
	assert.Contains(t, outcome.ToolCalls[0].Output, "quota exceeded")
}

func TestInvestigateNeverExceedsToolBudget(t *testing.T) {
	// Two tool uses per turn still respect the overall cap.
	chat := &scriptedChat{turns: []*llm.Turn{
		turnWith(
			toolUse("a", ToolPageAnalytics, map[string]any{"page_path": "/p"}),
			toolUse("b", ToolPageRankings, map[string]any{"page_url": "https://example.com/p"}),
		),
	}}
	tools := &fakeTools{}
	sink := &fakeSink{}

	inv := newTestInvestigator(chat, tools, sink, &fakeOpenSource{})
	outcome, err := inv.Investigate(context.Background(), flaggedContext(40))
	require.NoError(t, err)

	assert.True(t, outcome.Skipped)
	assert.LessOrEqual(t, len(tools.executed), 6)
	assert.LessOrEqual(t, len(outcome.ToolCalls), 6)
}
