package agent

import (
	"context"
	"log/slog"

	"github.com/thymehq/thyme/pkg/models"
)

// hardMinConfidence always blocks regardless of configured guardrails.
const hardMinConfidence = 0.3

// GuardrailResult is the outcome of evaluating one proposed recommendation.
type GuardrailResult struct {
	Passed     bool     `json:"passed"`
	Violations []string `json:"violations"`
	Warnings   []string `json:"warnings"`
}

// GuardrailSource lists the active guardrail rows. Implemented by
// store.GuardrailStore.
type GuardrailSource interface {
	ListActive(ctx context.Context) ([]models.Guardrail, error)
}

// GuardrailEvaluator checks proposed actions against the hard confidence
// floor and the configured guardrail rows.
type GuardrailEvaluator struct {
	guardrails GuardrailSource
	logger     *slog.Logger
}

// NewGuardrailEvaluator wires the evaluator over the guardrail store.
func NewGuardrailEvaluator(guardrails GuardrailSource, logger *slog.Logger) *GuardrailEvaluator {
	return &GuardrailEvaluator{guardrails: guardrails, logger: logger}
}

// Evaluate checks (action_type, confidence) against every active guardrail.
// A violation from a warn-action guardrail is downgraded to a warning;
// block and alert actions are fatal. Rules with an unrecognized config
// vocabulary are logged and skipped rather than guessed at.
func (e *GuardrailEvaluator) Evaluate(ctx context.Context, actionType string, confidence float64) (*GuardrailResult, error) {
	result := &GuardrailResult{Passed: true, Violations: []string{}, Warnings: []string{}}

	if confidence < hardMinConfidence {
		result.Passed = false
		result.Violations = append(result.Violations,
			"confidence below hard minimum 0.3")
	}

	rules, err := e.guardrails.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for _, rule := range rules {
		violation := e.check(rule, actionType, confidence)
		if violation == "" {
			continue
		}
		switch rule.ViolationAction {
		case models.ViolationWarn:
			result.Warnings = append(result.Warnings, violation)
		default: // block and alert are both fatal
			result.Passed = false
			result.Violations = append(result.Violations, violation)
		}
	}
	return result, nil
}

// check returns a violation message, or "" when the rule passes.
func (e *GuardrailEvaluator) check(rule models.Guardrail, actionType string, confidence float64) string {
	matched := false

	if raw, ok := rule.RuleConfig["blocked_action_types"]; ok {
		matched = true
		if list, ok := raw.([]any); ok {
			for _, v := range list {
				if s, ok := v.(string); ok && s == actionType {
					return "action type '" + actionType + "' blocked by guardrail " + rule.Name
				}
			}
		}
	}
	if raw, ok := rule.RuleConfig["min_confidence"]; ok {
		matched = true
		if min, ok := raw.(float64); ok && confidence < min {
			return "confidence below guardrail " + rule.Name + " minimum"
		}
	}
	if threshold := rule.Threshold; threshold != nil && !matched {
		matched = true
		if confidence < *threshold {
			return "confidence below guardrail " + rule.Name + " threshold"
		}
	}

	if !matched {
		e.logger.Warn("Guardrail with unrecognized rule config skipped",
			"guardrail", rule.Name, "category", rule.RuleCategory)
	}
	return ""
}
