package weekly

import (
	"fmt"
	"strings"
	"time"

	"github.com/thymehq/thyme/pkg/models"
	"github.com/thymehq/thyme/pkg/sources"
)

// Generic submit events that count as tracking for every form.
var genericSubmitEvents = map[string]bool{
	"form_submit":   true,
	"generate_lead": true,
}

// AuditConversions cross-references configured conversion events against the
// CMS forms by normalized name. The match is fuzzy: a "form_submit_<name>"
// event claims its form, and a generic submit event claims all of them.
func AuditConversions(events []sources.KeyEvent, forms []sources.Form, now time.Time) *models.ConversionAudit {
	audit := &models.ConversionAudit{
		AuditDate:     now,
		KeyEventCount: len(events),
		FormCount:     len(forms),
		Gaps:          []string{},
	}
	for _, f := range forms {
		audit.TotalSubmissions += f.Submissions
	}

	if len(events) == 0 {
		audit.TrackingHealth = "not_configured"
		audit.Recommendations = append(audit.Recommendations, models.ConversionRecommendation{
			Severity: models.SeverityCritical,
			Title:    "Conversion tracking is not configured",
			Description: fmt.Sprintf(
				"%d forms collected %d submissions but no conversion events are configured, so none of this activity is measurable.",
				len(forms), audit.TotalSubmissions),
		})
		return audit
	}

	hasGeneric := false
	eventNames := make(map[string]bool, len(events))
	for _, e := range events {
		name := normalizeName(e.EventName)
		eventNames[name] = true
		if genericSubmitEvents[name] {
			hasGeneric = true
		}
	}

	for _, f := range forms {
		if hasGeneric || eventNames["form_submit_"+normalizeName(f.Name)] {
			continue
		}
		audit.Gaps = append(audit.Gaps, f.Name)
		audit.Recommendations = append(audit.Recommendations, models.ConversionRecommendation{
			Severity: models.SeverityHigh,
			Title:    fmt.Sprintf("Form %q has no conversion event", f.Name),
			Description: fmt.Sprintf(
				"Submissions to %q (%d recorded) are not tracked as conversions.",
				f.Name, f.Submissions),
		})
	}

	switch {
	case len(audit.Gaps) == 0:
		audit.TrackingHealth = "healthy"
	case len(audit.Gaps) < len(forms):
		audit.TrackingHealth = "degraded"
	default:
		audit.TrackingHealth = "broken"
	}
	return audit
}

// normalizeName folds an event or form name for comparison: lowercase, with
// runs of non-alphanumerics collapsed to single underscores.
func normalizeName(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}
