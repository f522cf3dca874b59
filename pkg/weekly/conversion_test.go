package weekly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thymehq/thyme/pkg/models"
	"github.com/thymehq/thyme/pkg/sources"
)

func TestAuditConversionsNotConfigured(t *testing.T) {
	forms := []sources.Form{
		{ID: "1", Name: "Contact Us", Submissions: 12},
		{ID: "2", Name: "Demo Request", Submissions: 20},
		{ID: "3", Name: "Newsletter Signup", Submissions: 5},
		{ID: "4", Name: "Pricing Inquiry", Submissions: 0},
		{ID: "5", Name: "Careers", Submissions: 0},
	}

	audit := AuditConversions(nil, forms, time.Now())

	assert.Equal(t, "not_configured", audit.TrackingHealth)
	assert.Equal(t, 0, audit.KeyEventCount)
	assert.Equal(t, 5, audit.FormCount)
	assert.Equal(t, 37, audit.TotalSubmissions)
	require.Len(t, audit.Recommendations, 1)
	rec := audit.Recommendations[0]
	assert.Equal(t, models.SeverityCritical, rec.Severity)
	assert.Contains(t, rec.Description, "5 forms collected 37 submissions")
}

func TestAuditConversionsGenericEventClaimsAllForms(t *testing.T) {
	events := []sources.KeyEvent{{EventName: "form_submit"}}
	forms := []sources.Form{
		{ID: "1", Name: "Contact Us", Submissions: 3},
		{ID: "2", Name: "Demo Request", Submissions: 7},
	}

	audit := AuditConversions(events, forms, time.Now())

	assert.Equal(t, "healthy", audit.TrackingHealth)
	assert.Empty(t, audit.Gaps)
	assert.Empty(t, audit.Recommendations)
}

func TestAuditConversionsDegraded(t *testing.T) {
	events := []sources.KeyEvent{{EventName: "form_submit_contact_us"}}
	forms := []sources.Form{
		{ID: "1", Name: "Contact Us", Submissions: 3},
		{ID: "2", Name: "Demo Request", Submissions: 7},
	}

	audit := AuditConversions(events, forms, time.Now())

	assert.Equal(t, "degraded", audit.TrackingHealth)
	assert.Equal(t, []string{"Demo Request"}, audit.Gaps)
	require.Len(t, audit.Recommendations, 1)
	assert.Equal(t, models.SeverityHigh, audit.Recommendations[0].Severity)
	assert.Contains(t, audit.Recommendations[0].Description, "(7 recorded)")
}

func TestAuditConversionsBroken(t *testing.T) {
	events := []sources.KeyEvent{{EventName: "page_view"}}
	forms := []sources.Form{
		{ID: "1", Name: "Contact Us", Submissions: 3},
		{ID: "2", Name: "Demo Request", Submissions: 7},
	}

	audit := AuditConversions(events, forms, time.Now())

	assert.Equal(t, "broken", audit.TrackingHealth)
	assert.Len(t, audit.Gaps, 2)
	assert.Len(t, audit.Recommendations, 2)
}

func TestAuditConversionsFuzzyNameMatch(t *testing.T) {
	// "Demo Request (EN)" and the event "form_submit_demo_request_en"
	// normalize to the same key.
	events := []sources.KeyEvent{{EventName: "Form_Submit_Demo-Request (EN)"}}
	forms := []sources.Form{{ID: "1", Name: "Demo Request (EN)", Submissions: 4}}

	audit := AuditConversions(events, forms, time.Now())

	assert.Equal(t, "healthy", audit.TrackingHealth)
}

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Contact Us", "contact_us"},
		{"  Demo -- Request  ", "demo_request"},
		{"generate_lead", "generate_lead"},
		{"Newsletter (2024)", "newsletter_2024"},
		{"TRAILING!!!", "trailing"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, normalizeName(tc.in), "input %q", tc.in)
	}
}

func TestAuditConversionsNoForms(t *testing.T) {
	events := []sources.KeyEvent{{EventName: "generate_lead"}}

	audit := AuditConversions(events, nil, time.Now())

	assert.Equal(t, "healthy", audit.TrackingHealth)
	assert.Equal(t, 0, audit.FormCount)
	assert.Equal(t, 0, audit.TotalSubmissions)
}
