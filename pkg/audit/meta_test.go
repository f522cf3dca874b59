package audit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thymehq/thyme/pkg/models"
)

func page(url, title, meta string) models.Page {
	return models.Page{URL: url, Title: title, MetaDescription: meta}
}

const (
	goodTitle = "Restaurant Inventory Software for Growing Teams"           // 46 chars
	goodMeta  = "Track stock, cut waste and keep your kitchen margins healthy with real-time inventory built for restaurants."
)

func TestMetaIssuesCleanPage(t *testing.T) {
	got := MetaIssues([]models.Page{page("https://example.com/a", goodTitle, goodMeta)})
	require.Contains(t, got, "https://example.com/a")
	assert.Empty(t, got["https://example.com/a"])
}

func TestMetaIssuesMissingFields(t *testing.T) {
	got := MetaIssues([]models.Page{page("https://example.com/a", "", "   ")})
	assert.ElementsMatch(t, []string{IssueMissingTitle, IssueMissingMeta}, got["https://example.com/a"])
}

func TestMetaIssuesLengthBounds(t *testing.T) {
	long := strings.Repeat("x", 61)
	short := "Tiny title"
	longMeta := strings.Repeat("m", 161)
	shortMeta := "Too short meta."

	got := MetaIssues([]models.Page{
		page("https://example.com/long", long, longMeta),
		page("https://example.com/short", short, shortMeta),
	})
	assert.ElementsMatch(t, []string{IssueTitleTooLong, IssueMetaTooLong}, got["https://example.com/long"])
	assert.ElementsMatch(t, []string{IssueTitleTooShort, IssueMetaTooShort}, got["https://example.com/short"])
}

func TestMetaIssuesExactBoundariesAreClean(t *testing.T) {
	title60 := strings.Repeat("t", 60)
	title30 := strings.Repeat("t", 30)
	meta160 := strings.Repeat("m", 160)
	meta70 := strings.Repeat("m", 70)

	got := MetaIssues([]models.Page{
		page("https://example.com/a", title60, meta160),
		page("https://example.com/b", title30, meta70),
	})
	assert.Empty(t, got["https://example.com/a"])
	assert.Empty(t, got["https://example.com/b"])
}

func TestMetaIssuesDuplicatesAreCaseInsensitive(t *testing.T) {
	got := MetaIssues([]models.Page{
		page("https://example.com/a", goodTitle, goodMeta),
		page("https://example.com/b", strings.ToUpper(goodTitle), "  "+goodMeta+" "),
		page("https://example.com/c", "A Different But Perfectly Fine Page Title", goodMeta),
	})
	assert.Contains(t, got["https://example.com/a"], IssueDupTitle)
	assert.Contains(t, got["https://example.com/a"], IssueDupMeta)
	assert.Contains(t, got["https://example.com/b"], IssueDupTitle)
	assert.Contains(t, got["https://example.com/c"], IssueDupMeta)
	assert.NotContains(t, got["https://example.com/c"], IssueDupTitle)
}

func TestMetaIssuesMissingFieldsSkipOtherChecks(t *testing.T) {
	// Two pages with empty titles are not duplicates of each other.
	got := MetaIssues([]models.Page{
		page("https://example.com/a", "", goodMeta),
		page("https://example.com/b", "", "Another long enough meta description that clears the minimum length requirement easily."),
	})
	assert.Equal(t, []string{IssueMissingTitle}, got["https://example.com/a"])
	assert.Equal(t, []string{IssueMissingTitle}, got["https://example.com/b"])
}

func TestMetaIssuesDeterministic(t *testing.T) {
	pages := []models.Page{
		page("https://example.com/a", goodTitle, goodMeta),
		page("https://example.com/b", goodTitle, ""),
		page("https://example.com/c", strings.Repeat("x", 80), goodMeta),
	}
	first := MetaIssues(pages)
	second := MetaIssues(pages)
	assert.Equal(t, first, second)
}
