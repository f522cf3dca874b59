// Package audit holds the pure meta-tag auditor. It never touches the
// network or the store; duplicate detection needs the full inventory.
package audit

import (
	"strings"

	"github.com/thymehq/thyme/pkg/models"
)

// Issue identifiers. The set is closed; the scorer and the read APIs
// depend on these exact strings.
const (
	IssueMissingTitle  = "missing_title"
	IssueMissingMeta   = "missing_meta"
	IssueTitleTooLong  = "title_too_long"
	IssueTitleTooShort = "title_too_short"
	IssueMetaTooLong   = "meta_too_long"
	IssueMetaTooShort  = "meta_too_short"
	IssueDupTitle      = "duplicate_title"
	IssueDupMeta       = "duplicate_meta"
)

const (
	titleMax = 60
	titleMin = 30
	metaMax  = 160
	metaMin  = 70
)

// MetaIssues audits every page's title and meta description and returns the
// issue set keyed by page URL. Deterministic for a given inventory.
func MetaIssues(pages []models.Page) map[string][]string {
	titleCounts := make(map[string]int)
	metaCounts := make(map[string]int)
	for _, p := range pages {
		if t := normalize(p.Title); t != "" {
			titleCounts[t]++
		}
		if m := normalize(p.MetaDescription); m != "" {
			metaCounts[m]++
		}
	}

	out := make(map[string][]string, len(pages))
	for _, p := range pages {
		var issues []string
		title := strings.TrimSpace(p.Title)
		meta := strings.TrimSpace(p.MetaDescription)

		if title == "" {
			issues = append(issues, IssueMissingTitle)
		} else {
			if len(title) > titleMax {
				issues = append(issues, IssueTitleTooLong)
			} else if len(title) < titleMin {
				issues = append(issues, IssueTitleTooShort)
			}
			if titleCounts[normalize(p.Title)] > 1 {
				issues = append(issues, IssueDupTitle)
			}
		}

		if meta == "" {
			issues = append(issues, IssueMissingMeta)
		} else {
			if len(meta) > metaMax {
				issues = append(issues, IssueMetaTooLong)
			} else if len(meta) < metaMin {
				issues = append(issues, IssueMetaTooShort)
			}
			if metaCounts[normalize(p.MetaDescription)] > 1 {
				issues = append(issues, IssueDupMeta)
			}
		}

		out[p.URL] = issues
	}
	return out
}

// normalize folds case and whitespace for duplicate comparison.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
