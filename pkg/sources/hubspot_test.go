package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thymehq/thyme/pkg/models"
)

func TestListPagesWalksFamiliesWithCursors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer hs-token", r.Header.Get("Authorization"))
		require.Equal(t, "100", r.URL.Query().Get("limit"))

		switch {
		case strings.HasPrefix(r.URL.Path, "/cms/v3/pages/site-pages"):
			if r.URL.Query().Get("after") == "" {
				json.NewEncoder(w).Encode(map[string]any{
					"results": []map[string]any{{
						"id": "101", "slug": "about", "url": "https://example.com/about",
						"htmlTitle": "About Us",
					}},
					"paging": map[string]any{"next": map[string]any{"after": "cursor-2"}},
				})
				return
			}
			require.Equal(t, "cursor-2", r.URL.Query().Get("after"))
			json.NewEncoder(w).Encode(map[string]any{
				"results": []map[string]any{{
					"id": "102", "slug": "team", "url": "https://example.com/team",
					"name": "Team",
				}},
			})
		case strings.HasPrefix(r.URL.Path, "/cms/v3/pages/landing-pages"):
			json.NewEncoder(w).Encode(map[string]any{
				"results": []map[string]any{{
					"id": "201", "slug": "demo", "url": "https://example.com/demo",
					"htmlTitle": "Book a Demo",
					"widgets": map[string]any{
						"module_1": map[string]any{"body": map[string]any{"form_id": "form-abc"}},
					},
				}},
			})
		case strings.HasPrefix(r.URL.Path, "/cms/v3/blogs/posts"):
			json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewHubSpotClient("hs-token")
	c.SetEndpoint(srv.URL)

	pages, err := c.ListPages(context.Background())
	require.NoError(t, err)
	require.Len(t, pages, 3)

	assert.Equal(t, "About Us", pages[0].Title)
	assert.Equal(t, models.PageTypeSite, pages[0].PageType)
	assert.Equal(t, "Team", pages[1].Title, "name fallback when htmlTitle is empty")
	assert.Equal(t, models.PageTypeLanding, pages[2].PageType)
	assert.Equal(t, []string{"form-abc"}, pages[2].FormIDs)
}

func TestExtractWidgetIDs(t *testing.T) {
	payload := map[string]any{
		"sections": []any{
			map[string]any{"module": map[string]any{"formId": "f-1"}},
			map[string]any{"module": map[string]any{"form_id": "f-2"}},
			map[string]any{"module": map[string]any{"form_id": "f-1"}}, // repeat
		},
		"cta_block":  map[string]any{"cta_guid": "c-1"},
		"typed_cta":  map[string]any{"type": "cta", "guid": "c-2"},
		"typed_text": map[string]any{"type": "rich_text", "guid": "not-a-cta"},
		"noise":      []any{"string", 42, nil},
	}

	forms, ctas := extractWidgetIDs(payload)
	assert.ElementsMatch(t, []string{"f-1", "f-2", "f-1"}, forms, "dedupe happens in convertPage")
	assert.ElementsMatch(t, []string{"c-1", "c-2"}, ctas)
	assert.NotContains(t, ctas, "not-a-cta")
}

func TestConvertPageDedupesWidgetIDs(t *testing.T) {
	p := convertPage(hubspotPage{
		ID:        "301",
		URL:       "https://example.com/lp",
		HTMLTitle: "LP",
		LayoutSections: map[string]any{
			"a": map[string]any{"form_id": "f-1"},
		},
		Widgets: map[string]any{
			"b": map[string]any{"formId": "f-1"},
			"c": map[string]any{"cta_guid": "c-9"},
		},
	}, models.PageTypeLanding)

	assert.Equal(t, []string{"f-1"}, p.FormIDs)
	assert.Equal(t, []string{"c-9"}, p.CTAIDs)
}

func TestPageDetailTriesEachFamily(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/cms/v3/blogs/posts/555" {
			json.NewEncoder(w).Encode(map[string]any{
				"id": "555", "url": "https://example.com/blog/post",
				"htmlTitle": "A Blog Post",
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHubSpotClient("hs-token")
	c.SetEndpoint(srv.URL)

	page, err := c.PageDetail(context.Background(), "555")
	require.NoError(t, err)
	assert.Equal(t, "555", page.ID)
	assert.Equal(t, models.PageTypeBlog, page.PageType)
}

func TestPageDetailNotFoundAnywhere(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHubSpotClient("hs-token")
	c.SetEndpoint(srv.URL)

	_, err := c.PageDetail(context.Background(), "999")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "any family")
}

func TestListFormsResolvesSubmissionCounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/marketing/v3/forms":
			json.NewEncoder(w).Encode(map[string]any{
				"results": []map[string]any{
					{"id": "f-1", "name": "Contact Us"},
					{"id": "f-2", "name": "Demo Request"},
					{"id": "f-3", "name": "Careers"},
				},
			})
		case strings.HasPrefix(r.URL.Path, "/form-integrations/v1/submissions/forms/"):
			id := strings.TrimPrefix(r.URL.Path, "/form-integrations/v1/submissions/forms/")
			switch id {
			case "f-1":
				fmt.Fprint(w, `{"total": 12}`)
			case "f-2":
				fmt.Fprint(w, `{"total": 25}`)
			default:
				// Count lookup failure leaves the count at zero.
				w.WriteHeader(http.StatusForbidden)
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewHubSpotClient("hs-token")
	c.SetEndpoint(srv.URL)

	forms, err := c.ListForms(context.Background())
	require.NoError(t, err)
	require.Len(t, forms, 3)

	byID := map[string]int{}
	for _, f := range forms {
		byID[f.ID] = f.Submissions
	}
	assert.Equal(t, 12, byID["f-1"])
	assert.Equal(t, 25, byID["f-2"])
	assert.Equal(t, 0, byID["f-3"])
}
