package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thymehq/thyme/pkg/models"
)

const hubspotEndpoint = "https://api.hubapi.com"

// formCountParallel caps concurrent submission-count lookups.
const formCountParallel = 5

// HubSpotClient enumerates the CMS inventory: three page families, form
// definitions with submission counts, and embedded widget payloads.
type HubSpotClient struct {
	client   *http.Client
	token    string
	endpoint string
}

// NewHubSpotClient creates the CMS adapter with a private-app token.
func NewHubSpotClient(token string) *HubSpotClient {
	return &HubSpotClient{
		client:   &http.Client{Timeout: 30 * time.Second},
		token:    token,
		endpoint: hubspotEndpoint,
	}
}

// SetEndpoint overrides the API base (tests).
func (c *HubSpotClient) SetEndpoint(endpoint string) { c.endpoint = endpoint }

// CMSPage is one page record as the CMS reports it, with form and CTA ids
// already extracted from the embedded widget payloads.
type CMSPage struct {
	ID              string
	Slug            string
	URL             string
	Title           string
	MetaDescription string
	PageType        models.PageType
	State           string
	PublishedAt     *time.Time
	UpdatedAt       *time.Time
	FormIDs         []string
	CTAIDs          []string
}

type hubspotPage struct {
	ID              string         `json:"id"`
	Slug            string         `json:"slug"`
	URL             string         `json:"url"`
	Name            string         `json:"name"`
	HTMLTitle       string         `json:"htmlTitle"`
	MetaDescription string         `json:"metaDescription"`
	CurrentState    string         `json:"currentState"`
	PublishDate     *time.Time     `json:"publishDate"`
	Updated         *time.Time     `json:"updatedAt"`
	LayoutSections  map[string]any `json:"layoutSections"`
	WidgetContainers map[string]any `json:"widgetContainers"`
	Widgets         map[string]any `json:"widgets"`
}

type hubspotListResponse struct {
	Results []hubspotPage `json:"results"`
	Paging  *struct {
		Next struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

// pageFamilies maps each CMS listing endpoint to the page type it yields.
var pageFamilies = []struct {
	path     string
	pageType models.PageType
}{
	{"/cms/v3/pages/site-pages", models.PageTypeSite},
	{"/cms/v3/pages/landing-pages", models.PageTypeLanding},
	{"/cms/v3/blogs/posts", models.PageTypeBlog},
}

// ListPages walks all three page families with 100-per-page cursors and
// returns the merged inventory.
func (c *HubSpotClient) ListPages(ctx context.Context) ([]CMSPage, error) {
	var out []CMSPage
	for _, fam := range pageFamilies {
		pages, err := c.listFamily(ctx, fam.path, fam.pageType)
		if err != nil {
			return nil, err
		}
		out = append(out, pages...)
	}
	return out, nil
}

func (c *HubSpotClient) listFamily(ctx context.Context, path string, pageType models.PageType) ([]CMSPage, error) {
	var out []CMSPage
	after := ""
	for {
		q := url.Values{}
		q.Set("limit", "100")
		if after != "" {
			q.Set("after", after)
		}
		var resp hubspotListResponse
		if err := doJSON(ctx, c.client, "hubspot", http.MethodGet,
			c.endpoint+path+"?"+q.Encode(), c.token, nil, &resp); err != nil {
			return nil, err
		}
		for _, hp := range resp.Results {
			out = append(out, convertPage(hp, pageType))
		}
		if resp.Paging == nil || resp.Paging.Next.After == "" {
			break
		}
		after = resp.Paging.Next.After
	}
	return out, nil
}

func convertPage(hp hubspotPage, pageType models.PageType) CMSPage {
	title := hp.HTMLTitle
	if title == "" {
		title = hp.Name
	}
	p := CMSPage{
		ID:              hp.ID,
		Slug:            hp.Slug,
		URL:             hp.URL,
		Title:           title,
		MetaDescription: hp.MetaDescription,
		PageType:        pageType,
		State:           hp.CurrentState,
		PublishedAt:     hp.PublishDate,
		UpdatedAt:       hp.Updated,
	}
	for _, payload := range []map[string]any{hp.LayoutSections, hp.WidgetContainers, hp.Widgets} {
		forms, ctas := extractWidgetIDs(payload)
		p.FormIDs = append(p.FormIDs, forms...)
		p.CTAIDs = append(p.CTAIDs, ctas...)
	}
	p.FormIDs = dedupe(p.FormIDs)
	p.CTAIDs = dedupe(p.CTAIDs)
	return p
}

// extractWidgetIDs walks an arbitrary widget payload collecting embedded
// form ids and CTA guids. Payload shapes vary by template, so this matches
// on key names rather than a schema.
func extractWidgetIDs(node any) (formIDs, ctaIDs []string) {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			switch key {
			case "form_id", "formId":
				if s, ok := child.(string); ok && s != "" {
					formIDs = append(formIDs, s)
				}
			case "cta_guid", "ctaGuid":
				if s, ok := child.(string); ok && s != "" {
					ctaIDs = append(ctaIDs, s)
				}
			case "guid":
				if t, ok := v["type"].(string); ok && t == "cta" {
					if s, ok := child.(string); ok && s != "" {
						ctaIDs = append(ctaIDs, s)
					}
				}
			default:
				f, c := extractWidgetIDs(child)
				formIDs = append(formIDs, f...)
				ctaIDs = append(ctaIDs, c...)
			}
		}
	case []any:
		for _, child := range v {
			f, c := extractWidgetIDs(child)
			formIDs = append(formIDs, f...)
			ctaIDs = append(ctaIDs, c...)
		}
	}
	return formIDs, ctaIDs
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// PageDetail fetches one page record by CMS id (agent tool). The family is
// unknown at call time, so each endpoint is tried in order.
func (c *HubSpotClient) PageDetail(ctx context.Context, pageID string) (*CMSPage, error) {
	var lastErr error
	for _, fam := range pageFamilies {
		var hp hubspotPage
		err := doJSON(ctx, c.client, "hubspot", http.MethodGet,
			c.endpoint+fam.path+"/"+url.PathEscape(pageID), c.token, nil, &hp)
		if err == nil {
			page := convertPage(hp, fam.pageType)
			return &page, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to fetch page %s from any family: %w", pageID, lastErr)
}

// Form is one CMS form definition with its lifetime submission count.
type Form struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Submissions int    `json:"submissions"`
}

type formsListResponse struct {
	Results []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"results"`
	Paging *struct {
		Next struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

type submissionsResponse struct {
	Total int `json:"total"`
}

// ListForms enumerates all forms, resolving each form's submission count
// with a bounded fan-out. A failed count lookup leaves the count at zero
// rather than failing the listing.
func (c *HubSpotClient) ListForms(ctx context.Context) ([]Form, error) {
	var forms []Form
	after := ""
	for {
		q := url.Values{}
		q.Set("limit", "100")
		if after != "" {
			q.Set("after", after)
		}
		var resp formsListResponse
		if err := doJSON(ctx, c.client, "hubspot", http.MethodGet,
			c.endpoint+"/marketing/v3/forms?"+q.Encode(), c.token, nil, &resp); err != nil {
			return nil, err
		}
		for _, f := range resp.Results {
			forms = append(forms, Form{ID: f.ID, Name: f.Name})
		}
		if resp.Paging == nil || resp.Paging.Next.After == "" {
			break
		}
		after = resp.Paging.Next.After
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(formCountParallel)
	for i := range forms {
		g.Go(func() error {
			var resp submissionsResponse
			err := doJSON(gctx, c.client, "hubspot", http.MethodGet,
				c.endpoint+"/form-integrations/v1/submissions/forms/"+url.PathEscape(forms[i].ID)+"?limit=1",
				c.token, nil, &resp)
			if err == nil {
				forms[i].Submissions = resp.Total
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return forms, nil
}
