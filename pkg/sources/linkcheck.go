package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	linkCheckTimeout  = 10 * time.Second
	formDetectTimeout = 5 * time.Second
	maxRedirects      = 5
	userAgent         = "thyme-healthbot/1.0"
)

var (
	locPattern  = regexp.MustCompile(`<loc>\s*([^<]+?)\s*</loc>`)
	formPattern = regexp.MustCompile(`<form[\s>]`)
)

// LinkChecker probes site URLs for broken links and redirect chains, and
// fetches rendered HTML to detect form elements the CMS payloads miss.
type LinkChecker struct {
	// headClient never follows redirects so the chain stays observable.
	headClient *http.Client
	getClient  *http.Client
	siteOrigin string
}

// NewLinkChecker creates a checker scoped to one site origin.
func NewLinkChecker(siteOrigin string) *LinkChecker {
	return &LinkChecker{
		headClient: &http.Client{
			Timeout: linkCheckTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		getClient:  &http.Client{Timeout: formDetectTimeout},
		siteOrigin: strings.TrimRight(siteOrigin, "/"),
	}
}

// SitemapURLs fetches the sitemap and extracts its <loc> entries. The parse
// is a best-effort pattern match rather than full XML, since real sitemaps
// are frequently malformed.
func (c *LinkChecker) SitemapURLs(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.siteOrigin+"/sitemap.xml", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build sitemap request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.getClient.Do(req)
	if err != nil {
		return nil, &RemoteError{Source: "sitemap", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RemoteError{Source: "sitemap", Status: resp.StatusCode,
			Err: fmt.Errorf("sitemap fetch failed")}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &RemoteError{Source: "sitemap", Err: err}
	}
	matches := locPattern.FindAllStringSubmatch(string(body), -1)
	if len(matches) == 0 {
		return nil, &DataError{Source: "sitemap", Err: fmt.Errorf("no <loc> entries found")}
	}
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		urls = append(urls, strings.TrimSpace(m[1]))
	}
	return urls, nil
}

// LinkResult is the outcome of probing one URL.
type LinkResult struct {
	URL           string
	FinalURL      string
	Status        int
	IsBroken      bool
	IsRedirect    bool
	RedirectChain []string
	Error         string
}

// Check probes one URL with manual-redirect HEAD requests, following at
// most maxRedirects hops. Status >= 400, status 0 or a transport error
// marks the URL broken; more than one hop marks it a redirect.
func (c *LinkChecker) Check(ctx context.Context, target string) LinkResult {
	result := LinkResult{URL: target, FinalURL: target}
	current := target
	for hop := 0; hop <= maxRedirects; hop++ {
		result.RedirectChain = append(result.RedirectChain, current)

		req, err := http.NewRequestWithContext(ctx, http.MethodHead, current, nil)
		if err != nil {
			result.IsBroken = true
			result.Error = err.Error()
			return result
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.headClient.Do(req)
		if err != nil {
			result.IsBroken = true
			result.Error = err.Error()
			return result
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
		resp.Body.Close()

		result.Status = resp.StatusCode
		result.FinalURL = current

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			next := resp.Header.Get("Location")
			if next == "" {
				result.IsBroken = true
				result.Error = "redirect without location header"
				return result
			}
			if parsed, err := resp.Request.URL.Parse(next); err == nil {
				next = parsed.String()
			}
			current = next
			continue
		}
		result.IsRedirect = len(result.RedirectChain) > 1
		result.IsBroken = resp.StatusCode >= 400 || resp.StatusCode == 0
		return result
	}
	result.IsBroken = true
	result.IsRedirect = true
	result.Error = fmt.Sprintf("redirect chain exceeded %d hops", maxRedirects)
	return result
}

// LinkTypeFor classifies a target URL relative to the site origin.
func (c *LinkChecker) LinkTypeFor(target string) string {
	if strings.HasPrefix(target, c.siteOrigin) {
		return "internal"
	}
	return "external"
}

// HasHTMLForm fetches the rendered page and reports whether a form element
// is present. Supplements CMS widget parsing for hand-coded templates.
func (c *LinkChecker) HasHTMLForm(ctx context.Context, pageURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build form-detect request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.getClient.Do(req)
	if err != nil {
		return false, &RemoteError{Source: "form-detect", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, &RemoteError{Source: "form-detect", Status: resp.StatusCode,
			Err: fmt.Errorf("page fetch failed")}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return false, &RemoteError{Source: "form-detect", Err: err}
	}
	return formPattern.Match(body), nil
}
