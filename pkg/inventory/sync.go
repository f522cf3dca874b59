// Package inventory reconciles the canonical page set against the CMS and
// supplements it with live form detection.
package inventory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thymehq/thyme/pkg/models"
	"github.com/thymehq/thyme/pkg/sources"
)

// CMSLister enumerates the CMS page families. Implemented by
// sources.HubSpotClient.
type CMSLister interface {
	ListPages(ctx context.Context) ([]sources.CMSPage, error)
}

// FormDetector probes a live URL for an HTML form element. Implemented by
// sources.LinkChecker.
type FormDetector interface {
	HasHTMLForm(ctx context.Context, pageURL string) (bool, error)
}

// PageWriter is the inventory slice of the page store the reconciler needs.
type PageWriter interface {
	Active(ctx context.Context) ([]models.Page, error)
	UpdateFromCMS(ctx context.Context, p *models.Page) error
	InsertBatch(ctx context.Context, pages []models.Page, chunkSize int) error
	SetHasForm(ctx context.Context, url string, hasForm bool) error
}

// Syncer runs the CMS reconciliation protocol.
type Syncer struct {
	pages          PageWriter
	cms            CMSLister
	detector       FormDetector
	logger         *slog.Logger
	updateParallel int
	insertChunk    int
	detectParallel int
}

// NewSyncer creates a reconciler with the given parallelism caps.
func NewSyncer(pages PageWriter, cms CMSLister, detector FormDetector,
	logger *slog.Logger, updateParallel, insertChunk, detectParallel int) *Syncer {
	return &Syncer{
		pages:          pages,
		cms:            cms,
		detector:       detector,
		logger:         logger,
		updateParallel: updateParallel,
		insertChunk:    insertChunk,
		detectParallel: detectParallel,
	}
}

// SyncResult summarizes one reconciliation pass.
type SyncResult struct {
	Fetched  int
	Inserted int
	Updated  int
}

// Sync fetches the full CMS inventory and reconciles it against the active
// page set: existing URLs are updated in place, new URLs inserted in chunks.
// Replays with unchanged upstream data insert nothing.
func (s *Syncer) Sync(ctx context.Context) (*SyncResult, error) {
	cmsPages, err := s.cms.ListPages(ctx)
	if err != nil {
		return nil, err
	}

	existing, err := s.pages.Active(ctx)
	if err != nil {
		return nil, err
	}
	byURL := make(map[string]*models.Page, len(existing))
	for i := range existing {
		byURL[existing[i].URL] = &existing[i]
	}

	now := time.Now()
	var updates, inserts []models.Page
	for _, cp := range cmsPages {
		if cp.URL == "" {
			continue
		}
		page := models.Page{
			URL:             cp.URL,
			Slug:            cp.Slug,
			Title:           cp.Title,
			MetaDescription: cp.MetaDescription,
			PageType:        cp.PageType,
			HubSpotPageID:   cp.ID,
			HasForm:         len(cp.FormIDs) > 0,
			FormIDs:         cp.FormIDs,
			HasCTA:          len(cp.CTAIDs) > 0,
			CTAIDs:          cp.CTAIDs,
			PublishedAt:     cp.PublishedAt,
			LastUpdatedAt:   cp.UpdatedAt,
			ContentAgeDays:  models.ContentAge(cp.UpdatedAt, now),
		}
		if _, ok := byURL[cp.URL]; ok {
			updates = append(updates, page)
		} else {
			inserts = append(inserts, page)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.updateParallel)
	for i := range updates {
		g.Go(func() error {
			return s.pages.UpdateFromCMS(gctx, &updates[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := s.pages.InsertBatch(ctx, inserts, s.insertChunk); err != nil {
		return nil, err
	}

	s.logger.Info("CMS sync complete",
		"fetched", len(cmsPages),
		"updated", len(updates),
		"inserted", len(inserts))
	return &SyncResult{
		Fetched:  len(cmsPages),
		Inserted: len(inserts),
		Updated:  len(updates),
	}, nil
}

// SupplementForms probes landing pages still marked formless against their
// live HTML and flips has_form where a form element is found. The passed
// slice is mutated so callers keep a consistent in-memory view. Probe
// failures are skipped; returns the number of pages flipped.
func (s *Syncer) SupplementForms(ctx context.Context, pages []models.Page) int {
	var candidates []int
	for i := range pages {
		if pages[i].PageType == models.PageTypeLanding && !pages[i].HasForm {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return 0
	}

	var mu sync.Mutex
	flipped := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.detectParallel)
	for _, idx := range candidates {
		g.Go(func() error {
			found, err := s.detector.HasHTMLForm(gctx, pages[idx].URL)
			if err != nil || !found {
				return nil
			}
			if err := s.pages.SetHasForm(gctx, pages[idx].URL, true); err != nil {
				s.logger.Warn("Form flag update failed",
					"url", pages[idx].URL, "error", err)
				return nil
			}
			mu.Lock()
			pages[idx].HasForm = true
			flipped++
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if flipped > 0 {
		s.logger.Info("HTML form supplement complete", "flipped", flipped)
	}
	return flipped
}
