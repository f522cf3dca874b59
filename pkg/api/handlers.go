package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thymehq/thyme/pkg/store"
)

// triggerTimeout bounds a dispatched background run independently of the
// triggering request.
const triggerTimeout = 10 * time.Minute

// handleTriggerScan dispatches a scan and returns immediately. A second
// trigger while one is running is rejected rather than queued.
func (s *Server) handleTriggerScan(c *gin.Context) {
	select {
	case s.running <- struct{}{}:
	default:
		c.JSON(http.StatusConflict, gin.H{"error": "a run is already in progress"})
		return
	}
	go func() {
		defer func() { <-s.running }()
		ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
		defer cancel()
		s.scanner.Run(ctx)
	}()
	c.JSON(http.StatusAccepted, gin.H{"accepted": true, "kind": "scan"})
}

// handleTriggerWeekly dispatches a weekly sweep fire-and-forget.
func (s *Server) handleTriggerWeekly(c *gin.Context) {
	select {
	case s.running <- struct{}{}:
	default:
		c.JSON(http.StatusConflict, gin.H{"error": "a run is already in progress"})
		return
	}
	go func() {
		defer func() { <-s.running }()
		ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
		defer cancel()
		s.weekly.Run(ctx)
	}()
	c.JSON(http.StatusAccepted, gin.H{"accepted": true, "kind": "weekly"})
}

type reviewRequest struct {
	ID       string `json:"id" binding:"required"`
	Action   string `json:"action" binding:"required,oneof=approve reject"`
	Notes    string `json:"notes"`
	Reviewer string `json:"reviewer"`
}

// handleReview applies a human decision to one pending queue item.
func (s *Server) handleReview(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reviewer := req.Reviewer
	if reviewer == "" {
		reviewer = "reviewer"
	}

	var err error
	var item any
	if req.Action == "approve" {
		item, err = s.review.Approve(c.Request.Context(), req.ID, reviewer, req.Notes)
	} else {
		item, err = s.review.Reject(c.Request.Context(), req.ID, reviewer, req.Notes)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotPending) {
			c.JSON(http.StatusNotFound, gin.H{"error": "queue item not found or not pending"})
			return
		}
		s.logger.Error("Review failed", "queue_id", req.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "review failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

func (s *Server) handleOverview(c *gin.Context) {
	overview, err := s.stores.Pages.GetOverview(c.Request.Context())
	if err != nil {
		s.logger.Error("Overview query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load overview"})
		return
	}
	c.JSON(http.StatusOK, overview)
}

func (s *Server) handleListPages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	pages, err := s.stores.Pages.List(c.Request.Context(), store.ListFilter{
		PageType:    c.Query("page_type"),
		FlaggedOnly: c.Query("flagged") == "true",
		SortBy:      c.Query("sort"),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		s.logger.Error("Page list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pages": pages, "count": len(pages)})
}

func (s *Server) handleListFindings(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	findings, err := s.stores.Findings.List(c.Request.Context(), store.FindingFilter{
		Status:   c.Query("status"),
		Severity: c.Query("severity"),
		PageURL:  c.Query("page_url"),
		Limit:    limit,
	})
	if err != nil {
		s.logger.Error("Finding list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list findings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"findings": findings, "count": len(findings)})
}

func (s *Server) handleListQueue(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	items, err := s.stores.Queue.ListPending(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("Queue list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list queue"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

func (s *Server) handleListTrends(c *gin.Context) {
	period := c.DefaultQuery("period", "weekly")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "12"))
	trends, err := s.stores.Trends.ListTrends(c.Request.Context(), period, limit)
	if err != nil {
		s.logger.Error("Trend list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list trends"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trends": trends, "count": len(trends)})
}

func (s *Server) handleConversionAudit(c *gin.Context) {
	a, err := s.stores.Trends.LatestConversionAudit(c.Request.Context())
	if err != nil {
		s.logger.Error("Conversion audit query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversion audit"})
		return
	}
	if a == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no conversion audit recorded yet"})
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleHealthz(c *gin.Context) {
	health := s.db.CheckHealth(c.Request.Context())
	if !health.Reachable {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": health})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": health})
}
