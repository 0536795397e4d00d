package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"order-reconciler/internal/models"
	"order-reconciler/internal/service"
	"order-reconciler/internal/store"
	"order-reconciler/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// maxIngestBody caps a manual ingest request
const maxIngestBody = 4 << 20

// Ingester is the reconciliation pipeline
type Ingester interface {
	Ingest(ctx context.Context, event models.RawOrderEvent) (service.Result, error)
}

// WatermarkReader exposes feed progress
type WatermarkReader interface {
	GetWatermark(ctx context.Context, feed string) (string, error)
}

// ProcessedLister lists processed events; only the postgres backend provides it
type ProcessedLister interface {
	RecentProcessed(ctx context.Context, phone string, limit int) ([]store.ProcessedEvent, error)
}

// Handler contains HTTP handlers
type Handler struct {
	pipeline   Ingester
	watermarks WatermarkReader
	processed  ProcessedLister
	ready      func(ctx context.Context) error
}

// NewHandler creates a new HTTP handler; processed and ready may be nil
func NewHandler(pipeline Ingester, watermarks WatermarkReader, processed ProcessedLister, ready func(ctx context.Context) error) *Handler {
	return &Handler{
		pipeline:   pipeline,
		watermarks: watermarks,
		processed:  processed,
		ready:      ready,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders/ingest", h.ingestOrders)
		v1.GET("/watermarks/:feed", h.getWatermark)
		v1.GET("/processed/:phone", h.listProcessed)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports whether the state backend answers
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"details": err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// IngestResult is the per-group response of a manual ingest
type IngestResult struct {
	Phone   string          `json:"phone"`
	Date    string          `json:"date"`
	Time    string          `json:"time"`
	Status  service.Status  `json:"status"`
	WalkIn  bool            `json:"walk_in"`
	Outcome service.Outcome `json:"outcome"`
	Error   string          `json:"error,omitempty"`
}

// ingestOrders accepts one feed row or a list of rows, groups them like a polling
// cycle and ingests each group. The watermark is not touched.
func (h *Handler) ingestOrders(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxIngestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	rows, err := models.DecodeFeedRows(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	groups := models.GroupRows(rows)
	results := make([]IngestResult, 0, len(groups))
	for _, group := range groups {
		group.Source = models.SourceManual
		res, err := h.pipeline.Ingest(c.Request.Context(), group)

		out := IngestResult{
			Phone:   group.Phone,
			Date:    group.Date,
			Time:    group.Time,
			Status:  res.Status,
			WalkIn:  res.WalkIn,
			Outcome: res.Outcome,
		}
		if err != nil {
			out.Error = err.Error()
		}
		results = append(results, out)
	}

	c.JSON(http.StatusOK, gin.H{
		"groups":  len(groups),
		"results": results,
	})
}

// getWatermark returns the last processed timestamp of a feed
func (h *Handler) getWatermark(c *gin.Context) {
	feed := c.Param("feed")
	wm, err := h.watermarks.GetWatermark(c.Request.Context(), feed)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to read watermark",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"feed":      feed,
		"watermark": wm,
	})
}

// listProcessed handles processed events lookup by phone
func (h *Handler) listProcessed(c *gin.Context) {
	if h.processed == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error": "Processed event history requires the postgres state backend",
		})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid limit",
		})
		return
	}

	events, err := h.processed.RecentProcessed(c.Request.Context(), c.Param("phone"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list processed events",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// requestLogger logs every request through the service logger
func requestLogger() gin.HandlerFunc {
	logger := util.GetLogger()
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		if c.FullPath() == "/metrics" || c.FullPath() == "/health" {
			return
		}
		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
