package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"propwatch/server/internal/database"
	"propwatch/server/internal/models"
	"propwatch/server/internal/queue"
)

type Handler struct {
	db     *database.Database
	queue  *queue.ListingQueue
	logger *logrus.Logger
}

type ListQuery struct {
	Source   string   `form:"source"`
	Status   string   `form:"status"`
	MinPrice *float64 `form:"min_price"`
	MaxPrice *float64 `form:"max_price"`
	MinSize  *float64 `form:"min_size"`
	MaxSize  *float64 `form:"max_size"`
	Sort     string   `form:"sort"`
	Order    string   `form:"order"`
	Limit    int      `form:"limit"`
	Offset   int      `form:"offset"`
}

type ReconcileRequest struct {
	Source          string    `json:"source" binding:"required"`
	SeenExternalIDs []string  `json:"seen_external_ids"`
	StartedAt       time.Time `json:"started_at" binding:"required"`
}

func NewHandler(db *database.Database, q *queue.ListingQueue, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	return &Handler{
		db:     db,
		queue:  q,
		logger: logger,
	}
}

// respondError maps storage errors onto HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, database.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, database.ErrValidation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, database.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
	default:
		h.logger.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *Handler) propertyID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid property id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) ListProperties(c *gin.Context) {
	var q ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid query parameters"})
		return
	}

	filter := models.PropertyFilter{
		Source:   q.Source,
		MinPrice: q.MinPrice,
		MaxPrice: q.MaxPrice,
		MinSize:  q.MinSize,
		MaxSize:  q.MaxSize,
	}
	if q.Status != "" {
		status, err := models.ParseStatus(q.Status)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		filter.Status = status
	}

	opts := models.ListOptions{
		SortField: q.Sort,
		SortDesc:  q.Order == "desc",
		Limit:     q.Limit,
		Offset:    q.Offset,
	}

	properties, err := h.db.ListProperties(filter, opts)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, properties)
}

func (h *Handler) GetProperty(c *gin.Context) {
	id, ok := h.propertyID(c)
	if !ok {
		return
	}

	property, err := h.db.GetProperty(id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, property)
}

func (h *Handler) GetPriceHistory(c *gin.Context) {
	id, ok := h.propertyID(c)
	if !ok {
		return
	}

	if _, err := h.db.GetProperty(id); err != nil {
		h.respondError(c, err)
		return
	}
	history, err := h.db.GetPriceHistory(id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *Handler) GetPropertyImages(c *gin.Context) {
	id, ok := h.propertyID(c)
	if !ok {
		return
	}

	if _, err := h.db.GetProperty(id); err != nil {
		h.respondError(c, err)
		return
	}
	images, err := h.db.GetPropertyImages(id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, images)
}

// IngestProperties accepts a batch of listings and enqueues it for
// asynchronous persistence.
func (h *Handler) IngestProperties(c *gin.Context) {
	var batch []*models.Property
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid listing batch"})
		return
	}
	if len(batch) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "empty listing batch"})
		return
	}

	if err := h.queue.Push(batch); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"enqueued": len(batch)})
}

func (h *Handler) MarkSold(c *gin.Context) {
	id, ok := h.propertyID(c)
	if !ok {
		return
	}
	if err := h.db.MarkSold(id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(models.StatusSold)})
}

func (h *Handler) MarkRemoved(c *gin.Context) {
	id, ok := h.propertyID(c)
	if !ok {
		return
	}
	if err := h.db.MarkRemoved(id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(models.StatusRemoved)})
}

// Reconcile demotes active listings of a source that a completed crawl pass
// no longer observed.
func (h *Handler) Reconcile(c *gin.Context) {
	var req ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid reconcile request"})
		return
	}

	demoted, err := h.db.ReconcileSold(req.Source, req.SeenExternalIDs, req.StartedAt)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"demoted": demoted})
}

func (h *Handler) CompactPriceHistory(c *gin.Context) {
	deleted, err := h.db.CompactPriceHistory()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *Handler) ListMigrations(c *gin.Context) {
	records, err := h.db.ListAppliedMigrations()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}
