package main

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stjgraph/stjrag"
)

type handler struct {
	svc     *stjrag.Service
	cfg     stjrag.Config
	log     *slog.Logger
	started time.Time
}

func newHandler(svc *stjrag.Service, cfg stjrag.Config, log *slog.Logger) *handler {
	return &handler{svc: svc, cfg: cfg, log: log.With("component", "api"), started: time.Now()}
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"uptime":    h.svc.Uptime().Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"backends":  h.svc.Health(c.Request.Context()),
	})
}

// --- datasets ---

func (h *handler) listDatasets(c *gin.Context) {
	datasets, err := h.svc.Store().ListDatasets(c.Request.Context())
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"datasets": datasets})
}

func (h *handler) getDataset(c *gin.Context) {
	dataset, err := h.svc.Store().GetDatasetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.serverError(c, err)
		return
	}
	if dataset == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "dataset not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dataset": dataset})
}

func (h *handler) syncDatasets(c *gin.Context) {
	summaries, err := h.svc.SyncDatasets(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "results": summaries})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": summaries})
}

func (h *handler) resourceStats(c *gin.Context) {
	stats, err := h.svc.Store().ResourceStats(c.Request.Context())
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// --- resources ---

func (h *handler) listResources(c *gin.Context) {
	resources, err := h.svc.Store().ListResources(c.Request.Context())
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resources": resources})
}

func (h *handler) resourceStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.svc.Store().GetResource(c.Request.Context(), id)
	if err != nil {
		h.serverError(c, err)
		return
	}
	if res == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       res.Status,
		"errorMessage": res.ErrorMessage,
		"chunkCount":   res.ChunkCount,
		"entityCount":  res.EntityCount,
		"embeddedAt":   res.EmbeddedAt,
	})
}

func (h *handler) downloadResource(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	url, err := h.svc.DownloadResource(c.Request.Context(), id)
	if err != nil {
		h.domainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *handler) processResource(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	jobID, err := h.svc.EnqueueResourceProcess(c.Request.Context(), id)
	if err != nil {
		h.domainError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": jobID})
}

// --- documents ---

func (h *handler) listDocuments(c *gin.Context) {
	user := currentUser(c)
	documents, err := h.svc.Store().ListDocumentsByUser(c.Request.Context(), user.ID)
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": documents})
}

type uploadRequest struct {
	Filename   string `json:"filename" binding:"required,max=500"`
	MimeType   string `json:"mimeType" binding:"required,max=100"`
	Base64Data string `json:"base64Data" binding:"required"`
}

func (h *handler) uploadDocument(c *gin.Context) {
	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filename, mimeType and base64Data are required"})
		return
	}
	user := currentUser(c)
	docID, jobID, err := h.svc.UploadDocument(c.Request.Context(), user.ID, req.Filename, req.MimeType, req.Base64Data)
	if err != nil {
		h.domainError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"documentId": docID, "jobId": jobID})
}

func (h *handler) processDocument(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	jobID, err := h.svc.EnqueueDocumentProcess(c.Request.Context(), id)
	if err != nil {
		h.domainError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": jobID})
}

// --- graph ---

func (h *handler) graphNodes(c *gin.Context) {
	limit := queryInt(c, "limit", 100)
	search := c.Query("search")
	entityType := c.Query("type")

	ctx := c.Request.Context()
	var err error
	var nodes any
	if search != "" || entityType != "" {
		nodes, err = h.svc.Store().SearchNodes(ctx, search, entityType, limit)
	} else {
		nodes, err = h.svc.Store().TopNodesByMentions(ctx, limit)
	}
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes})
}

func (h *handler) nodeStats(c *gin.Context) {
	stats, err := h.svc.Store().NodeStats(c.Request.Context())
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

func (h *handler) edgeStats(c *gin.Context) {
	stats, err := h.svc.Store().EdgeStats(c.Request.Context())
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

func (h *handler) communities(c *gin.Context) {
	var level *int
	if raw := c.Query("level"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "level must be an integer"})
			return
		}
		level = &n
	}
	communities, err := h.svc.Store().Communities(c.Request.Context(), level)
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"communities": communities})
}

func (h *handler) buildCommunities(c *gin.Context) {
	result, err := h.svc.BuildCommunities(c.Request.Context())
	if err != nil {
		if errors.Is(err, stjrag.ErrBuildInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": "community build already running"})
			return
		}
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handler) visualization(c *gin.Context) {
	subgraph, err := h.svc.Visualization(c.Request.Context(), queryInt(c, "limit", 200))
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, subgraph)
}

// --- embeddings and RAG ---

func (h *handler) collections(c *gin.Context) {
	collections, err := h.svc.Collections(c.Request.Context())
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collections": collections})
}

type ragQueryRequest struct {
	Query string `json:"query" binding:"required,min=3"`
}

func (h *handler) ragQuery(c *gin.Context) {
	var req ragQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query must have at least 3 characters"})
		return
	}
	user := currentUser(c)

	if res := h.svc.RateLimitQuery(user.ID); !res.Allowed {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":        "rate limit exceeded",
			"retryAfterMs": res.RetryAfterMs,
		})
		return
	}

	result, err := h.svc.RagQuery(c.Request.Context(), &user.ID, req.Query)
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handler) ragHistory(c *gin.Context) {
	user := currentUser(c)
	queries, err := h.svc.Store().ListRagQueries(c.Request.Context(), &user.ID, queryInt(c, "limit", 20))
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queries": queries})
}

func (h *handler) auditLogs(c *gin.Context) {
	logs, err := h.svc.Store().ListAuditLogs(c.Request.Context(), queryInt(c, "limit", 50))
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// --- helpers ---

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (h *handler) serverError(c *gin.Context, err error) {
	h.log.Error("request failed", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

// domainError maps service sentinels to HTTP statuses.
func (h *handler) domainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, stjrag.ErrResourceNotFound),
		errors.Is(err, stjrag.ErrDocumentNotFound),
		errors.Is(err, stjrag.ErrDatasetNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, stjrag.ErrDocumentTooLarge),
		errors.Is(err, stjrag.ErrUnsupportedFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, stjrag.ErrBrokerUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.serverError(c, err)
	}
}
