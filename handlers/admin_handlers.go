package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vortexdb/vortex-gateway/models"
	"github.com/vortexdb/vortex-gateway/security"
	"github.com/vortexdb/vortex-gateway/services"
)

// AdminHandlers covers collection lifecycle, snapshots, BM25 retraining and
// the destructive maintenance endpoints. Every route requires ActionAdmin.
type AdminHandlers struct {
	store         services.VectorStoreClient
	searchService services.HybridSearchService
	jobService    services.JobService
	guard         *Guard
	audit         *security.AuditLogger
	snapshotDir   string
}

func NewAdminHandlers(store services.VectorStoreClient, searchService services.HybridSearchService, jobService services.JobService, guard *Guard, audit *security.AuditLogger, snapshotDir string) *AdminHandlers {
	return &AdminHandlers{
		store:         store,
		searchService: searchService,
		jobService:    jobService,
		guard:         guard,
		audit:         audit,
		snapshotDir:   snapshotDir,
	}
}

func (h *AdminHandlers) require(c *gin.Context, name string) bool {
	return h.guard.Require(c, security.Resource{Type: "system", Name: name}, security.ActionAdmin)
}

// CreateCollection enqueues a create_collection job.
func (h *AdminHandlers) CreateCollection(c *gin.Context) {
	if !h.require(c, "collections") {
		return
	}
	var req models.CreateCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		security.RenderError(c, models.ErrInvalidRequest("name is required"))
		return
	}

	result, err := h.jobService.Enqueue(c.Request.Context(), models.JobTypeCreateCollection, models.CreateCollectionPayload{
		Name:       req.Name,
		VectorSize: req.VectorSize,
	})
	if err != nil {
		security.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "queued",
		"message": fmt.Sprintf("collection %q creation queued. Job ID: %s", req.Name, result.JobID),
	})
}

// DeleteCollection drops a collection synchronously.
func (h *AdminHandlers) DeleteCollection(c *gin.Context) {
	if !h.require(c, "collections") {
		return
	}
	var req models.DeleteCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		security.RenderError(c, models.ErrInvalidRequest("name is required"))
		return
	}

	exists, err := h.store.CollectionExists(c.Request.Context(), req.Name)
	if err != nil {
		security.RenderError(c, models.ErrUpstreamUnavailable("vector store unreachable"))
		return
	}
	if !exists {
		security.RenderError(c, models.ErrInvalidRequest(fmt.Sprintf("collection %q does not exist", req.Name)))
		return
	}
	if err := h.store.DeleteCollection(c.Request.Context(), req.Name); err != nil {
		security.RenderError(c, models.ErrUpstreamUnavailable("collection delete failed"))
		return
	}

	uc := security.GetUserContext(c)
	h.audit.LogEvent(security.EventDataDelete, map[string]any{
		"user_id":        uc.UserID,
		"collection":     req.Name,
		"scope":          "collection",
		"correlation_id": security.GetCorrelationID(c),
	})
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": fmt.Sprintf("collection %q deleted", req.Name),
	})
}

// ListCollections returns every backend collection with point counts.
func (h *AdminHandlers) ListCollections(c *gin.Context) {
	if !h.require(c, "collections") {
		return
	}
	collections, err := h.store.ListCollections(c.Request.Context())
	if err != nil {
		security.RenderError(c, models.ErrUpstreamUnavailable("vector store unreachable"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"collections": collections,
		"total_count": len(collections),
	})
}

// CreateSnapshot enqueues a create_snapshot job for one collection.
func (h *AdminHandlers) CreateSnapshot(c *gin.Context) {
	if !h.require(c, "snapshots") {
		return
	}
	var req models.SnapshotCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		security.RenderError(c, models.ErrInvalidRequest("collection is required"))
		return
	}

	result, err := h.jobService.Enqueue(c.Request.Context(), models.JobTypeCreateSnapshot, models.CreateSnapshotPayload{
		Collection: req.Collection,
	})
	if err != nil {
		security.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "queued",
		"message": fmt.Sprintf("snapshot creation queued. Job ID: %s", result.JobID),
	})
}

// ListSnapshots aggregates snapshots across all collections.
func (h *AdminHandlers) ListSnapshots(c *gin.Context) {
	if !h.require(c, "snapshots") {
		return
	}
	collections, err := h.store.ListCollections(c.Request.Context())
	if err != nil {
		security.RenderError(c, models.ErrUpstreamUnavailable("vector store unreachable"))
		return
	}

	snapshots := make([]models.SnapshotInfo, 0)
	for _, col := range collections {
		list, err := h.store.ListSnapshots(c.Request.Context(), col.Name)
		if err != nil {
			// A collection without snapshot support should not hide the rest.
			continue
		}
		snapshots = append(snapshots, list...)
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snapshots})
}

// RestoreSnapshot uploads a local snapshot file back into the backend. The
// collection name is the snapshot's parent directory.
func (h *AdminHandlers) RestoreSnapshot(c *gin.Context) {
	if !h.require(c, "snapshots") {
		return
	}
	var req models.SnapshotPathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		security.RenderError(c, models.ErrInvalidRequest("path is required"))
		return
	}
	path, appErr := h.resolveSnapshotPath(req.Path)
	if appErr != nil {
		security.RenderError(c, appErr)
		return
	}

	collection := filepath.Base(filepath.Dir(path))
	if err := h.store.UploadSnapshot(c.Request.Context(), collection, path); err != nil {
		security.RenderError(c, models.ErrUpstreamUnavailable("snapshot restore failed"))
		return
	}

	uc := security.GetUserContext(c)
	h.audit.LogEvent(security.EventConfigChange, map[string]any{
		"user_id":        uc.UserID,
		"action":         "snapshot_restore",
		"collection":     collection,
		"path":           req.Path,
		"correlation_id": security.GetCorrelationID(c),
	})
	c.JSON(http.StatusOK, gin.H{"status": "restored", "path": req.Path})
}

// DeleteSnapshot removes a local snapshot file.
func (h *AdminHandlers) DeleteSnapshot(c *gin.Context) {
	if !h.require(c, "snapshots") {
		return
	}
	var req models.SnapshotPathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		security.RenderError(c, models.ErrInvalidRequest("path is required"))
		return
	}
	path, appErr := h.resolveSnapshotPath(req.Path)
	if appErr != nil {
		security.RenderError(c, appErr)
		return
	}

	if err := os.Remove(path); err != nil {
		security.RenderError(c, models.ErrInvalidRequest("snapshot could not be deleted"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "path": req.Path})
}

// resolveSnapshotPath confines snapshot file operations to the configured
// snapshot directory.
func (h *AdminHandlers) resolveSnapshotPath(raw string) (string, *models.AppError) {
	base, err := filepath.Abs(h.snapshotDir)
	if err != nil {
		return "", models.ErrInvalidRequest("invalid snapshot path")
	}
	candidate := raw
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(base, candidate)
	}
	resolved, err := filepath.Abs(filepath.Clean(candidate))
	if err != nil {
		return "", models.ErrInvalidRequest("invalid snapshot path")
	}
	if resolved != base && !strings.HasPrefix(resolved, base+string(filepath.Separator)) {
		return "", models.ErrAccessDenied("snapshot path outside the snapshot directory")
	}
	info, err := os.Stat(resolved)
	if err != nil || info.IsDir() {
		return "", models.ErrInvalidRequest("snapshot not found")
	}
	return resolved, nil
}

// RetrainBM25 enqueues a bm25_retrain job. The body is optional.
func (h *AdminHandlers) RetrainBM25(c *gin.Context) {
	if !h.require(c, "bm25") {
		return
	}
	var req models.BM25RetrainRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			security.RenderError(c, models.ErrInvalidRequest("invalid request body"))
			return
		}
	}

	result, err := h.jobService.Enqueue(c.Request.Context(), models.JobTypeBM25Retrain, models.BM25RetrainPayload{
		BasePath: req.BasePath,
	})
	if err != nil {
		security.RenderError(c, err)
		return
	}

	resp := gin.H{
		"status": result.Status,
		"type":   string(models.JobTypeBM25Retrain),
	}
	if result.Status == "skipped" {
		resp["message"] = result.Message
	} else {
		resp["job_id"] = result.JobID
	}
	c.JSON(http.StatusOK, resp)
}

// ClearCache truncates the semantic cache collection.
func (h *AdminHandlers) ClearCache(c *gin.Context) {
	if !h.require(c, "cache") {
		return
	}
	if err := h.searchService.ClearCache(c.Request.Context()); err != nil {
		security.RenderError(c, models.ErrUpstreamUnavailable("cache clear failed"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// ResetDB drops every collection in the backend.
func (h *AdminHandlers) ResetDB(c *gin.Context) {
	if !h.require(c, "reset_db") {
		return
	}
	collections, err := h.store.ListCollections(c.Request.Context())
	if err != nil {
		security.RenderError(c, models.ErrUpstreamUnavailable("vector store unreachable"))
		return
	}

	dropped := make([]string, 0, len(collections))
	for _, col := range collections {
		if err := h.store.DeleteCollection(c.Request.Context(), col.Name); err != nil {
			security.RenderError(c, models.ErrUpstreamUnavailable(fmt.Sprintf("failed to drop collection %q", col.Name)))
			return
		}
		dropped = append(dropped, col.Name)
	}

	uc := security.GetUserContext(c)
	h.audit.LogEvent(security.EventDataDelete, map[string]any{
		"user_id":        uc.UserID,
		"action":         "reset_db",
		"collections":    dropped,
		"scope":          "database",
		"correlation_id": security.GetCorrelationID(c),
	})
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
