package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vortexdb/vortex-gateway/models"
	"github.com/vortexdb/vortex-gateway/security"
	"github.com/vortexdb/vortex-gateway/services"
)

type BatchHandlers struct {
	jobService services.JobService
	guard      *Guard
}

func NewBatchHandlers(jobService services.JobService, guard *Guard) *BatchHandlers {
	return &BatchHandlers{
		jobService: jobService,
		guard:      guard,
	}
}

// Ingest enqueues an asynchronous ingestion job: a server-side folder walk
// when folder is set, otherwise the inline documents.
func (h *BatchHandlers) Ingest(c *gin.Context) {
	var req models.BatchIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		security.RenderError(c, models.ErrInvalidRequest("invalid request body"))
		return
	}
	collection := req.Collection
	if collection == "" {
		collection = defaultCollection
	}
	if !h.guard.Require(c, security.Resource{Type: "collection", Name: collection}, security.ActionWrite) {
		return
	}

	uc := security.GetUserContext(c)
	var (
		result *models.EnqueueResult
		err    error
	)
	if req.Folder != "" {
		result, err = h.jobService.Enqueue(c.Request.Context(), models.JobTypeBatchUpsert, models.BatchUpsertPayload{
			Folder:     req.Folder,
			Collection: collection,
			BatchSize:  req.BatchSize,
		})
	} else {
		if len(req.Documents) == 0 {
			security.RenderError(c, models.ErrInvalidRequest("either documents or folder must be provided"))
			return
		}
		tenantID := req.TenantID
		if tenantID == "" {
			tenantID = writeTenant(uc)
		}
		result, err = h.jobService.Enqueue(c.Request.Context(), models.JobTypeUpsertBatchDocs, models.UpsertBatchDocsPayload{
			Collection:  collection,
			Documents:   req.Documents,
			TenantID:    tenantID,
			AccessLevel: clampAccessLevel(req.AccessLevel, uc),
		})
	}
	if err != nil {
		security.RenderError(c, err)
		return
	}

	if result.Status == "skipped" {
		c.JSON(http.StatusOK, gin.H{"status": "skipped", "message": result.Message})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "queued",
		"job_id": result.JobID,
	})
}

// JobStatus returns one job row.
func (h *BatchHandlers) JobStatus(c *gin.Context) {
	if !h.guard.Require(c, security.Resource{Type: "jobs"}, security.ActionRead) {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		security.RenderError(c, models.ErrInvalidRequest("job id must be a UUID"))
		return
	}

	job, err := h.jobService.GetStatus(c.Request.Context(), id)
	if err != nil {
		security.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

// JobList returns recent jobs plus per-status counts.
func (h *BatchHandlers) JobList(c *gin.Context) {
	if !h.guard.Require(c, security.Resource{Type: "jobs"}, security.ActionRead) {
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			security.RenderError(c, models.ErrInvalidRequest("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	list, err := h.jobService.List(c.Request.Context(), limit)
	if err != nil {
		security.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
