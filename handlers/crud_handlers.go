package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vortexdb/vortex-gateway/models"
	"github.com/vortexdb/vortex-gateway/security"
	"github.com/vortexdb/vortex-gateway/services"
)

const defaultCollection = "documents"

type CrudHandlers struct {
	ingestService services.IngestService
	guard         *Guard
	audit         *security.AuditLogger
}

func NewCrudHandlers(ingestService services.IngestService, guard *Guard, audit *security.AuditLogger) *CrudHandlers {
	return &CrudHandlers{
		ingestService: ingestService,
		guard:         guard,
		audit:         audit,
	}
}

// Upsert ingests the documents contained in an uploaded JSON file.
func (h *CrudHandlers) Upsert(c *gin.Context) {
	collection := c.PostForm("collection")
	if collection == "" {
		collection = defaultCollection
	}
	if !h.guard.Require(c, security.Resource{Type: "collection", Name: collection}, security.ActionWrite) {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		security.RenderError(c, models.ErrInvalidRequest("a JSON file upload is required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		security.RenderError(c, models.ErrInvalidRequest("failed to open uploaded file"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		security.RenderError(c, models.ErrInvalidRequest("failed to read uploaded file"))
		return
	}
	docs, err := decodeDocs(data)
	if err != nil {
		security.RenderError(c, models.ErrInvalidFormat("uploaded file is not valid JSON: "+err.Error()))
		return
	}

	uc := security.GetUserContext(c)
	_, err = h.ingestService.UpsertDocuments(c.Request.Context(), collection, docs, services.IngestOptions{
		TenantID: writeTenant(uc),
	})
	if err != nil {
		security.RenderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"collection": collection,
		"filename":   fileHeader.Filename,
	})
}

// UpsertBatch ingests inline documents synchronously.
func (h *CrudHandlers) UpsertBatch(c *gin.Context) {
	var req models.UpsertBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		security.RenderError(c, models.ErrInvalidRequest("documents are required"))
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
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = writeTenant(uc)
	}
	accessLevel := clampAccessLevel(req.AccessLevel, uc)

	count, err := h.ingestService.UpsertDocuments(c.Request.Context(), collection, req.Documents, services.IngestOptions{
		TenantID:       tenantID,
		AccessLevel:    accessLevel,
		EncryptContent: req.Encrypt,
	})
	if err != nil {
		security.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"count":  count,
	})
}

// Update patches one document's payload across all of its chunks.
func (h *CrudHandlers) Update(c *gin.Context) {
	var req models.UpdateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		security.RenderError(c, models.ErrInvalidRequest("db_id and new_payload are required"))
		return
	}
	collection := req.Collection
	if collection == "" {
		collection = defaultCollection
	}
	if !h.guard.Require(c, security.Resource{Type: "collection", Name: collection}, security.ActionWrite) {
		return
	}

	merge := true
	if req.Merge != nil {
		merge = *req.Merge
	}
	if err := h.ingestService.UpdateDocument(c.Request.Context(), collection, req.DBID, req.NewPayload, merge); err != nil {
		security.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "document " + req.DBID + " updated",
	})
}

// Delete removes one document and all of its chunks.
func (h *CrudHandlers) Delete(c *gin.Context) {
	var req models.DeleteDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		security.RenderError(c, models.ErrInvalidRequest("db_id is required"))
		return
	}
	collection := req.Collection
	if collection == "" {
		collection = defaultCollection
	}
	if !h.guard.Require(c, security.Resource{Type: "collection", Name: collection}, security.ActionDelete) {
		return
	}

	if err := h.ingestService.DeleteDocument(c.Request.Context(), collection, req.DBID); err != nil {
		security.RenderError(c, err)
		return
	}

	uc := security.GetUserContext(c)
	h.audit.LogEvent(security.EventDataDelete, map[string]any{
		"user_id":        uc.UserID,
		"collection":     collection,
		"db_id":          req.DBID,
		"correlation_id": security.GetCorrelationID(c),
	})
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "document " + req.DBID + " deleted",
	})
}

// decodeDocs accepts either one JSON object or an array of objects.
func decodeDocs(data []byte) ([]map[string]any, error) {
	var single map[string]any
	if err := json.Unmarshal(data, &single); err == nil {
		return []map[string]any{single}, nil
	}
	var many []map[string]any
	if err := json.Unmarshal(data, &many); err != nil {
		return nil, err
	}
	return many, nil
}

// writeTenant scopes writes to the caller's tenant; service and admin
// principals write public data unless told otherwise.
func writeTenant(uc *security.UserContext) string {
	if uc == nil || uc.TenantID == "" {
		return models.PublicTenant
	}
	return uc.TenantID
}

// clampAccessLevel keeps writers from labeling data above their own ceiling.
func clampAccessLevel(requested int, uc *security.UserContext) int {
	if requested <= 0 {
		return 0
	}
	ceiling := security.MaxAccessLevel(uc.Role)
	if requested > ceiling {
		return ceiling
	}
	return requested
}
