package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vortexdb/vortex-gateway/models"
	"github.com/vortexdb/vortex-gateway/security"
	"github.com/vortexdb/vortex-gateway/services"
)

type QueryHandlers struct {
	searchService services.HybridSearchService
	guard         *Guard
}

func NewQueryHandlers(searchService services.HybridSearchService, guard *Guard) *QueryHandlers {
	return &QueryHandlers{
		searchService: searchService,
		guard:         guard,
	}
}

// HybridQuery runs the full multi-vector pipeline.
func (h *QueryHandlers) HybridQuery(c *gin.Context) {
	var req models.HybridSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		security.RenderError(c, models.ErrInvalidRequest("query_text is required"))
		return
	}

	resource := security.Resource{Type: "collection", Name: firstOr(req.Collections, "documents")}
	if !h.guard.Require(c, resource, security.ActionSearch) {
		return
	}
	if !h.guard.ConsumeQuota(c, 1) {
		return
	}

	resp, err := h.searchService.HybridSearch(c.Request.Context(), req, security.GetUserContext(c))
	if err != nil {
		security.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// KeywordQuery is the sparse-only path.
func (h *QueryHandlers) KeywordQuery(c *gin.Context) {
	var req models.KeywordSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		security.RenderError(c, models.ErrInvalidRequest("query is required"))
		return
	}

	if !h.guard.Require(c, security.Resource{Type: "collection", Name: "documents"}, security.ActionSearch) {
		return
	}
	if !h.guard.ConsumeQuota(c, 1) {
		return
	}

	resp, err := h.searchService.KeywordSearch(c.Request.Context(), req, security.GetUserContext(c))
	if err != nil {
		security.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func firstOr(values []string, fallback string) string {
	if len(values) > 0 && values[0] != "" {
		return values[0]
	}
	return fallback
}
