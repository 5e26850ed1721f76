package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vortexdb/vortex-gateway/models"
	"github.com/vortexdb/vortex-gateway/security"
	"github.com/vortexdb/vortex-gateway/services"
)

type HealthHandlers struct {
	store services.VectorStoreClient
}

func NewHealthHandlers(store services.VectorStoreClient) *HealthHandlers {
	return &HealthHandlers{store: store}
}

// Live is the bare liveness probe.
func (h *HealthHandlers) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status reports per-collection point counts and vector sizes.
func (h *HealthHandlers) Status(c *gin.Context) {
	collections, err := h.store.ListCollections(c.Request.Context())
	if err != nil {
		security.RenderError(c, models.ErrUpstreamUnavailable("vector store unreachable"))
		return
	}

	out := make(map[string]gin.H, len(collections))
	for _, col := range collections {
		out[col.Name] = gin.H{
			"count":       col.PointCount,
			"vector_size": col.VectorSize,
			"status":      col.Status,
		}
	}
	c.JSON(http.StatusOK, gin.H{"collections": out})
}
