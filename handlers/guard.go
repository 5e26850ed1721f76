package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/vortexdb/vortex-gateway/metrics"
	"github.com/vortexdb/vortex-gateway/models"
	"github.com/vortexdb/vortex-gateway/security"
)

// Guard bundles the policy checks every protected handler runs before its
// real work: RBAC/ABAC permission and daily quota.
type Guard struct {
	access *security.AccessControl
	quota  *security.QuotaManager
	audit  *security.AuditLogger
}

func NewGuard(access *security.AccessControl, quota *security.QuotaManager, audit *security.AuditLogger) *Guard {
	return &Guard{
		access: access,
		quota:  quota,
		audit:  audit,
	}
}

// Require enforces the permission and renders the denial itself. Handlers
// just return when it reports false.
func (g *Guard) Require(c *gin.Context, resource security.Resource, action security.Action) bool {
	uc := security.GetUserContext(c)
	allowed, reason := g.access.CheckPermission(uc, resource, action, uc.IsContractor)
	if !allowed {
		metrics.AccessDenied.Inc()
		g.audit.LogEvent(security.EventAccessDenied, map[string]any{
			"user_id":        uc.UserID,
			"role":           string(uc.Role),
			"resource":       resource.Type + "/" + resource.Name,
			"action":         string(action),
			"reason":         reason,
			"correlation_id": security.GetCorrelationID(c),
		})
		security.RenderError(c, models.ErrAccessDenied(reason))
		return false
	}
	return true
}

// ConsumeQuota charges the caller's daily allowance and renders the denial
// when the tier cap is exhausted.
func (g *Guard) ConsumeQuota(c *gin.Context, amount int64) bool {
	uc := security.GetUserContext(c)
	allowed, err := g.quota.Consume(c.Request.Context(), uc.UserID, uc.Tier, amount)
	if err != nil || allowed {
		return true
	}
	g.audit.LogEvent(security.EventQuotaDenied, map[string]any{
		"user_id":        uc.UserID,
		"tier":           string(uc.Tier),
		"correlation_id": security.GetCorrelationID(c),
	})
	security.RenderError(c, models.ErrQuotaExceeded("daily quota exhausted for tier "+string(uc.Tier)))
	return false
}
