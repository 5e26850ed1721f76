package security

import (
	"fmt"
	"time"

	"github.com/vortexdb/vortex-gateway/models"
)

// Resource identifies what a caller is acting on.
type Resource struct {
	Type     string `json:"type"`
	Name     string `json:"name,omitempty"`
	Team     string `json:"team,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
}

var rolePermissions = map[models.Role]map[Action]bool{
	models.RoleAdmin: {
		ActionRead: true, ActionWrite: true, ActionDelete: true, ActionSearch: true, ActionAdmin: true,
	},
	models.RoleEngineer: {
		ActionRead: true, ActionWrite: true, ActionDelete: true, ActionSearch: true,
	},
	models.RoleAnalyst: {
		ActionRead: true, ActionSearch: true,
	},
	models.RoleViewer: {
		ActionRead: true,
	},
	models.RoleService: {
		ActionRead: true, ActionWrite: true,
	},
	models.RoleGuest: {
		ActionRead: true, ActionSearch: true,
	},
}

// Contractor working hours, local time.
const (
	businessHoursStart = 9
	businessHoursEnd   = 18
)

// AccessControl evaluates the RBAC table and the ABAC overlays.
type AccessControl struct {
	audit *AuditLogger
	now   func() time.Time
}

// NewAccessControl creates the evaluator. The audit logger records
// break-the-glass grants; it may be nil in tests.
func NewAccessControl(audit *AuditLogger) *AccessControl {
	return &AccessControl{
		audit: audit,
		now:   time.Now,
	}
}

// CheckPermission evaluates RBAC first, then the ABAC overlays. The returned
// reason is human-readable and ends up in audit entries.
func (a *AccessControl) CheckPermission(userCtx *UserContext, resource Resource, action Action, isContractor bool) (bool, string) {
	if userCtx == nil {
		return false, "no user context"
	}

	perms, known := rolePermissions[userCtx.Role]
	if !known {
		return false, fmt.Sprintf("unknown role %q", userCtx.Role)
	}
	if !perms[action] {
		if userCtx.EmergencyAccess {
			return a.breakTheGlass(userCtx, resource, action)
		}
		return false, fmt.Sprintf("role %q may not %s", userCtx.Role, action)
	}

	// Team isolation: non-admin users bound to a team may only touch that
	// team's resources or public ones.
	if !userCtx.IsAdmin() && userCtx.Team != "" {
		if resource.Team != "" && resource.Team != userCtx.Team && resource.Team != models.PublicTenant {
			if userCtx.EmergencyAccess {
				return a.breakTheGlass(userCtx, resource, action)
			}
			return false, fmt.Sprintf("team isolation: %q may not access %q resources", userCtx.Team, resource.Team)
		}
	}

	// Contractors work business hours only.
	if isContractor {
		hour := a.now().Hour()
		if hour < businessHoursStart || hour >= businessHoursEnd {
			if userCtx.EmergencyAccess {
				return a.breakTheGlass(userCtx, resource, action)
			}
			return false, "contractor access outside business hours"
		}
	}

	return true, "granted"
}

// breakTheGlass grants emergency access and records it on the critical chain.
func (a *AccessControl) breakTheGlass(userCtx *UserContext, resource Resource, action Action) (bool, string) {
	if a.audit != nil {
		a.audit.LogEvent(EventEmergencyAccess, map[string]any{
			"user_id":  userCtx.UserID,
			"role":     string(userCtx.Role),
			"resource": resource.Type + "/" + resource.Name,
			"action":   string(action),
			"severity": "warn",
		})
	}
	return true, "emergency access granted"
}
