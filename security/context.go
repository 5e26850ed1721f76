package security

import (
	"github.com/vortexdb/vortex-gateway/models"
)

// Action is one RBAC verb.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionSearch Action = "search"
	ActionAdmin  Action = "admin"
)

// UserContext is the authenticated identity attached to every request.
type UserContext struct {
	UserID          string           `json:"user_id"`
	Role            models.Role      `json:"role"`
	Team            string           `json:"team,omitempty"`
	TenantID        string           `json:"tenant_id"`
	Tier            models.QuotaTier `json:"tier,omitempty"`
	IsContractor    bool             `json:"is_contractor,omitempty"`
	EmergencyAccess bool             `json:"emergency_access,omitempty"`
	CorrelationID   string           `json:"correlation_id,omitempty"`
}

// GuestContext is the identity of unauthenticated callers.
func GuestContext() *UserContext {
	return &UserContext{
		UserID:   "guest",
		Role:     models.RoleGuest,
		TenantID: models.PublicTenant,
		Tier:     models.TierFree,
	}
}

// ServiceContext is the identity of internal callers using the API key path.
func ServiceContext() *UserContext {
	return &UserContext{
		UserID:   "service",
		Role:     models.RoleService,
		TenantID: models.PublicTenant,
		Tier:     models.TierEnterprise,
	}
}

// IsAdmin reports whether the context holds the admin role.
func (u *UserContext) IsAdmin() bool {
	return u != nil && u.Role == models.RoleAdmin
}

// UnlimitedAccessLevel marks roles without an access-level ceiling.
const UnlimitedAccessLevel = 1 << 30

var roleAccessCeilings = map[models.Role]int{
	models.RoleAdmin:    UnlimitedAccessLevel,
	models.RoleEngineer: 5,
	models.RoleAnalyst:  4,
	models.RoleService:  3,
	models.RoleViewer:   2,
	models.RoleGuest:    1,
}

// MaxAccessLevel returns the highest payload access_level the role may see.
func MaxAccessLevel(role models.Role) int {
	if ceil, ok := roleAccessCeilings[role]; ok {
		return ceil
	}
	return 1
}
