package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vortexdb/vortex-gateway/auth"
	"github.com/vortexdb/vortex-gateway/models"
	"github.com/vortexdb/vortex-gateway/security"
	"github.com/vortexdb/vortex-gateway/services"
)

type AuthHandlers struct {
	userService services.UserService
	validator   *auth.JWTValidator
	audit       *security.AuditLogger
}

func NewAuthHandlers(userService services.UserService, validator *auth.JWTValidator, audit *security.AuditLogger) *AuthHandlers {
	return &AuthHandlers{
		userService: userService,
		validator:   validator,
		audit:       audit,
	}
}

// Login verifies credentials and issues a bearer token. Both success and
// failure land on the critical audit chain.
func (h *AuthHandlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		security.RenderError(c, models.ErrInvalidRequest("username and password are required"))
		return
	}

	user, err := h.userService.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.audit.LogEvent(security.EventLoginFailed, map[string]any{
			"username":       req.Username,
			"correlation_id": security.GetCorrelationID(c),
		})
		security.RenderError(c, err)
		return
	}

	token, err := h.validator.GenerateToken(user)
	if err != nil {
		security.RenderError(c, err)
		return
	}

	h.audit.LogEvent(security.EventLoginSuccess, map[string]any{
		"username":       user.Username,
		"role":           string(user.Role),
		"correlation_id": security.GetCorrelationID(c),
	})
	c.JSON(http.StatusOK, models.LoginResponse{
		AccessToken: token,
		TokenType:   "bearer",
	})
}
