package security

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vortexdb/vortex-gateway/auth"
	"github.com/vortexdb/vortex-gateway/logging"
	"github.com/vortexdb/vortex-gateway/metrics"
	"github.com/vortexdb/vortex-gateway/models"
)

// Gin context keys set by the middleware chain.
const (
	ContextKeyUser          = "user_context"
	ContextKeyCorrelationID = "correlation_id"
)

// Public endpoints bypass auth and rate limits.
var publicPaths = map[string]bool{
	"/health":     true,
	"/metrics":    true,
	"/auth/login": true,
}

// Middleware wires the per-request security chain:
// correlation id, auth, rate limit, injection scan, audit.
type Middleware struct {
	validator *auth.JWTValidator
	limiter   *RateLimiter
	detector  *InjectionDetector
	audit     *AuditLogger

	apiKey      string
	maxRequests int
	window      time.Duration
}

func NewMiddleware(
	validator *auth.JWTValidator,
	limiter *RateLimiter,
	detector *InjectionDetector,
	audit *AuditLogger,
	apiKey string,
	maxRequests int,
	windowSeconds int,
) *Middleware {
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	return &Middleware{
		validator:   validator,
		limiter:     limiter,
		detector:    detector,
		audit:       audit,
		apiKey:      apiKey,
		maxRequests: maxRequests,
		window:      time.Duration(windowSeconds) * time.Second,
	}
}

// GetUserContext returns the authenticated identity attached to the request.
func GetUserContext(c *gin.Context) *UserContext {
	if v, exists := c.Get(ContextKeyUser); exists {
		if uc, ok := v.(*UserContext); ok {
			return uc
		}
	}
	return GuestContext()
}

// GetCorrelationID returns the request's correlation id.
func GetCorrelationID(c *gin.Context) string {
	if v, exists := c.Get(ContextKeyCorrelationID); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// RenderError writes the structured error envelope and aborts the request.
func RenderError(c *gin.Context, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		err = models.ErrUpstreamUnavailable("request deadline exceeded")
	}
	if appErr, ok := models.AsAppError(err); ok {
		c.AbortWithStatusJSON(appErr.Status, gin.H{
			"status": "error",
			"code":   appErr.Code,
			"detail": appErr.Detail,
		})
		return
	}

	internal := models.ErrInternal(GetCorrelationID(c))
	logging.WithCorrelationID(GetCorrelationID(c)).Error().Err(err).Str("path", c.Request.URL.Path).Msg("unhandled error")
	c.AbortWithStatusJSON(internal.Status, gin.H{
		"status": "error",
		"code":   internal.Code,
		"detail": internal.Detail,
	})
}

// CorrelationID assigns a request id, honoring one supplied by the caller.
func (m *Middleware) CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Correlation-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ContextKeyCorrelationID, id)
		c.Header("X-Correlation-ID", id)
		c.Next()
	}
}

// Deadline bounds each request; the remaining time reaches every downstream
// call through the request context. Zero disables the bound.
func (m *Middleware) Deadline(seconds int) gin.HandlerFunc {
	timeout := time.Duration(seconds) * time.Second
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Authenticate resolves the caller identity: bearer JWT, service API key,
// or guest. Public paths pass through untouched.
func (m *Middleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if publicPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		correlationID := GetCorrelationID(c)

		if apiKey := c.GetHeader("x-api-key"); apiKey != "" {
			if m.apiKey == "" || apiKey != m.apiKey {
				m.audit.LogEvent(EventServiceAuthFailure, map[string]any{
					"path":           c.Request.URL.Path,
					"correlation_id": correlationID,
				})
				RenderError(c, models.ErrUnauthorized("invalid API key"))
				return
			}
			uc := ServiceContext()
			uc.CorrelationID = correlationID
			c.Set(ContextKeyUser, uc)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			uc := GuestContext()
			uc.CorrelationID = correlationID
			c.Set(ContextKeyUser, uc)
			c.Next()
			return
		}

		claims, err := m.validator.ValidateToken(authHeader)
		if err != nil {
			RenderError(c, models.ErrUnauthorized("invalid or expired token"))
			return
		}

		uc := &UserContext{
			UserID:        claims.UserID,
			Role:          models.Role(claims.Role),
			Team:          claims.Team,
			TenantID:      claims.TenantID,
			Tier:          models.QuotaTier(claims.Tier),
			IsContractor:  claims.IsContractor,
			CorrelationID: correlationID,
		}
		if uc.TenantID == "" {
			uc.TenantID = uc.UserID
		}
		if uc.Tier == "" {
			uc.Tier = models.TierFree
		}
		if flag, _ := strconv.ParseBool(c.GetHeader("X-Emergency-Access")); flag {
			uc.EmergencyAccess = true
		}

		c.Set(ContextKeyUser, uc)
		c.Next()
	}
}

// RateLimit applies the sliding window per principal and route.
func (m *Middleware) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if publicPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		uc := GetUserContext(c)
		key := uc.UserID + ":" + c.FullPath()

		if !m.limiter.IsAllowed(c.Request.Context(), key, m.maxRequests, m.window) {
			RenderError(c, models.ErrRateLimited())
			return
		}
		c.Next()
	}
}

// queryBody is the shape sniffed out of query-bearing request bodies.
type queryBody struct {
	QueryText string `json:"query_text"`
	Query     string `json:"query"`
}

// InjectionScan rejects requests whose query text matches a known injection
// pattern. The body is restored for downstream binding.
func (m *Middleware) InjectionScan() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost && c.Request.Method != http.MethodPatch {
			c.Next()
			return
		}
		if c.Request.Body == nil || publicPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			RenderError(c, models.ErrInvalidRequest("failed to read request body"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		var qb queryBody
		if err := json.Unmarshal(body, &qb); err != nil {
			// Not a JSON object (multipart uploads etc); nothing to scan.
			c.Next()
			return
		}

		for _, text := range []string{qb.QueryText, qb.Query} {
			if text == "" {
				continue
			}
			if pattern := m.detector.Scan(text); pattern != "" {
				uc := GetUserContext(c)
				m.audit.LogEvent(EventInjectionDetected, map[string]any{
					"user_id":        uc.UserID,
					"pattern":        pattern,
					"path":           c.Request.URL.Path,
					"correlation_id": GetCorrelationID(c),
				})
				RenderError(c, models.ErrAnomalyDetected("query rejected by injection screen: "+pattern))
				return
			}
		}

		c.Next()
	}
}

// Audit enqueues one hot-chain event per completed request and records the
// HTTP metrics.
func (m *Middleware) Audit() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())

		if publicPaths[c.Request.URL.Path] {
			return
		}

		uc := GetUserContext(c)
		m.audit.LogEvent(EventAPIRequest, map[string]any{
			"route":          route,
			"method":         c.Request.Method,
			"status":         status,
			"user_id":        uc.UserID,
			"correlation_id": GetCorrelationID(c),
			"duration_ms":    time.Since(start).Milliseconds(),
		})
	}
}

// Recovery converts panics into the structured internal error envelope.
func (m *Middleware) Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.WithCorrelationID(GetCorrelationID(c)).Error().
			Interface("panic", recovered).
			Str("path", c.Request.URL.Path).
			Msg("request panicked")
		internal := models.ErrInternal(GetCorrelationID(c))
		c.AbortWithStatusJSON(internal.Status, gin.H{
			"status": "error",
			"code":   internal.Code,
			"detail": internal.Detail,
		})
	})
}
