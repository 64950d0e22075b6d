package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	"github.com/smallbiznis/storefront/internal/ratelimit"
	"github.com/smallbiznis/storefront/internal/usercontext"
	"go.uber.org/zap"
)

const (
	contextUserIDKey  = "user_id"
	accessTokenQuery  = "access_token"
	headerIdempotency = "Idempotency-Key"
)

// AuthRequired verifies the bearer access token and stores the principal
// on the request context.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		s.authenticate(c, token)
	}
}

// HubAuthRequired also accepts the token as a query parameter since
// browsers cannot set headers on a websocket upgrade.
func (s *Server) HubAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = strings.TrimSpace(c.Query(accessTokenQuery))
		}
		if token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		s.authenticate(c, token)
	}
}

func (s *Server) authenticate(c *gin.Context, token string) {
	principal, err := s.authsvc.Authenticate(c.Request.Context(), token)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := usercontext.WithPrincipal(c.Request.Context(), principal)
	ctx = obscontext.WithUserID(ctx, principal.UserID.String())
	c.Request = c.Request.WithContext(ctx)
	c.Set(contextUserIDKey, principal.UserID.String())
	c.Next()
}

// RequirePermission checks the caller's role against the casbin policy.
func (s *Server) RequirePermission(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authzSvc.Authorize(c.Request.Context(), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// RateLimit applies policy per authenticated user, falling back to the
// client IP for anonymous routes.
func (s *Server) RateLimit(policy ratelimit.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || !s.cfg.RateLimit.Enabled {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		subject := c.ClientIP()
		if userID, ok := usercontext.UserIDFromContext(ctx); ok {
			subject = userID.String()
		}
		endpoint := normalizeRateLimitEndpoint(c)

		result, err := s.limiter.Allow(ctx, policy, subject)
		if err != nil {
			logger.FromContext(ctx).Warn("rate limit check failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			logger.FromContext(ctx).Warn("rate limit exceeded",
				zap.String("policy", string(policy)),
				zap.String("endpoint", endpoint),
			)
			s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, string(policy))
			retry := int(result.RetryAfter.Seconds())
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			AbortWithError(c, ErrRateLimited)
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
