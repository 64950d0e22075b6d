package server

import (
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	"github.com/smallbiznis/storefront/internal/usercontext"
	"go.uber.org/zap"
)

// ServeNotificationHub upgrades the request to a websocket bound to the
// authenticated caller.
func (s *Server) ServeNotificationHub(c *gin.Context) {
	principal, ok := usercontext.FromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.hub.Serve(c.Writer, c.Request, principal); err != nil {
		// The upgrader has already written the handshake failure.
		logger.FromContext(c.Request.Context()).Debug("hub upgrade failed", zap.Error(err))
		c.Abort()
	}
}
