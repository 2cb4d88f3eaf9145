package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nndrao/stern-sub001/internal/platform/ctxutil"
)

const (
	headerAppID  = "X-App-Id"
	headerUserID = "X-User-Id"
)

// AttachIdentity reads the caller scope headers into the request context.
// Authentication happens upstream of this service; the headers are trusted.
func AttachIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		appID := strings.TrimSpace(c.GetHeader(headerAppID))
		userID := strings.TrimSpace(c.GetHeader(headerUserID))
		if appID != "" || userID != "" {
			ctx := ctxutil.WithIdentity(c.Request.Context(), &ctxutil.Identity{
				AppID:  appID,
				UserID: userID,
			})
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}
