package server

import (
	"strings"

	"github.com/gin-gonic/gin"

	obscontext "github.com/brandseal/brandseal/internal/observability/context"
	"github.com/brandseal/brandseal/pkg/tenantctx"
)

const shopIDHeader = "X-Shop-Id"

// ShopContextMiddleware propagates the tenant shop id from the request header
// into the context used by services and log correlation. Endpoints that
// require a shop id validate it themselves.
func ShopContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		shopID := strings.TrimSpace(c.GetHeader(shopIDHeader))
		if shopID != "" {
			ctx := tenantctx.WithShopID(c.Request.Context(), shopID)
			ctx = obscontext.WithShopID(ctx, shopID)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

// shopIDFrom resolves the tenant for a request: header first, then the
// request body's own shop id for callback payloads.
func shopIDFrom(c *gin.Context, bodyShopID string) string {
	if id, ok := tenantctx.ShopID(c.Request.Context()); ok && id != "" {
		return id
	}
	return strings.TrimSpace(bodyShopID)
}
