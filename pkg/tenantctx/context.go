package tenantctx

import "context"

type keyType string

const (
	ShopIDKey keyType = "shop_id"
)

// WithShopID stores the tenant shop identifier on the context.
func WithShopID(ctx context.Context, shopID string) context.Context {
	return context.WithValue(ctx, ShopIDKey, shopID)
}

// ShopID returns the tenant shop identifier from the context.
func ShopID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ShopIDKey).(string)
	return id, ok
}
