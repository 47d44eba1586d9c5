package middleware

import "context"

type buyerIDKey struct{}

// BuyerIDFromContext returns the authenticated buyer, or "" outside Auth.
func BuyerIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(buyerIDKey{}).(string)
	return id
}

// WithBuyerID injects the buyer identifier into the context.
func WithBuyerID(ctx context.Context, buyerID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, buyerIDKey{}, buyerID)
}
