package adminauth

import "context"

type contextKey string

const adminContextKey contextKey = "admin_id"

func WithAdminID(ctx context.Context, adminID int64) context.Context {
	return context.WithValue(ctx, adminContextKey, adminID)
}

func AdminIDFromContext(ctx context.Context) (int64, bool) {
	adminID, ok := ctx.Value(adminContextKey).(int64)
	return adminID, ok && adminID > 0
}
