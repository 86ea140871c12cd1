package ctxkeys

import "context"

type contextKey string

const (
	workspaceIDKey contextKey = "workspace_id"
	userIDKey      contextKey = "user_id"
)

func WithIdentity(ctx context.Context, workspaceID, userID string) context.Context {
	ctx = context.WithValue(ctx, workspaceIDKey, workspaceID)
	return context.WithValue(ctx, userIDKey, userID)
}

// WorkspaceID returns the verified workspace id set by the identity
// middleware, or "" when absent.
func WorkspaceID(ctx context.Context) string {
	id, _ := ctx.Value(workspaceIDKey).(string)
	return id
}

// UserID returns the verified user id set by the identity middleware.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
