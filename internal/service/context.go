package service

import "context"

type userIDKey struct{}

// ContextWithUser сохраняет ID пользователя для меток и логов AI запросов.
func ContextWithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserFromContext возвращает ID пользователя или "system".
func UserFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey{}).(string); ok && v != "" {
		return v
	}
	return "system"
}
