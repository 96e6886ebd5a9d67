package store

import "context"

type contextKey string

const (
	// SessionIDKey is the context key for the coordinator session id.
	// Conversation state is scoped to it; see Scoped.
	SessionIDKey contextKey = "switchboard_session_id"
	// UserIDKey is the context key for the external user ID (free-form,
	// channel-specific).
	UserIDKey contextKey = "switchboard_user_id"
)

// WithSessionID returns a new context carrying the coordinator session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}

// SessionIDFromContext extracts the session id from context. Returns "" if not set.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(SessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a new context with the given user ID.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, UserIDKey, id)
}

// UserIDFromContext extracts the user ID from context. Returns "" if not set.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}
