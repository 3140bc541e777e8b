package tools

import "context"

type contextKey string

const conversationIDKey contextKey = "conversation_id"

// WithConversationID returns a context carrying the conversation id,
// so tool handlers can tag side effects and logs.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationIDKey, id)
}

// ConversationIDFromContext extracts the conversation id, or "".
func ConversationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(conversationIDKey).(string)
	return id
}
