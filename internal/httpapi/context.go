package httpapi

import (
	"context"

	"accessdesk.org/internal/directory"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	tokenKey     contextKey = "api_token"
)

func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

func ContextWithToken(ctx context.Context, tok directory.Token) context.Context {
	return context.WithValue(ctx, tokenKey, tok)
}

// TokenFromContext returns the authenticated token, if any.
func TokenFromContext(ctx context.Context) (directory.Token, bool) {
	tok, ok := ctx.Value(tokenKey).(directory.Token)
	return tok, ok
}
