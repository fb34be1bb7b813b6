package logging

import (
	"context"
)

// Context keys for request scoped log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// CallerKey is the context key for the verified caller identity.
	CallerKey contextKey = "caller"

	// TierKey is the context key for the requested tier.
	TierKey contextKey = "tier"

	// CredentialKey is the context key for the selected credential ID.
	CredentialKey contextKey = "credential"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// WithCaller adds the caller identity to the context.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, CallerKey, caller)
}

// GetCaller retrieves the caller identity from the context.
func GetCaller(ctx context.Context) string {
	return getString(ctx, CallerKey)
}

// WithTier adds the requested tier to the context.
func WithTier(ctx context.Context, tier string) context.Context {
	return context.WithValue(ctx, TierKey, tier)
}

// GetTier retrieves the requested tier from the context.
func GetTier(ctx context.Context) string {
	return getString(ctx, TierKey)
}

// WithCredential adds the selected credential ID to the context.
func WithCredential(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CredentialKey, id)
}

// GetCredential retrieves the selected credential ID from the context.
func GetCredential(ctx context.Context) string {
	return getString(ctx, CredentialKey)
}

func getString(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// extractContextFields returns the request fields in ctx as key-value pairs.
func extractContextFields(ctx context.Context) []any {
	var fields []any
	for _, key := range []contextKey{RequestIDKey, CallerKey, TierKey, CredentialKey} {
		if v := getString(ctx, key); v != "" {
			fields = append(fields, string(key), v)
		}
	}
	return fields
}
