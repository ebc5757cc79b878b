// Package contextkeys holds the request-scoped context keys shared by the
// HTTP layer and the packages it calls into. It imports nothing from the
// rest of the module so any package can depend on it.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey carries the *auth.AuthContext resolved from a bearer token.
	// Written by middleware.AuthMiddleware, read through auth.FromContext.
	AuthKey Key = "auth_context"

	// RequestIDKey carries the request id string written by httputil.RequestIDMiddleware
	RequestIDKey Key = "request_id"

	// LoggerKey carries the per-request *logrus.Entry written by
	// httputil.LoggingMiddleware and enriched with user fields after authentication
	LoggerKey Key = "logger"
)

// WithAuth stores the caller's identity. The value is untyped so this
// package stays free of auth imports.
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithRequestID stores the request id
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger stores the request logger
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID returns the request id, or "" outside a request
func GetRequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(RequestIDKey).(string)
	return requestID
}
