// Package middleware provides HTTP middleware components for the Rootline API.
package middleware

import (
	"context"
	"time"
)

// sourceContextKey is the context key for authenticated alert-source
// information. A struct type prevents collisions with other context keys.
type sourceContextKey struct{}

// SourceContext carries the identity of the authenticated alert source (a
// monitoring system or forwarder pushing alerts into the engine). It is
// attached to the request context by the authentication middleware after
// successful API key validation.
type SourceContext struct {
	// SourceID is the stable identifier of the alert source
	// (e.g. "prometheus-prod").
	SourceID string

	// Name is the human-readable source name for logging and display.
	Name string

	// Permissions are the authorization scopes granted to this source.
	Permissions []string

	// KeyID is the API key ID used for authentication, kept for audit logging.
	KeyID string

	// AuthTime is when authentication occurred, for latency tracking.
	AuthTime time.Time
}

// GetSourceContext extracts the source context from the request context.
// Returns (context, true) when the request was authenticated, (zero, false)
// otherwise.
func GetSourceContext(ctx context.Context) (SourceContext, bool) {
	sourceCtx, ok := ctx.Value(sourceContextKey{}).(SourceContext)

	return sourceCtx, ok
}

// SetSourceContext returns a new context with the source context attached.
// Used by the authentication middleware after successful key validation.
func SetSourceContext(ctx context.Context, sourceCtx SourceContext) context.Context {
	return context.WithValue(ctx, sourceContextKey{}, sourceCtx)
}
