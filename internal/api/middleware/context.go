package middleware

import (
	"context"
	"net/http"
	"slices"
)

type contextKey string

const (
	ownerIDKey      contextKey = "owner_id"
	apiKeyScopesKey contextKey = "api_key_scopes"
	ownerCaptureKey contextKey = "owner_capture"
)

// ScopeAdmin lets a key act on reports of every owner.
const ScopeAdmin = "admin"

// ownerCapture lets Logger, which sits outside Auth, learn the owner.
type ownerCapture struct {
	id string
}

func withOwnerCapture(ctx context.Context, c *ownerCapture) context.Context {
	return context.WithValue(ctx, ownerCaptureKey, c)
}

func SetOwnerID(ctx context.Context, id string) context.Context {
	if c, ok := ctx.Value(ownerCaptureKey).(*ownerCapture); ok {
		c.id = id
	}
	return context.WithValue(ctx, ownerIDKey, id)
}

func GetOwnerID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(ownerIDKey).(string)
	return id, ok && id != ""
}

// SetScopes stores the authenticated key's scopes on ctx.
func SetScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, apiKeyScopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(apiKeyScopesKey).([]string)
	return scopes
}

// HasScope reports whether the authenticated key carries scope.
func HasScope(r *http.Request, scope string) bool {
	return slices.Contains(getScopes(r), scope)
}
