package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const (
	projectIDKey contextKey = "projectID"
	actorKey     contextKey = "actor"
)

// ContextWithProjectID returns a new context that carries the authenticated project scope.
func ContextWithProjectID(ctx context.Context, id uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, projectIDKey, id)
}

// ProjectIDFromContext retrieves the authenticated project scope from the context, if any.
func ProjectIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	value := ctx.Value(projectIDKey)
	if value == nil {
		return uuid.Nil, false
	}
	id, ok := value.(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// EnforceProjectScope ensures the provided project matches the authenticated scope when present.
func EnforceProjectScope(ctx context.Context, projectID uuid.UUID) error {
	if projectID == uuid.Nil {
		return fmt.Errorf("projectId is required")
	}
	scopedID, ok := ProjectIDFromContext(ctx)
	if !ok {
		return nil
	}
	if scopedID != projectID {
		return fmt.Errorf("projectId %s does not match authenticated scope", projectID)
	}
	return nil
}

// ContextWithActor returns a new context that carries the acting operator's name.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext retrieves the acting operator's name, or empty when unset.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	actor, _ := ctx.Value(actorKey).(string)
	return actor
}

// Middleware lifts the caller identity headers into the request context so
// services can record who created an override or resolved a notification.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if actor := strings.TrimSpace(r.Header.Get("X-Actor")); actor != "" {
			ctx = ContextWithActor(ctx, actor)
		}
		if raw := strings.TrimSpace(r.Header.Get("X-Project-ID")); raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				ctx = ContextWithProjectID(ctx, id)
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
