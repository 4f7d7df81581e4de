package context

import "context"

type ContextKey string

var (
	ActorIDKey = ContextKey("X-Actor-Id")
	RunIDKey   = ContextKey("X-Run-Id")
)

// SetActor attributes every mutation made with ctx to actorID. An empty id means a system mutation.
func SetActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, ActorIDKey, actorID)
}

// GetActor returns the acting principal, or nil for system mutations.
func GetActor(ctx context.Context) *string {
	value, ok := ctx.Value(ActorIDKey).(string)
	if !ok || value == "" {
		return nil
	}
	return &value
}

func SetRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

func GetRunID(ctx context.Context) string {
	value, ok := ctx.Value(RunIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
