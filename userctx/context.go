package userctx

import "context"

// Context key type
type contextKey string

const actorKey contextKey = "actor"

// Anonymous is the actor name recorded when no identity was supplied
const Anonymous = "anonymous"

// Actor is the authenticated identity a request acts as
type Actor struct {
	Name   string
	Groups []string
	// UI is set for browser sessions; it changes pagination defaults
	UI bool
}

// InGroup reports whether the actor belongs to any of the groups
func (a Actor) InGroup(groups ...string) bool {
	for _, want := range groups {
		for _, have := range a.Groups {
			if want == have {
				return true
			}
		}
	}
	return false
}

// SetActor adds the actor to the request context
func SetActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the actor from the request context
func GetActor(ctx context.Context) Actor {
	actor, ok := ctx.Value(actorKey).(Actor)
	if !ok || actor.Name == "" {
		return Actor{Name: Anonymous}
	}
	return actor
}

// IsAuthenticated reports whether a real identity is attached to the context
func IsAuthenticated(ctx context.Context) bool {
	return GetActor(ctx).Name != Anonymous
}
