package core

import "context"

type contextKey string

const ctxKeyActor contextKey = "import_actor"

// Actor identifies who started an operation, for the run ledger and logs.
type Actor struct {
	IPAddress string
	UserAgent string
}

// Label is the triggered_by value recorded for the actor.
func (a Actor) Label() string {
	if a.IPAddress == "" {
		return "operator"
	}
	return "operator@" + a.IPAddress
}

// ContextWithActor attaches the request actor to ctx.
func ContextWithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKeyActor, a)
}

// ActorFromContext returns the actor attached to ctx, if any.
func ActorFromContext(ctx context.Context) Actor {
	if a, ok := ctx.Value(ctxKeyActor).(Actor); ok {
		return a
	}
	return Actor{}
}
