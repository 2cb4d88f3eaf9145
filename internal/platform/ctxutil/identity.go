package ctxutil

import "context"

type identityKey struct{}

// Identity is the caller scope authenticated upstream of this service.
type Identity struct {
	AppID  string
	UserID string
}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func GetIdentity(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if id, ok := val.(*Identity); ok {
		return id
	}
	return nil
}
