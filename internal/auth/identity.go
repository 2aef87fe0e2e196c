package auth

import "context"

// Identity is the verified identity attached to a request. The zero value is
// the anonymous identity.
type Identity struct {
	UserID   uint64
	Username string
}

// Anonymous is the identity of a request whose credential was absent or
// failed verification.
var Anonymous = Identity{}

// IsAnonymous reports whether the identity carries no verified user.
func (id Identity) IsAnonymous() bool {
	return id.UserID == 0
}

type contextKey string

const identityContextKey contextKey = "identity"

// WithIdentity returns a context carrying the given identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFrom retrieves the identity from the context. Requests that never
// passed through the resolver middleware report anonymous.
func IdentityFrom(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityContextKey).(Identity); ok {
		return id
	}
	return Anonymous
}
