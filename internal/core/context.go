package core

import "context"

type contextKey string

const ctxKeyIdentity contextKey = "identity"

// ContextWithIdentity stores the authenticated identity supplied by the
// external auth layer. Transport middleware calls this once per request.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

// IdentityFromContext extracts the identity from context. The zero Identity
// carries no roles and owns nothing, so an absent identity can only read.
func IdentityFromContext(ctx context.Context) Identity {
	if v, ok := ctx.Value(ctxKeyIdentity).(Identity); ok {
		return v
	}
	return Identity{}
}
