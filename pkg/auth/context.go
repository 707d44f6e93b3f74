package auth

import (
	"context"

	"github.com/chainsafe/liquid-stake/pkg/ledger"
)

// Context keys for authentication data
type contextKey string

// ContextKeyCaller is the context key for the authenticated caller
const ContextKeyCaller contextKey = "caller"

// WithCaller adds the caller to the context
func WithCaller(ctx context.Context, c ledger.Caller) context.Context {
	return context.WithValue(ctx, ContextKeyCaller, c)
}

// CallerFromContext retrieves the caller from the context
func CallerFromContext(ctx context.Context) (ledger.Caller, bool) {
	c, ok := ctx.Value(ContextKeyCaller).(ledger.Caller)
	return c, ok
}
