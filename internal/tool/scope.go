package tool

import (
	"context"

	"github.com/calderhq/navigator/internal/retrieval"
)

type scopeKey struct{}

// Scope is the per-request authority a tool runs under. Tools never widen
// it: retrieval filters, user identity and language all come from here, not
// from model output.
type Scope struct {
	ConversationID   string
	UserID           string
	Role             string
	AllowedAudiences []string
	Language         string

	// Written by tools, read by the orchestrator after the loop ends.
	Retrieved          []retrieval.Result
	EscalateRequested  bool
	EscalateUserReason string
}

func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

func ScopeFrom(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok
}
