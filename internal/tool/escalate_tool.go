package tool

import (
	"context"
	"fmt"
	"strings"
)

// NewEscalateTool lets the agent flag the conversation for human handoff.
// It only records the request in the scope; the actual escalation decision
// and ticket creation happen after the turn is persisted.
func NewEscalateTool() *Tool {
	return &Tool{
		Name:        "escalate",
		Description: "Request a human support agent for this conversation. Input: a short reason.",
		Execute: func(ctx context.Context, input string) (string, error) {
			scope, ok := ScopeFrom(ctx)
			if !ok {
				return "", fmt.Errorf("no request scope")
			}
			scope.EscalateRequested = true
			scope.EscalateUserReason = strings.TrimSpace(input)
			return "A human support agent will be looped into this conversation.", nil
		},
	}
}
