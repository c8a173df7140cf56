package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/calderhq/navigator/internal/lookup"
)

// NewLookupTool queries the campus records service on behalf of the current
// user. The user identity comes from the scope, never from the agent input.
func NewLookupTool(client *lookup.Client) *Tool {
	return &Tool{
		Name:        "lookup",
		Description: "Look up the user's own records (enrollment, deadlines, balances). Input: what to look up.",
		Execute: func(ctx context.Context, input string) (string, error) {
			scope, ok := ScopeFrom(ctx)
			if !ok {
				return "", fmt.Errorf("no request scope")
			}
			query := strings.TrimSpace(input)
			if query == "" {
				return "", fmt.Errorf("empty lookup query")
			}
			result, found, err := client.Lookup(ctx, scope.UserID, query)
			if err != nil {
				return "", err
			}
			if !found {
				return "No record found for that query.", nil
			}
			return result, nil
		},
	}
}
