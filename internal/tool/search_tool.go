package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/calderhq/navigator/internal/retrieval"
)

const searchExcerptLimit = 400

// NewSearchTool exposes knowledge-base retrieval to the agent. The audience
// and language constraints come from the request scope, so the agent cannot
// search outside what the caller may read.
func NewSearchTool(engine *retrieval.Engine) *Tool {
	return &Tool{
		Name:        "search",
		Description: "Search the knowledge base. Input: a plain-text query. Returns numbered passages.",
		Execute: func(ctx context.Context, input string) (string, error) {
			scope, ok := ScopeFrom(ctx)
			if !ok {
				return "", fmt.Errorf("no request scope")
			}
			query := strings.TrimSpace(input)
			if query == "" {
				return "", fmt.Errorf("empty search query")
			}
			results, err := engine.Search(ctx, &retrieval.Query{
				Text:             query,
				AllowedAudiences: scope.AllowedAudiences,
				Language:         scope.Language,
			})
			if err != nil {
				return "", err
			}
			scope.Retrieved = results
			if len(results) == 0 {
				return "No passages found for that query.", nil
			}
			var sb strings.Builder
			for i, res := range results {
				excerpt := res.Content
				if len(excerpt) > searchExcerptLimit {
					excerpt = excerpt[:searchExcerptLimit] + "..."
				}
				fmt.Fprintf(&sb, "[%d] (%s) %s\n", i+1, res.SourceKey, excerpt)
			}
			return sb.String(), nil
		},
	}
}
