package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/tools/duckduckgo"

	"github.com/rahul/taskmesh/internal/plan"
)

// Searcher answers a free-text web query with a plain-text result list.
type Searcher interface {
	Call(ctx context.Context, query string) (string, error)
}

// NewDuckDuckGoSearcher returns a Searcher backed by DuckDuckGo.
func NewDuckDuckGoSearcher(maxResults int) (Searcher, error) {
	ddg, err := duckduckgo.New(maxResults, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, err
	}
	return ddg, nil
}

// search handles a web.fetch action that carries a query instead of a URL.
func (w *WebExecutor) search(ctx context.Context, action *plan.Action) (any, error) {
	if w.Search == nil {
		return nil, Invalidf(action, "web search is not configured")
	}
	query := strings.TrimSpace(action.Param("query"))
	res, err := w.Search.Call(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return fmt.Sprintf("RESULTS FOR: %s\n\n%s", query, truncate(strings.TrimSpace(res), w.MaxChars)), nil
}
