package tools

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"

	"github.com/rahul/taskmesh/internal/plan"
)

// WebExecutor handles web.fetch: it downloads a page and extracts the main
// content as clean, sanitized text. Actions with a query and no url are
// answered by Search.
type WebExecutor struct {
	Client    *http.Client
	Search    Searcher
	UserAgent string
	MaxChars  int
	// MaxBody caps how many bytes of a page are read.
	MaxBody int64
}

func NewWebExecutor() *WebExecutor {
	return &WebExecutor{
		Client:    &http.Client{Timeout: 30 * time.Second},
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		MaxChars:  4000,
		MaxBody:   5 << 20,
	}
}

func (w *WebExecutor) Execute(ctx context.Context, action *plan.Action, p *plan.Plan) (any, error) {
	if action.Param("url") == "" && action.Param("query") != "" {
		return w.search(ctx, action)
	}
	if err := requireParams(action, "url"); err != nil {
		return nil, err
	}
	parsedURL, err := url.Parse(action.Param("url"))
	if err != nil || (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") || parsedURL.Host == "" {
		return nil, Invalidf(action, "not an http(s) URL: %q", action.Param("url"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsedURL.String(), nil)
	if err != nil {
		return nil, Invalidf(action, "failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", w.UserAgent)

	resp, err := w.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch URL: status code %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if w.MaxBody > 0 {
		body = io.LimitReader(resp.Body, w.MaxBody)
	}
	article, err := readability.FromReader(body, parsedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse article: %w", err)
	}

	// Sanitize output (remove any remaining HTML tags or scripts)
	policy := bluemonday.StrictPolicy()
	clean := func(s string) string {
		return strings.TrimSpace(html.UnescapeString(policy.Sanitize(s)))
	}
	content := clean(article.TextContent)

	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", clean(article.Title))
	if article.Excerpt != "" {
		fmt.Fprintf(&b, "EXCERPT: %s\n", clean(article.Excerpt))
	}
	b.WriteString("\n")
	b.WriteString(truncate(content, w.MaxChars))
	return b.String(), nil
}
