package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// PageFetcher returns readable page text
type PageFetcher interface {
	FetchText(ctx context.Context, pageURL string) (string, error)
}

// FetchURLTool reads a web page as text
func FetchURLTool(fetcher PageFetcher) *Tool {
	return &Tool{
		Name:        "fetch_url",
		Description: "Fetch a web page and return its readable text.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{"type": "string", "description": "Absolute http or https URL"},
			},
			"required": []string{"url"},
		},
		Timeout: 60 * time.Second,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			u, _ := args["url"].(string)
			if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
				return "", fmt.Errorf("url must be an absolute http(s) URL")
			}
			return fetcher.FetchText(ctx, u)
		},
	}
}

// NewDefaultRegistry registers every built-in tool
func NewDefaultRegistry(search *Tool, fetcher PageFetcher) *Registry {
	r := NewRegistry()
	r.MustRegister(search)
	r.MustRegister(FetchURLTool(fetcher))
	return r
}
