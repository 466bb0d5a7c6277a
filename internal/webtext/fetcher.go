package webtext

import (
	"answer-bot/internal/config"
	"answer-bot/internal/logger"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"mvdan.cc/xurls/v2"
)

const maxBodyBytes = 2 << 20

var urlPattern = xurls.Strict()

// ExtractURLs returns the absolute URLs found in text, in order of appearance, without duplicates
func ExtractURLs(text string) []string {
	var urls []string
	seen := map[string]bool{}
	for _, u := range urlPattern.FindAllString(text, -1) {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			continue
		}
		if seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	return urls
}

// Fetcher retrieves readable page text
type Fetcher struct {
	readerURL  string
	maxChars   int
	httpClient *http.Client
}

// NewFetcher creates a fetcher. With a reader URL pages are fetched through
// the reader service, otherwise they are downloaded and converted locally.
func NewFetcher(cfg config.FetchConfig, httpClient *http.Client) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Fetcher{
		readerURL:  cfg.ReaderURL,
		maxChars:   cfg.MaxChars,
		httpClient: httpClient,
	}
}

// FetchText returns the readable text of a page, capped to the configured size
func (f *Fetcher) FetchText(ctx context.Context, pageURL string) (string, error) {
	target := pageURL
	if f.readerURL != "" {
		target = f.readerURL + pageURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; answer-bot/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		text, err = HTMLToText(text)
		if err != nil {
			return "", fmt.Errorf("failed to convert page: %w", err)
		}
	}
	return truncate(strings.TrimSpace(text), f.maxChars), nil
}

// Enrich replaces every URL in text with the fenced text of the page it points to.
// URLs that cannot be fetched are left as they are.
func (f *Fetcher) Enrich(ctx context.Context, text string) string {
	for _, u := range ExtractURLs(text) {
		page, err := f.FetchText(ctx, u)
		if err != nil {
			logger.Log.WithFields(logrus.Fields{"url": u}).WithError(err).Warn("Failed to fetch URL, leaving it as is")
			continue
		}
		text = strings.ReplaceAll(text, u, "\n```markdown\n"+page+"\n```\n")
	}
	return text
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "\n\n[...truncated...]"
}
