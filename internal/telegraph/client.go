package telegraph

import (
	"answer-bot/internal/config"
	"answer-bot/internal/logger"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

const maxTitleRunes = 256

// DocumentStore publishes long-form markdown documents
type DocumentStore interface {
	CreateDocument(ctx context.Context, title, markdown string) (string, error)
	EditDocument(ctx context.Context, docURL, title, markdown string) (string, error)
}

// Client is a telegra.ph API client
type Client struct {
	cfg        config.TelegraphConfig
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
}

// NewClient creates a telegra.ph client. Without an access token an account is created on first use.
func NewClient(cfg config.TelegraphConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegra.ph"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, httpClient: httpClient, accessToken: cfg.AccessToken}
}

type apiResponse struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error"`
	Result json.RawMessage `json:"result"`
}

type account struct {
	AccessToken string `json:"access_token"`
}

type page struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

func (c *Client) call(ctx context.Context, method string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/"+method, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegraph %s returned status %d", method, resp.StatusCode)
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	if !apiResp.OK {
		return fmt.Errorf("telegraph %s failed: %s", method, apiResp.Error)
	}
	if err := json.Unmarshal(apiResp.Result, out); err != nil {
		return fmt.Errorf("error decoding result: %w", err)
	}
	return nil
}

// EnsureAccount returns the access token, creating an account when none is configured
func (c *Client) EnsureAccount(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("short_name", c.cfg.ShortName)
	form.Set("author_name", c.cfg.AuthorName)
	if c.cfg.AuthorURL != "" {
		form.Set("author_url", c.cfg.AuthorURL)
	}

	var acc account
	if err := c.call(ctx, "createAccount", form, &acc); err != nil {
		return "", err
	}
	c.accessToken = acc.AccessToken
	logger.Log.WithField("short_name", c.cfg.ShortName).Info("Created telegra.ph account, set TELEGRAPH_TOKEN to reuse it")
	logger.Log.WithField("access_token", acc.AccessToken).Debug("telegra.ph account token")
	return c.accessToken, nil
}

func (c *Client) pageForm(ctx context.Context, title, markdown string) (url.Values, error) {
	token, err := c.EnsureAccount(ctx)
	if err != nil {
		return nil, err
	}
	nodes, err := MarkdownToNodes(markdown)
	if err != nil {
		return nil, err
	}
	content, err := FitContent(nodes, MaxContentBytes)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("access_token", token)
	form.Set("title", clipTitle(title))
	form.Set("content", content)
	form.Set("author_name", c.cfg.AuthorName)
	if c.cfg.AuthorURL != "" {
		form.Set("author_url", c.cfg.AuthorURL)
	}
	form.Set("return_content", "false")
	return form, nil
}

// CreateDocument publishes a new page and returns its URL
func (c *Client) CreateDocument(ctx context.Context, title, markdown string) (string, error) {
	form, err := c.pageForm(ctx, title, markdown)
	if err != nil {
		return "", err
	}
	var p page
	if err := c.call(ctx, "createPage", form, &p); err != nil {
		return "", err
	}
	logger.Log.WithFields(logrus.Fields{"url": p.URL, "bytes": len(markdown)}).Info("Created document")
	return p.URL, nil
}

// EditDocument replaces the content of an existing page
func (c *Client) EditDocument(ctx context.Context, docURL, title, markdown string) (string, error) {
	path, err := PathFromURL(docURL)
	if err != nil {
		return "", err
	}
	form, err := c.pageForm(ctx, title, markdown)
	if err != nil {
		return "", err
	}
	form.Set("path", path)

	var p page
	if err := c.call(ctx, "editPage", form, &p); err != nil {
		return "", err
	}
	logger.Log.WithFields(logrus.Fields{"url": p.URL, "bytes": len(markdown)}).Info("Edited document")
	return p.URL, nil
}

// PathFromURL extracts the page path from a page URL
func PathFromURL(docURL string) (string, error) {
	u, err := url.Parse(docURL)
	if err != nil {
		return "", fmt.Errorf("invalid document url: %w", err)
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return "", fmt.Errorf("document url %q has no path", docURL)
	}
	return path, nil
}

func clipTitle(title string) string {
	if title == "" {
		return "Untitled"
	}
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	return string([]rune(title)[:maxTitleRunes])
}
