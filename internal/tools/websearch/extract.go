package websearch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
)

// minStaticContentLen is the TextContent length below which a static fetch
// is considered likely JS-rendered and worth retrying headless.
const minStaticContentLen = 200

// ContentExtractor extracts readable content from web pages: a plain HTTP
// fetch plus readability parsing by default, falling back to a headless
// Chrome render when the static fetch comes back too thin and headless mode
// is enabled (ToolsConfig.WebFetchHeadless).
type ContentExtractor struct {
	httpClient    *http.Client
	headless      bool
	skipSSRFCheck bool // For testing only - allows localhost URLs
}

// NewContentExtractor creates a new content extractor. headless enables the
// chromedp fallback for pages whose static HTML carries little content.
func NewContentExtractor(headless bool) *ContentExtractor {
	return &ContentExtractor{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		headless:   headless,
	}
}

// NewContentExtractorForTesting creates a content extractor that allows localhost URLs.
// This should only be used in tests.
func NewContentExtractorForTesting() *ContentExtractor {
	return &ContentExtractor{
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		skipSSRFCheck: true,
	}
}

// isPrivateOrReservedIP checks if an IP address is private, loopback, or reserved.
func isPrivateOrReservedIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() || ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}
	metadataIP := net.ParseIP("169.254.169.254")
	return ip.Equal(metadataIP)
}

// validateURLForSSRF validates a URL to prevent SSRF attacks.
func validateURLForSSRF(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", parsed.Scheme)
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("URL must have a hostname")
	}
	lowerHost := strings.ToLower(hostname)
	if lowerHost == "localhost" || strings.HasSuffix(lowerHost, ".localhost") {
		return fmt.Errorf("localhost URLs are not allowed")
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		// If we can't resolve, allow the request (DNS may be handled by proxy).
		return nil
	}
	for _, ip := range ips {
		if isPrivateOrReservedIP(ip) {
			return fmt.Errorf("URL resolves to private/reserved IP address")
		}
	}
	return nil
}

// Extract fetches targetURL and returns its readable content as markdown,
// falling back to a headless render when the static page carries too
// little text and the extractor was built with headless enabled.
func (e *ContentExtractor) Extract(ctx context.Context, targetURL string) (string, error) {
	return e.ExtractMode(ctx, targetURL, "markdown")
}

// ExtractMode is Extract with an explicit output mode: "markdown" (default)
// or "text" for the article's plain text content.
func (e *ContentExtractor) ExtractMode(ctx context.Context, targetURL, mode string) (string, error) {
	if !e.skipSSRFCheck {
		if err := validateURLForSSRF(targetURL); err != nil {
			return "", fmt.Errorf("URL validation failed: %w", err)
		}
	}

	article, err := e.fetchAndParse(ctx, targetURL)
	if err != nil {
		return "", err
	}

	if len(strings.TrimSpace(article.TextContent)) < minStaticContentLen && e.headless {
		if rendered, err := e.fetchViaChromedp(ctx, targetURL); err == nil {
			if a, err := readability.FromReader(strings.NewReader(rendered), mustParseURL(targetURL)); err == nil {
				article = a
			}
		}
	}

	return formatArticle(article, mode), nil
}

// fetchAndParse performs a plain HTTP GET and runs readability over the body.
func (e *ContentExtractor) fetchAndParse(ctx context.Context, targetURL string) (readability.Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return readability.Article{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; AgentSmithyBot/1.0)")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return readability.Article{}, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readability.Article{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "text/plain") {
		return readability.Article{}, fmt.Errorf("unsupported content type: %s", contentType)
	}

	article, err := readability.FromReader(resp.Body, mustParseURL(targetURL))
	if err != nil {
		return readability.Article{}, fmt.Errorf("failed to parse content: %w", err)
	}
	return article, nil
}

// fetchViaChromedp renders targetURL in a headless Chrome instance and
// returns the resulting DOM as HTML, used when the static fetch yields
// suspiciously little text (client-rendered pages).
func (e *ContentExtractor) fetchViaChromedp(ctx context.Context, targetURL string) (string, error) {
	allocCtx, cancelAlloc := chromedp.NewContext(ctx)
	defer cancelAlloc()

	renderCtx, cancelTimeout := context.WithTimeout(allocCtx, 20*time.Second)
	defer cancelTimeout()

	var html string
	err := chromedp.Run(renderCtx,
		chromedp.Navigate(targetURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("headless render failed: %w", err)
	}
	return html, nil
}

// formatArticle renders article as markdown (converting its content HTML)
// or plain text, prefixed with title/excerpt the way the extractor has
// always surfaced them.
func formatArticle(article readability.Article, mode string) string {
	var body string
	if mode == "text" {
		body = strings.TrimSpace(article.TextContent)
	} else if md, err := htmltomarkdown.ConvertString(article.Content); err == nil {
		body = strings.TrimSpace(md)
	} else {
		body = strings.TrimSpace(article.TextContent)
	}

	var result strings.Builder
	if article.Title != "" {
		result.WriteString("Title: ")
		result.WriteString(article.Title)
		result.WriteString("\n\n")
	}
	if article.Excerpt != "" {
		result.WriteString("Description: ")
		result.WriteString(article.Excerpt)
		result.WriteString("\n\n")
	}
	result.WriteString(body)
	return result.String()
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}

// maxBatchConcurrency limits concurrent extractions in ExtractBatch.
const maxBatchConcurrency = 5

// ExtractBatch extracts content from multiple URLs concurrently with a concurrency limit.
func (e *ContentExtractor) ExtractBatch(ctx context.Context, urls []string) map[string]string {
	results := make(map[string]string)
	resultsChan := make(chan struct {
		url     string
		content string
	}, len(urls))

	sem := make(chan struct{}, maxBatchConcurrency)

	for _, u := range urls {
		sem <- struct{}{}
		go func(targetURL string) {
			defer func() { <-sem }()
			content, err := e.Extract(ctx, targetURL)
			if err == nil {
				resultsChan <- struct {
					url     string
					content string
				}{targetURL, content}
			} else {
				resultsChan <- struct {
					url     string
					content string
				}{targetURL, ""}
			}
		}(u)
	}

	for i := 0; i < len(urls); i++ {
		result := <-resultsChan
		if result.content != "" {
			results[result.url] = result.content
		}
	}

	return results
}
