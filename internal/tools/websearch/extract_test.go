package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestContentExtractor_Extract_Success(t *testing.T) {
	htmlContent := `
<!DOCTYPE html>
<html>
<head>
    <title>Test Page Title</title>
    <meta name="description" content="This is a test page description">
</head>
<body>
    <header>
        <nav>Navigation menu</nav>
    </header>
    <main>
        <article>
            <h1>Main Article Title</h1>
            <p>This is the first paragraph of the article, long enough that readability keeps it as the main body content rather than discarding it as boilerplate.</p>
            <p>This is the second paragraph with more content, again padded out so the extraction heuristics treat this block as the page's primary article.</p>
            <p>And a third paragraph to ensure we have enough content for the extractor to settle on this region of the page.</p>
        </article>
    </main>
    <footer>Footer content</footer>
    <script>console.log("should be removed");</script>
</body>
</html>
`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(htmlContent))
	}))
	defer server.Close()

	extractor := NewContentExtractorForTesting()
	content, err := extractor.Extract(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if content == "" {
		t.Fatal("extracted content is empty")
	}

	if !strings.Contains(content, "Test Page Title") && !strings.Contains(content, "Main Article Title") {
		t.Error("content should contain a page or article title")
	}
	if !strings.Contains(content, "first paragraph") {
		t.Error("content should contain article text")
	}
	if strings.Contains(content, "console.log") {
		t.Error("content should not contain script tags")
	}
	if strings.Contains(content, "Navigation menu") {
		t.Error("content should not contain navigation")
	}
}

func TestContentExtractor_Extract_PlainTextMode(t *testing.T) {
	htmlContent := `<html><body><main><article><p>Some <strong>bold</strong> article text padded out enough that readability is confident this is the main content block on the page rather than boilerplate chrome.</p></article></main></body></html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(htmlContent))
	}))
	defer server.Close()

	extractor := NewContentExtractorForTesting()
	content, err := extractor.ExtractMode(context.Background(), server.URL, "text")
	if err != nil {
		t.Fatalf("ExtractMode failed: %v", err)
	}
	if strings.Contains(content, "<strong>") || strings.Contains(content, "**bold**") {
		t.Errorf("text mode should contain neither HTML nor markdown emphasis markers, got: %s", content)
	}
	if !strings.Contains(content, "bold") {
		t.Error("content should retain the article's plain text")
	}
}

func TestContentExtractor_Extract_NonHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"key": "value"}`))
	}))
	defer server.Close()

	extractor := NewContentExtractorForTesting()
	_, err := extractor.Extract(context.Background(), server.URL)
	if err == nil {
		t.Error("expected error for non-HTML content")
	}
	if !strings.Contains(err.Error(), "unsupported content type") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestContentExtractor_Extract_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	extractor := NewContentExtractorForTesting()
	_, err := extractor.Extract(context.Background(), server.URL)
	if err == nil {
		t.Error("expected error for HTTP 404")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestContentExtractor_Extract_InvalidURL(t *testing.T) {
	extractor := NewContentExtractorForTesting()
	_, err := extractor.Extract(context.Background(), "not-a-valid-url")
	if err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestContentExtractor_Extract_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Second) // Longer than client timeout
		_, _ = w.Write([]byte("<html><body>Too slow</body></html>"))
	}))
	defer server.Close()

	extractor := NewContentExtractorForTesting()
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	_, err := extractor.Extract(ctx, server.URL)
	if err == nil {
		t.Error("expected timeout error")
	}
}

func TestValidateURLForSSRF(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "valid https", url: "https://example.com/article", wantErr: false},
		{name: "ftp scheme rejected", url: "ftp://example.com", wantErr: true},
		{name: "localhost rejected", url: "http://localhost:8080", wantErr: true},
		{name: "loopback ip rejected", url: "http://127.0.0.1", wantErr: true},
		{name: "malformed url rejected", url: "http://[::1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateURLForSSRF(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateURLForSSRF(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestContentExtractor_ExtractBatch(t *testing.T) {
	server1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Page 1</title></head><body><main><article><p>Content from page 1, padded with enough text that readability treats this as the real article body rather than discarding it.</p></article></main></body></html>`))
	}))
	defer server1.Close()

	server2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Page 2</title></head><body><main><article><p>Content from page 2, likewise padded with enough text for the same reason as the first fixture page.</p></article></main></body></html>`))
	}))
	defer server2.Close()

	server3 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server3.Close()

	extractor := NewContentExtractorForTesting()
	urls := []string{server1.URL, server2.URL, server3.URL}

	results := extractor.ExtractBatch(context.Background(), urls)
	if len(results) != 2 {
		t.Errorf("expected 2 successful extractions, got %d", len(results))
	}

	content1, ok := results[server1.URL]
	if !ok {
		t.Error("expected result for server1")
	} else if !strings.Contains(content1, "page 1") {
		t.Error("server1 content should contain 'page 1'")
	}

	content2, ok := results[server2.URL]
	if !ok {
		t.Error("expected result for server2")
	} else if !strings.Contains(content2, "page 2") {
		t.Error("server2 content should contain 'page 2'")
	}

	if _, ok := results[server3.URL]; ok {
		t.Error("should not have result for failed server3")
	}
}

func TestContentExtractor_RealWorldHTML(t *testing.T) {
	htmlContent := `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Real World Article</title>
    <meta name="description" content="An article about web scraping and content extraction">
    <style>
        body { font-family: Arial; }
        .sidebar { display: none; }
    </style>
    <script>
        console.log("Analytics tracking");
    </script>
</head>
<body>
    <header>
        <nav>
            <ul>
                <li><a href="/">Home</a></li>
                <li><a href="/about">About</a></li>
            </ul>
        </nav>
    </header>

    <main>
        <article>
            <h1>Understanding Web Scraping</h1>

            <p>Web scraping is the process of extracting data from websites.
            It's a powerful technique used for data mining, research, and automation.</p>

            <h2>Why Content Extraction Matters</h2>

            <p>Content extraction helps focus on the main content of a page,
            removing navigation, ads, and other distractions. This is particularly
            useful for AI applications that need clean text input.</p>

            <h2>Best Practices</h2>

            <p>When implementing content extraction, consider:</p>
            <ul>
                <li>Respect robots.txt</li>
                <li>Rate limiting</li>
                <li>User agent identification</li>
            </ul>
        </article>
    </main>

    <aside class="sidebar">
        <h3>Related Articles</h3>
        <ul>
            <li>Article 1</li>
            <li>Article 2</li>
        </ul>
    </aside>

    <footer>
        <p>&copy; 2024 Example Corp</p>
    </footer>
</body>
</html>
`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(htmlContent))
	}))
	defer server.Close()

	extractor := NewContentExtractorForTesting()
	content, err := extractor.Extract(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	expectedPhrases := []string{
		"Web scraping",
		"Content extraction",
		"Best Practices",
	}
	for _, phrase := range expectedPhrases {
		if !strings.Contains(content, phrase) {
			t.Errorf("content should contain '%s'", phrase)
		}
	}

	unexpectedPhrases := []string{
		"Analytics tracking",
		"console.log",
		"font-family",
	}
	for _, phrase := range unexpectedPhrases {
		if strings.Contains(content, phrase) {
			t.Errorf("content should not contain '%s'", phrase)
		}
	}
}
