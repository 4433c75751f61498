package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
)

// Fetcher loads a page and returns its parsed document.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (*goquery.Document, error)
}

// HTTPFetcher downloads pages with a plain HTTP client.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

func NewHTTPFetcher(client *http.Client, userAgent string) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if userAgent == "" {
		userAgent = "awardbot/1.0"
	}
	return &HTTPFetcher{client: client, userAgent: userAgent}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s", pageURL, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

// BrowserFetcher renders pages in headless Chrome, for listings that are
// filled in by scripts.
type BrowserFetcher struct {
	userAgent string
	timeout   time.Duration
	logger    *slog.Logger
}

func NewBrowserFetcher(userAgent string, timeout time.Duration, logger *slog.Logger) *BrowserFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &BrowserFetcher{userAgent: userAgent, timeout: timeout, logger: logger}
}

func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Headless,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if f.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(f.userAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, f.timeout)
	defer cancel()

	var html string
	start := time.Now()
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("render %s: %w", pageURL, err)
	}
	f.logger.Debug("page rendered", "url", pageURL, "bytes", len(html), "elapsed", time.Since(start).Round(time.Millisecond))

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}
