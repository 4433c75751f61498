// Package source lists award announcements from the news category of a
// WordPress-style site.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"awardbot/internal/config"
	"awardbot/internal/domain"
)

// Scraper implements domain.Source over a listing page.
type Scraper struct {
	listURL    string
	baseURL    string
	fetcher    Fetcher
	keywords   []string
	maxItems   int
	minSummary int
	maxContent int
	logger     *slog.Logger
}

type ScraperConfig struct {
	ListURL          string
	BaseURL          string
	Fetcher          Fetcher
	Keywords         []string
	MaxArticles      int
	MinSummaryLength int
	MaxContentLength int
	Logger           *slog.Logger
}

func NewScraper(cfg ScraperConfig) *Scraper {
	if cfg.MaxArticles <= 0 {
		cfg.MaxArticles = 10
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 1000
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = NewHTTPFetcher(nil, "")
	}
	if cfg.BaseURL == "" {
		if u, err := url.Parse(cfg.ListURL); err == nil {
			cfg.BaseURL = u.Scheme + "://" + u.Host
		}
	}
	return &Scraper{
		listURL:    cfg.ListURL,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		fetcher:    cfg.Fetcher,
		keywords:   cfg.Keywords,
		maxItems:   cfg.MaxArticles,
		minSummary: cfg.MinSummaryLength,
		maxContent: cfg.MaxContentLength,
		logger:     cfg.Logger,
	}
}

// New builds a scraper from configuration, rendering with Chrome when
// source.browser is set.
func New(cfg config.SourceConfig, logger *slog.Logger) *Scraper {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	var fetcher Fetcher
	if cfg.Browser {
		fetcher = NewBrowserFetcher(cfg.UserAgent, timeout, logger)
	} else {
		var client *http.Client
		if timeout > 0 {
			client = &http.Client{Timeout: timeout}
		}
		fetcher = NewHTTPFetcher(client, cfg.UserAgent)
	}
	return NewScraper(ScraperConfig{
		ListURL:          cfg.URL,
		BaseURL:          cfg.BaseURL,
		Fetcher:          fetcher,
		Keywords:         cfg.Keywords,
		MaxArticles:      cfg.MaxArticles,
		MinSummaryLength: cfg.MinSummaryLength,
		MaxContentLength: cfg.MaxContentLength,
		Logger:           logger,
	})
}

// ListCurrentAnnouncements returns the award announcements among the newest
// articles on the listing page. A failure to load the listing is returned;
// a failure to load one article page only loses that page's extras.
func (s *Scraper) ListCurrentAnnouncements(ctx context.Context) ([]domain.Announcement, error) {
	doc, err := s.fetcher.Fetch(ctx, s.listURL)
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}

	articles := doc.Find("article")
	s.logger.Debug("listing fetched", "articles", articles.Length())

	var out []domain.Announcement
	articles.EachWithBreak(func(i int, article *goquery.Selection) bool {
		if i >= s.maxItems {
			return false
		}
		ann, ok := s.parseArticle(article)
		if !ok {
			return true
		}
		if !s.isAward(ann.Title, ann.Summary) {
			s.logger.Debug("not an award announcement", "title", ann.Title)
			return true
		}
		// The ID comes from the listing alone; enrich depends on a second
		// fetch that may fail on one scan and succeed on the next.
		ann.ID = domain.AnnouncementID(ann.PublishedAt, ann.Title, ann.Summary)
		s.enrich(ctx, &ann)
		out = append(out, ann)
		return ctx.Err() == nil
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Scraper) parseArticle(article *goquery.Selection) (domain.Announcement, bool) {
	link := article.Find("h2.entry-title a").First()
	title := strings.TrimSpace(link.Text())
	href, _ := link.Attr("href")
	if title == "" || href == "" {
		return domain.Announcement{}, false
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}

	summary := article.Find("div.entry-summary").First()
	if summary.Length() == 0 {
		summary = article.Find("div.entry-content").First()
	}

	ann := domain.Announcement{
		Title:   title,
		Summary: collapse(summary.Text()),
		URL:     s.absolute(href),
	}
	if dt, ok := article.Find("time.entry-date.published").First().Attr("datetime"); ok {
		if t, err := time.Parse(time.RFC3339, dt); err == nil {
			ann.PublishedAt = t
		}
	}
	return ann, true
}

// enrich loads the article page once for its first image and, when the
// listing summary is too short, its body text.
func (s *Scraper) enrich(ctx context.Context, ann *domain.Announcement) {
	needText := utf8.RuneCountInString(ann.Summary) < s.minSummary
	doc, err := s.fetcher.Fetch(ctx, ann.URL)
	if err != nil {
		s.logger.Warn("cannot fetch article page", "url", ann.URL, "err", err)
		if ann.Summary == "" {
			ann.Summary = ann.Title
		}
		return
	}

	area := doc.Find("div.entry-content").First()
	if area.Length() == 0 {
		area = doc.Find("article").First()
	}

	if needText {
		body := area.Clone()
		body.Find("script, style").Remove()
		if text := truncateRunes(collapse(body.Text()), s.maxContent); text != "" {
			ann.Summary = text
		}
	}
	if ann.Summary == "" {
		ann.Summary = ann.Title
	}

	if src, ok := area.Find("img").First().Attr("src"); ok && src != "" {
		ann.ImageURL = s.absolute(src)
	}
}

func (s *Scraper) isAward(title, summary string) bool {
	if len(s.keywords) == 0 {
		return true
	}
	text := strings.ToLower(title + " " + summary)
	for _, k := range s.keywords {
		if strings.Contains(text, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func (s *Scraper) absolute(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return s.baseURL + ref
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
