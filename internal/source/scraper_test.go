package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"awardbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const listing = `<html><body>
<article>
  <h2 class="entry-title"><a href="/news/robotics">本院團隊榮獲國際機器人競賽冠軍</a></h2>
  <time class="entry-date published" datetime="2025-03-02T10:00:00+08:00">March 2</time>
  <div class="entry-summary"><p>短摘要</p></div>
</article>
<article>
  <h2 class="entry-title"><a href="/news/seminar">Seminar on compilers</a></h2>
  <time class="entry-date published" datetime="2025-03-03T10:00:00+08:00">March 3</time>
  <div class="entry-summary"><p>A talk about register allocation and nothing else at all, really.</p></div>
</article>
<article>
  <h2 class="entry-title"><a href="https://other.invalid/news/paper">Best paper award at ACL</a></h2>
  <time class="entry-date published" datetime="2025-03-01T09:00:00Z">March 1</time>
  <div class="entry-summary"><p>Our lab received the best paper award at ACL for work on multilingual retrieval models.</p></div>
</article>
<article><p>no title here</p></article>
</body></html>`

const robotics = `<html><body><article><div class="entry-content">
<script>var x = 1;</script>
<p>本院團隊於國際機器人競賽中表現優異，</p><p>榮獲冠軍。</p>
<figure><img src="/wp-content/uploads/2025/03/冠軍.jpg"></figure>
</div></article></body></html>`

func newTestSite(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var pages atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/category/hot-news/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "awardbot-test" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		fmt.Fprint(w, listing)
	})
	mux.HandleFunc("/news/robotics", func(w http.ResponseWriter, r *http.Request) {
		pages.Add(1)
		fmt.Fprint(w, robotics)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &pages
}

func newTestScraper(srv *httptest.Server, keywords []string) *Scraper {
	return NewScraper(ScraperConfig{
		ListURL:          srv.URL + "/category/hot-news/",
		Fetcher:          NewHTTPFetcher(srv.Client(), "awardbot-test"),
		Keywords:         keywords,
		MinSummaryLength: 50,
		MaxContentLength: 1000,
		Logger:           testLogger(),
	})
}

func TestScraper_ListsAwardsOnly(t *testing.T) {
	srv, pages := newTestSite(t)
	s := newTestScraper(srv, []string{"冠軍", "award"})

	got, err := s.ListCurrentAnnouncements(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 award announcements, got %d: %+v", len(got), got)
	}

	robot := got[0]
	if robot.URL != srv.URL+"/news/robotics" {
		t.Fatalf("relative link not resolved: %s", robot.URL)
	}
	if !strings.Contains(robot.Summary, "表現優異") || strings.Contains(robot.Summary, "var x") {
		t.Fatalf("short summary not replaced by page body: %q", robot.Summary)
	}
	if robot.ImageURL != srv.URL+"/wp-content/uploads/2025/03/冠軍.jpg" {
		t.Fatalf("unexpected image %q", robot.ImageURL)
	}
	want := time.Date(2025, 3, 2, 2, 0, 0, 0, time.UTC)
	if !robot.PublishedAt.Equal(want) {
		t.Fatalf("expected %s, got %s", want, robot.PublishedAt)
	}
	if robot.ID != domain.AnnouncementID(robot.PublishedAt, robot.Title, "短摘要") {
		t.Fatalf("unexpected id %s", robot.ID)
	}
	if pages.Load() != 1 {
		t.Fatalf("expected one article page fetch, got %d", pages.Load())
	}

	paper := got[1]
	if paper.URL != "https://other.invalid/news/paper" {
		t.Fatalf("absolute link changed: %s", paper.URL)
	}
	// The page of an external link is unreachable; the listing summary stays.
	if !strings.HasPrefix(paper.Summary, "Our lab received") || paper.ImageURL != "" {
		t.Fatalf("unexpected paper announcement %+v", paper)
	}
}

func TestScraper_StableIDs(t *testing.T) {
	srv, _ := newTestSite(t)
	s := newTestScraper(srv, []string{"冠軍"})

	first, err := s.ListCurrentAnnouncements(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.ListCurrentAnnouncements(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || len(second) != 1 || first[0].ID != second[0].ID {
		t.Fatalf("ids differ between scans: %+v %+v", first, second)
	}
}

func TestScraper_IDIndependentOfArticlePage(t *testing.T) {
	var up atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/category/hot-news/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listing)
	})
	mux.HandleFunc("/news/robotics", func(w http.ResponseWriter, r *http.Request) {
		if !up.Load() {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, robotics)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	s := newTestScraper(srv, []string{"冠軍"})

	first, err := s.ListCurrentAnnouncements(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	up.Store(true)
	second, err := s.ListCurrentAnnouncements(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected one announcement per scan, got %d and %d", len(first), len(second))
	}
	if first[0].Summary == second[0].Summary {
		t.Fatalf("article page should only enrich the second scan: %q", second[0].Summary)
	}
	if first[0].ID != second[0].ID {
		t.Fatalf("same notice got two ids: %s and %s", first[0].ID, second[0].ID)
	}
}

func TestScraper_MaxArticles(t *testing.T) {
	srv, _ := newTestSite(t)
	s := newTestScraper(srv, nil)
	s.maxItems = 1

	got, err := s.ListCurrentAnnouncements(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only the newest article, got %d", len(got))
	}
}

func TestScraper_ListingUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewScraper(ScraperConfig{ListURL: srv.URL, Fetcher: NewHTTPFetcher(srv.Client(), ""), Logger: testLogger()})
	if _, err := s.ListCurrentAnnouncements(context.Background()); err == nil {
		t.Fatal("expected error for unavailable listing")
	}
}

func TestScraper_Absolute(t *testing.T) {
	s := NewScraper(ScraperConfig{ListURL: "https://ai.nycu.edu.tw/category/hot-news/", Logger: testLogger()})
	tests := map[string]string{
		"/a.jpg":                 "https://ai.nycu.edu.tw/a.jpg",
		"b.jpg":                  "https://ai.nycu.edu.tw/b.jpg",
		"//cdn.example/c.jpg":    "https://cdn.example/c.jpg",
		"http://x.example/d.jpg": "http://x.example/d.jpg",
	}
	for in, want := range tests {
		if got := s.absolute(in); got != want {
			t.Fatalf("absolute(%q) = %q, want %q", in, got, want)
		}
	}
}
