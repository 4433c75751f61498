package generator

import (
	"context"
	"encoding/json"
	"errors"
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
	"awardbot/internal/retry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testAnnouncement() *domain.Announcement {
	return &domain.Announcement{
		ID:      "award_20250302_abcd1234",
		Title:   "本院團隊榮獲國際機器人競賽冠軍",
		Summary: "本院團隊於國際機器人競賽中表現優異，榮獲冠軍。",
		URL:     "https://ai.nycu.edu.tw/news/robotics",
	}
}

var fastRetry = retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

// scriptedModel answers by matching the system prompt.
type scriptedModel struct {
	answer func(system string) (string, error)
	calls  atomic.Int32
}

func (m *scriptedModel) Name() string                  { return "scripted" }
func (m *scriptedModel) Healthy(context.Context) error { return nil }

func (m *scriptedModel) Complete(_ context.Context, system, _ string) (string, error) {
	m.calls.Add(1)
	return m.answer(system)
}

func TestCleanOutput(t *testing.T) {
	in := "<think>\nlet me plan this\n</think>\n[Thinking]more[/thinking]TITLE: 恭喜"
	if got := CleanOutput(in); got != "TITLE: 恭喜" {
		t.Fatalf("unexpected %q", got)
	}
	if got := CleanOutput("answer<think>never closed"); got != "answer" {
		t.Fatalf("unterminated block not cut: %q", got)
	}
}

func TestParseTitled(t *testing.T) {
	title, content := ParseTitled("TITLE: Congratulations!\nCONTENT: Line one.\nLine two.")
	if title != "Congratulations!" || content != "Line one.\nLine two." {
		t.Fatalf("unexpected %q / %q", title, content)
	}
	title, content = ParseTitled("just a post")
	if title != "" || content != "just a post" {
		t.Fatalf("unexpected %q / %q", title, content)
	}
}

func TestHashtags(t *testing.T) {
	parsed := ParseHashtags("ZH: #陽明交大 #冠軍 #機器人\nEN: #NYCU #Robotics #a #b #c #d\nnoise line")
	if len(parsed["zh"]) != 3 || parsed["zh"][1] != "#冠軍" {
		t.Fatalf("unexpected zh tags %v", parsed["zh"])
	}
	if len(parsed["en"]) != maxHashtags {
		t.Fatalf("expected en tags capped at %d, got %v", maxHashtags, parsed["en"])
	}

	merged := MergeHashtags(map[string][]string{"en": {"#NYCU", "#Robotics"}}, []string{"en", "zh"})
	if merged[0] != "#NYCU" || merged[1] != "#Robotics" || merged[2] != "#陽明交大" {
		t.Fatalf("unexpected merge %v", merged)
	}
}

func TestLLM_Generate(t *testing.T) {
	model := &scriptedModel{answer: func(system string) (string, error) {
		switch {
		case strings.Contains(system, "陽明交通大學"):
			return "<think>hmm</think>TITLE: 賀！機器人冠軍\nCONTENT: 恭喜本院團隊！", nil
		case strings.Contains(system, "English congratulatory"):
			return "TITLE: Robotics champions\nCONTENT: Congratulations to our team!", nil
		case strings.Contains(system, "tweet"):
			return strings.Repeat("x", 300), nil
		case strings.Contains(system, "hashtags"):
			return "zh: #陽明交大 #冠軍\nen: #NYCU #Robotics", nil
		}
		return "", errors.New("unexpected prompt")
	}}
	g := NewLLM(model, fastRetry, testLogger())

	pkg, err := g.Generate(context.Background(), testAnnouncement(), []string{"zh", "en"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if pkg.Texts["zh"] != "恭喜本院團隊！" || pkg.Titles["zh"] != "賀！機器人冠軍" {
		t.Fatalf("unexpected zh %q / %q", pkg.Titles["zh"], pkg.Texts["zh"])
	}
	if pkg.Texts["en"] != "Congratulations to our team!" {
		t.Fatalf("unexpected en %q", pkg.Texts["en"])
	}
	if got := strings.Join(pkg.Hashtags, " "); got != "#陽明交大 #冠軍 #NYCU #Robotics" {
		t.Fatalf("unexpected hashtags %q", got)
	}
	if n := len([]rune(pkg.PlatformTexts["twitter"])); n != 280 {
		t.Fatalf("expected tweet cut to 280, got %d", n)
	}
	if pkg.AnnouncementID != testAnnouncement().ID || pkg.GeneratedAt.IsZero() {
		t.Fatalf("package metadata missing: %+v", pkg)
	}
}

func TestLLM_OptionalPartsFallBack(t *testing.T) {
	model := &scriptedModel{answer: func(system string) (string, error) {
		if strings.Contains(system, "English congratulatory") {
			return "Plain answer without markers", nil
		}
		return "", fmt.Errorf("%w: model error", domain.ErrGeneratorUnreachable)
	}}
	g := NewLLM(model, fastRetry, testLogger())

	pkg, err := g.Generate(context.Background(), testAnnouncement(), []string{"en"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if pkg.Texts["en"] != "Plain answer without markers" || pkg.Titles["en"] != testAnnouncement().Title {
		t.Fatalf("unexpected package %+v", pkg)
	}
	if strings.Join(pkg.Hashtags, " ") != strings.Join(DefaultHashtags["en"], " ") {
		t.Fatalf("expected default hashtags, got %v", pkg.Hashtags)
	}
	if _, ok := pkg.PlatformTexts["twitter"]; ok {
		t.Fatal("tweet set although its generation failed")
	}
}

func TestLLM_AllLanguagesFail(t *testing.T) {
	model := &scriptedModel{answer: func(string) (string, error) {
		return "<think>only thinking</think>", nil
	}}
	g := NewLLM(model, fastRetry, testLogger())

	_, err := g.Generate(context.Background(), testAnnouncement(), []string{"zh", "en"})
	if !errors.Is(err, domain.ErrMalformedOutput) {
		t.Fatalf("expected malformed output, got %v", err)
	}
}

func TestLLM_RetriesTransientOnly(t *testing.T) {
	model := &scriptedModel{}
	model.answer = func(string) (string, error) {
		if model.calls.Load() == 1 {
			return "", transient(fmt.Errorf("%w: 503", domain.ErrGeneratorUnreachable))
		}
		return "TITLE: t\nCONTENT: c", nil
	}
	g := NewLLM(model, fastRetry, testLogger())
	if _, err := g.complete(context.Background(), "s", "u"); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}

	perm := &scriptedModel{answer: func(string) (string, error) {
		return "", fmt.Errorf("%w: 401", domain.ErrGeneratorUnreachable)
	}}
	g = NewLLM(perm, fastRetry, testLogger())
	if _, err := g.complete(context.Background(), "s", "u"); err == nil {
		t.Fatal("expected error")
	}
	if perm.calls.Load() != 1 {
		t.Fatalf("permanent error retried %d times", perm.calls.Load())
	}
}

func TestLLM_Timeout(t *testing.T) {
	model := &scriptedModel{answer: func(string) (string, error) {
		time.Sleep(50 * time.Millisecond)
		return "", transient(fmt.Errorf("%w: slow", domain.ErrGeneratorUnreachable))
	}}
	g := NewLLM(model, retry.Config{MaxAttempts: 10, BaseDelay: 10 * time.Millisecond, MaxDelay: 10 * time.Millisecond}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_, err := g.Generate(ctx, testAnnouncement(), []string{"en"})
	if !errors.Is(err, domain.ErrGeneratorTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestOllama_Complete(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decode: %v", err)
			}
			json.NewEncoder(w).Encode(ollamaResponse{Message: ollamaMsg{Role: "assistant", Content: "hello"}, Done: true})
		case "/api/tags":
			fmt.Fprint(w, `{"models":[{"name":"deepseek-r1:7b"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL + "/", Temperature: 0.7, MaxTokens: 100, Logger: testLogger()})
	out, err := o.Complete(context.Background(), "sys", "usr")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "hello" {
		t.Fatalf("unexpected answer %q", out)
	}
	if got.Model != "deepseek-r1:7b" || got.Stream || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.Options["num_predict"] != float64(100) {
		t.Fatalf("token limit not sent: %v", got.Options)
	}
	if err := o.Healthy(context.Background()); err != nil {
		t.Fatalf("healthy: %v", err)
	}

	missing := NewOllama(OllamaConfig{APIBase: srv.URL, Model: "llama3.1:8b", Logger: testLogger()})
	if err := missing.Healthy(context.Background()); err == nil {
		t.Fatal("expected error for a model that is not pulled")
	}
}

func TestOllama_ErrorKinds(t *testing.T) {
	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", status)
	}))
	defer srv.Close()
	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})

	_, err := o.Complete(context.Background(), "s", "u")
	if !isTransient(err) || !errors.Is(err, domain.ErrGeneratorUnreachable) {
		t.Fatalf("expected transient unreachable, got %v", err)
	}

	status = http.StatusNotFound
	_, err = o.Complete(context.Background(), "s", "u")
	if isTransient(err) {
		t.Fatalf("404 should not be transient: %v", err)
	}

	down := NewOllama(OllamaConfig{APIBase: "http://127.0.0.1:1", Logger: testLogger()})
	_, err = down.Complete(context.Background(), "s", "u")
	if !isTransient(err) || !errors.Is(err, domain.ErrGeneratorUnreachable) {
		t.Fatalf("expected unreachable, got %v", err)
	}
}

func TestOpenAI_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"TITLE: Hi\nCONTENT: There"}}]}`)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL, Temperature: 0.5, Logger: testLogger()})
	out, err := o.Complete(context.Background(), "sys", "usr")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "TITLE: Hi\nCONTENT: There" {
		t.Fatalf("unexpected answer %q", out)
	}
	if body["model"] != "gpt-4o-mini" || body["temperature"] != 0.5 {
		t.Fatalf("unexpected request %v", body)
	}
}

func TestOpenAI_ErrorKinds(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, `{"error":{"message":"nope","type":"error"}}`)
	}))
	defer srv.Close()
	o := NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL, Logger: testLogger()})

	_, err := o.Complete(context.Background(), "s", "u")
	if !isTransient(err) {
		t.Fatalf("429 should be transient: %v", err)
	}
	status = http.StatusUnauthorized
	_, err = o.Complete(context.Background(), "s", "u")
	if isTransient(err) || !errors.Is(err, domain.ErrGeneratorUnreachable) {
		t.Fatalf("401 should be permanent unreachable: %v", err)
	}
}

func TestTemplate_Generate(t *testing.T) {
	pkg, err := NewTemplate().Generate(context.Background(), testAnnouncement(), []string{"zh", "en"})
	if err != nil {
		t.Fatal(err)
	}
	if !pkg.HasText([]string{"zh"}) || !pkg.HasText([]string{"en"}) {
		t.Fatalf("template left a language empty: %+v", pkg.Texts)
	}
	if !strings.HasPrefix(pkg.PlatformTexts["twitter"], "🎉 ") || pkg.Generator != "template" {
		t.Fatalf("unexpected package %+v", pkg)
	}
}

type stubGenerator struct {
	name string
	err  error
}

func (s *stubGenerator) Name() string { return s.name }
func (s *stubGenerator) Healthy(context.Context) error {
	return s.err
}

func (s *stubGenerator) Generate(_ context.Context, ann *domain.Announcement, _ []string) (*domain.ContentPackage, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.ContentPackage{AnnouncementID: ann.ID, Texts: map[string]string{"en": s.name}, Generator: s.name}, nil
}

func TestFailover(t *testing.T) {
	down := &stubGenerator{name: "primary", err: domain.ErrGeneratorUnreachable}
	up := &stubGenerator{name: "secondary"}

	f := NewFailover([]domain.Generator{down, up}, testLogger())
	pkg, err := f.Generate(context.Background(), testAnnouncement(), []string{"en"})
	if err != nil || pkg.Generator != "secondary" {
		t.Fatalf("expected secondary package, got %+v, %v", pkg, err)
	}
	if err := f.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy chain: %v", err)
	}
	if f.Name() != "failover(primary→secondary)" {
		t.Fatalf("unexpected name %s", f.Name())
	}

	f = NewFailover([]domain.Generator{down}, testLogger())
	if _, err := f.Generate(context.Background(), testAnnouncement(), []string{"en"}); !errors.Is(err, domain.ErrGeneratorUnreachable) {
		t.Fatalf("expected wrapped last error, got %v", err)
	}
}
