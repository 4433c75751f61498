package platform

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
)

const linkedinMaxLen = 3000

// LinkedIn shares a post through the UGC posts API. The author URN is
// resolved once from /v2/userinfo when not configured.
type LinkedIn struct {
	api     apiClient
	token   string
	apiBase string
	logger  *slog.Logger

	mu     sync.Mutex
	author string
}

type LinkedInConfig struct {
	AccessToken string
	AuthorURN   string
	APIBase     string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

func NewLinkedIn(cfg LinkedInConfig) *LinkedIn {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(0)
	}
	return &LinkedIn{
		api:     apiClient{platform: "linkedin", http: cfg.HTTPClient},
		token:   cfg.AccessToken,
		apiBase: trimBase(cfg.APIBase, "https://api.linkedin.com"),
		author:  cfg.AuthorURN,
		logger:  cfg.Logger,
	}
}

func (l *LinkedIn) Name() string { return "linkedin" }

func (l *LinkedIn) Requirements() Requirements {
	return Requirements{MaxTextLen: linkedinMaxLen}
}

func (l *LinkedIn) authorURN(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.author != "" {
		return l.author, nil
	}
	var info struct {
		Sub string `json:"sub"`
	}
	if _, err := l.api.do(ctx, request{method: http.MethodGet, url: l.apiBase + "/v2/userinfo", bearer: l.token}, &info); err != nil {
		return "", err
	}
	if info.Sub == "" {
		return "", &Error{Platform: "linkedin", Kind: KindAuth, Message: "userinfo returned no subject"}
	}
	l.author = "urn:li:person:" + info.Sub
	return l.author, nil
}

func (l *LinkedIn) Publish(ctx context.Context, post Post) (PostRef, error) {
	author, err := l.authorURN(ctx)
	if err != nil {
		return PostRef{}, err
	}

	share := map[string]any{
		"shareCommentary":    map[string]string{"text": Truncate(post.Text, linkedinMaxLen)},
		"shareMediaCategory": "NONE",
	}
	if post.Link != "" {
		share["shareMediaCategory"] = "ARTICLE"
		share["media"] = []map[string]any{{
			"status":      "READY",
			"originalUrl": post.Link,
			"title":       map[string]string{"text": post.Title},
		}}
	}
	body := map[string]any{
		"author":          author,
		"lifecycleState":  "PUBLISHED",
		"specificContent": map[string]any{"com.linkedin.ugc.ShareContent": share},
		"visibility":      map[string]string{"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC"},
	}

	var resp struct {
		ID string `json:"id"`
	}
	header, err := l.api.do(ctx, request{
		method:  http.MethodPost,
		url:     l.apiBase + "/v2/ugcPosts",
		json:    body,
		bearer:  l.token,
		headers: map[string]string{"X-Restli-Protocol-Version": "2.0.0"},
	}, &resp)
	if err != nil {
		return PostRef{}, err
	}
	id := resp.ID
	if id == "" {
		id = header.Get("X-Restli-Id")
	}
	return PostRef{ID: id, URL: "https://www.linkedin.com/feed/update/" + id}, nil
}
