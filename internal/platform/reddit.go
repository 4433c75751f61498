package platform

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const redditTitleMax = 300

// Reddit submits a link post (or a self post without a link) using the
// password grant of a script app.
type Reddit struct {
	api      apiClient
	cfg      RedditConfig
	authBase string
	apiBase  string
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

type RedditConfig struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string
	Subreddit    string
	AuthBase     string
	APIBase      string
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

func NewReddit(cfg RedditConfig) *Reddit {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(0)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "awardbot/1.0"
	}
	return &Reddit{
		api:      apiClient{platform: "reddit", http: cfg.HTTPClient},
		cfg:      cfg,
		authBase: trimBase(cfg.AuthBase, "https://www.reddit.com"),
		apiBase:  trimBase(cfg.APIBase, "https://oauth.reddit.com"),
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

func (r *Reddit) Name() string { return "reddit" }

func (r *Reddit) Requirements() Requirements { return Requirements{} }

func (r *Reddit) accessToken(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.token != "" && r.now().Before(r.expires) {
		return r.token, nil
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		Error       string `json:"error"`
	}
	_, err := r.api.do(ctx, request{
		method: http.MethodPost,
		url:    r.authBase + "/api/v1/access_token",
		form: url.Values{
			"grant_type": {"password"},
			"username":   {r.cfg.Username},
			"password":   {r.cfg.Password},
		},
		user:    r.cfg.ClientID,
		pass:    r.cfg.ClientSecret,
		headers: map[string]string{"User-Agent": r.cfg.UserAgent},
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", &Error{Platform: "reddit", Kind: KindAuth, Message: "token request failed: " + resp.Error}
	}
	r.token = resp.AccessToken
	// refresh a minute early
	r.expires = r.now().Add(time.Duration(resp.ExpiresIn)*time.Second - time.Minute)
	return r.token, nil
}

func (r *Reddit) Publish(ctx context.Context, post Post) (PostRef, error) {
	token, err := r.accessToken(ctx)
	if err != nil {
		return PostRef{}, err
	}

	title := post.Title
	if title == "" {
		title = Truncate(post.Text, 100)
	}
	form := url.Values{
		"sr":       {r.cfg.Subreddit},
		"title":    {Truncate(title, redditTitleMax)},
		"api_type": {"json"},
	}
	if post.Link != "" {
		form.Set("kind", "link")
		form.Set("url", post.Link)
		form.Set("resubmit", "true")
	} else {
		form.Set("kind", "self")
		form.Set("text", post.Text)
	}

	var resp struct {
		JSON struct {
			Errors [][]any `json:"errors"`
			Data   struct {
				ID   string `json:"id"`
				Name string `json:"name"`
				URL  string `json:"url"`
			} `json:"data"`
		} `json:"json"`
	}
	_, err = r.api.do(ctx, request{
		method:  http.MethodPost,
		url:     r.apiBase + "/api/submit",
		form:    form,
		bearer:  token,
		headers: map[string]string{"User-Agent": r.cfg.UserAgent},
	}, &resp)
	if err != nil {
		return PostRef{}, err
	}
	if len(resp.JSON.Errors) > 0 {
		return PostRef{}, redditSubmitError(resp.JSON.Errors)
	}
	return PostRef{ID: resp.JSON.Data.Name, URL: resp.JSON.Data.URL}, nil
}

// redditSubmitError classifies the error list of a 200 submit response.
func redditSubmitError(errs [][]any) *Error {
	var parts []string
	kind := KindValidation
	for _, e := range errs {
		if len(e) == 0 {
			continue
		}
		code, _ := e[0].(string)
		if code == "RATELIMIT" {
			kind = KindRateLimited
		}
		for _, v := range e {
			if s, ok := v.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
	}
	return &Error{Platform: "reddit", Kind: kind, Message: strings.Join(parts, ": ")}
}
