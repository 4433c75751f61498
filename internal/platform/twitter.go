package platform

import (
	"context"
	"log/slog"
	"net/http"
)

const twitterMaxLen = 280

// Twitter posts through the X API v2 with an OAuth 2.0 user-context token.
type Twitter struct {
	api     apiClient
	token   string
	apiBase string
	logger  *slog.Logger
}

type TwitterConfig struct {
	AccessToken string
	APIBase     string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

func NewTwitter(cfg TwitterConfig) *Twitter {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(0)
	}
	return &Twitter{
		api:     apiClient{platform: "twitter", http: cfg.HTTPClient},
		token:   cfg.AccessToken,
		apiBase: trimBase(cfg.APIBase, "https://api.twitter.com"),
		logger:  cfg.Logger,
	}
}

func (t *Twitter) Name() string { return "twitter" }

func (t *Twitter) Requirements() Requirements {
	return Requirements{MaxTextLen: twitterMaxLen}
}

func (t *Twitter) Publish(ctx context.Context, post Post) (PostRef, error) {
	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	_, err := t.api.do(ctx, request{
		method: http.MethodPost,
		url:    t.apiBase + "/2/tweets",
		json:   map[string]string{"text": fitText(post.Text, post.Link, twitterMaxLen)},
		bearer: t.token,
	}, &resp)
	if err != nil {
		return PostRef{}, err
	}
	t.logger.Debug("tweet created", "id", resp.Data.ID)
	return PostRef{ID: resp.Data.ID, URL: "https://x.com/i/web/status/" + resp.Data.ID}, nil
}
