package platform

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
)

const graphAPIBase = "https://graph.facebook.com/v21.0"

// Facebook publishes to a page: a photo post when an image is attached,
// otherwise a link post on the feed.
type Facebook struct {
	api     apiClient
	pageID  string
	token   string
	apiBase string
	logger  *slog.Logger
}

type FacebookConfig struct {
	PageID          string
	PageAccessToken string
	APIBase         string
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

func NewFacebook(cfg FacebookConfig) *Facebook {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(0)
	}
	return &Facebook{
		api:     apiClient{platform: "facebook", http: cfg.HTTPClient},
		pageID:  cfg.PageID,
		token:   cfg.PageAccessToken,
		apiBase: trimBase(cfg.APIBase, graphAPIBase),
		logger:  cfg.Logger,
	}
}

func (f *Facebook) Name() string { return "facebook" }

func (f *Facebook) Requirements() Requirements { return Requirements{} }

func (f *Facebook) Publish(ctx context.Context, post Post) (PostRef, error) {
	form := url.Values{"access_token": {f.token}}
	endpoint := f.apiBase + "/" + f.pageID + "/feed"
	if post.ImageURL != "" {
		endpoint = f.apiBase + "/" + f.pageID + "/photos"
		form.Set("url", EncodeImageURL(post.ImageURL))
		form.Set("caption", withLink(post.Text, post.Link))
	} else {
		form.Set("message", post.Text)
		if post.Link != "" {
			form.Set("link", post.Link)
		}
	}

	var resp struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	if _, err := f.api.do(ctx, request{method: http.MethodPost, url: endpoint, form: form}, &resp); err != nil {
		return PostRef{}, err
	}
	id := resp.PostID
	if id == "" {
		id = resp.ID
	}
	return PostRef{ID: id, URL: "https://www.facebook.com/" + id}, nil
}
