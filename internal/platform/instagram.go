package platform

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
)

const instagramCaptionMax = 2200

// Instagram publishes an image post via the Graph API in two steps: create
// a media container, then publish it.
type Instagram struct {
	api       apiClient
	accountID string
	token     string
	apiBase   string
	logger    *slog.Logger
}

type InstagramConfig struct {
	BusinessAccountID string
	AccessToken       string
	APIBase           string
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

func NewInstagram(cfg InstagramConfig) *Instagram {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(0)
	}
	return &Instagram{
		api:       apiClient{platform: "instagram", http: cfg.HTTPClient},
		accountID: cfg.BusinessAccountID,
		token:     cfg.AccessToken,
		apiBase:   trimBase(cfg.APIBase, graphAPIBase),
		logger:    cfg.Logger,
	}
}

func (i *Instagram) Name() string { return "instagram" }

func (i *Instagram) Requirements() Requirements {
	return Requirements{NeedsImage: true, MaxTextLen: instagramCaptionMax}
}

func (i *Instagram) Publish(ctx context.Context, post Post) (PostRef, error) {
	if post.ImageURL == "" {
		return PostRef{}, &Error{Platform: "instagram", Kind: KindValidation, Message: "image required"}
	}

	var container struct {
		ID string `json:"id"`
	}
	_, err := i.api.do(ctx, request{
		method: http.MethodPost,
		url:    i.apiBase + "/" + i.accountID + "/media",
		form: url.Values{
			"image_url":    {EncodeImageURL(post.ImageURL)},
			"caption":      {Truncate(post.Text, instagramCaptionMax)},
			"access_token": {i.token},
		},
	}, &container)
	if err != nil {
		return PostRef{}, err
	}
	i.logger.Debug("instagram container created", "container", container.ID)

	var published struct {
		ID string `json:"id"`
	}
	_, err = i.api.do(ctx, request{
		method: http.MethodPost,
		url:    i.apiBase + "/" + i.accountID + "/media_publish",
		form: url.Values{
			"creation_id":  {container.ID},
			"access_token": {i.token},
		},
	}, &published)
	if err != nil {
		return PostRef{}, err
	}
	return PostRef{ID: published.ID}, nil
}
