package platform

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/slack-go/slack"
)

const slackMaxMsgLen = 3000

// Slack posts a message with an optional image block to a channel.
type Slack struct {
	client  *slack.Client
	channel string
	logger  *slog.Logger
}

type SlackConfig struct {
	BotToken   string
	Channel    string
	APIURL     string // override for tests, must end in "/"
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewSlack(cfg SlackConfig) *Slack {
	opts := []slack.Option{}
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, slack.OptionHTTPClient(cfg.HTTPClient))
	}
	return &Slack{
		client:  slack.New(cfg.BotToken, opts...),
		channel: cfg.Channel,
		logger:  cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Requirements() Requirements {
	return Requirements{MaxTextLen: slackMaxMsgLen}
}

func (s *Slack) Publish(ctx context.Context, post Post) (PostRef, error) {
	text := Truncate(withLink(post.Text, post.Link), slackMaxMsgLen)
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
	}
	if post.ImageURL != "" {
		blocks = append(blocks, slack.NewImageBlock(EncodeImageURL(post.ImageURL), Truncate(post.Title, 100), "", nil))
	}

	channel, ts, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return PostRef{}, classifySlack(err)
	}

	ref := PostRef{ID: ts}
	if link, err := s.client.GetPermalinkContext(ctx, &slack.PermalinkParameters{Channel: channel, Ts: ts}); err == nil {
		ref.URL = link
	} else {
		s.logger.Debug("slack permalink lookup failed", "err", err)
	}
	return ref, nil
}

func classifySlack(err error) error {
	var rlErr *slack.RateLimitedError
	if errors.As(err, &rlErr) {
		return &Error{Platform: "slack", Kind: KindRateLimited, RetryAfter: rlErr.RetryAfter, Err: err}
	}
	var statusErr slack.StatusCodeError
	if errors.As(err, &statusErr) {
		return &Error{Platform: "slack", Kind: KindForStatus(statusErr.Code), StatusCode: statusErr.Code, Err: err}
	}
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) {
		kind := KindValidation
		switch apiErr.Err {
		case "invalid_auth", "not_authed", "token_revoked", "token_expired", "account_inactive", "missing_scope":
			kind = KindAuth
		case "ratelimited":
			kind = KindRateLimited
		case "internal_error", "fatal_error", "service_unavailable", "request_timeout":
			kind = KindTransient
		}
		return &Error{Platform: "slack", Kind: kind, Message: apiErr.Err, Err: err}
	}
	return NetworkError("slack", err)
}
