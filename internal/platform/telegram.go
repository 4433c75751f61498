package platform

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen  = 4000
	telegramCaptionMax = 1024
)

// Telegram posts to a chat or channel through the Bot API.
type Telegram struct {
	token     string
	chatID    string
	parseMode string
	endpoint  string
	client    *http.Client
	logger    *slog.Logger

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

type TelegramConfig struct {
	Token      string
	ChatID     string // numeric chat ID or @channelname
	ParseMode  string
	Endpoint   string // Bot API endpoint format, defaults to tgbotapi.APIEndpoint
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(0)
	}
	return &Telegram{
		token:     cfg.Token,
		chatID:    cfg.ChatID,
		parseMode: cfg.ParseMode,
		endpoint:  cfg.Endpoint,
		client:    cfg.HTTPClient,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Requirements() Requirements {
	return Requirements{MaxTextLen: telegramMaxMsgLen}
}

// api connects lazily so a bad token surfaces as a publish failure rather
// than a startup error.
func (t *Telegram) api() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return nil, t.classify(err)
	}
	t.bot = bot
	t.logger.Info("telegram bot authorized", "username", bot.Self.UserName)
	return bot, nil
}

func (t *Telegram) Publish(ctx context.Context, post Post) (PostRef, error) {
	bot, err := t.api()
	if err != nil {
		return PostRef{}, err
	}

	msg := t.buildMessage(post)

	type sendResult struct {
		msg tgbotapi.Message
		err error
	}
	// The Bot API client has no context support; the send is abandoned, not
	// cancelled, when ctx ends first.
	done := make(chan sendResult, 1)
	go func() {
		m, err := bot.Send(msg)
		done <- sendResult{m, err}
	}()

	select {
	case <-ctx.Done():
		return PostRef{}, NetworkError("telegram", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return PostRef{}, t.classify(res.err)
		}
		id := strconv.Itoa(res.msg.MessageID)
		return PostRef{ID: id, URL: t.messageURL(res.msg)}, nil
	}
}

func (t *Telegram) buildMessage(post Post) tgbotapi.Chattable {
	text := t.format(post)
	chatID, numErr := strconv.ParseInt(t.chatID, 10, 64)

	if post.ImageURL != "" {
		file := tgbotapi.FileURL(EncodeImageURL(post.ImageURL))
		var photo tgbotapi.PhotoConfig
		if numErr == nil {
			photo = tgbotapi.NewPhoto(chatID, file)
		} else {
			photo = tgbotapi.NewPhotoToChannel(t.chatID, file)
		}
		photo.Caption = Truncate(text, telegramCaptionMax)
		photo.ParseMode = t.parseMode
		return photo
	}

	var msg tgbotapi.MessageConfig
	if numErr == nil {
		msg = tgbotapi.NewMessage(chatID, Truncate(text, telegramMaxMsgLen))
	} else {
		msg = tgbotapi.NewMessageToChannel(t.chatID, Truncate(text, telegramMaxMsgLen))
	}
	msg.ParseMode = t.parseMode
	return msg
}

func (t *Telegram) format(post Post) string {
	if !strings.EqualFold(t.parseMode, tgbotapi.ModeHTML) {
		return withLink(post.Text, post.Link)
	}
	var b strings.Builder
	if post.Title != "" {
		b.WriteString("<b>" + html.EscapeString(post.Title) + "</b>\n\n")
	}
	b.WriteString(html.EscapeString(post.Text))
	if post.Link != "" {
		fmt.Fprintf(&b, "\n\n<a href=\"%s\">%s</a>", html.EscapeString(post.Link), html.EscapeString(post.Link))
	}
	return b.String()
}

func (t *Telegram) messageURL(m tgbotapi.Message) string {
	if m.Chat != nil && m.Chat.UserName != "" {
		return fmt.Sprintf("https://t.me/%s/%d", m.Chat.UserName, m.MessageID)
	}
	return ""
}

func (t *Telegram) classify(err error) error {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		e := &Error{
			Platform:   "telegram",
			Kind:       KindForStatus(tgErr.Code),
			StatusCode: tgErr.Code,
			Message:    tgErr.Message,
			Err:        err,
		}
		if tgErr.RetryAfter > 0 {
			e.Kind = KindRateLimited
			e.RetryAfter = time.Duration(tgErr.RetryAfter) * time.Second
		}
		return e
	}
	// NewBotAPI reports a rejected token as a plain error.
	if strings.Contains(err.Error(), "Unauthorized") {
		return &Error{Platform: "telegram", Kind: KindAuth, Err: err}
	}
	return NetworkError("telegram", err)
}
