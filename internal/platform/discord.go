package platform

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

const discordMaxMsgLen = 2000

// Discord posts an embed to a channel over the REST API. No gateway
// connection is opened.
type Discord struct {
	token     string
	channelID string
	logger    *slog.Logger

	mu      sync.Mutex
	session *discordgo.Session
}

type DiscordConfig struct {
	Token     string
	ChannelID string
	Logger    *slog.Logger
}

func NewDiscord(cfg DiscordConfig) *Discord {
	return &Discord{
		token:     cfg.Token,
		channelID: cfg.ChannelID,
		logger:    cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Requirements() Requirements {
	return Requirements{MaxTextLen: discordMaxMsgLen}
}

func (d *Discord) api() (*discordgo.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		return d.session, nil
	}
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return nil, &Error{Platform: "discord", Kind: KindAuth, Err: err}
	}
	// Retries are owned by the publisher agent.
	session.ShouldRetryOnRateLimit = false
	d.session = session
	return session, nil
}

func (d *Discord) Publish(ctx context.Context, post Post) (PostRef, error) {
	session, err := d.api()
	if err != nil {
		return PostRef{}, err
	}

	send := &discordgo.MessageSend{Content: Truncate(withLink(post.Text, post.Link), discordMaxMsgLen)}
	if post.Title != "" || post.ImageURL != "" {
		embed := &discordgo.MessageEmbed{
			Title: Truncate(post.Title, 256),
			URL:   post.Link,
		}
		if post.ImageURL != "" {
			embed.Image = &discordgo.MessageEmbedImage{URL: EncodeImageURL(post.ImageURL)}
		}
		send.Embeds = []*discordgo.MessageEmbed{embed}
	}

	msg, err := session.ChannelMessageSendComplex(d.channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return PostRef{}, classifyDiscord(err)
	}
	ref := PostRef{ID: msg.ID}
	if msg.GuildID != "" {
		ref.URL = "https://discord.com/channels/" + msg.GuildID + "/" + msg.ChannelID + "/" + msg.ID
	}
	return ref, nil
}

func classifyDiscord(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		e := StatusError("discord", restErr.Response.StatusCode, restErr.Response.Header, string(restErr.ResponseBody))
		e.Err = err
		return e
	}
	var rlErr *discordgo.RateLimitError
	if errors.As(err, &rlErr) {
		return &Error{Platform: "discord", Kind: KindRateLimited, RetryAfter: rlErr.RetryAfter, Err: err}
	}
	return NetworkError("discord", err)
}
