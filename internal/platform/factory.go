package platform

import (
	"log/slog"
	"strings"

	"awardbot/internal/config"
)

// Entry is a publisher selected for fan-out with its shared settings.
type Entry struct {
	Publisher Publisher
	Settings  config.PlatformCommon
}

// Excluded names a configured platform left out of fan-out and why.
type Excluded struct {
	Name   string
	Reason string
}

// Build creates the enabled, fully configured publishers in registration
// order. Disabled or incomplete platforms are reported, not treated as errors.
func Build(cfg config.PlatformsConfig, logger *slog.Logger) ([]Entry, []Excluded) {
	var (
		entries  []Entry
		excluded []Excluded
	)
	for _, p := range cfg.All() {
		if !p.Common.Enabled {
			excluded = append(excluded, Excluded{Name: p.Name, Reason: "disabled"})
			continue
		}
		if len(p.Missing) > 0 {
			excluded = append(excluded, Excluded{Name: p.Name, Reason: "missing " + strings.Join(p.Missing, ", ")})
			continue
		}
		pub := newPublisher(p.Name, cfg, logger.With("platform", p.Name))
		if pub == nil {
			excluded = append(excluded, Excluded{Name: p.Name, Reason: "no publisher implementation"})
			continue
		}
		entries = append(entries, Entry{Publisher: pub, Settings: p.Common})
	}
	return entries, excluded
}

func newPublisher(name string, cfg config.PlatformsConfig, logger *slog.Logger) Publisher {
	switch name {
	case "twitter":
		return NewTwitter(TwitterConfig{
			AccessToken: cfg.Twitter.AccessToken,
			APIBase:     cfg.Twitter.APIBase,
			Logger:      logger,
		})
	case "facebook":
		return NewFacebook(FacebookConfig{
			PageID:          cfg.Facebook.PageID,
			PageAccessToken: cfg.Facebook.PageAccessToken,
			APIBase:         cfg.Facebook.APIBase,
			Logger:          logger,
		})
	case "instagram":
		return NewInstagram(InstagramConfig{
			BusinessAccountID: cfg.Instagram.BusinessAccountID,
			AccessToken:       cfg.Instagram.AccessToken,
			APIBase:           cfg.Instagram.APIBase,
			Logger:            logger,
		})
	case "linkedin":
		return NewLinkedIn(LinkedInConfig{
			AccessToken: cfg.LinkedIn.AccessToken,
			AuthorURN:   cfg.LinkedIn.AuthorURN,
			APIBase:     cfg.LinkedIn.APIBase,
			Logger:      logger,
		})
	case "reddit":
		return NewReddit(RedditConfig{
			ClientID:     cfg.Reddit.ClientID,
			ClientSecret: cfg.Reddit.ClientSecret,
			Username:     cfg.Reddit.Username,
			Password:     cfg.Reddit.Password,
			UserAgent:    cfg.Reddit.UserAgent,
			Subreddit:    cfg.Reddit.Subreddit,
			AuthBase:     cfg.Reddit.AuthBase,
			APIBase:      cfg.Reddit.APIBase,
			Logger:       logger,
		})
	case "telegram":
		return NewTelegram(TelegramConfig{
			Token:     cfg.Telegram.Token,
			ChatID:    cfg.Telegram.ChatID,
			ParseMode: cfg.Telegram.ParseMode,
			Logger:    logger,
		})
	case "discord":
		return NewDiscord(DiscordConfig{
			Token:     cfg.Discord.Token,
			ChannelID: cfg.Discord.ChannelID,
			Logger:    logger,
		})
	case "slack":
		return NewSlack(SlackConfig{
			BotToken: cfg.Slack.BotToken,
			Channel:  cfg.Slack.Channel,
			APIURL:   cfg.Slack.APIURL,
			Logger:   logger,
		})
	}
	return nil
}
