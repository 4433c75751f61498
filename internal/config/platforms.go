package config

import "strings"

// PlatformCommon holds the settings every publisher shares.
type PlatformCommon struct {
	Enabled        bool    `json:"enabled"`
	TimeoutSeconds int     `json:"timeoutSeconds,omitempty"` // 0 = dispatch.publishTimeoutSeconds
	MaxAttempts    int     `json:"maxAttempts,omitempty"`    // 0 = 3
	BaseDelayMs    int     `json:"baseDelayMs,omitempty"`    // 0 = 1000
	MaxDelayMs     int     `json:"maxDelayMs,omitempty"`     // 0 = 30000
	RatePerMinute  float64 `json:"ratePerMinute,omitempty"`  // 0 = unthrottled
}

type TwitterConfig struct {
	PlatformCommon
	AccessToken string `json:"accessToken"` // OAuth 2.0 user-context token
	APIBase     string `json:"apiBase,omitempty"`
}

type FacebookConfig struct {
	PlatformCommon
	PageID          string `json:"pageId"`
	PageAccessToken string `json:"pageAccessToken"`
	APIBase         string `json:"apiBase,omitempty"`
}

type InstagramConfig struct {
	PlatformCommon
	BusinessAccountID string `json:"businessAccountId"`
	AccessToken       string `json:"accessToken"`
	APIBase           string `json:"apiBase,omitempty"`
}

type LinkedInConfig struct {
	PlatformCommon
	AccessToken string `json:"accessToken"`
	AuthorURN   string `json:"authorUrn,omitempty"` // resolved from /v2/userinfo when empty
	APIBase     string `json:"apiBase,omitempty"`
}

type RedditConfig struct {
	PlatformCommon
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	UserAgent    string `json:"userAgent"`
	Subreddit    string `json:"subreddit"`
	AuthBase     string `json:"authBase,omitempty"`
	APIBase      string `json:"apiBase,omitempty"`
}

type TelegramConfig struct {
	PlatformCommon
	Token     string `json:"token"`
	ChatID    string `json:"chatId"` // numeric ID or @channelname
	ParseMode string `json:"parseMode,omitempty"`
}

type DiscordConfig struct {
	PlatformCommon
	Token     string `json:"token"`
	ChannelID string `json:"channelId"`
}

type SlackConfig struct {
	PlatformCommon
	BotToken string `json:"botToken"`
	Channel  string `json:"channel"`
	APIURL   string `json:"apiUrl,omitempty"`
}

// PlatformsConfig lists the publishers. Field order is registration order.
type PlatformsConfig struct {
	Twitter   TwitterConfig   `json:"twitter"`
	Facebook  FacebookConfig  `json:"facebook"`
	Instagram InstagramConfig `json:"instagram"`
	LinkedIn  LinkedInConfig  `json:"linkedin"`
	Reddit    RedditConfig    `json:"reddit"`
	Telegram  TelegramConfig  `json:"telegram"`
	Discord   DiscordConfig   `json:"discord"`
	Slack     SlackConfig     `json:"slack"`
}

// PlatformEntry is one platform's shared settings plus the required fields
// it is missing.
type PlatformEntry struct {
	Name    string
	Common  PlatformCommon
	Missing []string
}

// Usable reports whether the platform takes part in fan-out.
func (e PlatformEntry) Usable() bool {
	return e.Common.Enabled && len(e.Missing) == 0
}

// All returns every platform in registration order.
func (p PlatformsConfig) All() []PlatformEntry {
	return []PlatformEntry{
		{"twitter", p.Twitter.PlatformCommon, missing(
			"accessToken", p.Twitter.AccessToken)},
		{"facebook", p.Facebook.PlatformCommon, missing(
			"pageId", p.Facebook.PageID,
			"pageAccessToken", p.Facebook.PageAccessToken)},
		{"instagram", p.Instagram.PlatformCommon, missing(
			"businessAccountId", p.Instagram.BusinessAccountID,
			"accessToken", p.Instagram.AccessToken)},
		{"linkedin", p.LinkedIn.PlatformCommon, missing(
			"accessToken", p.LinkedIn.AccessToken)},
		{"reddit", p.Reddit.PlatformCommon, missing(
			"clientId", p.Reddit.ClientID,
			"clientSecret", p.Reddit.ClientSecret,
			"username", p.Reddit.Username,
			"password", p.Reddit.Password,
			"subreddit", p.Reddit.Subreddit)},
		{"telegram", p.Telegram.PlatformCommon, missing(
			"token", p.Telegram.Token,
			"chatId", p.Telegram.ChatID)},
		{"discord", p.Discord.PlatformCommon, missing(
			"token", p.Discord.Token,
			"channelId", p.Discord.ChannelID)},
		{"slack", p.Slack.PlatformCommon, missing(
			"botToken", p.Slack.BotToken,
			"channel", p.Slack.Channel)},
	}
}

// missing takes name/value pairs and returns the names whose value is empty
// or an unexpanded ${VAR} reference.
func missing(pairs ...string) []string {
	var out []string
	for i := 0; i+1 < len(pairs); i += 2 {
		v := strings.TrimSpace(pairs[i+1])
		if v == "" || strings.HasPrefix(v, "${") {
			out = append(out, pairs[i])
		}
	}
	return out
}
