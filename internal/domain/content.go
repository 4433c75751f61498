package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrGeneratorUnreachable = errors.New("generator unreachable")
	ErrGeneratorTimeout     = errors.New("generator timeout")
	ErrMalformedOutput      = errors.New("malformed generator output")
)

// ContentPackage is the localized copy produced once per announcement.
type ContentPackage struct {
	AnnouncementID string            `json:"announcementId"`
	Announcement   *Announcement     `json:"-"`
	Titles         map[string]string `json:"titles,omitempty"`
	Texts          map[string]string `json:"texts"`
	Hashtags       []string          `json:"hashtags,omitempty"`
	PlatformTexts  map[string]string `json:"platformTexts,omitempty"`
	Generator      string            `json:"generator"`
	GeneratedAt    time.Time         `json:"generatedAt"`
}

// HasText reports whether at least one of the given languages has non-empty text.
func (c *ContentPackage) HasText(languages []string) bool {
	if c == nil {
		return false
	}
	for _, lang := range languages {
		if strings.TrimSpace(c.Texts[lang]) != "" {
			return true
		}
	}
	return false
}

// TextFor returns the text to publish on the given platform: the
// platform-specific variant when present, otherwise the first non-empty
// language text in the given order.
func (c *ContentPackage) TextFor(platform string, languages []string) string {
	if c == nil {
		return ""
	}
	if t := c.PlatformTexts[platform]; t != "" {
		return t
	}
	for _, lang := range languages {
		if t := strings.TrimSpace(c.Texts[lang]); t != "" {
			return t
		}
	}
	return ""
}

// Generator turns an announcement into promotional copy.
type Generator interface {
	Name() string
	Generate(ctx context.Context, ann *Announcement, languages []string) (*ContentPackage, error)
	Healthy(ctx context.Context) error
}

// Source lists the announcements currently visible at the origin.
type Source interface {
	ListCurrentAnnouncements(ctx context.Context) ([]Announcement, error)
}
