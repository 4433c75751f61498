// Package platform holds the social-network publishers. Every variant
// implements Publisher; the pipeline never depends on a concrete client.
package platform

import (
	"context"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Requirements describe what a platform needs before a post can be attempted.
type Requirements struct {
	NeedsImage bool
	MaxTextLen int // in runes, 0 = no limit
}

// Post is the platform-neutral content handed to a publisher.
type Post struct {
	AnnouncementID string
	Title          string
	Text           string
	Link           string
	ImageURL       string
	Hashtags       []string
}

// PostRef identifies the created post.
type PostRef struct {
	ID  string
	URL string
}

// Publisher posts content to one platform.
type Publisher interface {
	Name() string
	Requirements() Requirements
	Publish(ctx context.Context, post Post) (PostRef, error)
}

// Truncate shortens s to at most max runes, ending with an ellipsis when cut.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	if max <= 3 {
		return string(r[:max])
	}
	return strings.TrimRightFunc(string(r[:max-3]), isSpace) + "..."
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t'
}

// EncodeImageURL percent-encodes the path of an image URL so non-ASCII file
// names survive platform fetchers. Already encoded paths are left intact.
func EncodeImageURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	// Path holds the decoded form; dropping RawPath makes String re-encode it.
	u.RawPath = ""
	return u.String()
}

// withLink appends the announcement link to text unless it is already present.
func withLink(text, link string) string {
	if link == "" || strings.Contains(text, link) {
		return text
	}
	if text == "" {
		return link
	}
	return text + "\n\n" + link
}

// fitText keeps the link intact and truncates the body so the whole fits max runes.
func fitText(text, link string, max int) string {
	full := withLink(text, link)
	if max <= 0 || utf8.RuneCountInString(full) <= max {
		return full
	}
	if link == "" {
		return Truncate(text, max)
	}
	room := max - utf8.RuneCountInString(link) - 2
	if room < 4 {
		return Truncate(link, max)
	}
	return Truncate(text, room) + "\n\n" + link
}
