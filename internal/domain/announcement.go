package domain

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// Announcement is a single award announcement discovered at the source.
// It is immutable once published on the bus.
type Announcement struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
	DetectedAt  time.Time `json:"detectedAt"`
}

// HasImage reports whether the announcement carries an image reference.
func (a *Announcement) HasImage() bool {
	return a != nil && a.ImageURL != ""
}

// AnnouncementID derives the stable identifier of an announcement from its
// source content, so repeated scans of the same item yield the same ID.
func AnnouncementID(publishedAt time.Time, title, summary string) string {
	sum := md5.Sum([]byte(title + summary))
	return "award_" + publishedAt.Format("20060102") + "_" + hex.EncodeToString(sum[:])[:8]
}
