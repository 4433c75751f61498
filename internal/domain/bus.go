package domain

import (
	"context"
	"time"
)

// Topic names a class of pipeline message.
type Topic string

const (
	TopicNewAnnouncement  Topic = "new_announcement"
	TopicTaskAssignment   Topic = "task_assignment"
	TopicContentRequest   Topic = "content_request"
	TopicContentGenerated Topic = "content_generated"
	TopicPublishRequest   Topic = "publish_request"
	TopicPublishResult    Topic = "publish_result"
	TopicDispatchComplete Topic = "dispatch_complete"
)

// Message is the envelope carried by the bus. Payload holds one of the
// payload types below, always by pointer.
type Message struct {
	ID        string
	Topic     Topic
	Sender    string
	Payload   any
	Timestamp time.Time
}

// Handler consumes one message. A returned error is logged by the bus and
// never reaches the publisher.
type Handler func(ctx context.Context, msg Message) error

// Subscription is returned by Subscribe; Close stops future deliveries.
type Subscription interface {
	Close()
}

// MessageBus routes messages between the pipeline agents.
type MessageBus interface {
	Publish(ctx context.Context, topic Topic, sender string, payload any) error
	Subscribe(topic Topic, name string, handler Handler) Subscription
	Close()
}

// NewAnnouncement is the payload of TopicNewAnnouncement.
type NewAnnouncement struct {
	Announcement *Announcement
}

// TaskAssignment is the payload of TopicTaskAssignment.
type TaskAssignment struct {
	Announcement *Announcement
	Priority     int
}

// ContentRequest is the payload of TopicContentRequest.
type ContentRequest struct {
	Announcement *Announcement
	Languages    []string
}

// ContentGenerated is the payload of TopicContentGenerated. Exactly one of
// Content and Err is set.
type ContentGenerated struct {
	AnnouncementID string
	Content        *ContentPackage
	Err            string
}

// DispatchComplete is the payload of TopicDispatchComplete.
type DispatchComplete struct {
	Outcome *DispatchOutcome
}
