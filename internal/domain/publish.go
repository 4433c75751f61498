package domain

import "time"

type PublishStatus string

const (
	PublishSuccess PublishStatus = "success"
	PublishFailed  PublishStatus = "failed"
	PublishSkipped PublishStatus = "skipped"
)

type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureTransient FailureKind = "transient"
	FailurePermanent FailureKind = "permanent"
	FailureTimeout   FailureKind = "timeout"
	FailureNoContent FailureKind = "no_content"
	FailureNoImage   FailureKind = "no_image"
)

// PublishRequest asks one platform publisher to post the content.
type PublishRequest struct {
	AnnouncementID string
	Platform       string
	Announcement   *Announcement
	Content        *ContentPackage
}

// PublishResult is the single answer a publisher gives per request.
type PublishResult struct {
	AnnouncementID string        `json:"announcementId"`
	Platform       string        `json:"platform"`
	Status         PublishStatus `json:"status"`
	FailureKind    FailureKind   `json:"failureKind,omitempty"`
	PostID         string        `json:"postId,omitempty"`
	PostURL        string        `json:"postUrl,omitempty"`
	Error          string        `json:"error,omitempty"`
	Attempts       int           `json:"attempts"`
	Elapsed        time.Duration `json:"elapsed"`
}

type OutcomeStatus string

const (
	OutcomeAllSucceeded OutcomeStatus = "all_succeeded"
	OutcomePartial      OutcomeStatus = "partial"
	OutcomeAllFailed    OutcomeStatus = "all_failed"
)

// DispatchOutcome is the reconciled result of one dispatch run.
type DispatchOutcome struct {
	AnnouncementID string          `json:"announcementId"`
	Title          string          `json:"title,omitempty"`
	Status         OutcomeStatus   `json:"status"`
	Succeeded      int             `json:"succeeded"`
	Failed         int             `json:"failed"`
	Skipped        int             `json:"skipped"`
	Results        []PublishResult `json:"results"`
	Reason         string          `json:"reason,omitempty"`
	StartedAt      time.Time       `json:"startedAt"`
	CompletedAt    time.Time       `json:"completedAt"`
}

// NewDispatchOutcome tallies results (kept in the given order) and derives
// the overall status. Skipped results never count as failures.
func NewDispatchOutcome(ann *Announcement, results []PublishResult, startedAt, completedAt time.Time) *DispatchOutcome {
	o := &DispatchOutcome{
		Results:     results,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}
	if ann != nil {
		o.AnnouncementID = ann.ID
		o.Title = ann.Title
	}
	for _, r := range results {
		switch r.Status {
		case PublishSuccess:
			o.Succeeded++
		case PublishFailed:
			o.Failed++
		default:
			o.Skipped++
		}
	}
	switch {
	case o.Succeeded > 0 && o.Failed == 0:
		o.Status = OutcomeAllSucceeded
	case o.Succeeded > 0:
		o.Status = OutcomePartial
	default:
		o.Status = OutcomeAllFailed
	}
	return o
}
