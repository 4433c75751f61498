package domain

import (
	"context"
	"time"
)

// ProcessedRecord marks an announcement as accepted by the pipeline. A record
// without an outcome belongs to a run that is in flight or was interrupted.
type ProcessedRecord struct {
	AnnouncementID string           `json:"announcementId"`
	Title          string           `json:"title"`
	URL            string           `json:"url"`
	FirstSeenAt    time.Time        `json:"firstSeenAt"`
	CompletedAt    *time.Time       `json:"completedAt,omitempty"`
	Outcome        *DispatchOutcome `json:"outcome,omitempty"`
}

// Complete reports whether a final outcome has been recorded.
func (r *ProcessedRecord) Complete() bool {
	return r.Outcome != nil
}

// SeenChecker is the read-only view the detector uses.
type SeenChecker interface {
	Seen(ctx context.Context, ids []string) (map[string]bool, error)
}

// RecordStore persists ProcessedRecords.
type RecordStore interface {
	SeenChecker
	Exists(ctx context.Context, id string) (bool, error)
	// Create inserts a record if none exists for its ID and reports whether
	// a row was written.
	Create(ctx context.Context, rec ProcessedRecord) (bool, error)
	RecordOutcome(ctx context.Context, outcome DispatchOutcome) error
	Get(ctx context.Context, id string) (*ProcessedRecord, error)
	List(ctx context.Context, limit int) ([]ProcessedRecord, error)
	ListIncomplete(ctx context.Context) ([]ProcessedRecord, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
