package agent

import (
	"fmt"
	"sync"
	"time"

	"awardbot/internal/domain"
)

// RunStats tallies one process run. It is owned by the intake coordinator
// and read by the CLI.
type RunStats struct {
	mu        sync.Mutex
	startedAt time.Time
	snap      StatsSnapshot
}

// StatsSnapshot is a copy of the counters at one point in time.
type StatsSnapshot struct {
	StartedAt    time.Time
	Received     int
	Duplicates   int
	Forwarded    int
	Completed    int
	AllSucceeded int
	Partial      int
	AllFailed    int
	Rejected     int // store or bus errors at the gate
}

// Pending is the number of forwarded tasks without an outcome yet.
func (s StatsSnapshot) Pending() int {
	return s.Forwarded - s.Completed
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf("received=%d duplicates=%d forwarded=%d completed=%d (succeeded=%d partial=%d failed=%d) pending=%d",
		s.Received, s.Duplicates, s.Forwarded, s.Completed, s.AllSucceeded, s.Partial, s.AllFailed, s.Pending())
}

func NewRunStats() *RunStats {
	now := time.Now()
	return &RunStats{startedAt: now, snap: StatsSnapshot{StartedAt: now}}
}

func (r *RunStats) update(fn func(*StatsSnapshot)) {
	r.mu.Lock()
	fn(&r.snap)
	r.mu.Unlock()
}

func (r *RunStats) received()  { r.update(func(s *StatsSnapshot) { s.Received++ }) }
func (r *RunStats) duplicate() { r.update(func(s *StatsSnapshot) { s.Duplicates++ }) }
func (r *RunStats) forwarded() { r.update(func(s *StatsSnapshot) { s.Forwarded++ }) }
func (r *RunStats) rejected()  { r.update(func(s *StatsSnapshot) { s.Rejected++ }) }

func (r *RunStats) completed(status domain.OutcomeStatus) {
	r.update(func(s *StatsSnapshot) {
		s.Completed++
		switch status {
		case domain.OutcomeAllSucceeded:
			s.AllSucceeded++
		case domain.OutcomePartial:
			s.Partial++
		default:
			s.AllFailed++
		}
	})
}

func (r *RunStats) Snapshot() StatsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}
