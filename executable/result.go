package executable

import (
	"fmt"
	"time"

	"github.com/contentmigrate/migrate-framework/events"
	"github.com/contentmigrate/migrate-framework/row"
)

// State is the state of one run.
type State int

const (
	StateIdle State = iota
	StateRunning
	// StateCompleted means the source was exhausted, or the run limit was reached.
	StateCompleted
	// StateStopped means the run was cancelled or its deadline passed. Committed rows stay.
	StateStopped
	// StateFailed means a fatal error or the failure threshold aborted the run.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result summarizes a run.
type Result struct {
	MigrationID string
	State       State
	// Processed counts rows that entered the pipeline.
	Processed int
	Created   int
	Updated   int
	// Skipped counts rows the process pipeline skipped. Each is recorded as ignored in the id map.
	Skipped    int
	Failed     int
	UpToDate   int
	RolledBack int
	// FailedIDs holds the source ids of the failed rows, in source order.
	FailedIDs  []row.IDs
	StartedAt  time.Time
	FinishedAt time.Time
	// Err is the reason the run failed or stopped.
	Err error
}

// Counts converts the result into the counts carried by run events.
func (r Result) Counts() events.Counts {
	return events.Counts{
		State:      r.State.String(),
		Processed:  r.Processed,
		Created:    r.Created,
		Updated:    r.Updated,
		Skipped:    r.Skipped,
		Failed:     r.Failed,
		UpToDate:   r.UpToDate,
		RolledBack: r.RolledBack,
	}
}

// Duration returns the wall time of the run.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
