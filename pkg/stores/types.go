package stores

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/agent/pkg/engine"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// EntryClass is the report list an entry was recorded in.
type EntryClass string

const (
	EntryClassGood     EntryClass = "good"
	EntryClassBad      EntryClass = "bad"
	EntryClassModified EntryClass = "modified"
	EntryClassExtra    EntryClass = "extra"
)

// Run is the summary row of one recorded run.
type Run struct {
	ID            string          `json:"id" yaml:"id"`
	Revision      string          `json:"revision" yaml:"revision"`
	State         engine.RunState `json:"state" yaml:"state"`
	DryRun        bool            `json:"dry_run" yaml:"dry_run"`
	OnlyImportant bool            `json:"only_important" yaml:"only_important"`
	Total         int             `json:"total" yaml:"total"`
	Good          int             `json:"good" yaml:"good"`
	Bad           int             `json:"bad" yaml:"bad"`
	Modified      int             `json:"modified" yaml:"modified"`
	Extra         int             `json:"extra" yaml:"extra"`
	Failures      int             `json:"failures" yaml:"failures"`
	StartedAt     time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt    time.Time       `json:"finished_at" yaml:"finished_at"`
}

// Duration returns the wall time of the run.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunEntry records an entry that appeared in a run report.
type RunEntry struct {
	RunID string     `json:"run_id"`
	Class EntryClass `json:"class"`
	Kind  string     `json:"kind"`
	Name  string     `json:"name"`
}

// Store persists run reports.
type Store interface {
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) error

	// SaveReport records a finished run.
	SaveReport(ctx context.Context, report *engine.Report) error

	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)

	// GetRun returns the summary row of a run.
	GetRun(ctx context.Context, id string) (*Run, error)

	// GetReport returns the full report of a run.
	GetReport(ctx context.Context, id string) (*engine.Report, error)

	// EntryHistory returns the runs in which an entry was recorded, newest
	// first.
	EntryHistory(ctx context.Context, kind, name string, limit int) ([]*RunEntry, error)

	// Prune deletes all but the newest keep runs.
	Prune(ctx context.Context, keep int) (int64, error)
}
