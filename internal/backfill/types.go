package backfill

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// JobType enumerates the supported job variants.
type JobType string

const (
	// JobTypeGameTypes adds game_type to every per-game file that lacks it.
	JobTypeGameTypes JobType = "game_types"
	// JobTypeGamesIndex copies per-game classifications onto games.json.
	JobTypeGamesIndex JobType = "games_index"
	// JobTypeMigrate runs game_types then games_index.
	JobTypeMigrate JobType = "migrate"
	// JobTypeDualStats regenerates both statistics variants.
	JobTypeDualStats JobType = "dual_stats"
)

// JobTypes lists every accepted job type.
var JobTypes = []JobType{JobTypeGameTypes, JobTypeGamesIndex, JobTypeMigrate, JobTypeDualStats}

// ParseJobType validates a job type name.
func ParseJobType(s string) (JobType, error) {
	t := JobType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range JobTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown job type %q", s)
}

// JobStatus represents the lifecycle state for a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job models the stored representation of a queued job.
type Job struct {
	JobID           string
	JobType         JobType
	DryRun          bool
	Status          JobStatus
	StatusMessage   sql.NullString
	ProgressCurrent int
	ProgressTotal   int
	FilesUpdated    int
	FilesSkipped    int
	FilesFailed     int
	LastError       sql.NullString
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       sql.NullTime
	CompletedAt     sql.NullTime
}

// Copy returns a shallow copy to prevent external mutation.
func (j *Job) Copy() *Job {
	if j == nil {
		return nil
	}
	cpy := *j
	return &cpy
}

// JobSpec describes the work to be performed by the runner.
type JobSpec struct {
	Type   JobType
	DryRun bool
}

// Outcome is what happened to a single file.
type Outcome string

const (
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// FileResult reports one processed file.
type FileResult struct {
	Name     string
	Outcome  Outcome
	GameType string
}

// GameTypesSummary counts the results of a game-type backfill.
type GameTypesSummary struct {
	Updated    int `json:"updated"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	Tournament int `json:"tournament"`
	Season     int `json:"season"`
}

// Total is the number of files handled without error.
func (s GameTypesSummary) Total() int {
	return s.Updated + s.Skipped
}

// IndexSummary counts the results of a games-index sync.
type IndexSummary struct {
	// Loaded is the number of game ids read from the per-game files.
	Loaded         int    `json:"loaded"`
	Updated        int    `json:"updated"`
	Elements       int    `json:"elements"`
	FilesFailed    int    `json:"files_failed"`
	IndexError     string `json:"index_error,omitempty"`
	IndexRewritten bool   `json:"index_rewritten"`
}

// Summary is the result of one runner invocation.
type Summary struct {
	JobType   JobType           `json:"job_type"`
	DryRun    bool              `json:"dry_run"`
	GameTypes *GameTypesSummary `json:"game_types,omitempty"`
	Index     *IndexSummary     `json:"games_index,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
}

// Counts folds the per-job counters into updated/skipped/failed totals.
func (s *Summary) Counts() (updated, skipped, failed int) {
	if s == nil {
		return 0, 0, 0
	}
	if s.GameTypes != nil {
		updated += s.GameTypes.Updated
		skipped += s.GameTypes.Skipped
		failed += s.GameTypes.Failed
	}
	if s.Index != nil {
		updated += s.Index.Updated
		failed += s.Index.FilesFailed
		if s.Index.IndexError != "" {
			failed++
		}
	}
	return updated, skipped, failed
}

// Reporter receives lifecycle callbacks from the runner.
type Reporter interface {
	OnJobStart(spec JobSpec)
	OnFileProcessed(result FileResult)
	OnFileError(name string, err error)
	OnProgress(message string, current int, total int)
	OnJobComplete(summary *Summary)
	OnJobError(err error)
}

// StatusSummary is returned to API callers.
type StatusSummary struct {
	ActiveJob *Job   `json:"active_job,omitempty"`
	History   []*Job `json:"recent_jobs,omitempty"`
}

type nopReporter struct{}

func (nopReporter) OnJobStart(JobSpec)          {}
func (nopReporter) OnFileProcessed(FileResult)  {}
func (nopReporter) OnFileError(string, error)   {}
func (nopReporter) OnProgress(string, int, int) {}
func (nopReporter) OnJobComplete(*Summary)      {}
func (nopReporter) OnJobError(error)            {}
