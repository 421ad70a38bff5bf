package backfill

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository persists jobs and their event log.
type Repository interface {
	CreateJob(ctx context.Context, job *Job) (*Job, error)
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, message string, lastErr error) error
	UpdateProgress(ctx context.Context, jobID string, current, total int, message string) error
	UpdateCounts(ctx context.Context, jobID string, updated, skipped, failed int) error
	AppendEvent(ctx context.Context, jobID string, eventType, message string) error
	ResetStuckJobs(ctx context.Context) error
	MarkNextJobRunning(ctx context.Context) (*Job, error)
	GetActiveJob(ctx context.Context) (*Job, error)
	ListRecentJobs(ctx context.Context, limit int) ([]*Job, error)
}

// Event is one entry of a job's event log.
type Event struct {
	JobID     string
	EventType string
	Message   string
	CreatedAt time.Time
}

// MemoryRepository keeps jobs in process memory. History is lost on restart.
type MemoryRepository struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	order  []string
	events []Event
	now    func() time.Time
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

func (r *MemoryRepository) CreateJob(_ context.Context, job *Job) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := job.Copy()
	if stored.JobID == "" {
		stored.JobID = uuid.NewString()
	}
	if _, exists := r.jobs[stored.JobID]; exists {
		return nil, fmt.Errorf("job %s already exists", stored.JobID)
	}
	now := r.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.jobs[stored.JobID] = stored
	r.order = append(r.order, stored.JobID)
	return stored.Copy(), nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, jobID string, status JobStatus, message string, lastErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("update job status: job %s not found", jobID)
	}
	now := r.now()
	job.Status = status
	job.StatusMessage = sql.NullString{String: message, Valid: true}
	job.LastError = sql.NullString{}
	if lastErr != nil {
		job.LastError = sql.NullString{String: lastErr.Error(), Valid: true}
	}
	job.UpdatedAt = now
	if status.Terminal() {
		job.CompletedAt = sql.NullTime{Time: now, Valid: true}
	}
	return nil
}

func (r *MemoryRepository) UpdateProgress(_ context.Context, jobID string, current, total int, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("update job progress: job %s not found", jobID)
	}
	job.ProgressCurrent = current
	job.ProgressTotal = total
	job.StatusMessage = sql.NullString{String: message, Valid: true}
	job.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) UpdateCounts(_ context.Context, jobID string, updated, skipped, failed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("update job counts: job %s not found", jobID)
	}
	job.FilesUpdated = updated
	job.FilesSkipped = skipped
	job.FilesFailed = failed
	job.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) AppendEvent(_ context.Context, jobID string, eventType, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[jobID]; !ok {
		return fmt.Errorf("insert job event: job %s not found", jobID)
	}
	r.events = append(r.events, Event{JobID: jobID, EventType: eventType, Message: message, CreatedAt: r.now()})
	return nil
}

// Events returns the event log of a job, oldest first.
func (r *MemoryRepository) Events(jobID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, e := range r.events {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out
}

func (r *MemoryRepository) ResetStuckJobs(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, job := range r.jobs {
		if job.Status == JobStatusRunning {
			job.Status = JobStatusQueued
			job.StatusMessage = sql.NullString{String: "Reset after service restart", Valid: true}
			job.UpdatedAt = r.now()
		}
	}
	return nil
}

func (r *MemoryRepository) MarkNextJobRunning(context.Context) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		job := r.jobs[id]
		if job.Status != JobStatusQueued {
			continue
		}
		now := r.now()
		job.Status = JobStatusRunning
		job.StatusMessage = sql.NullString{String: "Starting job...", Valid: true}
		if !job.StartedAt.Valid {
			job.StartedAt = sql.NullTime{Time: now, Valid: true}
		}
		job.UpdatedAt = now
		return job.Copy(), nil
	}
	return nil, nil
}

func (r *MemoryRepository) GetActiveJob(context.Context) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var active *Job
	for _, job := range r.jobs {
		if job.Status != JobStatusRunning {
			continue
		}
		if active == nil || job.StartedAt.Time.After(active.StartedAt.Time) {
			active = job
		}
	}
	return active.Copy(), nil
}

func (r *MemoryRepository) ListRecentJobs(_ context.Context, limit int) ([]*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs := make([]*Job, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		jobs = append(jobs, r.jobs[r.order[i]].Copy())
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
