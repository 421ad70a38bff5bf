package backfill

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fortuna/lheq/internal/metrics"
)

// Request represents a job submission.
type Request struct {
	JobType string
	DryRun  bool
}

// JobRunner executes a job spec. *Runner satisfies it.
type JobRunner interface {
	Run(ctx context.Context, spec JobSpec, reporter Reporter) (*Summary, error)
}

// CompletionFunc is called after a job reaches a terminal state.
type CompletionFunc func(job *Job, summary *Summary)

// Service coordinates job persistence, execution, and status reporting. One
// worker runs jobs in submission order, so jobs never overlap.
type Service struct {
	repo   Repository
	runner JobRunner

	historyLimit int
	pollInterval time.Duration
	onComplete   CompletionFunc
	metrics      *metrics.Registry

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger zerolog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithServiceLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

func WithCompletionHook(fn CompletionFunc) ServiceOption {
	return func(s *Service) { s.onComplete = fn }
}

func WithServiceMetrics(m *metrics.Registry) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithPollInterval sets how often the worker looks for jobs queued by other
// processes sharing the repository.
func WithPollInterval(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// NewService constructs a Service. Call Start to launch the worker.
func NewService(repo Repository, runner JobRunner, opts ...ServiceOption) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		repo:         repo,
		runner:       runner,
		historyLimit: 10,
		pollInterval: 3 * time.Second,
		wake:         make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background worker loop.
func (s *Service) Start() {
	if err := s.repo.ResetStuckJobs(s.ctx); err != nil {
		s.logger.Error().Err(err).Msg("failed to reset jobs")
	}

	s.wg.Add(1)
	go s.worker()
	s.notify()
}

// Shutdown stops the worker and waits for the running job to return.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Enqueue creates a new queued job from the request.
func (s *Service) Enqueue(ctx context.Context, req Request) (*Job, error) {
	jobType, err := ParseJobType(req.JobType)
	if err != nil {
		return nil, err
	}

	job := &Job{
		JobType:       jobType,
		DryRun:        req.DryRun,
		Status:        JobStatusQueued,
		StatusMessage: sql.NullString{String: "Queued", Valid: true},
	}

	stored, err := s.repo.CreateJob(ctx, job)
	if err != nil {
		return nil, err
	}
	_ = s.repo.AppendEvent(ctx, stored.JobID, "queued", "Job queued")

	s.logger.Info().Str("job_id", stored.JobID).Str("job_type", string(jobType)).Bool("dry_run", req.DryRun).Msg("job queued")
	s.notify()
	return stored, nil
}

// GetStatus returns the currently running job plus recent history.
func (s *Service) GetStatus(ctx context.Context) (*StatusSummary, error) {
	active, err := s.repo.GetActiveJob(ctx)
	if err != nil {
		return nil, err
	}

	history, err := s.repo.ListRecentJobs(ctx, s.historyLimit)
	if err != nil {
		return nil, err
	}

	return &StatusSummary{
		ActiveJob: active,
		History:   history,
	}, nil
}

func (s *Service) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) worker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		job, err := s.repo.MarkNextJobRunning(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Msg("claim job error")
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			select {
			case <-s.ctx.Done():
				return
			case <-s.wake:
			case <-ticker.C:
			}
			continue
		}

		s.executeJob(job)
	}
}

func (s *Service) executeJob(job *Job) {
	log := s.logger.With().Str("job_id", job.JobID).Str("job_type", string(job.JobType)).Logger()
	log.Info().Msg("job started")

	reporter := &jobReporter{ctx: s.ctx, repo: s.repo, jobID: job.JobID}
	summary, err := s.runner.Run(s.ctx, JobSpec{Type: job.JobType, DryRun: job.DryRun}, reporter)

	// the service context may already be cancelled; the final state must still be recorded
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 5*time.Second)
	defer cancel()

	updated, skipped, failed := summary.Counts()
	if cerr := s.repo.UpdateCounts(ctx, job.JobID, updated, skipped, failed); cerr != nil {
		log.Error().Err(cerr).Msg("record job counts")
	}

	status, message := JobStatusCompleted, "Job completed"
	switch {
	case errors.Is(err, context.Canceled):
		status, message = JobStatusCancelled, "Job cancelled"
	case err != nil:
		status, message = JobStatusFailed, "Job failed"
	}
	if uerr := s.repo.UpdateStatus(ctx, job.JobID, status, message, err); uerr != nil {
		log.Error().Err(uerr).Msg("record job status")
	}
	s.metrics.RecordJob(string(job.JobType), string(status))

	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Str("status", string(status)).Int("updated", updated).Int("skipped", skipped).Int("failed", failed).Msg("job finished")

	if s.onComplete != nil {
		final := job.Copy()
		final.Status = status
		final.FilesUpdated, final.FilesSkipped, final.FilesFailed = updated, skipped, failed
		if err != nil {
			final.LastError = sql.NullString{String: err.Error(), Valid: true}
		}
		s.onComplete(final, summary)
	}
}

// jobReporter mirrors runner callbacks into the repository.
type jobReporter struct {
	ctx   context.Context
	repo  Repository
	jobID string
	total int
}

func (r *jobReporter) OnJobStart(spec JobSpec) {
	_ = r.repo.UpdateProgress(r.ctx, r.jobID, 0, 0, fmt.Sprintf("Running %s", spec.Type))
}

func (r *jobReporter) OnFileProcessed(FileResult) {}

func (r *jobReporter) OnFileError(name string, err error) {
	_ = r.repo.AppendEvent(r.ctx, r.jobID, "error", fmt.Sprintf("%s: %v", name, err))
}

func (r *jobReporter) OnProgress(message string, current int, total int) {
	if total > 0 {
		r.total = total
	}
	// record every 25th update and the last one
	if current != r.total && current%25 != 0 {
		return
	}
	_ = r.repo.UpdateProgress(r.ctx, r.jobID, current, r.total, message)
}

func (r *jobReporter) OnJobComplete(summary *Summary) {
	_ = r.repo.UpdateProgress(r.ctx, r.jobID, r.total, r.total, "Job complete")
	_ = r.repo.AppendEvent(r.ctx, r.jobID, "completed", fmt.Sprintf("Job completed in %s", summary.Duration.Round(time.Millisecond)))
}

func (r *jobReporter) OnJobError(err error) {
	_ = r.repo.AppendEvent(r.ctx, r.jobID, "error", err.Error())
}
