package backfill

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type runnerFunc func(ctx context.Context, spec JobSpec, reporter Reporter) (*Summary, error)

func (f runnerFunc) Run(ctx context.Context, spec JobSpec, reporter Reporter) (*Summary, error) {
	return f(ctx, spec, reporter)
}

type finished struct {
	job     *Job
	summary *Summary
}

func startService(t *testing.T, repo Repository, runner JobRunner) (*Service, <-chan finished) {
	t.Helper()
	done := make(chan finished, 4)
	svc := NewService(repo, runner,
		WithPollInterval(50*time.Millisecond),
		WithCompletionHook(func(job *Job, summary *Summary) {
			done <- finished{job: job, summary: summary}
		}),
	)
	svc.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, svc.Shutdown(ctx))
	})
	return svc, done
}

func waitFinished(t *testing.T, done <-chan finished) finished {
	t.Helper()
	select {
	case f := <-done:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("job did not finish")
		return finished{}
	}
}

func TestServiceRunsQueuedJob(t *testing.T) {
	repo := NewMemoryRepository()
	runner := runnerFunc(func(ctx context.Context, spec JobSpec, reporter Reporter) (*Summary, error) {
		reporter.OnJobStart(spec)
		for i := 1; i <= 30; i++ {
			reporter.OnProgress("file", i, 30)
		}
		reporter.OnFileError("broken.json", errors.New("invalid JSON"))
		sum := &Summary{JobType: spec.Type, DryRun: spec.DryRun, GameTypes: &GameTypesSummary{Updated: 28, Skipped: 1, Failed: 1}}
		reporter.OnJobComplete(sum)
		return sum, nil
	})
	svc, done := startService(t, repo, runner)

	job, err := svc.Enqueue(context.Background(), Request{JobType: "game_types", DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.NotEmpty(t, job.JobID)

	f := waitFinished(t, done)
	assert.Equal(t, job.JobID, f.job.JobID)
	assert.Equal(t, JobStatusCompleted, f.job.Status)
	assert.True(t, f.summary.DryRun)

	status, err := svc.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Nil(t, status.ActiveJob)
	require.Len(t, status.History, 1)

	stored := status.History[0]
	assert.Equal(t, JobStatusCompleted, stored.Status)
	assert.Equal(t, 28, stored.FilesUpdated)
	assert.Equal(t, 1, stored.FilesSkipped)
	assert.Equal(t, 1, stored.FilesFailed)
	assert.Equal(t, 30, stored.ProgressCurrent)
	assert.Equal(t, 30, stored.ProgressTotal)
	assert.True(t, stored.StartedAt.Valid)
	assert.True(t, stored.CompletedAt.Valid)
	assert.False(t, stored.LastError.Valid)

	var types []string
	for _, e := range repo.Events(job.JobID) {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{"queued", "error", "completed"}, types)
}

func TestServiceRecordsFailure(t *testing.T) {
	repo := NewMemoryRepository()
	boom := errors.New("games directory missing")
	svc, done := startService(t, repo, runnerFunc(func(context.Context, JobSpec, Reporter) (*Summary, error) {
		return nil, boom
	}))

	_, err := svc.Enqueue(context.Background(), Request{JobType: "dual_stats"})
	require.NoError(t, err)

	f := waitFinished(t, done)
	assert.Equal(t, JobStatusFailed, f.job.Status)
	assert.Equal(t, boom.Error(), f.job.LastError.String)

	jobs, err := repo.ListRecentJobs(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, JobStatusFailed, jobs[0].Status)
	assert.Equal(t, "Job failed", jobs[0].StatusMessage.String)
}

func TestServiceRunsJobsInOrder(t *testing.T) {
	repo := NewMemoryRepository()
	svc, done := startService(t, repo, runnerFunc(func(_ context.Context, spec JobSpec, _ Reporter) (*Summary, error) {
		return &Summary{JobType: spec.Type}, nil
	}))

	for _, jt := range []string{"game_types", "games_index", "migrate"} {
		_, err := svc.Enqueue(context.Background(), Request{JobType: jt})
		require.NoError(t, err)
	}

	var order []JobType
	for i := 0; i < 3; i++ {
		order = append(order, waitFinished(t, done).job.JobType)
	}
	assert.Equal(t, []JobType{JobTypeGameTypes, JobTypeGamesIndex, JobTypeMigrate}, order)
}

func TestServiceCancelsRunningJobOnShutdown(t *testing.T) {
	repo := NewMemoryRepository()
	started := make(chan struct{})
	done := make(chan finished, 1)
	svc := NewService(repo, runnerFunc(func(ctx context.Context, spec JobSpec, _ Reporter) (*Summary, error) {
		close(started)
		<-ctx.Done()
		return &Summary{JobType: spec.Type}, ctx.Err()
	}), WithCompletionHook(func(job *Job, summary *Summary) {
		done <- finished{job: job, summary: summary}
	}))
	svc.Start()

	job, err := svc.Enqueue(context.Background(), Request{JobType: "migrate"})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start")
	}

	active, err := repo.GetActiveJob(context.Background())
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, job.JobID, active.JobID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	f := waitFinished(t, done)
	assert.Equal(t, JobStatusCancelled, f.job.Status)
}

func TestServiceRejectsUnknownJobType(t *testing.T) {
	svc := NewService(NewMemoryRepository(), runnerFunc(func(context.Context, JobSpec, Reporter) (*Summary, error) {
		return nil, nil
	}))

	_, err := svc.Enqueue(context.Background(), Request{JobType: "reindex"})
	assert.Error(t, err)
}

func TestMemoryRepositoryResetStuckJobs(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	first, err := repo.CreateJob(ctx, &Job{JobType: JobTypeGameTypes, Status: JobStatusQueued})
	require.NoError(t, err)
	_, err = repo.CreateJob(ctx, &Job{JobType: JobTypeGamesIndex, Status: JobStatusQueued})
	require.NoError(t, err)

	running, err := repo.MarkNextJobRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.JobID, running.JobID)

	require.NoError(t, repo.ResetStuckJobs(ctx))
	active, err := repo.GetActiveJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	again, err := repo.MarkNextJobRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.JobID, again.JobID, "reset job is claimed first")
}

func TestMemoryRepositoryUnknownJob(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	assert.Error(t, repo.UpdateStatus(ctx, "missing", JobStatusFailed, "x", nil))
	assert.Error(t, repo.UpdateProgress(ctx, "missing", 1, 2, "x"))
	assert.Error(t, repo.UpdateCounts(ctx, "missing", 1, 2, 3))
	assert.Error(t, repo.AppendEvent(ctx, "missing", "error", "x"))
}
