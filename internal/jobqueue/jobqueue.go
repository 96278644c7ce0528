// Package jobqueue provides a job queue with retry capabilities for
// asynchronous tasks such as classifier training runs.
package jobqueue

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"log/slog"
	"sync"
	"time"

	"github.com/acrenier/imagerie/internal/errors"
	"github.com/acrenier/imagerie/internal/logging"
	"github.com/google/uuid"
)

var log *slog.Logger

func init() {
	var err error
	log, _, err = logging.NewFileLogger("logs/jobqueue.log", "jobqueue", slog.LevelInfo)
	if err != nil || log == nil {
		stdlog.Printf("Failed to initialize jobqueue file logger: %v", err)
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Action is a unit of work the queue can execute.
type Action interface {
	Execute(ctx context.Context) error
	Description() string
}

// RetryConfig holds the retry behavior for an action.
type RetryConfig struct {
	Enabled      bool
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// JobStatus represents the current status of a job in the queue.
type JobStatus int

const (
	JobStatusPending JobStatus = iota
	JobStatusRunning
	JobStatusCompleted
	JobStatusFailed
	JobStatusRetrying
)

func (s JobStatus) String() string {
	switch s {
	case JobStatusPending:
		return "Pending"
	case JobStatusRunning:
		return "Running"
	case JobStatusCompleted:
		return "Completed"
	case JobStatusFailed:
		return "Failed"
	case JobStatusRetrying:
		return "Retrying"
	default:
		return "Unknown"
	}
}

// Job is a unit of work tracked by the queue.
type Job struct {
	ID          string
	Action      Action
	Attempts    int
	CreatedAt   time.Time
	NextRetryAt time.Time
	Status      JobStatus
	LastError   error
	Config      RetryConfig
}

// Stats tracks cumulative queue statistics.
type Stats struct {
	TotalJobs      int
	SuccessfulJobs int
	FailedJobs     int
	RetryAttempts  int
}

// Queue executes jobs one at a time in submission order, retrying failed
// jobs with exponential backoff when their config allows it.
type Queue struct {
	mu      sync.Mutex
	jobs    []*Job
	stats   Stats
	started bool
	stopped bool

	wake chan struct{}
	done chan struct{}

	pollInterval time.Duration
}

// New creates an idle queue. Call Start to begin processing.
func New() *Queue {
	return &Queue{
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		pollInterval: time.Second,
	}
}

// Enqueue adds an action to the queue and returns its job.
func (q *Queue) Enqueue(action Action, config RetryConfig) (*Job, error) {
	if action == nil {
		return nil, errors.Newf("cannot enqueue nil action").
			Category(errors.CategoryValidation).
			Component("jobqueue").
			Build()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return nil, errors.Newf("job queue has been stopped").
			Category(errors.CategoryState).
			Component("jobqueue").
			Build()
	}

	job := &Job{
		ID:        uuid.New().String(),
		Action:    action,
		CreatedAt: time.Now(),
		Status:    JobStatusPending,
		Config:    config,
	}
	q.jobs = append(q.jobs, job)
	q.stats.TotalJobs++

	log.Info("Job enqueued", "job_id", job.ID, "description", action.Description())

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return job, nil
}

// Start launches the processing loop. It returns once the loop is running;
// the loop exits when ctx is cancelled or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	go q.run(ctx)
}

// Stop shuts the queue down and waits for the in-flight job to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	started := q.started
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	if started {
		<-q.done
	}
}

// GetStats returns a snapshot of queue statistics.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// JobStatusByID reports the status of a job, or an error if unknown.
func (q *Queue) JobStatusByID(id string) (JobStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range q.jobs {
		if job.ID == id {
			return job.Status, nil
		}
	}
	return 0, errors.Newf("job %q not found in queue", id).
		Category(errors.CategoryNotFound).
		Component("jobqueue").
		Build()
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		if q.isStopped() || ctx.Err() != nil {
			return
		}

		job := q.nextRunnable()
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			case <-ticker.C:
			}
			continue
		}

		q.execute(ctx, job)
	}
}

func (q *Queue) isStopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// nextRunnable picks the oldest pending or retry-due job.
func (q *Queue) nextRunnable() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for _, job := range q.jobs {
		switch job.Status {
		case JobStatusPending:
			job.Status = JobStatusRunning
			return job
		case JobStatusRetrying:
			if !job.NextRetryAt.After(now) {
				job.Status = JobStatusRunning
				return job
			}
		}
	}
	return nil
}

func (q *Queue) execute(ctx context.Context, job *Job) {
	start := time.Now()
	err := job.Action.Execute(ctx)
	duration := time.Since(start)

	q.mu.Lock()
	defer q.mu.Unlock()
	job.Attempts++
	job.LastError = err

	if err == nil {
		job.Status = JobStatusCompleted
		q.stats.SuccessfulJobs++
		log.Info("Job completed",
			"job_id", job.ID,
			"description", job.Action.Description(),
			"attempts", job.Attempts,
			"duration", duration)
		return
	}

	if job.Config.Enabled && job.Attempts <= job.Config.MaxRetries {
		job.Status = JobStatusRetrying
		job.NextRetryAt = time.Now().Add(q.backoffDelay(job))
		q.stats.RetryAttempts++
		log.Warn("Job failed, will retry",
			"job_id", job.ID,
			"description", job.Action.Description(),
			"attempt", job.Attempts,
			"next_retry_at", job.NextRetryAt,
			"error", err)
		return
	}

	job.Status = JobStatusFailed
	q.stats.FailedJobs++
	log.Error("Job failed permanently",
		"job_id", job.ID,
		"description", job.Action.Description(),
		"attempts", job.Attempts,
		"error", err)
}

// backoffDelay computes the exponential backoff for a job's next attempt.
func (q *Queue) backoffDelay(job *Job) time.Duration {
	delay := job.Config.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}
	multiplier := job.Config.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}
	for i := 1; i < job.Attempts; i++ {
		delay = time.Duration(float64(delay) * multiplier)
	}
	if job.Config.MaxDelay > 0 && delay > job.Config.MaxDelay {
		delay = job.Config.MaxDelay
	}
	return delay
}

// Describe implements fmt.Stringer for debugging convenience.
func (j *Job) String() string {
	return fmt.Sprintf("job %s (%s, attempts=%d)", j.ID, j.Status, j.Attempts)
}
