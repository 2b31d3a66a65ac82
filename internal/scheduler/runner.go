package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultInterval  = 5 * time.Second
	defaultBatchSize = 50
	maxAttempts      = 3
	baseRetryDelay   = 10 * time.Second
	maxRetryDelay    = 16 * baseRetryDelay
)

// HandlerFunc executes one job for the given transaction uuid.
// Handlers must be idempotent: a job can fire more than once after a
// crash between execution and acknowledgment.
type HandlerFunc func(ctx context.Context, uuid string) error

// Runner polls the store for due jobs and dispatches them to the
// registered handlers.  A failed job is rescheduled with exponential
// backoff and jitter; after maxAttempts failures it is buried on the
// dead-letter list.
type Runner struct {
	store    Store
	handlers map[JobType]HandlerFunc
	interval time.Duration
	now      func() time.Time
}

func NewRunner(store Store) *Runner {
	return &Runner{
		store:    store,
		handlers: map[JobType]HandlerFunc{},
		interval: defaultInterval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle registers the handler for a job type.  Must be called before
// Run.
func (r *Runner) Handle(typ JobType, fn HandlerFunc) {
	r.handlers[typ] = fn
}

// Run polls until the context is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logrus.WithField("interval", r.interval).Info("scheduler: runner started")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("scheduler: runner stopped")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick drains one batch of due jobs.  Exported so tests and manual
// tooling can drive the runner without the timer.
func (r *Runner) Tick(ctx context.Context) {
	jobs, err := r.store.Due(ctx, r.now(), defaultBatchSize)
	if err != nil {
		logrus.WithError(err).Error("scheduler: failed to fetch due jobs")
		return
	}
	for _, job := range jobs {
		r.dispatch(ctx, job)
	}
}

// dispatch runs one claimed job to completion.  Every exit path either
// acknowledges the job or reschedules it, so the only way a job keeps
// its lease is a crash, and the lapsed lease hands it out again.
func (r *Runner) dispatch(ctx context.Context, job Job) {
	log := logrus.WithFields(logrus.Fields{"job": job.Key(), "attempts": job.Attempts})

	fn, ok := r.handlers[job.Type]
	if !ok {
		log.Error("scheduler: no handler registered for job type")
		if err := r.store.Bury(ctx, job, fmt.Errorf("no handler for type %s", job.Type)); err != nil {
			log.WithError(err).Error("scheduler: failed to bury job")
			return
		}
		r.ack(ctx, job, log)
		return
	}

	err := fn(ctx, job.UUID)
	if err == nil {
		r.ack(ctx, job, log)
		return
	}

	job.Attempts++
	if job.Attempts >= maxAttempts {
		log.WithError(err).Error("scheduler: job exhausted retries, moving to dead letter")
		if berr := r.store.Bury(ctx, job, err); berr != nil {
			log.WithError(berr).Error("scheduler: failed to bury job")
			return
		}
		r.ack(ctx, job, log)
		return
	}

	delay := retryDelay(job.Attempts)
	job.FireAt = r.now().Add(delay)
	log.WithError(err).WithField("retry_in", delay).Warn("scheduler: job failed, rescheduling")
	if serr := r.store.Schedule(ctx, job); serr != nil {
		log.WithError(serr).Error("scheduler: failed to reschedule job")
	}
}

func (r *Runner) ack(ctx context.Context, job Job, log *logrus.Entry) {
	if err := r.store.Ack(ctx, job); err != nil {
		// The lease will lapse and the job will run again; handlers are
		// idempotent so the repeat is harmless.
		log.WithError(err).Error("scheduler: failed to ack job")
	}
}

// retryDelay doubles the base delay per attempt, capped, with up to 25%
// jitter so retries from one incident spread out.
func retryDelay(attempts int) time.Duration {
	delay := baseRetryDelay << uint(attempts-1)
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay + time.Duration(rand.Int63n(int64(delay/4)))
}
