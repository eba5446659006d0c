// Package worker runs periodic maintenance jobs. Each tick of a job runs under
// a redis lock so only one worker instance acts on it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/sourcegraph/conc/pool"

	appctx "orseries/internal/core/context"
	"orseries/pkg/logger"
)

// ErrLocked is returned by Locker when another instance holds the lock.
var ErrLocked = errors.New("lock held by another worker")

// Job is a named periodic task. Jobs with a non-positive Interval are skipped.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker obtains a lock for key, returning ErrLocked if it is taken.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// RedisLocker adapts redislock to Locker.
type RedisLocker struct {
	client *redislock.Client
}

func NewRedisLocker(client redislock.RedisClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(client)}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return lock, nil
}

// LocalLocker always grants the lock. For single-instance deployments and tests.
type LocalLocker struct{}

func (LocalLocker) Obtain(context.Context, string, time.Duration) (Lease, error) {
	return localLease{}, nil
}

type localLease struct{}

func (localLease) Release(context.Context) error { return nil }

// Config wires a Runner.
type Config struct {
	Locker    Locker
	LockTTL   time.Duration
	KeyPrefix string
	Logger    *logger.Logger
}

// Runner schedules jobs until its context is cancelled.
type Runner struct {
	locker  Locker
	lockTTL time.Duration
	prefix  string
	log     *logger.Logger
	jobs    []Job
}

// NewRunner creates a Runner for jobs.
func NewRunner(cfg Config, jobs ...Job) *Runner {
	r := &Runner{
		locker:  cfg.Locker,
		lockTTL: cfg.LockTTL,
		prefix:  cfg.KeyPrefix,
		log:     cfg.Logger,
	}
	if r.locker == nil {
		r.locker = LocalLocker{}
	}
	if r.lockTTL <= 0 {
		r.lockTTL = 30 * time.Second
	}
	if r.prefix == "" {
		r.prefix = "orseries:worker:"
	}
	if r.log == nil {
		r.log = logger.Default()
	}
	r.log = r.log.WithComponent("worker")
	for _, job := range jobs {
		if job.Interval > 0 && job.Run != nil {
			r.jobs = append(r.jobs, job)
		}
	}
	return r
}

// Jobs returns the enabled job names.
func (r *Runner) Jobs() []string {
	names := make([]string, 0, len(r.jobs))
	for _, job := range r.jobs {
		names = append(names, job.Name)
	}
	return names
}

// Run blocks until ctx is done. Job failures are logged and do not stop the
// schedule.
func (r *Runner) Run(ctx context.Context) error {
	p := pool.New().WithContext(ctx)
	for _, job := range r.jobs {
		p.Go(func(ctx context.Context) error {
			r.loop(ctx, job)
			return nil
		})
	}
	r.log.Infow("worker started", "jobs", r.Jobs())
	err := p.Wait()
	r.log.Infow("worker stopped")
	return err
}

func (r *Runner) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Tick(ctx, job); err != nil {
				r.log.WithContext(ctx).Errorw("job failed", "job", job.Name, "error", err)
			}
		}
	}
}

// Tick runs job once if the lock can be obtained and reports whether it ran.
// Each tick gets its own trace so its log lines correlate.
func (r *Runner) Tick(ctx context.Context, job Job) (bool, error) {
	ctx = appctx.WithTrace(ctx, appctx.NewTraceContext())
	lease, err := r.locker.Obtain(ctx, r.prefix+job.Name, r.lockTTL)
	if errors.Is(err, ErrLocked) {
		r.log.WithContext(ctx).Debugw("job skipped, lock held", "job", job.Name)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.log.WithContext(ctx).Warnw("release job lock", "job", job.Name, "error", err)
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, r.lockTTL)
	defer cancel()

	start := time.Now()
	if err := job.Run(jobCtx); err != nil {
		return true, fmt.Errorf("%s: %w", job.Name, err)
	}
	r.log.WithContext(ctx).Debugw("job done", "job", job.Name, "duration", time.Since(start))
	return true, nil
}
