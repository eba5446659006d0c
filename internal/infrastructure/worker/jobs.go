package worker

import (
	"context"
	"time"

	"orseries/pkg/logger"
)

// Job names.
const (
	JobOutbox      = "outbox_relay"
	JobOutboxDLQ   = "outbox_dlq"
	JobMonitor     = "series_monitor"
	JobExpire      = "expire_stale"
	JobIdempotency = "idempotency_cleanup"
)

// OutboxRelay delivers pending outbox messages.
type OutboxRelay interface {
	ProcessBatch(ctx context.Context) (int, error)
	MoveToDLQ(ctx context.Context) (int64, error)
	PurgePublished(ctx context.Context, cutoff time.Time) (int64, error)
}

// Expirer expires stale generated OR numbers.
type Expirer interface {
	ExpireStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// MonitorCheck evaluates near-limit alerts.
type MonitorCheck interface {
	Check(ctx context.Context) (bool, error)
}

// IdempotencyCleaner removes expired idempotency keys.
type IdempotencyCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// OutboxJob drains pending messages batch by batch until a batch comes back
// short.
func OutboxJob(relay OutboxRelay, batchSize int, interval time.Duration) Job {
	return Job{
		Name:     JobOutbox,
		Interval: interval,
		Run: func(ctx context.Context) error {
			for {
				n, err := relay.ProcessBatch(ctx)
				if err != nil {
					return err
				}
				if n < batchSize || ctx.Err() != nil {
					return nil
				}
			}
		},
	}
}

// OutboxMaintenanceJob moves failed messages to the DLQ and purges published
// messages older than retention.
func OutboxMaintenanceJob(relay OutboxRelay, retention, interval time.Duration, log *logger.Logger) Job {
	return Job{
		Name:     JobOutboxDLQ,
		Interval: interval,
		Run: func(ctx context.Context) error {
			moved, err := relay.MoveToDLQ(ctx)
			if err != nil {
				return err
			}
			purged, err := relay.PurgePublished(ctx, time.Now().UTC().Add(-retention))
			if err != nil {
				return err
			}
			if moved > 0 || purged > 0 {
				log.WithContext(ctx).Infow("outbox maintenance", "moved_to_dlq", moved, "purged", purged)
			}
			return nil
		},
	}
}

// MonitorJob runs the near-limit monitor.
func MonitorJob(m MonitorCheck, interval time.Duration) Job {
	return Job{
		Name:     JobMonitor,
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := m.Check(ctx)
			return err
		},
	}
}

// ExpireJob expires generated numbers older than olderThan. A zero olderThan
// disables the job.
func ExpireJob(e Expirer, olderThan time.Duration, limit int, interval time.Duration) Job {
	if olderThan <= 0 {
		interval = 0
	}
	return Job{
		Name:     JobExpire,
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := e.ExpireStale(ctx, olderThan, limit)
			return err
		},
	}
}

// IdempotencyCleanupJob deletes expired idempotency keys.
func IdempotencyCleanupJob(c IdempotencyCleaner, interval time.Duration, log *logger.Logger) Job {
	return Job{
		Name:     JobIdempotency,
		Interval: interval,
		Run: func(ctx context.Context) error {
			n, err := c.CleanupExpired(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				log.WithContext(ctx).Infow("idempotency keys removed", "count", n)
			}
			return nil
		},
	}
}
