package ornumber

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"orseries/internal/core/apperror"
	"orseries/internal/core/tx"
)

// retry re-runs fn when it fails with a transient TRANSACTION_CONFLICT
// (serialization failure, deadlock, lock timeout, series swap). Inside a
// caller-owned transaction fn runs once: the failed transaction is already
// aborted and only the caller can restart it.
func (s *Service) retry(ctx context.Context, op string, fn func() error) error {
	if s.opts.MaxRetries == 0 || tx.InTransaction(ctx, s.txm) {
		return fn()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInterval
	b.MaxInterval = s.opts.MaxRetryInterval
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, s.opts.MaxRetries), ctx)

	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !apperror.IsTransactionConflict(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		s.log.WithContext(ctx).Warnw("retrying OR number operation",
			"op", op,
			"error", err,
			"wait", wait,
		)
	})
}
