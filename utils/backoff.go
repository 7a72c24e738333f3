// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	// DefaultRPCTimeout bounds a single RPC round trip.
	DefaultRPCTimeout = 10 * time.Second

	initialRetryInterval = 250 * time.Millisecond
	maxRetryInterval     = 4 * time.Second
)

// WithRetriesTimeout uses an exponential backoff to run the operation until it
// succeeds, returns a backoff.Permanent error, the context ends, or [timeout]
// has elapsed. A zero timeout retries until the context ends.
func WithRetriesTimeout(
	ctx context.Context,
	logger *zap.Logger,
	operation backoff.Operation,
	timeout time.Duration,
	description string,
) error {
	expBackOff := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(initialRetryInterval),
		backoff.WithMaxInterval(maxRetryInterval),
		backoff.WithMaxElapsedTime(timeout),
	)
	return retry(ctx, logger, operation, expBackOff, description)
}

// WithMaxRetries runs the operation at most maxRetries+1 times.
func WithMaxRetries(
	ctx context.Context,
	logger *zap.Logger,
	operation backoff.Operation,
	maxRetries uint64,
	description string,
) error {
	expBackOff := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(initialRetryInterval),
		backoff.WithMaxInterval(maxRetryInterval),
		backoff.WithMaxElapsedTime(0),
	)
	return retry(ctx, logger, operation, backoff.WithMaxRetries(expBackOff, maxRetries), description)
}

func retry(
	ctx context.Context,
	logger *zap.Logger,
	operation backoff.Operation,
	b backoff.BackOff,
	description string,
) error {
	notify := func(err error, duration time.Duration) {
		logger.Debug(
			"Operation failed, retrying",
			zap.String("operation", description),
			zap.Duration("backoff", duration),
			zap.Error(err),
		)
	}
	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
	if err != nil {
		logger.Warn(
			"Operation failed",
			zap.String("operation", description),
			zap.Error(err),
		)
	}
	return err
}
