// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWithMaxRetries(t *testing.T) {
	t.Run("NotEnoughRetry", func(t *testing.T) {
		retryable := newMockRetryableFn(3)
		err := WithMaxRetries(
			context.Background(),
			zap.NewNop(),
			func() (err error) {
				_, err = retryable.Run()
				return err
			},
			1,
			"not-enough",
		)
		require.Error(t, err)
		require.Equal(t, uint64(2), retryable.counter)
	})
	t.Run("EnoughRetry", func(t *testing.T) {
		retryable := newMockRetryableFn(2)
		var res bool
		err := WithMaxRetries(
			context.Background(),
			zap.NewNop(),
			func() (err error) {
				res, err = retryable.Run()
				return err
			},
			2,
			"enough",
		)
		require.NoError(t, err)
		require.True(t, res)
	})
}

func TestWithRetriesTimeoutPermanent(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := WithRetriesTimeout(
		context.Background(),
		zap.NewNop(),
		func() error {
			calls++
			return backoff.Permanent(stop)
		},
		time.Minute,
		"permanent",
	)
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, calls)
}

func TestWithRetriesTimeoutContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := WithRetriesTimeout(
		ctx,
		zap.NewNop(),
		func() error {
			calls++
			cancel()
			return errors.New("pending")
		},
		0,
		"cancelled",
	)
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

type mockRetryableFn struct {
	counter uint64
	trigger uint64
}

func newMockRetryableFn(trigger uint64) mockRetryableFn {
	return mockRetryableFn{
		counter: 0,
		trigger: trigger,
	}
}

func (m *mockRetryableFn) Run() (bool, error) {
	if m.counter >= m.trigger {
		return true, nil
	}
	m.counter++
	return false, errors.New("error")
}
