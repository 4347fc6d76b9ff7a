package blobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RetryStore wraps a Store with bounded retry and an optional request
// rate limit. IO failures are retried with linear backoff; exhaustion
// surfaces the last error to the caller, which treats it as fatal.
type RetryStore struct {
	inner    Store
	attempts int
	backoff  time.Duration
	limiter  *rate.Limiter
}

// NewRetryStore wraps inner. attempts defaults to 8, backoff to one
// second. A nil limiter disables rate limiting.
func NewRetryStore(inner Store, attempts int, backoff time.Duration, limiter *rate.Limiter) *RetryStore {
	if attempts <= 0 {
		attempts = 8
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	return &RetryStore{inner: inner, attempts: attempts, backoff: backoff, limiter: limiter}
}

func (s *RetryStore) do(ctx context.Context, op func() error) error {
	var last error
	for i := 0; i < s.attempts; i++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		last = op()
		if last == nil || errors.Is(last, ErrNotFound) || ctx.Err() != nil {
			return last
		}
		select {
		case <-time.After(time.Duration(i+1) * s.backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", s.attempts, last)
}

// Get reads with retry.
func (s *RetryStore) Get(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.do(ctx, func() error {
		var err error
		data, err = s.inner.Get(ctx, name)
		return err
	})
	return data, err
}

// Put writes with retry.
func (s *RetryStore) Put(ctx context.Context, name string, data []byte) error {
	return s.do(ctx, func() error {
		return s.inner.Put(ctx, name, data)
	})
}

// Delete removes with retry.
func (s *RetryStore) Delete(ctx context.Context, name string) error {
	return s.do(ctx, func() error {
		return s.inner.Delete(ctx, name)
	})
}

// List lists with retry.
func (s *RetryStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := s.do(ctx, func() error {
		var err error
		names, err = s.inner.List(ctx, prefix)
		return err
	})
	return names, err
}
