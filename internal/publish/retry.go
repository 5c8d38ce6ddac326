package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"math/rand"
	"net/http"
	"time"

	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// RetryConfig configures retry behavior for transient bucket errors.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
}

// DefaultRetryConfig returns the retry policy used by the publish command.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		JitterFraction: 0.25,
	}
}

// RetryStore wraps an ObjectStore with retry on transient errors.
type RetryStore struct {
	inner  ObjectStore
	config *RetryConfig
	sleep  func(context.Context, time.Duration) error
}

// NewRetryStore wraps inner. A nil cfg uses DefaultRetryConfig.
func NewRetryStore(inner ObjectStore, cfg *RetryConfig) *RetryStore {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &RetryStore{inner: inner, config: cfg, sleep: sleep}
}

// isTransient reports whether err is worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrObjectNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return false
	}
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		status := re.HTTPStatusCode()
		return status >= 500 || status == http.StatusTooManyRequests
	}
	return true // network errors are transient
}

// backoff computes the delay for the given attempt with jitter.
func (rs *RetryStore) backoff(attempt int) time.Duration {
	base := float64(rs.config.InitialBackoff) * math.Pow(2, float64(attempt))
	if base > float64(rs.config.MaxBackoff) {
		base = float64(rs.config.MaxBackoff)
	}
	jitter := base * rs.config.JitterFraction * (rand.Float64()*2 - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rs *RetryStore) retry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= rs.config.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt < rs.config.MaxRetries {
			if err := rs.sleep(ctx, rs.backoff(attempt)); err != nil {
				return fmt.Errorf("%s: %w (retry cancelled)", operation, lastErr)
			}
		}
	}
	return fmt.Errorf("%s: %w (after %d retries)", operation, lastErr, rs.config.MaxRetries)
}

func (rs *RetryStore) Get(ctx context.Context, key string) (rc io.ReadCloser, err error) {
	err = rs.retry(ctx, "get "+key, func() error {
		rc, err = rs.inner.Get(ctx, key)
		return err
	})
	return
}

// Put retries only when r can be rewound.
func (rs *RetryStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	seeker, ok := r.(io.Seeker)
	if !ok {
		return rs.inner.Put(ctx, key, r, contentType)
	}
	start, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return rs.inner.Put(ctx, key, r, contentType)
	}
	return rs.retry(ctx, "put "+key, func() error {
		if _, err := seeker.Seek(start, io.SeekStart); err != nil {
			return fmt.Errorf("rewind %s: %w", key, err)
		}
		return rs.inner.Put(ctx, key, r, contentType)
	})
}

func (rs *RetryStore) Delete(ctx context.Context, key string) error {
	return rs.retry(ctx, "delete "+key, func() error {
		return rs.inner.Delete(ctx, key)
	})
}

func (rs *RetryStore) List(ctx context.Context, prefix string) (keys []string, err error) {
	err = rs.retry(ctx, "list "+prefix, func() error {
		keys, err = rs.inner.List(ctx, prefix)
		return err
	})
	return
}
