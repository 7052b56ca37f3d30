package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/kilupskalvis/kvblob/internal/models"
	"github.com/kilupskalvis/kvblob/internal/objectstore"
	"github.com/kilupskalvis/kvblob/internal/storeerr"
)

// RetryConfig configures retry behavior for transient errors.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		JitterFraction: 0.25,
	}
}

// RetryClient wraps a Client with automatic retry on transient errors.
type RetryClient struct {
	inner  Client
	config *RetryConfig
}

// NewRetryClient creates a RetryClient that wraps the given Client.
func NewRetryClient(inner Client, cfg *RetryConfig) *RetryClient {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &RetryClient{inner: inner, config: cfg}
}

// isTransient returns true for errors that are worth retrying. A 500
// reporting an inconsistent object will fail the same way again.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		if errors.Is(re, storeerr.ErrInconsistent) {
			return false
		}
		return re.Status >= 500 || re.Status == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true // network errors are transient
}

// backoff computes the delay for the given attempt with jitter.
func (rc *RetryClient) backoff(attempt int) time.Duration {
	base := float64(rc.config.InitialBackoff) * math.Pow(2, float64(attempt))
	if base > float64(rc.config.MaxBackoff) {
		base = float64(rc.config.MaxBackoff)
	}
	jitter := base * rc.config.JitterFraction * (rand.Float64()*2 - 1) // +/- jitter
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// sleep waits for the given duration or until the context is cancelled.
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

// retry executes fn with retry logic. Only retries transient errors.
func (rc *RetryClient) retry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= rc.config.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt < rc.config.MaxRetries {
			if err := sleep(ctx, rc.backoff(attempt)); err != nil {
				return fmt.Errorf("%s: %w (retry cancelled)", operation, lastErr)
			}
		}
	}
	return fmt.Errorf("%s: %w (after %d retries)", operation, lastErr, rc.config.MaxRetries)
}

func (rc *RetryClient) CreateBucket(ctx context.Context, name string, tags []string) (b *models.Bucket, err error) {
	// A retried create may observe its own first attempt as a conflict.
	err = rc.retry(ctx, "create bucket", func() error {
		b, err = rc.inner.CreateBucket(ctx, name, tags)
		return err
	})
	return
}

func (rc *RetryClient) GetBucket(ctx context.Context, name string) (b *models.Bucket, err error) {
	err = rc.retry(ctx, "get bucket", func() error {
		b, err = rc.inner.GetBucket(ctx, name)
		return err
	})
	return
}

func (rc *RetryClient) PutObject(ctx context.Context, bucket, key string, data []byte, opts PutOptions) (obj *models.Object, err error) {
	// The body is a byte slice, so every attempt resends it in full.
	err = rc.retry(ctx, "put object", func() error {
		obj, err = rc.inner.PutObject(ctx, bucket, key, data, opts)
		return err
	})
	return
}

func (rc *RetryClient) GetObject(ctx context.Context, bucket, key string) (obj *Object, err error) {
	err = rc.retry(ctx, "get object", func() error {
		obj, err = rc.inner.GetObject(ctx, bucket, key)
		return err
	})
	return
}

func (rc *RetryClient) DeleteObject(ctx context.Context, bucket, key string) error {
	return rc.retry(ctx, "delete object", func() error {
		return rc.inner.DeleteObject(ctx, bucket, key)
	})
}

func (rc *RetryClient) Reconcile(ctx context.Context, dryRun bool) (*objectstore.ReconcileResult, error) {
	// Deletions are not idempotent in their report, so run once.
	return rc.inner.Reconcile(ctx, dryRun)
}
