package filesystem

import (
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"media-pipeline/internal/logging"
)

// RetryConfig bounds how long a stale NFS handle is retried.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig allows three retries, doubling from 50ms up to 500ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

func (c RetryConfig) policy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.MaxInterval = c.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(max(c.MaxRetries, 0)))
}

func isNFSStaleError(err error) bool {
	var errno syscall.Errno
	return errors.As(err, &errno) && errno == syscall.ESTALE
}

// withRetry runs fn until it succeeds, fails with anything other than
// ESTALE, or runs out of retries.
func withRetry[T any](op, path string, cfg RetryConfig, fn func() (T, error)) (T, error) {
	retries := 0
	attempt := func() (T, error) {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !isNFSStaleError(err) {
			return v, backoff.Permanent(err)
		}
		observeStale(op)
		return v, err
	}
	notify := func(err error, wait time.Duration) {
		retries++
		observeAttempt(op)
		logging.Debug("NFS %s stale file handle for %s, retry %d/%d in %v", op, path, retries, cfg.MaxRetries, wait)
	}

	v, err := backoff.RetryNotifyWithData(attempt, cfg.policy(), notify)
	switch {
	case err == nil && retries > 0:
		logging.Info("NFS %s succeeded on retry %d for %s", op, retries, path)
	case isNFSStaleError(err):
		logging.Warn("NFS %s failed after %d retries for %s: %v", op, retries, path, err)
		observeFailure(op)
	}
	return v, err
}

// StatWithRetry is os.Stat, retried on stale NFS handles.
func StatWithRetry(path string, cfg RetryConfig) (os.FileInfo, error) {
	return withRetry("stat", path, cfg, func() (os.FileInfo, error) {
		return os.Stat(path)
	})
}

// OpenWithRetry is os.Open, retried on stale NFS handles.
func OpenWithRetry(path string, cfg RetryConfig) (*os.File, error) {
	return withRetry("open", path, cfg, func() (*os.File, error) {
		return os.Open(path)
	})
}
