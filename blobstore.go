package zipstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"time"
)

// BlobStore fetches byte ranges of archive member content from wherever it
// actually lives. FetchRange returns a reader over the inclusive byte
// range [lo, hi] of source; the caller reads exactly hi-lo+1 bytes from it
// (or gets a non-nil error) and must Close it when done, which cancels any
// in-flight request.
//
// Implementations are expected to retry transient failures internally
// (connection resets, timeouts, 5xx, 429) and resume at the next unread
// offset. RetryingBlobStore below provides that behavior on top of any
// RangeFetcher that doesn't.
type BlobStore interface {
	FetchRange(ctx context.Context, source Source, lo, hi uint64) (io.ReadCloser, error)
}

// RangeFetcher is the thin, retry-unaware transport a BlobStore backend
// provides: a single ranged GET attempt. S3RangeFetcher (see
// blobstore_s3.go) implements this directly against aws-sdk-go-v2;
// RetryingBlobStore wraps any RangeFetcher with the resume-on-failure
// policy described below.
type RangeFetcher interface {
	// FetchRangeOnce issues one ranged GET for [lo, hi] (inclusive) and
	// returns a reader over however many bytes the backend actually
	// sends before failing or finishing. A short read followed by a
	// clean close is reported as io.ErrUnexpectedEOF so RetryingBlobStore
	// can tell it apart from a genuine end of range.
	FetchRangeOnce(ctx context.Context, source Source, lo, hi uint64) (io.ReadCloser, error)

	// IsRetryable reports whether err (as returned by FetchRangeOnce or
	// by reads from the io.ReadCloser it returned) should be retried.
	// A 404 or other permanent failure should return false.
	IsRetryable(err error) bool
}

// RetryBackoff configures RetryingBlobStore's resume policy.
type RetryBackoff struct {
	MaxAttempts int           // total attempts per requested range, including the first
	BaseDelay   time.Duration // delay before the first retry
	MaxDelay    time.Duration // delay ceiling
}

// DefaultRetryBackoff is a small, bounded number of attempts with
// exponential backoff.
var DefaultRetryBackoff = RetryBackoff{
	MaxAttempts: 5,
	BaseDelay:   100 * time.Millisecond,
	MaxDelay:    5 * time.Second,
}

// RetryingBlobStore adapts a RangeFetcher into a BlobStore by resuming a
// dropped read at the next unread offset, with exponential backoff and
// jitter, up to a bounded attempt count. This is the orchestration layer
// that sits above a single HTTP call's own retries: the AWS SDK's retryer
// (configured on the S3 client; see s3client.go) already retries a
// single GetObject call that fails before it starts streaming, but once
// bytes are flowing to the consumer, resuming after a mid-stream drop is
// this package's job, since the SDK has no visibility into how many
// bytes of a streamed response the caller has already consumed.
type RetryingBlobStore struct {
	Fetcher  RangeFetcher
	Backoff  RetryBackoff
	fallback func(n int) time.Duration // overridable for deterministic tests
}

func (rb *RetryingBlobStore) FetchRange(ctx context.Context, source Source, lo, hi uint64) (io.ReadCloser, error) {
	return &retryingRangeReader{
		ctx:    ctx,
		store:  rb,
		source: source,
		next:   lo,
		hi:     hi,
	}, nil
}

func (rb *RetryingBlobStore) backoff(attempt int) time.Duration {
	if rb.fallback != nil {
		return rb.fallback(attempt)
	}
	delay := rb.Backoff.BaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
	if delay > rb.Backoff.MaxDelay || delay <= 0 {
		delay = rb.Backoff.MaxDelay
	}
	// Full jitter, as recommended for backoff against a shared backend.
	return time.Duration(rand.Int63n(int64(delay) + 1))
}

// retryingRangeReader is the io.ReadCloser returned to the stream
// assembler. It lazily opens the underlying reader on first Read, and on
// a retryable failure, closes it and reopens at the next unread offset
// (Range: bytes=<next>-hi), never re-delivering bytes already returned to
// the caller.
type retryingRangeReader struct {
	ctx    context.Context
	store  *RetryingBlobStore
	source Source

	next uint64 // next unread absolute offset, advances as bytes are delivered
	hi   uint64 // inclusive upper bound of the overall request

	current io.ReadCloser
	attempt int
	done    bool
}

func (r *retryingRangeReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, io.EOF
	}
	for {
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}
		if r.current == nil {
			reader, err := r.store.Fetcher.FetchRangeOnce(r.ctx, r.source, r.next, r.hi)
			if err != nil {
				if r.ctx.Err() != nil {
					return 0, r.ctx.Err()
				}
				if !r.retry(err) {
					return 0, fmt.Errorf("%w: %v", ErrBlobFetchFatal, err)
				}
				continue
			}
			r.current = reader
		}

		n, err := r.current.Read(p)
		if n > 0 {
			r.next += uint64(n)
		}
		if err == nil {
			return n, nil
		}

		r.current.Close()
		r.current = nil

		if errors.Is(err, io.EOF) {
			if r.next > r.hi {
				return n, fmt.Errorf("%w: blob store returned more bytes than requested", ErrBlobFetchFatal)
			}
			if r.next == r.hi+1 {
				r.done = true
				return n, io.EOF
			}
			// Short read followed by a clean close: treat this as
			// retryable, same as a connection reset.
			if !r.retry(io.ErrUnexpectedEOF) {
				return n, fmt.Errorf("%w: short read, retries exhausted", ErrBlobFetchFatal)
			}
			if n > 0 {
				return n, nil
			}
			continue
		}

		if r.ctx.Err() != nil {
			return n, r.ctx.Err()
		}
		if !r.retry(err) {
			return n, fmt.Errorf("%w: %v", ErrBlobFetchFatal, err)
		}
		if n > 0 {
			return n, nil
		}
	}
}

// retry reports whether another attempt should be made for err, sleeping
// for the backoff delay (honoring context cancellation) when it does.
func (r *retryingRangeReader) retry(err error) bool {
	if !r.store.Fetcher.IsRetryable(err) {
		blobFetchRetries.WithLabelValues("false").Inc()
		return false
	}
	r.attempt++
	if r.attempt >= r.store.Backoff.MaxAttempts {
		blobFetchRetries.WithLabelValues("false").Inc()
		return false
	}
	delay := r.store.backoff(r.attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		blobFetchRetries.WithLabelValues("true").Inc()
		return true
	case <-r.ctx.Done():
		blobFetchRetries.WithLabelValues("false").Inc()
		return false
	}
}

func (r *retryingRangeReader) Close() error {
	r.done = true
	if r.current != nil {
		err := r.current.Close()
		r.current = nil
		return err
	}
	return nil
}
