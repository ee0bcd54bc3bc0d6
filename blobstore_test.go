package zipstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

// fakeFetcher wraps MemBlobStore's FetchRange as a RangeFetcher (a single
// attempt, not a BlobStore's resumable stream) so RetryingBlobStore can be
// tested against it directly.
type fakeFetcher struct {
	store       *MemBlobStore
	retryable   func(error) bool
	callsPerKey map[Source]int
}

func (f *fakeFetcher) FetchRangeOnce(ctx context.Context, source Source, lo, hi uint64) (io.ReadCloser, error) {
	if f.callsPerKey == nil {
		f.callsPerKey = make(map[Source]int)
	}
	f.callsPerKey[source]++
	return f.store.FetchRange(ctx, source, lo, hi)
}

func (f *fakeFetcher) IsRetryable(err error) bool {
	if f.retryable != nil {
		return f.retryable(err)
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func fastBackoff() RetryBackoff {
	return RetryBackoff{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryingBlobStoreResumesAfterMidStreamFault(t *testing.T) {
	mem := NewMemBlobStore()
	src := Source{Bucket: "b", Key: "k"}
	data := []byte("0123456789abcdefghij")
	mem.Put(src, data)
	mem.Faults = map[Source]MemFault{src: {AfterBytes: 5}}

	fetcher := &fakeFetcher{store: mem}
	rb := &RetryingBlobStore{Fetcher: fetcher, Backoff: fastBackoff()}

	rc, err := rb.FetchRange(context.Background(), src, 0, uint64(len(data)-1))
	if err != nil {
		t.Fatalf("FetchRange: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("got %q, want %q", got, data)
	}
	if fetcher.callsPerKey[src] < 2 {
		t.Errorf("expected at least 2 FetchRangeOnce calls (initial + resume), got %d", fetcher.callsPerKey[src])
	}
}

func TestRetryingBlobStoreGivesUpAfterMaxAttempts(t *testing.T) {
	src := Source{Bucket: "b", Key: "k"}

	// Every attempt fails: exercises the retry-exhaustion path
	// deterministically, independent of MemBlobStore's one-shot fault
	// injection.
	fetcher := &persistentFaultFetcher{}
	rb := &RetryingBlobStore{Fetcher: fetcher, Backoff: RetryBackoff{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}}
	rc, err := rb.FetchRange(context.Background(), src, 0, 9)
	if err != nil {
		t.Fatalf("FetchRange: %v", err)
	}
	defer rc.Close()

	_, err = io.ReadAll(rc)
	if !errors.Is(err, ErrBlobFetchFatal) {
		t.Errorf("ReadAll error = %v, want wrapping ErrBlobFetchFatal", err)
	}
	if fetcher.attempts < 3 {
		t.Errorf("attempts = %d, want at least 3", fetcher.attempts)
	}
}

// persistentFaultFetcher always fails FetchRangeOnce, to exercise the
// retry-exhaustion path deterministically.
type persistentFaultFetcher struct {
	attempts int
}

func (f *persistentFaultFetcher) FetchRangeOnce(ctx context.Context, source Source, lo, hi uint64) (io.ReadCloser, error) {
	f.attempts++
	return nil, errors.New("connection reset")
}

func (f *persistentFaultFetcher) IsRetryable(err error) bool { return true }

func TestRetryingBlobStoreContextCancellation(t *testing.T) {
	mem := NewMemBlobStore()
	src := Source{Bucket: "b", Key: "k"}
	mem.Put(src, []byte("0123456789"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &fakeFetcher{store: mem}
	rb := &RetryingBlobStore{Fetcher: fetcher, Backoff: fastBackoff()}
	rc, err := rb.FetchRange(ctx, src, 0, 9)
	if err != nil {
		t.Fatalf("FetchRange: %v", err)
	}
	defer rc.Close()

	_, err = io.ReadAll(rc)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ReadAll error = %v, want context.Canceled", err)
	}
}

func TestMemBlobStoreRangeOutOfBounds(t *testing.T) {
	mem := NewMemBlobStore()
	src := Source{Bucket: "b", Key: "k"}
	mem.Put(src, []byte("short"))

	if _, err := mem.FetchRange(context.Background(), src, 0, 100); !errors.Is(err, ErrBlobFetchFatal) {
		t.Errorf("FetchRange(out of bounds) error = %v, want wrapping ErrBlobFetchFatal", err)
	}
	if _, err := mem.FetchRange(context.Background(), Source{Bucket: "b", Key: "missing"}, 0, 0); !errors.Is(err, ErrBlobFetchFatal) {
		t.Errorf("FetchRange(missing object) error = %v, want wrapping ErrBlobFetchFatal", err)
	}
}
