package zipstream

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// Stream writes the bytes of the archive in [a, b) to w, in strict archive
// order, fetching data slices from store as they're needed. Rather than
// exposing an io.ReaderAt for net/http to drive in small fixed-size
// chunks, Stream owns the whole write loop so it can prefetch across
// slice boundaries regardless of how big a single member is.
//
// Stream honors ctx: cancelling it aborts the in-flight blob-store fetch
// and any pending prefetch. At most one data slice is fetched ahead of
// the one currently being written to w; memory usage is bounded by two
// in-flight chunks plus the largest precomputed metadata blob.
func Stream(ctx context.Context, p *Plan, store BlobStore, a, b uint64, w io.Writer) error {
	slices, err := ResolveRange(p, a, b)
	if err != nil {
		return err
	}

	fetches := make([]io.ReadCloser, len(slices))
	var g errgroup.Group

	openFetch := func(i int) error {
		s := slices[i]
		if !s.IsData() {
			return nil
		}
		rc, err := store.FetchRange(ctx, s.Source, s.SourceStart, s.SourceEnd-1)
		if err != nil {
			return fmt.Errorf("zipstream: opening fetch for %s [%d,%d): %w", s.Source, s.SourceStart, s.SourceEnd, err)
		}
		fetches[i] = rc
		return nil
	}

	// Kick off the first data slice's fetch before the main loop, then
	// keep exactly one slice of lookahead: while slice i drains into w,
	// FetchRange for slice i+1 runs concurrently. Whether the blob-store
	// request itself is under way by then depends on the store:
	// RetryingBlobStore only opens it on the first Read.
	if len(slices) > 0 {
		if err := openFetch(0); err != nil {
			return err
		}
	}

	defer func() {
		for _, rc := range fetches {
			if rc != nil {
				rc.Close()
			}
		}
	}()

	for i, s := range slices {
		if i+1 < len(slices) {
			next := i + 1
			g.Go(func() error { return openFetch(next) })
		}

		if !s.IsData() {
			n, err := w.Write(s.Meta)
			bytesStreamed.Add(float64(n))
			if err != nil {
				return fmt.Errorf("zipstream: writing metadata slice: %w", err)
			}
		} else {
			n, err := io.Copy(w, fetches[i])
			bytesStreamed.Add(float64(n))
			if err != nil {
				return fmt.Errorf("zipstream: streaming data slice from %s: %w", s.Source, err)
			}
			fetches[i].Close()
			fetches[i] = nil
		}

		if err := g.Wait(); err != nil {
			return err
		}
		// g is single-use once Wait has returned; start a fresh group
		// for the next lookahead.
		g = errgroup.Group{}
	}

	return nil
}
