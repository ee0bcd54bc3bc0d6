// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipstream

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Archive binds a Plan to a BlobStore and serves it over HTTP: the
// externally-visible handle a caller gets back after committing to a
// manifest, good for the lifetime of one request.
//
// It does not implement io.ReaderAt itself and does not delegate to
// http.ServeContent: net/http's Range handling assumes random access is
// cheap, which a remote ranged GET is not, so ServeHTTP parses the Range
// header itself and drives Stream directly.
type Archive struct {
	plan  *Plan
	store BlobStore
}

// NewArchive builds the Plan for manifest and binds it to store.
func NewArchive(manifest *Manifest, store BlobStore) (*Archive, error) {
	plan, err := BuildPlan(manifest)
	if err != nil {
		return nil, err
	}
	return &Archive{plan: plan, store: store}, nil
}

// ContentLength returns the archive's total length in bytes.
func (ar *Archive) ContentLength() int64 { return ar.plan.ContentLength() }

// ServeHTTP implements the HTTP Range semantics: Content-Length,
// Accept-Ranges, Content-Disposition, and a single Range request answered
// with 206 Partial Content / Content-Range, or 416 for an unsatisfiable or
// multi-range request.
func (ar *Archive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	total := uint64(ar.plan.totalLength)

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("ETag", ar.plan.ETag)
	w.Header().Set("Content-Disposition", contentDisposition(ar.plan.Filename()))

	start, end, status, ok := parseRangeHeader(r.Header.Get("Range"), total)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", total))
		http.Error(w, ErrRangeUnsatisfiable.Error(), http.StatusRequestedRangeNotSatisfiable)
		return
	}

	w.Header().Set("Content-Length", strconv.FormatUint(end-start, 10))
	if status == http.StatusPartialContent {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, total))
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return
	}

	if err := Stream(r.Context(), ar.plan, ar.store, start, end, w); err != nil {
		requestsStreamed.WithLabelValues("error").Inc()
		// Bytes, and possibly headers, are already on the wire: there is
		// nothing left to do but close the connection without a trailer;
		// no padding to Content-Length.
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, hErr := hj.Hijack(); hErr == nil {
				conn.Close()
			}
		}
		return
	}
	requestsStreamed.WithLabelValues("success").Inc()
}

// contentDisposition quote-escapes filename for use in a
// Content-Disposition header, matching RFC 6266's filename* fallback
// shape for non-ASCII names.
func contentDisposition(filename string) string {
	escaped := strings.ReplaceAll(filename, `"`, `\"`)
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, escaped, url.PathEscape(filename))
}

// parseRangeHeader parses a single "bytes=a-b" Range header against an
// archive of the given total length. It returns [start, end) and the
// response status to use (200 with no Range header, 206 for a
// satisfiable single range), or ok=false if the request should be
// answered 416: a malformed header, a range outside [0, total], or a
// multi-range request (the core engine does not support collapsing
// multiple ranges into one response).
func parseRangeHeader(header string, total uint64) (start, end uint64, status int, ok bool) {
	if header == "" {
		return 0, total, http.StatusOK, true
	}
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, 0, false
	}
	spec := header[len(prefix):]
	if strings.Contains(spec, ",") {
		// Multi-range: collapse is not supported, so reject outright.
		return 0, 0, 0, false
	}

	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return 0, 0, 0, false
	}
	startStr, endStr := spec[:dash], spec[dash+1:]

	var first, last uint64
	switch {
	case startStr == "" && endStr == "":
		return 0, 0, 0, false
	case startStr == "":
		// suffix range: last N bytes
		n, err := strconv.ParseUint(endStr, 10, 64)
		if err != nil || n == 0 {
			return 0, 0, 0, false
		}
		if n > total {
			n = total
		}
		first, last = total-n, total-1
	case endStr == "":
		n, err := strconv.ParseUint(startStr, 10, 64)
		if err != nil || n >= total {
			return 0, 0, 0, false
		}
		first, last = n, total-1
	default:
		s, err1 := strconv.ParseUint(startStr, 10, 64)
		e, err2 := strconv.ParseUint(endStr, 10, 64)
		if err1 != nil || err2 != nil || s > e || s >= total {
			return 0, 0, 0, false
		}
		if e >= total {
			e = total - 1
		}
		first, last = s, e
	}

	return first, last + 1, http.StatusPartialContent, true
}
