package zipstream

import "errors"

// Error kinds the engine wraps and returns. Callers should compare with errors.Is;
// an error of one of these kinds is the sentinel itself or wraps it with
// fmt.Errorf("%w: ...", ...). Other failures, such as context cancellation
// or a failed write to the destination, wrap none of these sentinels.
var (
	// ErrManifestInvalid means the manifest failed to parse or violates a
	// structural constraint (oversize filename, too many entries). It is
	// always returned before any archive bytes are written.
	ErrManifestInvalid = errors.New("zipstream: manifest invalid")

	// ErrPlanOverflow means the archive would exceed the addressable
	// range of a signed 64-bit byte offset.
	ErrPlanOverflow = errors.New("zipstream: plan exceeds maximum archive size")

	// ErrRangeUnsatisfiable means the requested [a, b) interval falls
	// outside [0, total_length]. Callers should respond 416.
	ErrRangeUnsatisfiable = errors.New("zipstream: requested range not satisfiable")

	// ErrBlobFetchFatal means a blob-store read failed in a way that is
	// not retryable (404, auth failure, retries exhausted, or a byte
	// count mismatch against the manifest's declared length). When this
	// occurs mid-stream, the response body is simply truncated: the
	// engine never pads or fabricates bytes to reach Content-Length.
	ErrBlobFetchFatal = errors.New("zipstream: blob fetch failed")
)
