package zipstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Client is the subset of *s3.Client this package depends on, so tests
// can substitute a fake. This mirrors buildbarn/bb-storage's
// pkg/cloud/aws.S3Client narrowing of the full SDK client to just
// GetObject.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

var _ S3Client = (*s3.Client)(nil)

// S3RangeFetcher is a RangeFetcher backed by an S3-compatible object
// store. HTTP-level retry (connection resets, timeouts, 5xx) for a single
// GetObject call is handled by the AWS SDK's own configured retryer; the
// resume-on-partial-read policy above that is RetryingBlobStore's job.
type S3RangeFetcher struct {
	Client S3Client
}

func (f *S3RangeFetcher) FetchRangeOnce(ctx context.Context, source Source, lo, hi uint64) (io.ReadCloser, error) {
	rng := fmt.Sprintf("bytes=%d-%d", lo, hi)
	out, err := f.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(source.Bucket),
		Key:    aws.String(source.Key),
		Range:  aws.String(rng),
	})
	if err != nil {
		return nil, classifyS3Error(err)
	}
	return out.Body, nil
}

func (f *S3RangeFetcher) IsRetryable(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var s3err *s3FetchError
	if errors.As(err, &s3err) {
		return s3err.retryable
	}
	// Network-level errors (connection reset, timeout) surface as plain
	// errors from the SDK's HTTP transport once its own retries are
	// exhausted; treat anything not explicitly marked permanent above as
	// worth one more resume attempt.
	return true
}

// s3FetchError classifies an S3 error as retryable or fatal: a 404 for a
// manifest-listed object is fatal and never retried; 429 is retryable;
// other 4xx are fatal; 5xx are retryable.
type s3FetchError struct {
	cause     error
	retryable bool
}

func (e *s3FetchError) Error() string { return e.cause.Error() }
func (e *s3FetchError) Unwrap() error { return e.cause }

func classifyS3Error(err error) error {
	var statusErr *awshttp.ResponseError
	if errors.As(err, &statusErr) {
		code := statusErr.HTTPStatusCode()
		switch {
		case code == http.StatusNotFound:
			return &s3FetchError{cause: err, retryable: false}
		case code == http.StatusTooManyRequests:
			return &s3FetchError{cause: err, retryable: true}
		case code >= 400 && code < 500:
			return &s3FetchError{cause: err, retryable: false}
		case code >= 500:
			return &s3FetchError{cause: err, retryable: true}
		}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode() == "NoSuchKey" {
			return &s3FetchError{cause: err, retryable: false}
		}
	}
	return &s3FetchError{cause: err, retryable: true}
}
