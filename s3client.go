package zipstream

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// StaticCredentials pins an explicit access key pair instead of letting
// the SDK resolve one from the environment, a shared config file, or
// instance metadata. Leave the zero value to use the SDK's default chain.
type StaticCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string // optional
}

// S3ClientConfig configures NewS3Client. It mirrors the subset of a
// read-only range-fetching client's needs: region, optional custom
// endpoint (for S3-compatible stores), the SDK's own retry bound for a
// single API call, and an optional static credential override.
type S3ClientConfig struct {
	Region         string
	EndpointURL    string // empty for AWS S3 itself
	MaxAPIAttempts int    // SDK-level retry bound for a single GetObject call
	UsePathStyle   bool   // required by most non-AWS S3-compatible stores
	Credentials    *StaticCredentials
}

// NewS3Client builds the process-wide S3 client and its credential
// provider, initialized once at startup and shared across requests:
// cmd/zipstreamd builds a single client and wraps it in one
// S3RangeFetcher/RetryingBlobStore pair that serves every request.
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*s3.Client, error) {
	maxAttempts := cfg.MaxAPIAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = maxAttempts
			})
		}),
	}
	if cfg.Region != "" {
		loadOptions = append(loadOptions, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Credentials != nil {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Credentials.AccessKeyID,
				cfg.Credentials.SecretAccessKey,
				cfg.Credentials.SessionToken,
			)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("zipstream: loading AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}
