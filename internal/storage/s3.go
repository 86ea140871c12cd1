package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/sethvargo/go-retry"

	cfg "github.com/atelierhq/atelier/internal/config"
)

// ObjectInfo is the result of a stat call against the object store.
type ObjectInfo struct {
	Exists bool
	Size   int64
}

// Gateway is the capability surface the upload coordinator and sweeper need
// from an object store: time-limited signed URLs plus existence checks. The
// store itself never sees workspace identity; scoping lives in the object key.
type Gateway interface {
	// MintUploadURL returns a presigned PUT URL scoped to exactly path.
	MintUploadURL(ctx context.Context, path string, expiry time.Duration) (string, error)

	// MintDownloadURL returns a presigned GET URL for path.
	MintDownloadURL(ctx context.Context, path string, expiry time.Duration) (string, error)

	// Stat reports whether an object exists at path and its size.
	Stat(ctx context.Context, path string) (ObjectInfo, error)

	// Delete removes the object at path. Deleting an absent object is not
	// an error.
	Delete(ctx context.Context, path string) error
}

// S3Gateway implements Gateway for S3-compatible storage
// Works with AWS S3, MinIO, DigitalOcean Spaces, Cloudflare R2, etc.
type S3Gateway struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
}

// S3Config holds configuration for S3 storage
type S3Config struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Endpoint  string // Optional: for S3-compatible services
}

// New creates an S3-compatible gateway from app config.
func New(c *cfg.Config) (Gateway, error) {
	slog.Info("initializing S3 storage",
		"bucket", c.S3Bucket,
		"region", c.S3Region,
		"endpoint", c.S3Endpoint,
	)
	return NewS3Gateway(S3Config{
		Region:    c.S3Region,
		Bucket:    c.S3Bucket,
		AccessKey: c.S3AccessKey,
		SecretKey: c.S3SecretKey,
		Endpoint:  c.S3Endpoint,
	})
}

// NewS3Gateway creates a new S3 gateway instance
func NewS3Gateway(cfg S3Config) (*S3Gateway, error) {
	ctx := context.Background()

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	// Add static credentials if provided
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Create S3 client with optional custom endpoint
	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO and some S3-compatible services
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	gw := &S3Gateway{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        cfg.Bucket,
	}

	// Auto-create bucket if it doesn't exist
	if err := gw.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return gw, nil
}

// ensureBucket checks if bucket exists, creates it if not
func (g *S3Gateway) ensureBucket(ctx context.Context) error {
	_, err := g.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(g.bucket),
	})
	if err == nil {
		return nil // Bucket exists
	}

	_, err = g.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(g.bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket %q does not exist and could not be created: %w", g.bucket, err)
	}

	slog.Info("created S3 bucket", "bucket", g.bucket)
	return nil
}

// MintUploadURL returns a presigned PUT URL. The signature covers the exact
// object key, so the URL is a capability for that one path only.
func (g *S3Gateway) MintUploadURL(ctx context.Context, path string, expiry time.Duration) (string, error) {
	req, err := g.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(path),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign upload URL: %w", err)
	}

	return req.URL, nil
}

// MintDownloadURL generates a presigned GET URL for temporary read access.
func (g *S3Gateway) MintDownloadURL(ctx context.Context, path string, expiry time.Duration) (string, error) {
	req, err := g.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(path),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign download URL: %w", err)
	}

	return req.URL, nil
}

// Stat issues a HEAD request for the object. Transient faults are retried with
// a bounded fibonacci backoff; a definitive not-found is returned immediately.
func (g *S3Gateway) Stat(ctx context.Context, path string) (ObjectInfo, error) {
	var info ObjectInfo

	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		out, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(g.bucket),
			Key:    aws.String(path),
		})
		if err != nil {
			if isNotFound(err) {
				info = ObjectInfo{Exists: false}
				return nil
			}
			return retry.RetryableError(err)
		}

		info = ObjectInfo{Exists: true, Size: aws.ToInt64(out.ContentLength)}
		return nil
	})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to stat object: %w", err)
	}

	return info, nil
}

// isNotFound recognizes a definitive missing-object response. Some
// S3-compatible backends answer HEAD with a bare 404 instead of the modeled
// NotFound type, so the generic API error code is checked too.
func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey"
	}

	return false
}

// Delete removes an object from the bucket.
func (g *S3Gateway) Delete(ctx context.Context, path string) error {
	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}

	return nil
}
