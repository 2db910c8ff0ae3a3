package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/omicslake/sra-mirror-lake/logging"
)

const (
	envS3Endpoint    = "S3_ENDPOINT"
	envAWSRegion     = "AWS_REGION"
	envAWSDefRegion  = "AWS_DEFAULT_REGION"
	defaultS3Gateway = "s3.amazonaws.com"
)

// S3Sink writes chunks to an S3-compatible bucket. Credentials come from the
// standard AWS environment variables; the endpoint can be overridden with
// S3_ENDPOINT for non-AWS gateways.
type S3Sink struct {
	client *minio.Client
	bucket string
	prefix string
	logger *logging.ComponentLogger
}

// ParseS3Destination splits an s3://bucket/prefix URL.
func ParseS3Destination(dest string) (bucket, prefix string, err error) {
	u, err := url.Parse(dest)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 destination %q", dest)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// NewS3Sink opens a sink on an existing bucket.
func NewS3Sink(ctx context.Context, dest string, logger *logging.ComponentLogger) (*S3Sink, error) {
	bucket, prefix, err := ParseS3Destination(dest)
	if err != nil {
		return nil, err
	}

	endpoint := os.Getenv(envS3Endpoint)
	if endpoint == "" {
		endpoint = defaultS3Gateway
	}
	region := os.Getenv(envAWSRegion)
	if region == "" {
		region = os.Getenv(envAWSDefRegion)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewEnvAWS(),
		Region: region,
		Secure: !strings.HasPrefix(endpoint, "localhost") && !strings.HasPrefix(endpoint, "127."),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", bucket)
	}

	logger.Info().
		Str("endpoint", endpoint).
		Str("bucket", bucket).
		Str("prefix", prefix).
		Msg("S3 sink ready")

	return &S3Sink{client: client, bucket: bucket, prefix: prefix, logger: logger}, nil
}

func (s *S3Sink) objectName(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3Sink) trimPrefix(objectName string) string {
	if s.prefix == "" {
		return objectName
	}
	return strings.TrimPrefix(objectName, s.prefix+"/")
}

// Put streams one object. Size is unknown to the sink, so the upload goes
// through minio's streaming multipart path.
func (s *S3Sink) Put(ctx context.Context, key string, r io.Reader) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.objectName(key), r, -1,
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// List returns objects under the prefix in key order.
func (s *S3Sink) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.objectName(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, obj.Err)
		}
		out = append(out, ObjectInfo{Key: s.trimPrefix(obj.Key), Size: obj.Size})
	}
	return out, nil
}

// Delete removes one object. Missing objects are not an error, matching the
// local sink.
func (s *S3Sink) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.objectName(key), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every object under the prefix.
func (s *S3Sink) DeletePrefix(ctx context.Context, prefix string) error {
	objs, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, obj := range objs {
		if err := s.Delete(ctx, obj.Key); err != nil {
			return err
		}
	}
	return nil
}
