package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/fruitsalade/sdbrowser/internal/logging"
	"github.com/fruitsalade/sdbrowser/internal/metrics"
	"github.com/fruitsalade/sdbrowser/pkg/models"
	"github.com/fruitsalade/sdbrowser/pkg/retry"
)

// S3Config configures an S3Store. Empty keys use the default AWS credential
// chain.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // custom endpoint, e.g. MinIO
	PathStyle bool
	AccessKey string
	SecretKey string
}

// putObjectAPI is the part of *s3.Client the store uses.
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store writes listings to an S3 bucket.
type S3Store struct {
	client putObjectAPI
	bucket string
	prefix string
	retry  retry.Config
}

// NewS3Store creates an S3Store.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return newS3Store(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Store(client putObjectAPI, bucket, prefix string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		retry:  retry.DefaultConfig(),
	}
}

// Put implements Store. Failed uploads are retried with backoff.
func (s *S3Store) Put(ctx context.Context, at time.Time, t *models.Tree) (string, error) {
	key := Key(s.prefix, at)
	data, err := encode(t)
	if err != nil {
		metrics.RecordSnapshot("s3", false)
		return "", err
	}

	err = retry.Do(ctx, s.retry, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String("application/json"),
		})
		if err != nil {
			logging.Warn("snapshot upload failed", zap.String("key", key), zap.Error(err))
			return retry.Retryable(err)
		}
		return nil
	})
	if err != nil {
		metrics.RecordSnapshot("s3", false)
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	metrics.RecordSnapshot("s3", true)
	logging.Debug("S3 put object", zap.String("bucket", s.bucket), zap.String("key", key), zap.Int("size", len(data)))
	return "s3://" + s.bucket + "/" + key, nil
}
