package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	appconfig "featureflow/config"
	"featureflow/errs"
	"featureflow/internal/metrics"
	"featureflow/logger"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader mirrors snapshot files to a bucket. Objects are written once:
// unless overwrite is requested the put is conditional on the key being absent.
type S3Uploader struct {
	client  objectPutter
	bucket  string
	prefix  string
	version string
	log     *logger.Log
}

func NewS3Uploader(ctx context.Context, cfg appconfig.S3Config, version string, log *logger.Log) (*S3Uploader, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_uploader").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, errs.Configuration("s3_uploader", "aws credentials not found")
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	log.WithComponent("s3_uploader").WithFields(logger.Fields{
		"bucket":     cfg.Bucket,
		"region":     cfg.Region,
		"endpoint":   cfg.Endpoint,
		"path_style": cfg.PathStyle,
	}).Info("s3 uploader initialized")

	return newS3Uploader(client, cfg.Bucket, cfg.Prefix, version, log), nil
}

func newS3Uploader(client objectPutter, bucket, prefix, version string, log *logger.Log) *S3Uploader {
	return &S3Uploader{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		version: version,
		log:     log,
	}
}

func (u *S3Uploader) Bucket() string {
	return u.bucket
}

// Key joins parts under the configured prefix with forward slashes.
func (u *S3Uploader) Key(parts ...string) string {
	return path.Join(append([]string{u.prefix}, parts...)...)
}

// Upload puts data at key. Without overwrite an existing object is left alone
// and errs.ErrSnapshotExists is returned.
func (u *S3Uploader) Upload(ctx context.Context, key string, data []byte, contentType string, overwrite bool) error {
	log := u.log.WithComponent("s3_uploader").WithFields(logger.Fields{
		"operation": "upload",
		"bucket":    u.bucket,
		"s3_key":    key,
		"data_size": len(data),
	})

	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"featureflow-version": u.version,
		},
	}
	if !overwrite {
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		if isPreconditionFailed(err) {
			return fmt.Errorf("%w: s3://%s/%s", errs.ErrSnapshotExists, u.bucket, key)
		}
		metrics.Count(u.log, "s3_uploader", "upload_error", logger.Fields{"bucket": u.bucket})
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", u.bucket, err)
	}

	metrics.EmitMetric(u.log, "s3_uploader", "uploaded_bytes", len(data), metrics.TypeCounter, logger.Fields{"bucket": u.bucket})
	log.Info("successfully uploaded to S3")
	return nil
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "PreconditionFailed"
	}
	return false
}
