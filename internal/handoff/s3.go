package handoff

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"jt-go/internal/config"
	"jt-go/internal/jt"
)

// uploader is the subset of *manager.Uploader the sink uses.
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Sink uploads each batch as one object at
// s3://<bucket>/<prefix>/<hostID>/<batchID>.jsonl[.age].
type S3Sink struct {
	up     uploader
	bucket string
	prefix string
	enc    jt.Encryptor
}

var _ jt.HandoffSink = (*S3Sink)(nil)

// NewS3Sink builds an S3 client from cfg. Static credentials are used when
// both key fields are set; otherwise the default AWS credential chain
// applies. S3Endpoint selects an S3-compatible service with path-style
// addressing.
func NewS3Sink(ctx context.Context, cfg config.HandoffConfig, enc jt.Encryptor) (*S3Sink, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 hand-off requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Sink(manager.NewUploader(client), cfg.S3Bucket, cfg.S3Prefix, enc), nil
}

func newS3Sink(up uploader, bucket, prefix string, enc jt.Encryptor) *S3Sink {
	return &S3Sink{up: up, bucket: bucket, prefix: prefix, enc: enc}
}

// Key returns the object key b is stored under.
func (s *S3Sink) Key(b jt.HandoffBatch) string {
	return path.Join(s.prefix, ObjectName(b, s.enc != nil))
}

func (s *S3Sink) Handoff(ctx context.Context, b jt.HandoffBatch) error {
	payload, err := seal(b, s.enc)
	if err != nil {
		return err
	}

	contentType := "application/x-ndjson"
	if s.enc != nil {
		contentType = "application/octet-stream"
	}
	key := s.Key(b)
	_, err = s.up.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentType:   aws.String(contentType),
		Metadata: map[string]string{
			"jt-host-id":  b.HostID,
			"jt-batch-id": b.ID,
			"jt-records":  fmt.Sprint(len(b.Records)),
		},
	})
	if err != nil {
		return fmt.Errorf("uploading batch to s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
