package override

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Config points the auditor at an S3-compatible bucket.
type S3Config struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Bucket       string
	Prefix       string
	UsePathStyle bool
}

// PutObjectAPI is the part of *s3.Client the auditor needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Auditor stores each event as its own JSON object.
type S3Auditor struct {
	api    PutObjectAPI
	bucket string
	prefix string
	now    func() time.Time
}

var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = s3.NewFromConfig
)

func NewS3Auditor(api PutObjectAPI, bucket, prefix string) *S3Auditor {
	return &S3Auditor{api: api, bucket: bucket, prefix: prefix, now: time.Now}
}

// NewS3AuditorFromConfig builds the S3 client from static credentials.
func NewS3AuditorFromConfig(ctx context.Context, c S3Config) (*S3Auditor, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
		o.UsePathStyle = c.UsePathStyle
	})

	return NewS3Auditor(client, c.Bucket, c.Prefix), nil
}

// objectKey lays events out by day: <prefix>/2025/01/31/<unixnano>-<uuid>.json
func (a *S3Auditor) objectKey(ts time.Time) string {
	ts = ts.UTC()
	return fmt.Sprintf("%s%04d/%02d/%02d/%d-%s.json",
		a.prefix, ts.Year(), ts.Month(), ts.Day(), ts.UnixNano(), uuid.New())
}

func (a *S3Auditor) Record(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = a.now()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	_, err = a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.objectKey(ev.Timestamp)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put audit event: %w", err)
	}
	return nil
}
