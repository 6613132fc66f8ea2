// Package reportstore archives stability reports to S3-compatible object storage.
package reportstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"github.com/antoine1anthony/sprout-ci/internal/stability"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Sink receives finished reports. Implementations must be safe for concurrent use.
type Sink interface {
	Save(ctx context.Context, report *stability.Report, at time.Time) (string, error)
}

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Timeout   time.Duration
}

// S3Store writes one JSON object per report.
type S3Store struct {
	client  *minio.Client
	bucket  string
	region  string
	timeout time.Duration

	mu       sync.Mutex
	verified bool
}

var _ Sink = (*S3Store)(nil)

func NewS3Store(cfg S3Config) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Store{client: client, bucket: cfg.Bucket, region: region, timeout: timeout}, nil
}

// ensureBucket creates the bucket on first use. A failure is not cached.
func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.verified {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return err
		}
	}
	s.verified = true
	return nil
}

func (s *S3Store) Save(ctx context.Context, report *stability.Report, at time.Time) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.ensureBucket(ctx); err != nil {
		return "", &apperrors.ExternalServiceError{Service: "s3", Op: "ensure bucket", Err: err}
	}
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	key := ObjectKey(report.Deployment, at)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", &apperrors.ExternalServiceError{Service: "s3", Op: "put " + key, Err: err}
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// ObjectKey places reports under the deployment, ordered by time.
func ObjectKey(deployment string, at time.Time) string {
	clean := strings.Trim(strings.ReplaceAll(deployment, "..", ""), "/")
	return fmt.Sprintf("stability/%s/%s.json", clean, at.UTC().Format("20060102T150405Z"))
}

// Memory keeps reports in process; used when no object store is configured
// and in tests.
type Memory struct {
	mu      sync.Mutex
	reports map[string]*stability.Report
}

func NewMemory() *Memory {
	return &Memory{reports: make(map[string]*stability.Report)}
}

func (m *Memory) Save(ctx context.Context, report *stability.Report, at time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := ObjectKey(report.Deployment, at)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[key] = report
	return "memory://" + key, nil
}

// Len returns the number of saved reports.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reports)
}
