// Package crash persists diagnostic artifacts for check plugin failures.
package crash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// Report is the content of one crash artifact.
type Report struct {
	ID          string            `json:"id"`
	Time        time.Time         `json:"time"`
	Host        string            `json:"host"`
	Service     string            `json:"service"`
	Plugin      string            `json:"plugin"`
	Item        string            `json:"item,omitempty"`
	Params      any               `json:"params,omitempty"`
	SectionKeys []string          `json:"section_keys,omitempty"`
	Sections    map[string]string `json:"sections,omitempty"` // 段内容的文本形式
	Error       string            `json:"error"`
	Stack       string            `json:"stack,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

// Sink stores a crash report and returns its identifier.
type Sink interface {
	Report(ctx context.Context, r Report) (string, error)
}

// Output is the check output that references a stored crash report.
func Output(id string) string {
	return fmt.Sprintf("check failed - please submit a crash report! (Crash-ID: %s)", id)
}

// FailedOutput is the check output when the crash report itself could not be stored.
func FailedOutput(err error) string {
	return fmt.Sprintf("check failed - failed to create a crash report: %v", err)
}

func prepare(r Report) Report {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	return r
}

func encode(r Report) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode crash report: %w", err)
	}
	return data, nil
}

// =============================================================================
// Directory sink
// =============================================================================

// DirSink writes <dir>/<id>/crash.json.
type DirSink struct {
	dir    string
	logger zerolog.Logger
}

// NewDirSink creates a sink writing below dir.
func NewDirSink(dir string, logger zerolog.Logger) *DirSink {
	return &DirSink{dir: dir, logger: logger.With().Str("component", "crash").Logger()}
}

// Report implements Sink.
func (s *DirSink) Report(_ context.Context, r Report) (string, error) {
	r = prepare(r)
	data, err := encode(r)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(s.dir, r.ID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create crash directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "crash.json"), data, 0o640); err != nil {
		return "", fmt.Errorf("failed to write crash report: %w", err)
	}
	s.logger.Warn().
		Str("crash_id", r.ID).
		Str("host", r.Host).
		Str("service", r.Service).
		Str("plugin", r.Plugin).
		Msg("check plugin crashed")
	return r.ID, nil
}

// =============================================================================
// Object storage sink
// =============================================================================

// ObjectConfig configures an S3 compatible crash report bucket.
type ObjectConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
	Prefix          string
}

// ObjectSink uploads crash reports as <prefix><id>.json objects.
type ObjectSink struct {
	client *minio.Client
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewObjectSink creates a sink for the configured bucket.
func NewObjectSink(cfg ObjectConfig, logger zerolog.Logger) (*ObjectSink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "crashes/"
	}
	return &ObjectSink{
		client: client,
		bucket: cfg.BucketName,
		prefix: prefix,
		logger: logger.With().Str("component", "crash").Logger(),
	}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *ObjectSink) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Report implements Sink.
func (s *ObjectSink) Report(ctx context.Context, r Report) (string, error) {
	r = prepare(r)
	data, err := encode(r)
	if err != nil {
		return "", err
	}
	key := s.prefix + r.ID + ".json"
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload crash report %s: %w", key, err)
	}
	s.logger.Warn().Str("crash_id", r.ID).Str("object", key).Str("host", r.Host).Msg("check plugin crashed")
	return r.ID, nil
}

// =============================================================================
// Fan-out
// =============================================================================

// Tee stores a report in every sink. The first sink's identifier is returned; failures
// of later sinks are logged only.
type Tee struct {
	sinks  []Sink
	logger zerolog.Logger
}

// NewTee creates a sink writing to all given sinks. At least one sink is required.
func NewTee(logger zerolog.Logger, sinks ...Sink) *Tee {
	return &Tee{sinks: sinks, logger: logger.With().Str("component", "crash").Logger()}
}

// Report implements Sink.
func (t *Tee) Report(ctx context.Context, r Report) (string, error) {
	r = prepare(r)
	id, err := t.sinks[0].Report(ctx, r)
	if err != nil {
		return "", err
	}
	for _, s := range t.sinks[1:] {
		if _, err := s.Report(ctx, r); err != nil {
			t.logger.Error().Err(err).Str("crash_id", id).Msg("secondary crash sink failed")
		}
	}
	return id, nil
}
