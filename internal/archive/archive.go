// Package archive keeps the raw markup fetched during a run in an S3-compatible bucket, so
// extraction problems can be replayed against exactly what the source served.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/vmoraes/event-harvester/internal/logger"
)

// Archiver stores one raw payload.
type Archiver interface {
	// Put stores payload under ObjectKey(runID, kind, date).
	Put(ctx context.Context, runID, kind, date string, payload []byte) error
}

// Config describes the bucket. An empty Endpoint disables archiving.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Enabled reports whether an endpoint is configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// ObjectKey returns the object name for a payload: "<run-id>/<kind>-<date>.html".
func ObjectKey(runID, kind, date string) string {
	return fmt.Sprintf("%s/%s-%s.html", runID, kind, date)
}

// Noop discards payloads.
type Noop struct{}

func (Noop) Put(context.Context, string, string, string, []byte) error { return nil }

// MinIO writes gzip-compressed payloads to a bucket.
type MinIO struct {
	client *minio.Client
	bucket string
	log    *logger.Logger
}

// New returns Noop when cfg is not enabled, otherwise a MinIO archiver whose bucket has
// been created if missing.
func New(ctx context.Context, cfg Config, log *logger.Logger) (Archiver, error) {
	if !cfg.Enabled() {
		return Noop{}, nil
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required when an endpoint is set")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &MinIO{
		client: client,
		bucket: cfg.Bucket,
		log:    log.With(logger.Fields{"component": "archive", "bucket": cfg.Bucket}),
	}, nil
}

func (a *MinIO) Put(ctx context.Context, runID, kind, date string, payload []byte) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return fmt.Errorf("compressing payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compressing payload: %w", err)
	}

	key := ObjectKey(runID, kind, date)
	reader := bytes.NewReader(buf.Bytes())
	_, err := a.client.PutObject(ctx, a.bucket, key, reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType:     "text/html; charset=utf-8",
		ContentEncoding: "gzip",
		UserMetadata: map[string]string{
			"run-id": runID,
			"kind":   kind,
			"date":   date,
		},
	})
	if err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}

	a.log.Debug("Payload archived", logger.Fields{"key": key, "bytes": len(payload)})
	return nil
}
