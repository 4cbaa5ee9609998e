package sink

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"audio-analyser/internal/config"
)

// Uploader stores one artifact under key and returns where it landed.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// LocalUploader writes artifacts below a base directory.
type LocalUploader struct {
	baseDir string
}

func NewLocalUploader(baseDir string) *LocalUploader {
	return &LocalUploader{baseDir: baseDir}
}

// Upload writes to a temp file first and renames it, so readers never see partial content.
func (l *LocalUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	dest := filepath.Join(l.baseDir, sanitizeKey(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("chmod file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("rename file: %w", err)
	}
	return dest, nil
}

// S3Uploader puts artifacts into a bucket under a key prefix.
type S3Uploader struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Uploader returns nil when no bucket is configured.
func NewS3Uploader(ctx context.Context, cfg config.Config) (*S3Uploader, error) {
	if cfg.S3Bucket == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3PathStyle
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
	})
	return &S3Uploader{client: client, bucket: cfg.S3Bucket, prefix: strings.Trim(cfg.S3Prefix, "/")}, nil
}

// Sub returns an uploader writing below prefix/sub.
func (s *S3Uploader) Sub(sub string) *S3Uploader {
	return &S3Uploader{client: s.client, bucket: s.bucket, prefix: path.Join(s.prefix, sub)}
}

func (s *S3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	objectKey := path.Join(s.prefix, filepath.ToSlash(sanitizeKey(key)))
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, objectKey), nil
}

// mirrored writes to primary and copies to mirror. Mirror failures are logged only.
type mirrored struct {
	primary Uploader
	mirror  Uploader
}

// Mirror returns primary unchanged when mirror is nil.
func Mirror(primary, mirror Uploader) Uploader {
	if mirror == nil {
		return primary
	}
	return &mirrored{primary: primary, mirror: mirror}
}

func (m *mirrored) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	dest, err := m.primary.Upload(ctx, key, body, contentType)
	if err != nil {
		return "", err
	}
	if loc, err := m.mirror.Upload(ctx, key, body, contentType); err != nil {
		log.Printf("mirror %s failed: %v", key, err)
	} else {
		log.Printf("mirrored %s to %s", key, loc)
	}
	return dest, nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	for strings.HasPrefix(key, ".."+string(filepath.Separator)) {
		key = strings.TrimPrefix(key, ".."+string(filepath.Separator))
	}
	return key
}
