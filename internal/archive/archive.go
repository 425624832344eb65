// Package archive exports finalized deposit records to durable blob storage
// for the operator audit trail. Archival never blocks the ceremony path.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const (
	DriverS3     = "s3"
	DriverMemory = "memory"
)

var (
	ErrInvalidConfig = errors.New("archive: invalid config")
	ErrInvalidKey    = errors.New("archive: invalid key")
)

// Archiver is a write-once blob sink keyed by deposit id.
type Archiver interface {
	Put(ctx context.Context, key string, payload []byte) error
	Exists(ctx context.Context, key string) (bool, error)
}

type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type Config struct {
	Driver string
	Prefix string

	// S3 fields.
	Bucket   string
	S3Client S3Client
}

func New(cfg Config) (Archiver, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Driver)) {
	case DriverMemory:
		return NewMemory(cfg.Prefix), nil
	case DriverS3, "":
		return newS3(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

func objectKey(prefix, key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if prefix == "" {
		return key, nil
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key, nil
}

type s3Archiver struct {
	client S3Client
	bucket string
	prefix string
}

func newS3(cfg Config) (*s3Archiver, error) {
	if cfg.S3Client == nil {
		return nil, fmt.Errorf("%w: nil s3 client", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("%w: bucket is required", ErrInvalidConfig)
	}
	return &s3Archiver{
		client: cfg.S3Client,
		bucket: strings.TrimSpace(cfg.Bucket),
		prefix: strings.TrimSpace(cfg.Prefix),
	}, nil
}

func (a *s3Archiver) Put(ctx context.Context, key string, payload []byte) error {
	k, err := objectKey(a.prefix, key)
	if err != nil {
		return err
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(k),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", k, err)
	}
	return nil
}

func (a *s3Archiver) Exists(ctx context.Context, key string) (bool, error) {
	k, err := objectKey(a.prefix, key)
	if err != nil {
		return false, err
	}
	_, err = a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(k),
	})
	if err == nil {
		return true, nil
	}

	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
		return false, nil
	}
	return false, fmt.Errorf("archive: head %s: %w", k, err)
}

// Memory is the in-process archiver used by tests and local runs.
type Memory struct {
	prefix string

	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemory(prefix string) *Memory {
	return &Memory{
		prefix:  strings.TrimSpace(prefix),
		objects: make(map[string][]byte),
	}
}

func (m *Memory) Put(_ context.Context, key string, payload []byte) error {
	k, err := objectKey(m.prefix, key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[k] = append([]byte(nil), payload...)
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	k, err := objectKey(m.prefix, key)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[k]
	return ok, nil
}
