package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectConfig locates an S3-compatible object store.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

func (c ObjectConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("object store endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("object store access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("object store secret key is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("object store bucket is required")
	}
	return nil
}

// ObjectStore writes each sink as an object below a bucket prefix.
type ObjectStore struct {
	ctx    context.Context
	client *minio.Client
	bucket string
	prefix string
}

// OpenObjectStore connects to the store and makes sure the bucket exists.
func OpenObjectStore(ctx context.Context, cfg ObjectConfig) (*ObjectStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("make bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &ObjectStore{ctx: ctx, client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (o *ObjectStore) NewSink(p string) (Sink, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	key := clean
	if o.prefix != "" {
		key = path.Join(o.prefix, clean)
	}
	return &objectSink{o: o, rel: clean, key: key}, nil
}

func (o *ObjectStore) Close() error { return nil }

func (o *ObjectStore) String() string {
	return fmt.Sprintf("s3://%s/%s", o.bucket, o.prefix)
}

type objectSink struct {
	o   *ObjectStore
	rel string
	key string
}

func (s *objectSink) Path() string { return s.rel }

func (s *objectSink) Exists() (bool, error) {
	_, err := s.o.client.StatObject(s.o.ctx, s.o.bucket, s.key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, err
}

func (s *objectSink) Create() (Writer, error) {
	return &bufferWriter{commit: func(b []byte) error {
		_, err := s.o.client.PutObject(s.o.ctx, s.o.bucket, s.key, bytes.NewReader(b), int64(len(b)),
			minio.PutObjectOptions{ContentType: contentType(s.key)})
		if err != nil {
			return fmt.Errorf("put %s: %w", s.key, err)
		}
		if diag, ok := staleDiagnostic(s.key); ok {
			if err := s.o.client.RemoveObject(s.o.ctx, s.o.bucket, diag, minio.RemoveObjectOptions{}); err != nil {
				return fmt.Errorf("remove stale %s: %w", diag, err)
			}
		}
		return nil
	}}, nil
}

func contentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".csv":
		return "text/csv"
	case ".json", ".jsonl":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
