package mover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lazypower/tierctl/internal/config"
)

const archiveScheme = "s3://"

// ObjectClient is the subset of an S3-compatible store the archive needs.
// Stat returns an error wrapping fs.ErrNotExist for a missing key.
type ObjectClient interface {
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, bucket, key string) error
	Stat(ctx context.Context, bucket, key string) (int64, error)
}

// Archive is the Cold tier on an S3-compatible object store.
type Archive struct {
	Bucket  string
	client  ObjectClient
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewArchive wraps an ObjectClient for bucket.
func NewArchive(client ObjectClient, bucket string, limiter *rate.Limiter, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{Bucket: bucket, client: client, limiter: limiter, logger: logger.Named("archive")}
}

// DialArchive connects to the configured object store and makes sure the
// bucket exists.
func DialArchive(ctx context.Context, cfg config.ArchiveConfig, limiter *rate.Limiter, logger *zap.Logger) (*Archive, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("archive: endpoint not configured")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket not configured")
	}
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	mc, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("archive: create client: %w", err)
	}

	exists, err := mc.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("archive: check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("archive: create bucket %s: %w", cfg.Bucket, err)
		}
	}

	if logger != nil {
		logger.Info("archive connected",
			zap.String("endpoint", cfg.Endpoint),
			zap.String("bucket", cfg.Bucket),
			zap.String("region", cfg.Region),
			zap.Bool("use_ssl", cfg.UseSSL),
		)
	}
	return NewArchive(minioObjects{mc}, cfg.Bucket, limiter, logger), nil
}

func (a *Archive) String() string { return archiveScheme + a.Bucket }

// Location formats the archive address of key.
func (a *Archive) Location(key string) string {
	return archiveScheme + a.Bucket + "/" + key
}

func (a *Archive) Locate(name string) string { return a.Location(name) }

// ParseLocation splits an s3://bucket/key address.
func ParseLocation(location string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(location, archiveScheme)
	if !ok {
		return "", "", fmt.Errorf("not an archive location: %q", location)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed archive location: %q", location)
	}
	return bucket, key, nil
}

// Size returns the stored size of the object at location.
func (a *Archive) Size(ctx context.Context, location string) (int64, error) {
	bucket, key, err := ParseLocation(location)
	if err != nil {
		return 0, err
	}
	return a.client.Stat(ctx, bucket, key)
}

// Put uploads the local file src under key name and removes src once the
// store has acknowledged the write. Cancelling ctx aborts the upload; it has
// no effect after acknowledgement.
func (a *Archive) Put(ctx context.Context, src, name string) (string, error) {
	if _, err := a.client.Stat(ctx, a.Bucket, name); err == nil {
		return "", fmt.Errorf("%s: %w", a.Location(name), ErrDestinationExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("stat %s: %w", a.Location(name), err)
	}

	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return "", fmt.Errorf("stat source: %w", err)
	}

	err = a.client.Put(ctx, a.Bucket, name, newThrottledReader(ctx, f, a.limiter), fi.Size())
	f.Close()
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}

	if err := os.Remove(src); err != nil {
		if rerr := a.client.Remove(context.WithoutCancel(ctx), a.Bucket, name); rerr != nil {
			a.logger.Error("rollback of uploaded copy failed", zap.String("key", name), zap.Error(rerr))
		}
		return "", fmt.Errorf("remove source: %w", err)
	}
	return a.Location(name), nil
}

// Take downloads the object at location into dst as name and deletes the
// archived copy.
func (a *Archive) Take(ctx context.Context, location string, dst *Disk, name string) (string, error) {
	bucket, key, err := ParseLocation(location)
	if err != nil {
		return "", err
	}
	final := dst.Path(name)
	if _, err := os.Lstat(final); err == nil {
		return "", fmt.Errorf("%s: %w", final, ErrDestinationExists)
	}

	rc, err := a.client.Get(ctx, bucket, key)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	err = dst.writeAtomic(ctx, rc, final)
	rc.Close()
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}

	if err := a.client.Remove(context.WithoutCancel(ctx), bucket, key); err != nil {
		os.Remove(final)
		return "", fmt.Errorf("remove archived copy: %w", err)
	}
	return final, nil
}

// minioObjects adapts *minio.Client to ObjectClient.
type minioObjects struct {
	c *minio.Client
}

func (m minioObjects) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	_, err := m.c.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}

func (m minioObjects) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.c.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; Stat surfaces a missing key before any bytes are read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, notExist(err)
	}
	return obj, nil
}

func (m minioObjects) Remove(ctx context.Context, bucket, key string) error {
	return m.c.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
}

func (m minioObjects) Stat(ctx context.Context, bucket, key string) (int64, error) {
	info, err := m.c.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, notExist(err)
	}
	return info.Size, nil
}

func notExist(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %v", fs.ErrNotExist, err)
	}
	return err
}
