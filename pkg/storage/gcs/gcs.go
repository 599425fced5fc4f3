package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	cfg "github.com/feichai0017/document-converter/config"
	"github.com/feichai0017/document-converter/pkg/logger"
	"github.com/feichai0017/document-converter/pkg/storage/storetypes"
)

type GCSStorage struct {
	client     *storage.Client
	bucketName string
	logger     logger.Logger
}

// NewGCSStorage opens a Google Cloud Storage bucket. Without a credentials
// file Application Default Credentials are used.
func NewGCSStorage(ctx context.Context, gcsConfig cfg.GCSConfig, bucket string, creds *storetypes.Credentials, log logger.Logger) (*GCSStorage, error) {
	var opts []option.ClientOption
	if creds != nil && creds.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(creds.CredentialsFile))
	}
	if gcsConfig.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(gcsConfig.Endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStorage{
		client:     client,
		bucketName: bucket,
		logger:     log.With(logger.String("bucket", bucket)),
	}, nil
}

// Store implements Storage.Store
func (g *GCSStorage) Store(ctx context.Context, reader io.Reader, key string, contentType string) (string, error) {
	w := g.client.Bucket(g.bucketName).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, reader); err != nil {
		_ = w.Close()
		g.logger.Error("Failed to store file to GCS", logger.String("key", key), logger.Error(err))
		return "", fmt.Errorf("failed to store file: %w", err)
	}
	if err := w.Close(); err != nil {
		g.logger.Error("Failed to finalize GCS upload", logger.String("key", key), logger.Error(err))
		return "", fmt.Errorf("failed to store file: %w", err)
	}

	return key, nil
}

// Get implements Storage.Get
func (g *GCSStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := g.client.Bucket(g.bucketName).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", storetypes.ErrObjectNotFound, g.bucketName, key)
		}
		g.logger.Error("Failed to get file from GCS", logger.String("key", key), logger.Error(err))
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return r, nil
}

// Delete implements Storage.Delete
func (g *GCSStorage) Delete(ctx context.Context, key string) error {
	err := g.client.Bucket(g.bucketName).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		g.logger.Error("Failed to delete file from GCS", logger.String("key", key), logger.Error(err))
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// CleanupBefore implements Storage.CleanupBefore
func (g *GCSStorage) CleanupBefore(ctx context.Context, prefix string, threshold time.Time) (int, error) {
	it := g.client.Bucket(g.bucketName).Objects(ctx, &storage.Query{Prefix: prefix})

	deleted := 0
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			g.logger.Error("Error listing objects", logger.Error(err))
			return deleted, fmt.Errorf("failed to list objects: %w", err)
		}

		if !attrs.Updated.Before(threshold) {
			continue
		}
		if err := g.Delete(ctx, attrs.Name); err != nil {
			continue
		}
		deleted++
		g.logger.Info("Deleted expired object",
			logger.String("key", attrs.Name),
			logger.Time("lastModified", attrs.Updated),
		)
	}

	return deleted, nil
}

// Close releases the underlying client.
func (g *GCSStorage) Close() error {
	return g.client.Close()
}
