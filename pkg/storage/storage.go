package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	cfg "github.com/feichai0017/document-converter/config"
	"github.com/feichai0017/document-converter/pkg/logger"
	"github.com/feichai0017/document-converter/pkg/storage/gcs"
	"github.com/feichai0017/document-converter/pkg/storage/minio"
	"github.com/feichai0017/document-converter/pkg/storage/s3"
	"github.com/feichai0017/document-converter/pkg/storage/storetypes"
)

var (
	// ErrObjectNotFound is returned by Get when the key does not exist.
	ErrObjectNotFound = storetypes.ErrObjectNotFound
	// ErrUnsupportedLocator is returned by Resolve for unknown schemes.
	ErrUnsupportedLocator = errors.New("unsupported storage locator")
)

// StorageType 定义存储类型
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
	StorageTypeGCS   StorageType = "gs"
)

// Storage 接口定义, one bucket per instance.
type Storage interface {
	// Store 存储文件
	Store(ctx context.Context, reader io.Reader, key string, contentType string) (string, error)
	// Get 获取文件
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete 删除文件
	Delete(ctx context.Context, key string) error
	// CleanupBefore 清理过期文件, returns how many objects were removed
	CleanupBefore(ctx context.Context, prefix string, threshold time.Time) (int, error)
}

// Resolver turns a store locator (scheme://bucket) into a Storage handle.
type Resolver interface {
	Resolve(ctx context.Context, locator string) (Storage, error)
}

// Credentials are explicit per-locator credentials. Without them every
// backend falls back to its ambient provider chain.
type Credentials = storetypes.Credentials

// CredentialsFunc returns the credentials to use for a locator, or nil for ambient ones.
type CredentialsFunc func(locator string) *Credentials

// StoreResolver resolves locators against S3, MinIO and GCS and caches the handles.
type StoreResolver struct {
	config      cfg.StorageConfig
	credentials CredentialsFunc
	logger      logger.Logger
	opener      func(ctx context.Context, storageType StorageType, bucket string, creds *Credentials) (Storage, error)

	mu     sync.Mutex
	stores map[string]Storage
}

// ResolverOption configures a StoreResolver.
type ResolverOption func(*StoreResolver)

// WithCredentials installs an explicit credential source.
func WithCredentials(fn CredentialsFunc) ResolverOption {
	return func(r *StoreResolver) {
		r.credentials = fn
	}
}

// NewResolver 创建存储解析器
func NewResolver(config cfg.StorageConfig, log logger.Logger, opts ...ResolverOption) *StoreResolver {
	r := &StoreResolver{
		config: config,
		logger: log.Named("storage"),
		stores: make(map[string]Storage),
	}
	r.opener = r.open
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns a cached or new Storage for locator.
func (r *StoreResolver) Resolve(ctx context.Context, locator string) (Storage, error) {
	u, err := url.Parse(locator)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLocator, locator)
	}
	key := strings.ToLower(u.Scheme) + "://" + u.Host

	r.mu.Lock()
	store, ok := r.stores[key]
	r.mu.Unlock()
	if ok {
		return store, nil
	}

	var creds *Credentials
	if r.credentials != nil {
		creds = r.credentials(key)
	}

	// opened without the lock so a slow backend does not block other locators
	store, err = r.opener(ctx, StorageType(strings.ToLower(u.Scheme)), u.Host, creds)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.stores[key]; ok {
		// lost the race, keep the handle callers already use
		if c, ok := store.(io.Closer); ok {
			_ = c.Close()
		}
		return existing, nil
	}
	r.logger.Info("Opened object store",
		logger.String("locator", key),
		logger.Bool("explicitCredentials", creds != nil),
	)
	r.stores[key] = store
	return store, nil
}

func (r *StoreResolver) open(ctx context.Context, storageType StorageType, bucket string, creds *Credentials) (Storage, error) {
	switch storageType {
	case StorageTypeS3:
		return s3.NewS3Storage(ctx, r.config.S3, bucket, creds, r.logger)
	case StorageTypeMinio:
		return minio.NewMinioStorage(ctx, r.config.Minio, bucket, creds, r.logger)
	case StorageTypeGCS, "gcs":
		return gcs.NewGCSStorage(ctx, r.config.GCS, bucket, creds, r.logger)
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedLocator, storageType)
	}
}
