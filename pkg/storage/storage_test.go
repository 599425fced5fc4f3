package storage_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/feichai0017/document-converter/config"
	"github.com/feichai0017/document-converter/pkg/logger"
	"github.com/feichai0017/document-converter/pkg/storage"
	"github.com/feichai0017/document-converter/pkg/storage/storagetest"
)

func TestStoreResolver_RejectsUnknownLocators(t *testing.T) {
	r := storage.NewResolver(cfg.Default().Storage, logger.NewTestLogger())

	for _, locator := range []string{"ftp://bucket", "bucket-only", "s3://"} {
		_, err := r.Resolve(context.Background(), locator)
		assert.ErrorIs(t, err, storage.ErrUnsupportedLocator, locator)
	}
}

func TestStoreResolver_CachesHandles(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	var asked []string
	r := storage.NewResolver(cfg.Default().Storage, logger.NewTestLogger(),
		storage.WithCredentials(func(locator string) *storage.Credentials {
			asked = append(asked, locator)
			return nil
		}))

	first, err := r.Resolve(context.Background(), "s3://bucket")
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), "S3://bucket")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, []string{"s3://bucket"}, asked)
}

func TestStoreResolver_SlowOpenDoesNotBlockOtherLocators(t *testing.T) {
	r := storage.NewResolver(cfg.StorageConfig{}, logger.NewTestLogger())
	release := make(chan struct{})
	opening := make(chan struct{})
	storage.SetOpener(r, func(ctx context.Context, _ storage.StorageType, bucket string, _ *storage.Credentials) (storage.Storage, error) {
		if bucket == "slow" {
			close(opening)
			<-release
		}
		return storagetest.NewMemoryStorage(), nil
	})

	slowDone := make(chan error, 1)
	go func() {
		_, err := r.Resolve(context.Background(), "s3://slow")
		slowDone <- err
	}()
	<-opening

	fastDone := make(chan error, 1)
	go func() {
		_, err := r.Resolve(context.Background(), "s3://fast")
		fastDone <- err
	}()
	select {
	case err := <-fastDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("resolving s3://fast waited for s3://slow to open")
	}

	close(release)
	require.NoError(t, <-slowDone)
}

func TestStoreResolver_ConcurrentResolveSharesOneHandle(t *testing.T) {
	r := storage.NewResolver(cfg.StorageConfig{}, logger.NewTestLogger())
	storage.SetOpener(r, func(ctx context.Context, _ storage.StorageType, _ string, _ *storage.Credentials) (storage.Storage, error) {
		return storagetest.NewMemoryStorage(), nil
	})

	const n = 8
	got := make([]storage.Storage, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store, err := r.Resolve(context.Background(), "s3://same")
			assert.NoError(t, err)
			got[i] = store
		}(i)
	}
	wg.Wait()

	cached, err := r.Resolve(context.Background(), "s3://same")
	require.NoError(t, err)
	for i := range got {
		assert.Same(t, cached, got[i])
	}
}

func TestStoreResolver_MinioNeedsEndpoint(t *testing.T) {
	r := storage.NewResolver(cfg.StorageConfig{}, logger.NewTestLogger())

	_, err := r.Resolve(context.Background(), "minio://bucket")
	assert.ErrorContains(t, err, "endpoint")
}

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()
	store := storagetest.NewMemoryStorage()

	_, err := store.Store(ctx, bytes.NewReader([]byte("hello")), "results/a.md", "text/markdown")
	require.NoError(t, err)

	rc, err := store.Get(ctx, "results/a.md")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "hello", string(data))

	_, err = store.Get(ctx, "results/missing")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	store.Put("results/old.md", []byte("x"), time.Now().Add(-48*time.Hour))
	store.Put("other/old.md", []byte("x"), time.Now().Add(-48*time.Hour))
	n, err := store.CleanupBefore(ctx, "results/", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"other/old.md", "results/a.md"}, store.Keys())
}
