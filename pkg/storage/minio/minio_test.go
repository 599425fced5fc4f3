package minio

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/feichai0017/document-converter/config"
	"github.com/feichai0017/document-converter/pkg/logger"
	"github.com/feichai0017/document-converter/pkg/storage/storetypes"
)

// newTestStorage points a MinioStorage at an S3-compatible endpoint serving objects.
// Keys under forbidden/ answer 403.
func newTestStorage(t *testing.T, objects map[string]string) *MinioStorage {
	t.Helper()
	modified := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Format(http.TimeFormat)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/docs/")
		if strings.HasPrefix(key, "forbidden/") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		body, ok := objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Last-Modified", modified)
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		if r.Method == http.MethodHead {
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	store, err := NewMinioStorage(context.Background(),
		cfg.MinioConfig{Endpoint: strings.TrimPrefix(srv.URL, "http://"), Region: "us-east-1"},
		"docs",
		&storetypes.Credentials{AccessKey: "access", SecretKey: "secret"},
		logger.NewTestLogger(),
	)
	require.NoError(t, err)
	return store
}

func TestMinioStorage_Get(t *testing.T) {
	store := newTestStorage(t, map[string]string{"reports/a.txt": "hello"})
	ctx := context.Background()

	rc, err := store.Get(ctx, "reports/a.txt")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestMinioStorage_GetMapsMissingKey(t *testing.T) {
	store := newTestStorage(t, nil)

	_, err := store.Get(context.Background(), "reports/missing.txt")
	assert.ErrorIs(t, err, storetypes.ErrObjectNotFound)
	assert.Contains(t, err.Error(), "minio://docs/reports/missing.txt")
}

func TestMinioStorage_GetOtherErrorsAreNotNotFound(t *testing.T) {
	store := newTestStorage(t, nil)

	_, err := store.Get(context.Background(), "forbidden/a.txt")
	require.Error(t, err)
	assert.NotErrorIs(t, err, storetypes.ErrObjectNotFound)
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"missing key", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}, true},
		{"missing bucket", minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: http.StatusNotFound}, true},
		{"bare 404", minio.ErrorResponse{StatusCode: http.StatusNotFound}, true},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, false},
		{"transport", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isNotFound(tt.err))
		})
	}
}
