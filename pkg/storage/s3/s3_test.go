package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/feichai0017/document-converter/config"
	"github.com/feichai0017/document-converter/pkg/logger"
	"github.com/feichai0017/document-converter/pkg/storage/storetypes"
)

type fakeS3 struct {
	objects map[string][]byte
	listed  []types.Object
	deleted []string
	puts    []*s3.PutObjectInput
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, _ *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return &s3.ListObjectsV2Output{Contents: f.listed, IsTruncated: aws.Bool(false)}, nil
}

func TestS3Storage_GetMapsMissingKey(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{"docs/a.pdf": []byte("%PDF")}}
	store := NewWithClient(fake, "bucket", logger.NewTestLogger())

	rc, err := store.Get(context.Background(), "docs/a.pdf")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "%PDF", string(data))

	_, err = store.Get(context.Background(), "docs/missing.pdf")
	assert.ErrorIs(t, err, storetypes.ErrObjectNotFound)
}

func TestS3Storage_StoreSetsContentType(t *testing.T) {
	fake := &fakeS3{}
	store := NewWithClient(fake, "bucket", logger.NewTestLogger())

	key, err := store.Store(context.Background(), bytes.NewReader([]byte("{}")), "results/a.json", "application/json")
	require.NoError(t, err)
	assert.Equal(t, "results/a.json", key)
	require.Len(t, fake.puts, 1)
	assert.Equal(t, "application/json", aws.ToString(fake.puts[0].ContentType))
	assert.Equal(t, "bucket", aws.ToString(fake.puts[0].Bucket))
}

func TestS3Storage_CleanupBefore(t *testing.T) {
	now := time.Now()
	fake := &fakeS3{listed: []types.Object{
		{Key: aws.String("results/old.json"), LastModified: aws.Time(now.Add(-2 * time.Hour))},
		{Key: aws.String("results/new.json"), LastModified: aws.Time(now)},
	}}
	store := NewWithClient(fake, "bucket", logger.NewTestLogger())

	n, err := store.CleanupBefore(context.Background(), "results/", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"results/old.json"}, fake.deleted)
}

func TestNewS3Storage_UsesStaticCredentialsOnlyWhenGiven(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = origLoad })

	var gotOpts int
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		gotOpts = len(optFns)
		return aws.Config{Region: "us-east-1"}, nil
	}

	s3cfg := cfg.S3Config{Region: "eu-west-1", Endpoint: "http://localhost:4566", UsePathStyle: true}

	_, err := NewS3Storage(context.Background(), s3cfg, "b", nil, logger.NewTestLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, gotOpts, "region only")

	creds := &storetypes.Credentials{AccessKey: "ak", SecretKey: "sk"}
	_, err = NewS3Storage(context.Background(), s3cfg, "b", creds, logger.NewTestLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, gotOpts, "region and static provider")

	loadDefaultAWSConfig = func(context.Context, ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no config")
	}
	_, err = NewS3Storage(context.Background(), s3cfg, "b", nil, logger.NewTestLogger())
	assert.ErrorContains(t, err, "failed to load AWS config")
}
