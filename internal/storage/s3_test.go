package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/prd-engine/internal/observability"
)

// fakeS3 implements the S3 seams against an in-memory object map
type fakeS3 struct {
	objects  map[string][]byte
	presigns int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) Upload(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(params.Key)] = data
	return &manager.UploadOutput{}, nil
}

func (f *fakeS3) Download(ctx context.Context, w io.WriterAt, params *s3.GetObjectInput, optFns ...func(*manager.Downloader)) (int64, error) {
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return 0, fmt.Errorf("no such key %s", aws.ToString(params.Key))
	}
	n, err := w.WriteAt(data, 0)
	return int64(n), err
}

func (f *fakeS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(params.Key)]; !ok {
		return nil, fmt.Errorf("no such key")
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(params.Prefix)) {
			out.Contents = append(out.Contents, s3types.Object{Key: aws.String(key)})
		}
	}
	return out, nil
}

func (f *fakeS3) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (string, error) {
	f.presigns++
	return "https://signed.example.com/" + aws.ToString(params.Key), nil
}

func newTestStorage(t *testing.T) (*S3Storage, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	s, err := newS3Storage(fake, fake, fake, fake, S3Config{Bucket: "test-bucket"},
		observability.NewNoopLogger())
	require.NoError(t, err)
	return s, fake
}

func TestS3UploadDownloadRoundTrip(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()
	requestID, uploadID := uuid.New(), uuid.New()

	key, err := s.Upload(ctx, requestID, uploadID, "image/png", bytes.NewReader([]byte("png-bytes")), 9)
	require.NoError(t, err)
	assert.Equal(t, ObjectKey(requestID, uploadID), key)

	reader, err := s.Download(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	exists, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestS3SignedURLCaching(t *testing.T) {
	s, fake := newTestStorage(t)
	ctx := context.Background()
	requestID, uploadID := uuid.New(), uuid.New()

	key, err := s.Upload(ctx, requestID, uploadID, "image/png", bytes.NewReader([]byte("x")), 1)
	require.NoError(t, err)

	first, err := s.SignedURL(ctx, key, time.Hour)
	require.NoError(t, err)
	second, err := s.SignedURL(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.presigns, "second call should hit the URL cache")
}

func TestS3DeleteAllForRequest(t *testing.T) {
	s, fake := newTestStorage(t)
	ctx := context.Background()
	requestID := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := s.Upload(ctx, requestID, uuid.New(), "image/png", bytes.NewReader([]byte("x")), 1)
		require.NoError(t, err)
	}
	otherKey, err := s.Upload(ctx, uuid.New(), uuid.New(), "image/png", bytes.NewReader([]byte("x")), 1)
	require.NoError(t, err)

	require.NoError(t, s.DeleteAllForRequest(ctx, requestID))
	assert.Len(t, fake.objects, 1)
	exists, err := s.Exists(ctx, otherKey)
	require.NoError(t, err)
	assert.True(t, exists)
}
