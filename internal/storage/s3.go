package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"

	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/observability"
)

// Uploader is the transfer-manager seam for multipart uploads
type Uploader interface {
	Upload(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Downloader is the transfer-manager seam for downloads
type Downloader interface {
	Download(ctx context.Context, w io.WriterAt, params *s3.GetObjectInput, optFns ...func(*manager.Downloader)) (int64, error)
}

// S3API is the subset of the raw S3 client the storage layer needs
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Presigner generates pre-signed GET URLs
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (string, error)
}

type s3Presigner struct {
	client *s3.PresignClient
}

func (p *s3Presigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (string, error) {
	req, err := p.client.PresignGetObject(ctx, params, optFns...)
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// S3Config holds configuration for S3 mockup storage
type S3Config struct {
	Region     string `mapstructure:"region"`
	Bucket     string `mapstructure:"bucket"`
	Endpoint   string `mapstructure:"endpoint"` // LocalStack or MinIO
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	URLCacheSz int    `mapstructure:"url_cache_size"`
}

type cachedURL struct {
	url     string
	expires time.Time
}

// S3Storage implements MockupStorage on S3. Signed URLs are cached per key
// so repeated provider calls within the TTL reuse one URL instead of
// re-signing.
type S3Storage struct {
	client     S3API
	uploader   Uploader
	downloader Downloader
	presigner  Presigner
	bucket     string
	urlCache   *lru.Cache[string, cachedURL]
	logger     observability.Logger
}

// NewS3Storage connects to S3 with the given configuration
func NewS3Storage(ctx context.Context, cfg S3Config, logger observability.Logger) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, models.NewError(models.ErrValidation, "storage bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Storage(client, manager.NewUploader(client), manager.NewDownloader(client),
		&s3Presigner{client: s3.NewPresignClient(client)}, cfg, logger)
}

func newS3Storage(client S3API, uploader Uploader, downloader Downloader, presigner Presigner,
	cfg S3Config, logger observability.Logger) (*S3Storage, error) {
	size := cfg.URLCacheSz
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, cachedURL](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create URL cache: %w", err)
	}
	return &S3Storage{
		client:     client,
		uploader:   uploader,
		downloader: downloader,
		presigner:  presigner,
		bucket:     cfg.Bucket,
		urlCache:   cache,
		logger:     logger,
	}, nil
}

func (s *S3Storage) Upload(ctx context.Context, requestID, uploadID uuid.UUID, contentType string, body io.Reader, size int64) (string, error) {
	key := ObjectKey(requestID, uploadID)
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", models.WrapError(models.ErrProcessingFailed, "failed to store mockup", err)
	}
	s.logger.Debug("mockup stored", map[string]interface{}{"key": key, "size": size})
	return key, nil
}

func (s *S3Storage) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if cached, ok := s.urlCache.Get(key); ok && time.Until(cached.expires) > ttl/10 {
		return cached.url, nil
	}
	url, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", models.WrapError(models.ErrProcessingFailed, "failed to sign mockup URL", err)
	}
	s.urlCache.Add(key, cachedURL{url: url, expires: time.Now().Add(ttl)})
	return url, nil
}

func (s *S3Storage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, models.WrapError(models.ErrNotFound, "mockup object not found", err)
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return models.WrapError(models.ErrProcessingFailed, "failed to delete mockup", err)
	}
	s.urlCache.Remove(key)
	return nil
}

func (s *S3Storage) DeleteAllForRequest(ctx context.Context, requestID uuid.UUID) error {
	prefix := RequestPrefix(requestID)
	var continuation *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return models.WrapError(models.ErrProcessingFailed, "failed to list mockups", err)
		}
		for _, obj := range out.Contents {
			if err := s.Delete(ctx, aws.ToString(obj.Key)); err != nil {
				return err
			}
		}
		if out.NextContinuationToken == nil {
			return nil
		}
		continuation = out.NextContinuationToken
	}
}
