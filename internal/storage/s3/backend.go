// Package s3 implements the storage.Backend interface on an S3-compatible
// object store. Objects are keyed by digest with the same shard layout as
// the filesystem backend; staging still happens on local disk so the digest
// is known before any object is written.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian-vault/internal/config"
	"github.com/prn-tf/meridian-vault/internal/domain"
	"github.com/prn-tf/meridian-vault/internal/pkg/crypto"
	"github.com/prn-tf/meridian-vault/internal/storage"
)

const sniffLen = 512

// Backend stores blobs in an S3 bucket.
type Backend struct {
	client     *awss3.Client
	bucket     string
	pathConfig storage.PathConfig
	stagingDir string
	logger     zerolog.Logger
}

// New creates an S3 backend from configuration. A custom endpoint enables
// MinIO and other S3-compatible stores.
func New(ctx context.Context, cfg config.S3Config, logger zerolog.Logger) (*Backend, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	stagingDir := cfg.StagingDir
	if stagingDir == "" {
		stagingDir = os.TempDir()
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	return &Backend{
		client:     client,
		bucket:     cfg.Bucket,
		pathConfig: storage.DefaultPathConfig(cfg.KeyPrefix),
		stagingDir: stagingDir,
		logger:     logger.With().Str("component", "storage_s3").Logger(),
	}, nil
}

// Stage copies the stream to a local temp file while hashing it. The bytes
// only reach S3 on Promote.
func (b *Backend) Stage(ctx context.Context, reader io.Reader) (*storage.Staged, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(b.stagingDir, "ingest-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	hr := crypto.NewHashReader(reader)
	if _, err := io.Copy(tmp, hr); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to write staging file: %w", err)
	}

	head := make([]byte, sniffLen)
	n, err := tmp.ReadAt(head, 0)
	if err != nil && err != io.EOF {
		cleanup()
		return nil, fmt.Errorf("failed to read staged head: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to close staging file: %w", err)
	}

	return &storage.Staged{
		Digest:      hr.Digest(),
		Size:        hr.Size(),
		SniffedMime: http.DetectContentType(head[:n]),
		TempPath:    tmpPath,
	}, nil
}

// Promote uploads staged bytes under their digest key. PutObject over an
// existing key writes identical bytes, so replays are harmless.
func (b *Backend) Promote(ctx context.Context, staged *storage.Staged) (string, error) {
	if staged.TempPath == "" {
		return "", storage.ErrStagedConsumed
	}

	f, err := os.Open(staged.TempPath)
	if err != nil {
		return "", fmt.Errorf("failed to open staged blob: %w", err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(staged.TempPath)
	}()

	key := b.objectKey(staged.Digest)
	_, err = b.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(staged.Size),
		ContentType:   aws.String(staged.SniffedMime),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload blob: %w", err)
	}

	staged.TempPath = ""
	b.logger.Debug().Str("digest", staged.Digest).Int64("size", staged.Size).Msg("blob promoted")
	return key, nil
}

// Discard drops staged bytes without uploading them.
func (b *Backend) Discard(ctx context.Context, staged *storage.Staged) error {
	if staged.TempPath == "" {
		return storage.ErrStagedConsumed
	}
	if err := os.Remove(staged.TempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to discard staged blob: %w", err)
	}
	staged.TempPath = ""
	return nil
}

// Retrieve opens the object stored under a digest.
func (b *Backend) Retrieve(ctx context.Context, digest string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(digest)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, domain.ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to get blob object: %w", err)
	}
	return out.Body, nil
}

// Delete removes the object under a digest.
func (b *Backend) Delete(ctx context.Context, digest string) error {
	// DeleteObject on a missing key succeeds, so check first to preserve
	// not-found semantics.
	exists, err := b.Exists(ctx, digest)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrBlobNotFound
	}

	_, err = b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(digest)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete blob object: %w", err)
	}
	return nil
}

// Exists checks if an object with the given digest exists.
func (b *Backend) Exists(ctx context.Context, digest string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(digest)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head blob object: %w", err)
	}
	return true, nil
}

// GetSize returns the size of the object stored under a digest.
func (b *Backend) GetSize(ctx context.Context, digest string) (int64, error) {
	out, err := b.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(digest)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return 0, domain.ErrBlobNotFound
		}
		return 0, fmt.Errorf("failed to head blob object: %w", err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// GetPath returns the object key for a digest.
func (b *Backend) GetPath(digest string) string {
	return b.objectKey(digest)
}

// Stats is not supported: listing a whole bucket to count objects is too
// expensive to run on demand.
func (b *Backend) Stats(ctx context.Context) (*storage.BackendStats, error) {
	return nil, storage.ErrStatsUnavailable
}

func (b *Backend) objectKey(digest string) string {
	return filepath.ToSlash(storage.ComputePath(b.pathConfig, digest))
}

// Ensure Backend implements storage.Backend.
var _ storage.Backend = (*Backend)(nil)
