package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Default timeout for S3 operations
const DefaultS3Timeout = 30 * time.Second

// Asset kinds used in object keys.
const (
	AssetKindAudio = "audio"
	AssetKindImage = "image"
	AssetKindMusic = "music"
	AssetKindVideo = "video"
)

// S3API defines the S3 operations the asset store needs.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// AssetStore persists generated audio/image/video bytes in S3 under keys
// namespaced by owner and record id, and serves them via the CDN domain.
type AssetStore struct {
	client    S3API
	bucket    string
	cdnDomain string
	log       *slog.Logger
}

// NewAssetStore creates a new AssetStore.
func NewAssetStore(client S3API, bucket, cdnDomain string, log *slog.Logger) *AssetStore {
	return &AssetStore{
		client:    client,
		bucket:    bucket,
		cdnDomain: cdnDomain,
		log:       log,
	}
}

// AssetKey builds the deterministic object key for an asset:
// {ownerId}/{recordId}/{kind} for singleton assets, {kind}_{index} for
// per-scene assets (index < 0 means singleton).
func AssetKey(ownerID, recordID, kind string, index int) string {
	if index < 0 {
		return fmt.Sprintf("%s/%s/%s", ownerID, recordID, kind)
	}
	return fmt.Sprintf("%s/%s/%s_%d", ownerID, recordID, kind, index)
}

// PublicURL returns the CDN URL for an object key.
func (s *AssetStore) PublicURL(key string) string {
	return fmt.Sprintf("https://%s/%s", s.cdnDomain, key)
}

// KeyFromURL maps a public asset URL back to its object key. Returns false
// for URLs outside the store's CDN domain (remote pass-through assets).
func (s *AssetStore) KeyFromURL(url string) (string, bool) {
	prefix := fmt.Sprintf("https://%s/", s.cdnDomain)
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(url, prefix)
	if key == "" {
		return "", false
	}
	return key, true
}

// UploadBytes writes data under key and returns the public URL.
func (s *AssetStore) UploadBytes(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultS3Timeout)
	defer cancel()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	return s.PublicURL(key), nil
}

// UploadDataURI decodes a data:<mime>;base64,<payload> URI and uploads the
// payload under key.
func (s *AssetStore) UploadDataURI(ctx context.Context, key, dataURI string) (string, error) {
	mimeType, data, err := DecodeDataURI(dataURI)
	if err != nil {
		return "", err
	}
	return s.UploadBytes(ctx, key, data, mimeType)
}

// Delete removes an object. An already-absent object is treated as success.
func (s *AssetStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultS3Timeout)
	defer cancel()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		var notFound *types.NotFound
		if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}

	return nil
}

// DeleteAssets attempts deletion of every store-owned asset behind the given
// URLs. Remote pass-through URLs are skipped. Every key is attempted even
// when earlier deletions fail; the first hard error is returned.
func (s *AssetStore) DeleteAssets(ctx context.Context, urls []string) error {
	var firstErr error
	for _, url := range urls {
		key, ok := s.KeyFromURL(url)
		if !ok {
			continue
		}
		if err := s.Delete(ctx, key); err != nil {
			if s.log != nil {
				s.log.WarnContext(ctx, "Failed to delete asset", "key", key, "error", err)
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// DecodeDataURI splits a base64 data URI into its mime type and raw bytes.
func DecodeDataURI(dataURI string) (mimeType string, data []byte, err error) {
	if !strings.HasPrefix(dataURI, "data:") {
		return "", nil, fmt.Errorf("not a data URI")
	}

	rest := strings.TrimPrefix(dataURI, "data:")
	sep := strings.Index(rest, ",")
	if sep < 0 {
		return "", nil, fmt.Errorf("malformed data URI: missing payload separator")
	}

	meta, payload := rest[:sep], rest[sep+1:]
	if !strings.HasSuffix(meta, ";base64") {
		return "", nil, fmt.Errorf("malformed data URI: only base64 encoding is supported")
	}
	mimeType = strings.TrimSuffix(meta, ";base64")

	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("malformed data URI payload: %w", err)
	}

	return mimeType, data, nil
}
