// Package storage publishes converted outputs to an S3-compatible bucket.
package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// outputPrefix is the key prefix shared by every published output.
const outputPrefix = "outputs"

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	UseSSL   bool
}

type Client struct {
	minio  *minio.Client
	bucket string
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Client{minio: mc, bucket: cfg.Bucket}, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

// EnsureBucket creates the bucket, tolerating a concurrent creator.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minio.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}
	if exists {
		return nil
	}

	if err := c.minio.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		if exists, _ := c.minio.BucketExists(ctx, c.bucket); exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}
	return nil
}

// PublishFile streams a converted output to outputs/<batchID>/<file> and
// returns the object key. The batch id and output format travel as object
// metadata.
func (c *Client) PublishFile(ctx context.Context, batchID, filePath string) (string, error) {
	contentType, err := ContentTypeOf(filePath)
	if err != nil {
		return "", err
	}

	key := OutputKey(batchID, filePath)
	_, err = c.minio.FPutObject(ctx, c.bucket, key, filePath, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"batch-id": batchID,
			"format":   strings.TrimPrefix(strings.ToLower(filepath.Ext(filePath)), "."),
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}

func OutputKey(batchID, filePath string) string {
	return path.Join(outputPrefix, batchID, filepath.Base(filePath))
}

// ContentTypeOf sniffs the file. Icons hold PNG bytes and svg is text, so
// both are keyed off the extension instead.
func ContentTypeOf(filePath string) (string, error) {
	if ct, ok := extensionTypes[strings.ToLower(filepath.Ext(filePath))]; ok {
		return ct, nil
	}
	mime, err := mimetype.DetectFile(filePath)
	if err != nil {
		return "", fmt.Errorf("sniff %s: %w", filePath, err)
	}
	return mime.String(), nil
}

var extensionTypes = map[string]string{
	".svg": "image/svg+xml",
	".ico": "image/x-icon",
}
