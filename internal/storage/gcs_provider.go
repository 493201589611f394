package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/courtdata/judgment-harvester/internal/logging"
)

// GCSProvider implements Provider for Google Cloud Storage.
type GCSProvider struct {
	Client     *storage.Client
	BucketName string
}

// NewGCSProvider initializes a GCS client and verifies the bucket is
// reachable, failing fast on startup if configuration is wrong.
// Authentication is handled via Application Default Credentials; opts allows
// tests to point the client at a fake service.
func NewGCSProvider(ctx context.Context, bucketName string, opts ...option.ClientOption) (*GCSProvider, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	if _, err := client.Bucket(bucketName).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logging.L.Warn("failed to close GCS client after bucket check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("get GCS bucket %q attributes: %w", bucketName, err)
	}
	return &GCSProvider{Client: client, BucketName: bucketName}, nil
}

// PutObject uploads data to the bucket and returns a gs:// URI. Re-uploading
// the same key overwrites the prior object.
func (g *GCSProvider) PutObject(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("object key is required")
	}
	wc := g.Client.Bucket(g.BucketName).Object(key).NewWriter(ctx)
	if contentType != "" {
		wc.ContentType = contentType
	}
	if _, err := wc.Write(data); err != nil {
		if closeErr := wc.Close(); closeErr != nil {
			logging.L.Warn("failed to close GCS writer after write failure", zap.Error(closeErr))
		}
		return "", fmt.Errorf("write GCS object %s: %w", key, err)
	}
	// Close finalizes the upload; the object does not exist until it returns.
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("finalize GCS object %s: %w", key, err)
	}
	return fmt.Sprintf("gs://%s/%s", g.BucketName, key), nil
}

// ObjectExists checks for the object and returns its stored size.
func (g *GCSProvider) ObjectExists(ctx context.Context, key string) (bool, int64, error) {
	attrs, err := g.Client.Bucket(g.BucketName).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("get GCS object %s attributes: %w", key, err)
	}
	return true, attrs.Size, nil
}

// Close releases the underlying client.
func (g *GCSProvider) Close() error {
	if err := g.Client.Close(); err != nil {
		return fmt.Errorf("close GCS client: %w", err)
	}
	return nil
}

// URI returns the gs:// URI for a key without touching the network.
func (g *GCSProvider) URI(key string) string {
	return fmt.Sprintf("gs://%s/%s", g.BucketName, key)
}
