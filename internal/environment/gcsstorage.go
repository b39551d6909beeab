package environment

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// gcsStorage implements Storage on top of a Google Cloud Storage bucket.
// Grounded on yungbote-neurobridge-backend's internal/clients/gcp/bucket.go
// bucket-per-category / content-type-sniffing / public-URL pattern.
type gcsStorage struct {
	client    *storage.Client
	bucket    string
	cdnDomain string
}

// NewGCSStorage wraps an existing GCS client for a single bucket.
func NewGCSStorage(client *storage.Client, bucket, cdnDomain string) Storage {
	return &gcsStorage{client: client, bucket: bucket, cdnDomain: cdnDomain}
}

func (g *gcsStorage) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = contentTypeForKey(key)
	}

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object %s/%s: %w", g.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close object %s/%s: %w", g.bucket, key, err)
	}

	return fmt.Sprintf("gs://%s/%s", g.bucket, key), nil
}

func (g *gcsStorage) Download(ctx context.Context, key string) ([]byte, error) {
	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open object %s/%s: %w", g.bucket, key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", g.bucket, key, err)
	}
	return data, nil
}

func (g *gcsStorage) PublicURL(key string) string {
	if g.cdnDomain == "" {
		return ""
	}
	return fmt.Sprintf("https://%s/%s", g.cdnDomain, key)
}
