package environment

import "context"

// Storage abstracts artifact upload/download for one environment's bucket.
// Concrete implementations: gcsStorage (production) and memStorage (tests).
type Storage interface {
	// Upload writes data under key and returns a reference the rest of the
	// system can later use to download or link to the artifact.
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Download fetches the bytes previously stored under key.
	Download(ctx context.Context, key string) ([]byte, error)

	// PublicURL returns a reader-facing URL for key, for environments with a
	// CDN domain configured. Empty string if the bucket has none.
	PublicURL(key string) string
}

// contentTypeForKey sniffs a MIME type from a storage key's extension.
// Registry document extraction only ever stores PDFs and JSON artifacts.
func contentTypeForKey(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '.' {
			switch key[i:] {
			case ".pdf":
				return "application/pdf"
			case ".json":
				return "application/json"
			case ".png":
				return "image/png"
			case ".jpg", ".jpeg":
				return "image/jpeg"
			}
			break
		}
	}
	return "application/octet-stream"
}
