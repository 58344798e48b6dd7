package storage

import (
	"context"
	"strings"

	"github.com/timmy/vidtalker/internal/config"
)

// NewStorage builds the artifact store described by cfg. An empty type is
// inferred from the endpoint host.
func NewStorage(ctx context.Context, cfg *config.StorageConfig) (*S3Storage, error) {
	kind := StorageType(cfg.Type)
	if kind == "" {
		kind = detectStorageType(cfg.Endpoint)
	}

	return NewS3Storage(ctx, &S3Config{
		Type:      kind,
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		PublicURL: cfg.PublicURL,
	})
}

func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)
	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}
