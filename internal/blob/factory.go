package blob

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/chunkvault/internal/config"
)

// NewFromConfig builds the provider the configuration selects.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Provider {
	case "s3":
		return NewS3Store(ctx, S3Options{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
	case "gcs":
		return NewGCSStore(ctx, cfg.GCS.Bucket)
	case "disk":
		return NewDiskStore(cfg.DiskRoot)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown blob provider: %q", cfg.Provider)
	}
}
