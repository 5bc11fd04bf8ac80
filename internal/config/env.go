package config

import (
	"fmt"
	"os"
	"strconv"
)

// parseEnv overlays cfg with CHUNKVAULT_* environment variables. Unset
// variables leave the current value alone.
func parseEnv(cfg *Config) error {
	setString := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) error {
		v, ok := os.LookupEnv(name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = n
		return nil
	}

	setString("CHUNKVAULT_REGISTRY_PATH", &cfg.RegistryPath)
	setString("CHUNKVAULT_PROVIDER", &cfg.Provider)
	setString("CHUNKVAULT_DISK_ROOT", &cfg.DiskRoot)
	setString("CHUNKVAULT_S3_BUCKET", &cfg.S3.Bucket)
	setString("CHUNKVAULT_S3_REGION", &cfg.S3.Region)
	setString("CHUNKVAULT_S3_ENDPOINT", &cfg.S3.Endpoint)
	setString("CHUNKVAULT_S3_ACCESS_KEY_ID", &cfg.S3.AccessKeyID)
	setString("CHUNKVAULT_S3_SECRET_ACCESS_KEY", &cfg.S3.SecretAccessKey)
	setString("CHUNKVAULT_GCS_BUCKET", &cfg.GCS.Bucket)

	for name, dst := range map[string]*int{
		"CHUNKVAULT_CHUNK_MIN_SIZE":        &cfg.ChunkMinSize,
		"CHUNKVAULT_CHUNK_AVG_SIZE":        &cfg.ChunkAvgSize,
		"CHUNKVAULT_CHUNK_MAX_SIZE":        &cfg.ChunkMaxSize,
		"CHUNKVAULT_TRANSFER_WORKERS":      &cfg.TransferWorkers,
		"CHUNKVAULT_TRANSFER_QUEUE_SIZE":   &cfg.TransferQueueSize,
		"CHUNKVAULT_TRANSFER_MAX_ATTEMPTS": &cfg.TransferMaxAttempts,
	} {
		if err := setInt(name, dst); err != nil {
			return err
		}
	}
	return nil
}
