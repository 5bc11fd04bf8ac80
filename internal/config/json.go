package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// jsonConfig is a DTO used exclusively for JSON unmarshalling. Pointer
// fields distinguish "absent" from "zero" so the overlay only touches keys
// that the file actually sets.
type jsonConfig struct {
	RegistryPath        *string    `json:"registry_path"`
	Provider            *string    `json:"provider"`
	S3                  *S3Config  `json:"s3"`
	GCS                 *GCSConfig `json:"gcs"`
	DiskRoot            *string    `json:"disk_root"`
	ChunkMinSize        *int       `json:"chunk_min_size"`
	ChunkAvgSize        *int       `json:"chunk_avg_size"`
	ChunkMaxSize        *int       `json:"chunk_max_size"`
	TransferWorkers     *int       `json:"transfer_workers"`
	TransferQueueSize   *int       `json:"transfer_queue_size"`
	TransferMaxAttempts *int       `json:"transfer_max_attempts"`
}

// parseJson overlays cfg with values loaded from the JSON file at path.
func parseJson(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var jc jsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if jc.RegistryPath != nil {
		cfg.RegistryPath = *jc.RegistryPath
	}
	if jc.Provider != nil {
		cfg.Provider = *jc.Provider
	}
	if jc.S3 != nil {
		cfg.S3 = *jc.S3
	}
	if jc.GCS != nil {
		cfg.GCS = *jc.GCS
	}
	if jc.DiskRoot != nil {
		cfg.DiskRoot = *jc.DiskRoot
	}
	if jc.ChunkMinSize != nil {
		cfg.ChunkMinSize = *jc.ChunkMinSize
	}
	if jc.ChunkAvgSize != nil {
		cfg.ChunkAvgSize = *jc.ChunkAvgSize
	}
	if jc.ChunkMaxSize != nil {
		cfg.ChunkMaxSize = *jc.ChunkMaxSize
	}
	if jc.TransferWorkers != nil {
		cfg.TransferWorkers = *jc.TransferWorkers
	}
	if jc.TransferQueueSize != nil {
		cfg.TransferQueueSize = *jc.TransferQueueSize
	}
	if jc.TransferMaxAttempts != nil {
		cfg.TransferMaxAttempts = *jc.TransferMaxAttempts
	}
	return nil
}
