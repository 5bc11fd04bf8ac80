// Package config holds runtime settings for the chunkvault engine.
// Values are resolved as defaults -> JSON file overlay; command-line flags
// live in the CLI layer and override individual fields there.
package config

// S3Config configures the S3 blob provider. Credentials are resolved
// through the SDK default chain (environment, shared config, IMDS) unless
// a static pair is given here.
type S3Config struct {
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

// GCSConfig configures the Google Cloud Storage blob provider. Credentials
// are resolved through Application Default Credentials.
type GCSConfig struct {
	Bucket string `json:"bucket"`
}

// Config holds engine settings.
//
// Chunk sizes follow the content-defined chunker contract: AvgSize must be
// a power of two; MinSize <= AvgSize <= MaxSize.
type Config struct {
	// RegistryPath is the sqlite database holding jobs, runs and chunk
	// records.
	RegistryPath string `json:"registry_path"`

	// Provider selects the blob store: "s3", "gcs", "disk" or "memory".
	Provider string    `json:"provider"`
	S3       S3Config  `json:"s3"`
	GCS      GCSConfig `json:"gcs"`
	// DiskRoot is the object root for the "disk" provider.
	DiskRoot string `json:"disk_root"`

	ChunkMinSize int `json:"chunk_min_size"`
	ChunkAvgSize int `json:"chunk_avg_size"`
	ChunkMaxSize int `json:"chunk_max_size"`

	// TransferWorkers is the fixed size of the transfer worker pool.
	TransferWorkers int `json:"transfer_workers"`
	// TransferQueueSize bounds the upload/download task queue; producers
	// block when it is full.
	TransferQueueSize int `json:"transfer_queue_size"`
	// TransferMaxAttempts caps retries of transient transfer failures.
	TransferMaxAttempts int `json:"transfer_max_attempts"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.RegistryPath = "chunkvault.db"
	c.Provider = "disk"
	c.DiskRoot = "chunkvault-store"
	c.ChunkMinSize = 1 << 20  // 1 MiB
	c.ChunkAvgSize = 4 << 20  // 4 MiB
	c.ChunkMaxSize = 10 << 20 // 10 MiB
	c.TransferWorkers = 4
	c.TransferQueueSize = 16
	c.TransferMaxAttempts = 5
}

// LoadConfig constructs a Config, applies defaults, overlays values from the
// JSON file at path if path is non-empty, then overlays CHUNKVAULT_*
// environment variables. Later sources take precedence over earlier ones.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if path != "" {
		if err := parseJson(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
