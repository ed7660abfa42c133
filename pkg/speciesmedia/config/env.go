package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// envConfig is the flat environment surface, read with cleanenv.
//
//	PORT            - Server port (default: "8080")
//	ENVIRONMENT     - Runtime environment (default: "development")
//	DATABASE_URL    - "memory" (default) or a postgres:// connection string
//	STORAGE_URL     - "memory://" (default), "file:///path", or "s3://bucket"
//	REPLICATE_API_TOKEN - provider token; generation is disabled when unset
//	REPLICATE_IMAGE_MODEL / REPLICATE_VIDEO_MODEL - model slugs
//	MAX_IMAGE_GENERATIONS / MAX_VIDEO_GENERATIONS - in-flight ceilings
//	SWEEP_INTERVAL  - e.g. "5m"; empty disables the server-side sweep ticker
type envConfig struct {
	Port        string `env:"PORT" env-default:""`
	Environment string `env:"ENVIRONMENT" env-default:""`

	DatabaseURL string `env:"DATABASE_URL" env-default:""`
	StorageURL  string `env:"STORAGE_URL" env-default:""`

	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID" env-default:""`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" env-default:""`
	S3Region          string `env:"AWS_REGION" env-default:""`
	S3Endpoint        string `env:"S3_ENDPOINT" env-default:""`
	S3PublicBaseURL   string `env:"S3_PUBLIC_BASE_URL" env-default:""`

	ProviderToken      string `env:"REPLICATE_API_TOKEN" env-default:""`
	ProviderBaseURL    string `env:"REPLICATE_BASE_URL" env-default:""`
	ProviderImageModel string `env:"REPLICATE_IMAGE_MODEL" env-default:""`
	ProviderVideoModel string `env:"REPLICATE_VIDEO_MODEL" env-default:""`

	MaxImageGenerations int `env:"MAX_IMAGE_GENERATIONS" env-default:"0"`
	MaxVideoGenerations int `env:"MAX_VIDEO_GENERATIONS" env-default:"0"`

	SweepInterval string `env:"SWEEP_INTERVAL" env-default:""`
}

// WithEnv applies environment variable overrides.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		var env envConfig
		if err := cleanenv.ReadEnv(&env); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}

		if env.Port != "" {
			c.Port = env.Port
		}
		if env.Environment != "" {
			c.Environment = env.Environment
		}

		if err := applyDatabaseEnv(env, c); err != nil {
			return err
		}
		if err := applyStorageEnv(env, c); err != nil {
			return err
		}

		c.ProviderToken = env.ProviderToken
		c.ProviderBaseURL = env.ProviderBaseURL
		c.ProviderImageModel = env.ProviderImageModel
		c.ProviderVideoModel = env.ProviderVideoModel

		if env.MaxImageGenerations > 0 {
			c.GenerationLimits.Images = env.MaxImageGenerations
		}
		if env.MaxVideoGenerations > 0 {
			c.GenerationLimits.Videos = env.MaxVideoGenerations
		}

		if env.SweepInterval != "" {
			d, err := time.ParseDuration(env.SweepInterval)
			if err != nil {
				return fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
			}
			c.SweepInterval = d
		}

		return nil
	}
}

// applyDatabaseEnv applies database configuration from environment
func applyDatabaseEnv(env envConfig, c *ServerConfig) error {
	dbURL := env.DatabaseURL

	if dbURL == "" || dbURL == "memory" {
		c.DatabaseType = "memory"
		c.DatabaseURL = ""
		return nil
	}

	// Auto-detect database type from URL
	if strings.HasPrefix(dbURL, "postgresql://") || strings.HasPrefix(dbURL, "postgres://") {
		c.DatabaseType = "postgres"
		c.DatabaseURL = dbURL
		return nil
	}

	return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgresql://...')", dbURL)
}

// applyStorageEnv applies storage configuration from environment
func applyStorageEnv(env envConfig, c *ServerConfig) error {
	storageURL := env.StorageURL

	if storageURL == "" || storageURL == "memory" || storageURL == "memory://" {
		c.DefaultStorageBackend = "memory"
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, StorageBackendConfig{
			Name:   "memory",
			Type:   "memory",
			Config: map[string]interface{}{},
		})
		return nil
	}

	if strings.HasPrefix(storageURL, "file://") {
		path := strings.TrimPrefix(storageURL, "file://")
		if path == "" {
			return fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
		}
		c.DefaultStorageBackend = "fs"
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, StorageBackendConfig{
			Name: "fs",
			Type: "fs",
			Config: map[string]interface{}{
				"base_dir":   path,
				"url_prefix": "/media",
			},
		})
		return nil
	}

	if strings.HasPrefix(storageURL, "s3://") {
		bucket := strings.TrimPrefix(storageURL, "s3://")
		if idx := strings.Index(bucket, "?"); idx >= 0 {
			bucket = bucket[:idx]
		}
		if bucket == "" {
			return fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
		}

		cfg := map[string]interface{}{
			"bucket":                     bucket,
			"region":                     "us-east-1",
			"create_bucket_if_not_exist": true,
		}
		if env.S3Region != "" {
			cfg["region"] = env.S3Region
		}
		if env.S3AccessKeyID != "" {
			cfg["access_key_id"] = env.S3AccessKeyID
		}
		if env.S3SecretAccessKey != "" {
			cfg["secret_access_key"] = env.S3SecretAccessKey
		}
		if env.S3Endpoint != "" {
			cfg["endpoint"] = env.S3Endpoint
			cfg["use_path_style"] = true
		}
		if env.S3PublicBaseURL != "" {
			cfg["public_base_url"] = env.S3PublicBaseURL
		}

		c.DefaultStorageBackend = "s3"
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, StorageBackendConfig{
			Name:   "s3",
			Type:   "s3",
			Config: cfg,
		})
		return nil
	}

	return fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", storageURL)
}

func upsertStorageBackend(backends []StorageBackendConfig, backend StorageBackendConfig) []StorageBackendConfig {
	if backend.Config == nil {
		backend.Config = map[string]interface{}{}
	}
	for i := range backends {
		if backends[i].Name == backend.Name {
			backends[i] = backend
			return backends
		}
	}
	return append(backends, backend)
}
