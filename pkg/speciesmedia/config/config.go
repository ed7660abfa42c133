package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/extinctlab/species-media/pkg/speciesmedia"
	"github.com/extinctlab/species-media/pkg/speciesmedia/mediastore"
	"github.com/extinctlab/species-media/pkg/speciesmedia/provider/replicate"
	"github.com/extinctlab/species-media/pkg/speciesmedia/repo/memory"
	repopg "github.com/extinctlab/species-media/pkg/speciesmedia/repo/postgres"
	fsstorage "github.com/extinctlab/species-media/pkg/speciesmedia/storage/fs"
	memorystorage "github.com/extinctlab/species-media/pkg/speciesmedia/storage/memory"
	s3storage "github.com/extinctlab/species-media/pkg/speciesmedia/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:                  "8080",
		Environment:           "development",
		DatabaseType:          "memory",
		DefaultStorageBackend: "memory",
		StorageBackends: []StorageBackendConfig{
			{
				Name:   "memory",
				Type:   "memory",
				Config: map[string]interface{}{},
			},
		},
		GenerationLimits: speciesmedia.DefaultGenerationLimits(),
	}
}

// ServerConfig represents server configuration for the species media service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"

	// Storage configuration
	DefaultStorageBackend string
	StorageBackends       []StorageBackendConfig

	// Generation provider configuration
	ProviderToken      string
	ProviderBaseURL    string
	ProviderImageModel string
	ProviderVideoModel string

	// Concurrency ceilings for in-flight generations
	GenerationLimits speciesmedia.GenerationLimits

	// Server-side sweep interval. Zero disables the ticker; the sweep
	// endpoints remain available either way.
	SweepInterval time.Duration
}

// StorageBackendConfig represents configuration for a storage backend
type StorageBackendConfig struct {
	Name   string
	Type   string // "memory", "fs", "s3"
	Config map[string]interface{}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	// Ensure default storage backend exists in configured backends
	found := false
	for _, backend := range c.StorageBackends {
		if backend.Name == c.DefaultStorageBackend {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("default storage backend '%s' not found in configured backends", c.DefaultStorageBackend)
	}

	if c.GenerationLimits.Images < 0 || c.GenerationLimits.Videos < 0 {
		return errors.New("generation limits must not be negative")
	}

	return nil
}

// BuildService creates a Service instance from the server configuration.
// Extra options are applied last, so callers can inject collaborators the
// config cannot construct itself (e.g. the SSE notifier).
func (c *ServerConfig) BuildService(extra ...speciesmedia.Option) (speciesmedia.Service, error) {
	var options []speciesmedia.Option

	// Set up repository
	repo, err := c.buildRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	options = append(options, speciesmedia.WithRepository(repo))

	// Set up storage backends
	var defaultStore speciesmedia.BlobStore
	for _, backendConfig := range c.StorageBackends {
		store, err := c.buildStorageBackend(backendConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build storage backend %s: %w", backendConfig.Name, err)
		}
		options = append(options, speciesmedia.WithBlobStore(backendConfig.Name, store))
		if backendConfig.Name == c.DefaultStorageBackend {
			defaultStore = store
		}
	}

	// Media store rides the default storage backend
	if defaultStore != nil {
		options = append(options, speciesmedia.WithMediaStorer(mediastore.New(defaultStore, mediastore.Config{})))
	}

	// Set up generation provider
	if c.ProviderToken != "" {
		provider, err := replicate.New(replicate.Config{
			Token:      c.ProviderToken,
			BaseURL:    c.ProviderBaseURL,
			ImageModel: c.ProviderImageModel,
			VideoModel: c.ProviderVideoModel,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build provider: %w", err)
		}
		options = append(options, speciesmedia.WithProvider(provider))
	}

	options = append(options, speciesmedia.WithGenerationLimits(c.GenerationLimits))
	options = append(options, extra...)

	return speciesmedia.New(options...)
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository() (speciesmedia.Repository, error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil
	case "postgres":
		if c.DatabaseURL == "" {
			return nil, errors.New("database_url is required for postgres")
		}
		cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		return repopg.NewWithPool(pool), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// PingPostgres verifies connectivity to Postgres.
func PingPostgres(databaseURL string) error {
	if databaseURL == "" {
		return errors.New("database_url is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("failed to create pgx pool: %w", err)
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// buildStorageBackend creates a BlobStore based on the backend configuration
func (c *ServerConfig) buildStorageBackend(config StorageBackendConfig) (speciesmedia.BlobStore, error) {
	switch config.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		fsConfig := fsstorage.Config{
			BaseDir:   getString(config.Config, "base_dir", "./data/storage"),
			URLPrefix: getString(config.Config, "url_prefix", ""),
		}
		return fsstorage.New(fsConfig)

	case "s3":
		s3Config := s3storage.Config{
			Region:                 getString(config.Config, "region", "us-east-1"),
			Bucket:                 getString(config.Config, "bucket", ""),
			AccessKeyID:            getString(config.Config, "access_key_id", ""),
			SecretAccessKey:        getString(config.Config, "secret_access_key", ""),
			Endpoint:               getString(config.Config, "endpoint", ""),
			UseSSL:                 getBool(config.Config, "use_ssl", true),
			UsePathStyle:           getBool(config.Config, "use_path_style", false),
			PublicBaseURL:          getString(config.Config, "public_base_url", ""),
			EnableSSE:              getBool(config.Config, "enable_sse", false),
			SSEAlgorithm:           getString(config.Config, "sse_algorithm", "AES256"),
			SSEKMSKeyID:            getString(config.Config, "sse_kms_key_id", ""),
			CreateBucketIfNotExist: getBool(config.Config, "create_bucket_if_not_exist", false),
		}
		return s3storage.New(s3Config)

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", config.Type)
	}
}

func getString(config map[string]interface{}, key string, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}

func getBool(config map[string]interface{}, key string, defaultValue bool) bool {
	if value, exists := config[key]; exists {
		if b, ok := value.(bool); ok {
			return b
		}
		if str, ok := value.(string); ok {
			if b, err := strconv.ParseBool(str); err == nil {
				return b
			}
		}
	}
	return defaultValue
}
