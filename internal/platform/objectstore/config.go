package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/ailab/internal/platform/env"
)

// Config describes the MinIO deployment used for dataset uploads and model
// artifacts. Enabled=false keeps everything on the local filesystem.
type Config struct {
	Enabled        bool
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
	BucketDatasets string
	BucketModels   string
}

func ConfigFromEnv() (Config, error) {
	enabled, err := env.Bool("AILAB_OBJECTSTORE_ENABLED", false)
	if err != nil {
		return Config{}, err
	}
	useSSL, err := env.Bool("AILAB_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Enabled:        enabled,
		Endpoint:       env.String("AILAB_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:      env.String("AILAB_MINIO_ACCESS_KEY", "ailab"),
		SecretKey:      env.String("AILAB_MINIO_SECRET_KEY", "ailabminio"),
		Region:         env.String("AILAB_MINIO_REGION", "us-east-1"),
		UseSSL:         useSSL,
		BucketDatasets: env.String("AILAB_MINIO_BUCKET_DATASETS", "datasets"),
		BucketModels:   env.String("AILAB_MINIO_BUCKET_MODELS", "models"),
	}
	if !cfg.Enabled {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketDatasets) == "" {
		return errors.New("datasets bucket is required")
	}
	if strings.TrimSpace(c.BucketModels) == "" {
		return errors.New("models bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
