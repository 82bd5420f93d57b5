package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/swapval/internal/platform/env"
)

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	UseSSL        bool
	BucketLineage string
	LineagePrefix string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("SWAPVAL_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:      env.String("SWAPVAL_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:     env.String("SWAPVAL_MINIO_ACCESS_KEY", "swapval"),
		SecretKey:     env.String("SWAPVAL_MINIO_SECRET_KEY", "swapvalminio"),
		Region:        env.String("SWAPVAL_MINIO_REGION", "us-east-1"),
		UseSSL:        useSSL,
		BucketLineage: env.String("SWAPVAL_MINIO_BUCKET_LINEAGE", "lineage"),
		LineagePrefix: env.String("SWAPVAL_MINIO_LINEAGE_PREFIX", "artifacts/"),
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
	if strings.TrimSpace(c.BucketLineage) == "" {
		return errors.New("lineage bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.HasPrefix(c.LineagePrefix, "/") {
		return fmt.Errorf("lineage prefix must be relative: %q", c.LineagePrefix)
	}
	return nil
}
