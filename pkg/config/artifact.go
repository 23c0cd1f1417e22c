package config

import (
	"errors"
	"fmt"
	"strings"
)

// ArtifactConfig describes the object store holding build artifacts.
type ArtifactConfig struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
	Bucket         string
	Root           string
	PublicEndpoint string
}

// LoadArtifactConfig constructs an ArtifactConfig from environment variables.
func LoadArtifactConfig() ArtifactConfig {
	return ArtifactConfig{
		Endpoint:       GetString("ARTIFACT_ENDPOINT", "minio:9000"),
		AccessKey:      GetString("ARTIFACT_ACCESS_KEY", "berth"),
		SecretKey:      GetString("ARTIFACT_SECRET_KEY", "berthminio"),
		Region:         GetString("ARTIFACT_REGION", "us-east-1"),
		UseSSL:         GetBool("ARTIFACT_USE_SSL", false),
		Bucket:         GetString("ARTIFACT_BUCKET", "artifacts"),
		Root:           GetString("ARTIFACT_ROOT", "__outputs"),
		PublicEndpoint: GetString("ARTIFACT_PUBLIC_ENDPOINT", "http://minio:9000"),
	}
}

// Validate reports configuration errors that would only surface at request time.
func (c ArtifactConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("artifact endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("artifact endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("artifact access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("artifact secret key is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("artifact bucket is required")
	}
	if strings.TrimSpace(c.PublicEndpoint) == "" {
		return errors.New("artifact public endpoint is required")
	}
	return nil
}
