// Package config provides configuration loading and management for the
// git workspace gateway.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultAddress is the default listen address for the HTTP server
	DefaultAddress = ":8080"

	// DefaultRecordsPath is the default location of the repository record store
	DefaultRecordsPath = "./data/records.json"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// PublicURL is the externally reachable base URL of the gateway,
	// used to build clone URLs that route through the proxy
	PublicURL string `yaml:"publicUrl"`

	// Address is the listen address for the HTTP server
	Address string `yaml:"address,omitempty"`

	GitHost   GitHostConfig   `yaml:"gitHost"`
	Auth      AuthConfig      `yaml:"auth"`
	Directory DirectoryConfig `yaml:"directory"`
	Records   RecordsConfig   `yaml:"records,omitempty"`
	Pipeline  PipelineConfig  `yaml:"pipeline,omitempty"`
	Metrics   *MetricsConfig  `yaml:"metrics,omitempty"`
}

// GitHostConfig defines the backing git hosting service
type GitHostConfig struct {
	// BaseURL is the root URL of the git host (smart-HTTP and REST API)
	BaseURL string `yaml:"baseUrl"`

	// AdminUser is the service account used for upstream authentication
	AdminUser string `yaml:"adminUser"`

	// TokenFile is the path to a file containing the service account token.
	// This is the recommended approach for production deployments.
	TokenFile string `yaml:"tokenFile,omitempty"`
}

// GetToken returns the git host admin token using the following priority:
// 1. Read from TokenFile if specified
// 2. Read from GITGATEWAY_GITHOST_TOKEN environment variable
//
// The token from file will have leading/trailing whitespace trimmed.
func (g *GitHostConfig) GetToken() (string, error) {
	if g.TokenFile != "" {
		// Use filepath.Clean to prevent path traversal attacks
		cleanPath := filepath.Clean(g.TokenFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read token from file %s: %w", g.TokenFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if envToken := os.Getenv("GITGATEWAY_GITHOST_TOKEN"); envToken != "" {
		return envToken, nil
	}

	return "", fmt.Errorf(
		"no git host token configured: set gitHost.tokenFile or GITGATEWAY_GITHOST_TOKEN environment variable",
	)
}

// AuthConfig defines session credential verification
type AuthConfig struct {
	// SecretFile is the path to a file containing the session signing secret
	SecretFile string `yaml:"secretFile,omitempty"`
}

// GetSecret returns the session signing secret using the following priority:
// 1. Read from SecretFile if specified
// 2. Read from GITGATEWAY_SESSION_SECRET environment variable
func (a *AuthConfig) GetSecret() ([]byte, error) {
	if a.SecretFile != "" {
		cleanPath := filepath.Clean(a.SecretFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read secret from file %s: %w", a.SecretFile, err)
		}
		return []byte(strings.TrimSpace(string(data))), nil
	}

	if envSecret := os.Getenv("GITGATEWAY_SESSION_SECRET"); envSecret != "" {
		return []byte(envSecret), nil
	}

	return nil, fmt.Errorf(
		"no session secret configured: set auth.secretFile or GITGATEWAY_SESSION_SECRET environment variable",
	)
}

// DirectoryConfig defines the platform's assignment directory endpoint
type DirectoryConfig struct {
	// Endpoint is the base URL of the assignment directory API
	Endpoint string `yaml:"endpoint"`
}

// RecordsConfig defines repository record persistence
type RecordsConfig struct {
	// Path is the location of the JSON record store file
	Path string `yaml:"path,omitempty"`
}

// PipelineConfig defines commit pipeline settings
type PipelineConfig struct {
	// WorkDir is the base directory for ephemeral working trees.
	// Empty means the system temp directory.
	WorkDir string `yaml:"workDir,omitempty"`
}

// MetricsConfig defines metrics exposure
type MetricsConfig struct {
	// Enabled turns on the /metrics endpoint and HTTP instrumentation
	Enabled bool `yaml:"enabled"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	// As of now, this is required because there's no other options to load
	// configuration. Once we add more options, we can remove this check.
	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetAddress returns the listen address, using the default if not specified
func (c *Config) GetAddress() string {
	if c.Address == "" {
		return DefaultAddress
	}
	return c.Address
}

// GetRecordsPath returns the record store path, using the default if not
// specified
func (c *Config) GetRecordsPath() string {
	if c.Records.Path == "" {
		return DefaultRecordsPath
	}
	return c.Records.Path
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.PublicURL == "" {
		return fmt.Errorf("publicUrl is required")
	}
	if u, err := url.Parse(c.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("publicUrl must be an absolute URL, got %q", c.PublicURL)
	}

	if c.GitHost.BaseURL == "" {
		return fmt.Errorf("gitHost.baseUrl is required")
	}
	if u, err := url.Parse(c.GitHost.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("gitHost.baseUrl must be an absolute URL, got %q", c.GitHost.BaseURL)
	}
	if c.GitHost.AdminUser == "" {
		return fmt.Errorf("gitHost.adminUser is required")
	}

	if c.Directory.Endpoint == "" {
		return fmt.Errorf("directory.endpoint is required")
	}

	return nil
}
