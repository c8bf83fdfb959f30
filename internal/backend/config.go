package backend

import (
	"fmt"
	"time"

	"gymspace/internal/config"
)

// Config holds configuration for backend creation
type Config struct {
	Type    BackendType
	BaseURL string
	Timeout time.Duration
	// SeedFile preloads payments into the memory backend.
	SeedFile string
}

// BackendType represents the type of backend
type BackendType string

const (
	RESTBackend   BackendType = "rest"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case RESTBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	return Config{
		Type:     backendType,
		BaseURL:  appConfig.APIBaseURL,
		Timeout:  appConfig.APITimeout,
		SeedFile: appConfig.MemorySeedFile,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if c.Type == RESTBackend && c.BaseURL == "" {
		return fmt.Errorf("base URL is required for rest backend")
	}
	return nil
}
