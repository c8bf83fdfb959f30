package backend

import (
	"fmt"
	"log/slog"
)

// Constructor builds a concrete backend. Implementations register themselves
// from cmd/* to keep this package free of import cycles with its adapters.
type Constructor func(Config) (CajaAPI, error)

// Factory creates backends based on configuration
type Factory struct {
	logger       *slog.Logger
	constructors map[BackendType]Constructor
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		logger:       logger,
		constructors: make(map[BackendType]Constructor),
	}
}

// Register associates a backend type with its constructor.
func (f *Factory) Register(t BackendType, c Constructor) *Factory {
	f.constructors[t] = c
	return f
}

// Create builds the backend selected by config.
func (f *Factory) Create(config Config) (CajaAPI, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	build, ok := f.constructors[config.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	b, err := build(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s backend: %w", config.Type, err)
	}
	f.logger.Info("Initialized backend", "component", "backend", "backend", config.Type.String(), "base_url", config.BaseURL)
	return b, nil
}
