package commands

import (
	"context"

	"github.com/contentmigrate/migrate-framework/destination"
	"github.com/contentmigrate/migrate-framework/pkg/config"
	"github.com/contentmigrate/migrate-framework/pkg/logger"
)

// ConfigLoaderFunc loads the configuration from the path given by --config.
type ConfigLoaderFunc func(path string) (*config.Config, error)

// EnvLoaderFunc builds the environment the commands operate on.
type EnvLoaderFunc func(ctx context.Context, cfg *config.Config, lggr logger.Logger, stores Stores) (*Env, error)

// Stores are the stores destinations write to that are not configured through the config file.
type Stores struct {
	// Entities receives the rows of entity destinations.
	Entities destination.EntityStore
}

// Deps holds the injectable dependencies for the commands.
// All fields are optional; nil values will use production defaults.
type Deps struct {
	// ConfigLoader loads the configuration.
	// Default: config.Load
	ConfigLoader ConfigLoaderFunc

	// EnvLoader builds the runner and its stores from the configuration.
	// Default: LoadEnv
	EnvLoader EnvLoaderFunc

	// Stores are handed to the EnvLoader. Applications embedding the commands provide their
	// own entity store here.
	// Default: an in-memory entity store
	Stores Stores
}

// applyDefaults fills in nil dependencies with production defaults.
func (d *Deps) applyDefaults() {
	if d.ConfigLoader == nil {
		d.ConfigLoader = config.Load
	}
	if d.EnvLoader == nil {
		d.EnvLoader = LoadEnv
	}
	if d.Stores.Entities == nil {
		d.Stores.Entities = destination.NewMemoryEntityStore()
	}
}
