// Package config loads the runtime configuration of the migrate command from a YAML or TOML
// file and MIGRATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/spf13/viper"
)

// Drivers accepted for database connections.
const (
	DriverMemory   = "memory"
	DriverRamSQL   = "ramsql"
	DriverPostgres = "postgres"
)

// LogConfig configures the logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"` // debug, info, warn or error
}

// IDMapConfig selects where id maps are stored.
//
// WARNING: The DSN may carry credentials and should not be logged.
type IDMapConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // memory, ramsql or postgres
	DSN    string `mapstructure:"dsn" yaml:"dsn"`       // Secret: connection string of the id map database
}

// SourceConfig configures the database of sql sources and the retry of unavailable sources.
//
// WARNING: The DSN may carry credentials and should not be logged.
type SourceConfig struct {
	Driver        string        `mapstructure:"driver" yaml:"driver"`                 // ramsql or postgres, empty when no sql source is used
	DSN           string        `mapstructure:"dsn" yaml:"dsn"`                       // Secret: connection string of the source database
	BaseDir       string        `mapstructure:"base_dir" yaml:"base_dir"`             // Directory relative file sources are resolved against
	RetryAttempts uint          `mapstructure:"retry_attempts" yaml:"retry_attempts"` // Attempts to open an unavailable source
	RetryDelay    time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`       // Delay between attempts
}

// DestinationConfig configures the stores destinations write to.
//
// WARNING: The DSN may carry credentials and should not be logged.
type DestinationConfig struct {
	Driver    string `mapstructure:"driver" yaml:"driver"`         // ramsql or postgres, empty when no table destination is used
	DSN       string `mapstructure:"dsn" yaml:"dsn"`               // Secret: connection string of the destination database
	ConfigDir string `mapstructure:"config_dir" yaml:"config_dir"` // Directory of the TOML config objects
}

// RunConfig holds the defaults of migration runs.
type RunConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"` // Failed rows that abort a run, zero disables
	Deadline         time.Duration `mapstructure:"deadline" yaml:"deadline"`                   // Time budget of a run, zero disables
	Concurrency      int           `mapstructure:"concurrency" yaml:"concurrency"`             // Independent migrations run at once
}

// Config wraps the entire configuration of the migrate command.
type Config struct {
	Log           LogConfig         `mapstructure:"log" yaml:"log"`
	IDMap         IDMapConfig       `mapstructure:"idmap" yaml:"idmap"`
	Source        SourceConfig      `mapstructure:"source" yaml:"source"`
	Destination   DestinationConfig `mapstructure:"destination" yaml:"destination"`
	Run           RunConfig         `mapstructure:"run" yaml:"run"`
	MigrationsDir string            `mapstructure:"migrations_dir" yaml:"migrations_dir"`
	ReportsFile   string            `mapstructure:"reports_file" yaml:"reports_file"` // JSON file keeping run reports between invocations
	MetricsFile   string            `mapstructure:"metrics_file" yaml:"metrics_file"` // Prometheus textfile written after each command, empty disables
}

// Validate checks the driver names and the run settings.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains([]string{DriverMemory, DriverRamSQL, DriverPostgres}, c.IDMap.Driver) {
		errs = append(errs, fmt.Errorf("idmap.driver: unsupported driver %q", c.IDMap.Driver))
	}
	for key, driver := range map[string]string{"source.driver": c.Source.Driver, "destination.driver": c.Destination.Driver} {
		if driver != "" && driver != DriverRamSQL && driver != DriverPostgres {
			errs = append(errs, fmt.Errorf("%s: unsupported driver %q", key, driver))
		}
	}
	if c.Run.Concurrency < 1 {
		errs = append(errs, errors.New("run.concurrency must be at least 1"))
	}
	if c.Run.FailureThreshold < 0 {
		errs = append(errs, errors.New("run.failure_threshold must not be negative"))
	}
	if c.MigrationsDir == "" {
		errs = append(errs, errors.New("migrations_dir is required"))
	}

	return errors.Join(errs...)
}

// Load loads the config from the file path, falling back to env vars if the file does not exist.
// If the file exists, any env vars that are set will override the values loaded from the file.
func Load(filePath string) (*Config, error) {
	v := newViper()
	if filePath != "" {
		v.SetConfigFile(filePath)
	}

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	// If the config file exists, we continue to read it, otherwise we fallback to using
	// environment variables
	if filePath != "" {
		if _, err := os.Stat(filePath); !errors.Is(err, fs.ErrNotExist) {
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// LoadFile loads the config from a file, ignoring the environment.
func LoadFile(filePath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(filePath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg)

	return cfg, err
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	return v
}

var (
	defaults = map[string]any{
		"log.level":             "info",
		"idmap.driver":          DriverMemory,
		"source.retry_attempts": 3,
		"source.retry_delay":    time.Second,
		"run.concurrency":       1,
		"migrations_dir":        "migrations",
		"reports_file":          ".migrate/reports.json",
	}

	// envBindings maps config keys to the environment variables that can provide their value.
	// The first variable that is set wins.
	envBindings = map[string][]string{
		"log.level":              {"MIGRATE_LOG_LEVEL"},
		"idmap.driver":           {"MIGRATE_IDMAP_DRIVER"},
		"idmap.dsn":              {"MIGRATE_IDMAP_DSN"},
		"source.driver":          {"MIGRATE_SOURCE_DRIVER"},
		"source.dsn":             {"MIGRATE_SOURCE_DSN"},
		"source.base_dir":        {"MIGRATE_SOURCE_BASE_DIR"},
		"source.retry_attempts":  {"MIGRATE_SOURCE_RETRY_ATTEMPTS"},
		"source.retry_delay":     {"MIGRATE_SOURCE_RETRY_DELAY"},
		"destination.driver":     {"MIGRATE_DESTINATION_DRIVER"},
		"destination.dsn":        {"MIGRATE_DESTINATION_DSN"},
		"destination.config_dir": {"MIGRATE_DESTINATION_CONFIG_DIR"},
		"run.failure_threshold":  {"MIGRATE_RUN_FAILURE_THRESHOLD"},
		"run.deadline":           {"MIGRATE_RUN_DEADLINE"},
		"run.concurrency":        {"MIGRATE_RUN_CONCURRENCY"},
		"migrations_dir":         {"MIGRATE_MIGRATIONS_DIR"},
		"reports_file":           {"MIGRATE_REPORTS_FILE"},
		"metrics_file":           {"MIGRATE_METRICS_FILE"},
	}
)

// bindEnvs binds the environment variables to the viper instance.
func bindEnvs(v *viper.Viper) error {
	for key, envs := range envBindings {
		// Prepend the config key to the env names
		inputs := slices.Insert(slices.Clone(envs), 0, key)

		if err := v.BindEnv(inputs...); err != nil {
			return err
		}
	}

	return nil
}
