package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlConfig = `
log:
  level: debug
idmap:
  driver: ramsql
  dsn: idmaps
source:
  driver: postgres
  dsn: postgres://localhost/legacy
  base_dir: ./data
  retry_attempts: 5
  retry_delay: 2s
destination:
  config_dir: ./config
run:
  failure_threshold: 10
  deadline: 30m
  concurrency: 4
migrations_dir: ./migrations
reports_file: ./state/reports.json
metrics_file: ./state/migrate.prom
`

const tomlConfig = `
migrations_dir = "defs"

[idmap]
driver = "postgres"
dsn = "postgres://localhost/maps"

[run]
concurrency = 2
`

var (
	// fileCfg is the config that is loaded from yamlConfig.
	fileCfg = &Config{
		Log:   LogConfig{Level: "debug"},
		IDMap: IDMapConfig{Driver: DriverRamSQL, DSN: "idmaps"},
		Source: SourceConfig{
			Driver:        DriverPostgres,
			DSN:           "postgres://localhost/legacy",
			BaseDir:       "./data",
			RetryAttempts: 5,
			RetryDelay:    2 * time.Second,
		},
		Destination: DestinationConfig{ConfigDir: "./config"},
		Run: RunConfig{
			FailureThreshold: 10,
			Deadline:         30 * time.Minute,
			Concurrency:      4,
		},
		MigrationsDir: "./migrations",
		ReportsFile:   "./state/reports.json",
		MetricsFile:   "./state/migrate.prom",
	}

	// defaultCfg is the config without a file or env vars.
	defaultCfg = &Config{
		Log:           LogConfig{Level: "info"},
		IDMap:         IDMapConfig{Driver: DriverMemory},
		Source:        SourceConfig{RetryAttempts: 3, RetryDelay: time.Second},
		Run:           RunConfig{Concurrency: 1},
		MigrationsDir: "migrations",
		ReportsFile:   ".migrate/reports.json",
	}

	// envVars is the environment variables that used to set the config.
	envVars = map[string]string{
		"MIGRATE_LOG_LEVEL":             "warn",
		"MIGRATE_IDMAP_DRIVER":          "postgres",
		"MIGRATE_IDMAP_DSN":             "postgres://db/maps",
		"MIGRATE_SOURCE_RETRY_ATTEMPTS": "7",
		"MIGRATE_RUN_DEADLINE":          "1h",
		"MIGRATE_RUN_CONCURRENCY":       "8",
		"MIGRATE_MIGRATIONS_DIR":        "/srv/migrations",
	}
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func Test_Load(t *testing.T) { //nolint:paralleltest // see comment in setupEnvVars
	tests := []struct {
		name       string
		beforeFunc func(t *testing.T)
		givePath   func(t *testing.T) string
		want       func() *Config
		wantErr    string
	}{
		{
			name:     "load from yaml file",
			givePath: func(t *testing.T) string { t.Helper(); return writeFile(t, "migrate.yml", yamlConfig) },
			want:     func() *Config { return fileCfg },
		},
		{
			name:     "load from toml file",
			givePath: func(t *testing.T) string { t.Helper(); return writeFile(t, "migrate.toml", tomlConfig) },
			want: func() *Config {
				cfg := *defaultCfg
				cfg.IDMap = IDMapConfig{Driver: DriverPostgres, DSN: "postgres://localhost/maps"}
				cfg.Run.Concurrency = 2
				cfg.MigrationsDir = "defs"

				return &cfg
			},
		},
		{
			name:     "defaults when file not found",
			givePath: func(t *testing.T) string { t.Helper(); return filepath.Join(t.TempDir(), "missing.yml") },
			want:     func() *Config { return defaultCfg },
		},
		{
			name:     "defaults without a path",
			givePath: func(t *testing.T) string { t.Helper(); return "" },
			want:     func() *Config { return defaultCfg },
		},
		{
			name: "override with env",
			beforeFunc: func(t *testing.T) {
				t.Helper()

				setupEnvVars(t, envVars)
			},
			givePath: func(t *testing.T) string { t.Helper(); return writeFile(t, "migrate.yml", yamlConfig) },
			want: func() *Config {
				cfg := *fileCfg
				cfg.Log.Level = "warn"
				cfg.IDMap = IDMapConfig{Driver: DriverPostgres, DSN: "postgres://db/maps"}
				cfg.Source.RetryAttempts = 7
				cfg.Run.Deadline = time.Hour
				cfg.Run.Concurrency = 8
				cfg.MigrationsDir = "/srv/migrations"

				return &cfg
			},
		},
		{
			name:     "invalid file",
			givePath: func(t *testing.T) string { t.Helper(); return writeFile(t, "migrate.yml", "log: [") },
			wantErr:  "failed to read config file",
		},
		{
			name:     "invalid duration",
			givePath: func(t *testing.T) string { t.Helper(); return writeFile(t, "migrate.yml", "run:\n  deadline: soon\n") },
			wantErr:  "failed to unmarshal config",
		},
	}

	for _, tt := range tests { //nolint:paralleltest // see comment in setupEnvVars
		t.Run(tt.name, func(t *testing.T) {
			if tt.beforeFunc != nil {
				tt.beforeFunc(t)
			}

			got, err := Load(tt.givePath(t))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorContains(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want(), got)
			}
		})
	}
}

func Test_LoadFile(t *testing.T) {
	t.Parallel()

	got, err := LoadFile(writeFile(t, "migrate.yaml", yamlConfig))
	require.NoError(t, err)
	assert.Equal(t, fileCfg, got)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "no such file or directory")
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr []string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "file config", mutate: func(c *Config) { *c = *fileCfg }},
		{
			name:    "unknown idmap driver",
			mutate:  func(c *Config) { c.IDMap.Driver = "sqlite" },
			wantErr: []string{`idmap.driver: unsupported driver "sqlite"`},
		},
		{
			name: "several problems",
			mutate: func(c *Config) {
				c.Source.Driver = "mysql"
				c.Run.Concurrency = 0
				c.Run.FailureThreshold = -1
				c.MigrationsDir = ""
			},
			wantErr: []string{
				`source.driver: unsupported driver "mysql"`,
				"run.concurrency must be at least 1",
				"run.failure_threshold must not be negative",
				"migrations_dir is required",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := *defaultCfg
			tt.mutate(&cfg)

			err := cfg.Validate()
			if len(tt.wantErr) == 0 {
				require.NoError(t, err)
				return
			}
			for _, want := range tt.wantErr {
				assert.ErrorContains(t, err, want)
			}
		})
	}
}

// setupEnvVars sets up the environment variables for the test.
//
// CAUTION: Because this function uses t.Setenv which affects the entire process, tests which call
// this function cannot be run in parallel.
func setupEnvVars(t *testing.T, envVars map[string]string) {
	t.Helper()

	for key, value := range envVars {
		t.Setenv(key, value)
	}
}
