// Package config loads connector configuration from defaults, a project/user
// config file, environment variables, and runtime overrides, in that order
// of increasing precedence.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Server  ServerConfig
	Logging LoggingConfig
	Metrics MetricsConfig
	Health  HealthConfig
	Debug   DebugConfig
	Source  SourceConfig
	Workers int
}

// SourceConfig carries the source-connector tuning keys of spec.md §6:
// partition search cadence and pausing, manager retirement and batch size.
// PartitionExtractorType and PartitionExtractorRegex are loaded from the
// source.partition_extractor.* keys but no component reads them; a route
// takes its extractor from its own routing expression.
type SourceConfig struct {
	PartitionSearchRecurseLevels int
	PartitionSearchIntervalMs    int64
	PartitionSearchPauseCount    int
	PartitionSearchPauseMillis   int64
	PartitionExtractorType       string
	PartitionExtractorRegex      string
	RetireAfterEmptyPolls        int
	MaxBatchSize                 int
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type LoggingConfig struct {
	Level   string
	Profile string
}

type MetricsConfig struct {
	Enabled bool
	Port    int
}

type HealthConfig struct {
	Enabled bool
}

type DebugConfig struct {
	Enabled      bool
	PprofEnabled bool
}

// identity describes the application identity used to derive env var and
// config file naming; it mirrors the Workhorse Standard identity contract.
type identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

type envSpec struct {
	Name string
	Path string
}

var (
	configMu    sync.Mutex
	appIdentity *identity
	appConfig   *Config
)

func ensureIdentity() *identity {
	configMu.Lock()
	defer configMu.Unlock()
	if appIdentity == nil {
		appIdentity = &identity{
			BinaryName: "s3conduit",
			EnvPrefix:  "S3CONDUIT",
			ConfigName: "s3conduit",
		}
	}
	return appIdentity
}

// Load resolves configuration from defaults, an optional config file, the
// environment, and the given runtime overrides (later overrides win).
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	id := ensureIdentity()

	v := viper.New()
	setDefaults(v)

	for _, path := range getUserConfigPaths() {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			if !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					return nil, fmt.Errorf("reading config %s: %w", path, err)
				}
			}
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("binding env var %s: %w", spec.Name, err)
		}
	}

	for _, override := range overrides {
		if err := v.MergeConfigMap(override); err != nil {
			return nil, fmt.Errorf("applying runtime overrides: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Logging: LoggingConfig{
			Level:   v.GetString("logging.level"),
			Profile: v.GetString("logging.profile"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Port:    v.GetInt("metrics.port"),
		},
		Health: HealthConfig{
			Enabled: v.GetBool("health.enabled"),
		},
		Debug: DebugConfig{
			Enabled:      v.GetBool("debug.enabled"),
			PprofEnabled: v.GetBool("debug.pprof_enabled"),
		},
		Source: SourceConfig{
			PartitionSearchRecurseLevels: v.GetInt("source.partition_search.recurse_levels"),
			PartitionSearchIntervalMs:    v.GetInt64("source.partition_search.interval_millis"),
			PartitionSearchPauseCount:    v.GetInt("source.partition_search.pause_after_count"),
			PartitionSearchPauseMillis:   v.GetInt64("source.partition_search.pause_after_millis"),
			PartitionExtractorType:       v.GetString("source.partition_extractor.type"),
			PartitionExtractorRegex:      v.GetString("source.partition_extractor.regex"),
			RetireAfterEmptyPolls:        v.GetInt("source.retire_after_empty_polls"),
			MaxBatchSize:                 v.GetInt("source.max_batch_size"),
		},
		Workers: v.GetInt("workers"),
	}

	configMu.Lock()
	appConfig = cfg
	configMu.Unlock()

	_ = id
	_ = ctx
	return cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil if Load
// has not been called yet.
func GetConfig() *Config {
	configMu.Lock()
	defer configMu.Unlock()
	return appConfig
}

// setDefaults mirrors the server/logging/metrics/health/workers/debug
// defaults of internal/cmd's setDefaults, except that the logging profile is
// spelled "STRUCTURED" here (the logger treats it as the JSON profile either
// way), and adds the source.* connector keys, which internal/cmd does not set.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)

	v.SetDefault("workers", 4)

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)

	v.SetDefault("source.partition_search.recurse_levels", 0)
	v.SetDefault("source.partition_search.interval_millis", 300000)
	v.SetDefault("source.partition_search.pause_after_count", 1000)
	v.SetDefault("source.partition_search.pause_after_millis", 0)
	v.SetDefault("source.partition_extractor.type", "hierarchical")
	v.SetDefault("source.retire_after_empty_polls", 8)
	v.SetDefault("source.max_batch_size", 500)
}

// getEnvSpecs returns the environment variable bindings for the current app
// identity. It returns an empty slice when no identity has been established.
func getEnvSpecs() []envSpec {
	configMu.Lock()
	id := appIdentity
	configMu.Unlock()
	if id == nil {
		return nil
	}

	prefix := id.EnvPrefix + "_"
	return []envSpec{
		{Name: prefix + "HOST", Path: "server.host"},
		{Name: prefix + "PORT", Path: "server.port"},
		{Name: prefix + "READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: prefix + "WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: prefix + "IDLE_TIMEOUT", Path: "server.idle_timeout"},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: prefix + "LOG_LEVEL", Path: "logging.level"},
		{Name: prefix + "LOG_PROFILE", Path: "logging.profile"},
		{Name: prefix + "METRICS_ENABLED", Path: "metrics.enabled"},
		{Name: prefix + "METRICS_PORT", Path: "metrics.port"},
		{Name: prefix + "HEALTH_ENABLED", Path: "health.enabled"},
		{Name: prefix + "WORKERS", Path: "workers"},
		{Name: prefix + "DEBUG_ENABLED", Path: "debug.enabled"},
		{Name: prefix + "DEBUG_PPROF_ENABLED", Path: "debug.pprof_enabled"},
		{Name: prefix + "SOURCE_PARTITION_SEARCH_RECURSE_LEVELS", Path: "source.partition_search.recurse_levels"},
		{Name: prefix + "SOURCE_PARTITION_SEARCH_INTERVAL_MILLIS", Path: "source.partition_search.interval_millis"},
		{Name: prefix + "SOURCE_PARTITION_SEARCH_PAUSE_AFTER_COUNT", Path: "source.partition_search.pause_after_count"},
		{Name: prefix + "SOURCE_PARTITION_SEARCH_PAUSE_AFTER_MILLIS", Path: "source.partition_search.pause_after_millis"},
		{Name: prefix + "SOURCE_PARTITION_EXTRACTOR_TYPE", Path: "source.partition_extractor.type"},
		{Name: prefix + "SOURCE_PARTITION_EXTRACTOR_REGEX", Path: "source.partition_extractor.regex"},
		{Name: prefix + "SOURCE_RETIRE_AFTER_EMPTY_POLLS", Path: "source.retire_after_empty_polls"},
		{Name: prefix + "SOURCE_MAX_BATCH_SIZE", Path: "source.max_batch_size"},
	}
}

// getUserConfigPaths returns candidate config file locations for the current
// app identity, in precedence order (project-local first). It returns an
// empty slice when no identity has been established.
func getUserConfigPaths() []string {
	configMu.Lock()
	id := appIdentity
	configMu.Unlock()
	if id == nil {
		return nil
	}

	var paths []string
	if root, err := findProjectRoot(); err == nil {
		paths = append(paths, filepath.Join(root, "."+id.ConfigName+".yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "."+id.ConfigName+".yaml"))
	}
	if cfgDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(cfgDir, id.ConfigName, "config.yaml"))
	}
	return paths
}

// ciBoundaryEnvVars lists CI-provided workspace root hints, checked in order.
var ciBoundaryEnvVars = []string{
	"FULMEN_WORKSPACE_ROOT",
	"GITHUB_WORKSPACE",
	"CI_PROJECT_DIR",
	"WORKSPACE",
}

// findProjectRoot locates the root of the current module by walking upward
// from the working directory looking for go.mod. In CI containers, where the
// checkout may live outside any directory a plain upward walk would expect,
// an explicit workspace-root hint (when absolute, existing, and an ancestor
// of the working directory) short-circuits the search.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	if os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true" {
		for _, envVar := range ciBoundaryEnvVars {
			hint := os.Getenv(envVar)
			if hint == "" || !filepath.IsAbs(hint) {
				continue
			}
			info, err := os.Stat(hint)
			if err != nil || !info.IsDir() {
				continue
			}
			if isAncestorOrSelf(hint, cwd) {
				return hint, nil
			}
		}
	}

	dir := cwd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not locate project root (go.mod) above %s", cwd)
		}
		dir = parent
	}
}

// isAncestorOrSelf reports whether ancestor is path, or a parent directory of
// path, after cleaning both.
func isAncestorOrSelf(ancestor, path string) bool {
	ancestor = filepath.Clean(ancestor)
	path = filepath.Clean(path)
	if ancestor == path {
		return true
	}
	rel, err := filepath.Rel(ancestor, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
