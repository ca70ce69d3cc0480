// Package config loads and validates the CoverQuery YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	cqerrors "github.com/coverquery/coverquery/internal/errors"
)

// DefaultConfigName is the config file looked up relative to the project root.
const DefaultConfigName = "coverquery.yaml"

// Config represents the complete CoverQuery configuration.
type Config struct {
	// TestFramework selects the test runner integration. Only "pytest" is
	// currently supported.
	TestFramework string `yaml:"test_framework"`

	// TestsCommand is recorded in the run manifest. Defaults to the
	// framework name when empty.
	TestsCommand string `yaml:"tests_command"`

	// WatchPaths are the paths monitored by the start command, relative to
	// the project root.
	WatchPaths []string `yaml:"watch_paths"`

	// WatchDebounce is the window used to coalesce file events before a
	// re-run is triggered.
	WatchDebounce string `yaml:"watch_debounce"`

	// Store holds the document-store connection parameters. The YAML key
	// stays "opensearch" for compatibility with existing config files.
	Store StoreConfig `yaml:"opensearch"`

	// Logging configures the log level for file logging.
	Logging LoggingConfig `yaml:"logging"`

	// ProjectRoot is resolved at load time, not serialized.
	ProjectRoot string `yaml:"-"`
}

// StoreConfig holds document-store connection parameters.
type StoreConfig struct {
	Scheme   string `yaml:"scheme"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Index    string `yaml:"index"`

	// Timeout bounds every request to the store.
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig configures file logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// NewConfig creates a Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		TestFramework: "pytest",
		WatchPaths:    []string{"."},
		WatchDebounce: "2s",
		Store: StoreConfig{
			Scheme:  "http",
			Host:    "localhost",
			Port:    9200,
			Index:   "coverquery",
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the config file at path and resolves it against projectRoot.
// Missing optional fields fall back to defaults; a missing file is a
// configuration error.
func Load(path string, projectRoot string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cqerrors.New(cqerrors.ErrCodeConfigNotFound,
				fmt.Sprintf("missing config file at %s (run 'coverquery init' to create one)", path), err)
		}
		return nil, cqerrors.Wrap(cqerrors.ErrCodeConfigInvalid, err)
	}

	cfg := NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, cqerrors.New(cqerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid YAML in %s: %v", path, err), err)
	}

	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, cqerrors.Wrap(cqerrors.ErrCodeConfigInvalid, err)
	}
	cfg.ProjectRoot = root

	if cfg.TestsCommand == "" {
		cfg.TestsCommand = cfg.TestFramework
	}
	if cfg.Store.Timeout <= 0 {
		cfg.Store.Timeout = 10 * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required fields are present.
func (c *Config) Validate() error {
	if c.Store.Host == "" || c.Store.Port == 0 || c.Store.Index == "" {
		return cqerrors.New(cqerrors.ErrCodeStoreParamsIncomplete,
			"store configuration must include host, port, and index", nil)
	}
	if c.TestFramework == "" && c.TestsCommand == "" {
		return cqerrors.New(cqerrors.ErrCodeConfigInvalid,
			"config must define test_framework or tests_command", nil)
	}
	return nil
}

// DebounceWindow parses WatchDebounce, falling back to 2s on bad input.
func (c *Config) DebounceWindow() time.Duration {
	d, err := time.ParseDuration(c.WatchDebounce)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// ResolveWatchPaths returns WatchPaths as absolute paths under the project root.
func (c *Config) ResolveWatchPaths() []string {
	paths := make([]string, 0, len(c.WatchPaths))
	for _, p := range c.WatchPaths {
		if filepath.IsAbs(p) {
			paths = append(paths, filepath.Clean(p))
			continue
		}
		paths = append(paths, filepath.Join(c.ProjectRoot, p))
	}
	return paths
}

// DefaultYAML renders the config template written by the init command.
func DefaultYAML(indexName string) string {
	return fmt.Sprintf(`# CoverQuery configuration
test_framework: "pytest"
watch_paths:
  - .
watch_debounce: "2s"
opensearch:
  scheme: "http"
  host: "localhost"
  port: 9200
  username: ""
  password: ""
  index: %q
`, indexName)
}
