package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Defaults for the Toggl section.
const (
	DefaultBaseURL        = "https://api.track.toggl.com"
	DefaultUserAgent      = "toggl-etl"
	DefaultBaseYear       = 2019
	DefaultTimeoutSeconds = 30
)

// Config represents the main configuration for toggl-etl.
type Config struct {
	BaseDir  string         `toml:"base_dir"`
	LogDir   string         `toml:"log_dir"`
	Toggl    TogglConfig    `toml:"toggl"`
	Database DatabaseConfig `toml:"database"`
	Load     LoadConfig     `toml:"load"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// TogglConfig holds the credentials and endpoints of the Toggl API.
type TogglConfig struct {
	APIToken       string `toml:"api_token" env:"TOGGL_API_TOKEN" validate:"required"`
	WorkspaceID    int64  `toml:"workspace_id" env:"TOGGL_WORKSPACE_ID" validate:"gt=0"`
	UserAgent      string `toml:"user_agent"`
	BaseURL        string `toml:"base_url" validate:"omitempty,url"`
	BaseYear       int    `toml:"base_year"`       // first calendar year to extract
	TimeoutSeconds int    `toml:"timeout_seconds"` // per request
}

// DatabaseConfig represents configuration for the destination database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" validate:"oneof=sqlite postgres memory"`
	DataDir string `toml:"data_dir,omitempty" validate:"required_if=Type sqlite"`                      // only used for type=sqlite
	DSN     string `toml:"dsn,omitempty" env:"TOGGL_ETL_DATABASE_DSN" validate:"required_if=Type postgres"` // only used for type=postgres
}

// LoadConfig tunes the load pipeline.
type LoadConfig struct {
	StrictForeignKeys bool `toml:"strict_foreign_keys"`
}

// MetricsConfig controls the Prometheus textfile written after each load.
type MetricsConfig struct {
	// Textfile is the .prom file to replace; empty disables metrics.
	Textfile string `toml:"textfile,omitempty"`
}

// NewConfig creates a new Config rooted at baseDir with a local SQLite database.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Toggl: TogglConfig{
			UserAgent:      DefaultUserAgent,
			BaseURL:        DefaultBaseURL,
			BaseYear:       DefaultBaseYear,
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
	}
}

// ApplyEnv overrides secrets with values from the environment, when set.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that the fields required for a load are present.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// describeFieldError renders a validation failure using the TOML key path.
func describeFieldError(fe validator.FieldError) string {
	key := fe.Namespace()
	if _, rest, ok := strings.Cut(key, "."); ok {
		key = rest
	}
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is not set", key)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", key, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", key, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s is invalid (%s)", key, fe.Tag())
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader. Unset Toggl tunables fall
// back to their defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Toggl.fillDefaults()
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

func (t *TogglConfig) fillDefaults() {
	if t.UserAgent == "" {
		t.UserAgent = DefaultUserAgent
	}
	if t.BaseURL == "" {
		t.BaseURL = DefaultBaseURL
	}
	if t.BaseYear == 0 {
		t.BaseYear = DefaultBaseYear
	}
	if t.TimeoutSeconds <= 0 {
		t.TimeoutSeconds = DefaultTimeoutSeconds
	}
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
// The file holds the API token, so it is created owner-readable only.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
