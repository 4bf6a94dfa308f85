package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"toggl-etl/internal/config"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - TOGGL_ETL_CONFIG_PATH: config file location (default: ~/.config/toggl-etl.toml)
//   - TOGGL_ETL_HOME: base directory for toggl-etl data (default: ~/.local/share/toggl-etl)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking TOGGL_ETL_CONFIG_PATH env var first,
// then falling back to the default ~/.config/toggl-etl.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("TOGGL_ETL_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "toggl-etl.toml"), nil
}

// getBaseDir returns the base directory for toggl-etl data, checking TOGGL_ETL_HOME
// env var first, then falling back to the XDG default ~/.local/share/toggl-etl.
func getBaseDir() (string, error) {
	if path := os.Getenv("TOGGL_ETL_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "toggl-etl"), nil
}

// EnvFiles are the dotenv files read from the working directory, in priority order.
var EnvFiles = []string{".env", ".env.local"}

// LoadEnv loads the dotenv files that exist into the process environment and
// returns how many were read. Variables already set are not overridden, and a
// variable in an earlier file wins over a later one.
func LoadEnv(files []string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if info, err := os.Stat(f); err == nil && !info.IsDir() {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return 0, fmt.Errorf("loading env files: %w", err)
	}
	return len(existing), nil
}

// LoadConfig reads the config file at path and applies environment
// overrides, after loading any dotenv files in the working directory.
func LoadConfig(path string) (*config.Config, error) {
	if _, err := LoadEnv(EnvFiles); err != nil {
		return nil, err
	}
	cfg, err := config.ReadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}
