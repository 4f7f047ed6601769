// Package config loads the server configuration.
//
// Precedence, highest first: environment variables (SECTION_FIELD, e.g.
// SERVER_PORT or ML_API_KEY, optionally from a .env file), the YAML file,
// then built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/franckalain/fruitbeast/internal/auth"
	"github.com/franckalain/fruitbeast/internal/database"
	"github.com/franckalain/fruitbeast/internal/logging"
	"github.com/franckalain/fruitbeast/internal/ml"
	"github.com/franckalain/fruitbeast/internal/scheduler"
)

const maxConfigFileSize = 1024 * 1024

// Config holds all application configuration
type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Database  database.Config  `koanf:"database"`
	ML        ml.Config        `koanf:"ml"`
	Auth      auth.Config      `koanf:"auth"`
	Reminders scheduler.Config `koanf:"reminders"`
	Logging   logging.Config   `koanf:"logging"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Port            string        `koanf:"port"`
	StaticDir       string        `koanf:"static_dir"`
	Debug           bool          `koanf:"debug"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// sections recognised in environment variable names
var sections = map[string]bool{
	"server": true, "database": true, "ml": true,
	"auth": true, "reminders": true, "logging": true,
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			StaticDir:       "./static",
			AllowedOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			ShutdownTimeout: 10 * time.Second,
		},
		Database: database.Config{
			Driver: database.DriverSQLite,
			Path:   "fruitbeast.db",
		},
		ML:        ml.DefaultConfig(),
		Auth:      auth.Config{TokenTTL: 7 * 24 * time.Hour},
		Reminders: scheduler.DefaultConfig(),
		Logging:   logging.Config{Level: "info", Format: "json"},
	}
}

// LoadConfig loads configuration from configPath, or from GetConfigPath()
// when configPath is empty. A missing file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = GetConfigPath()
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")

	content, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ML.ApplyEnv()
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// envKey maps SERVER_STATIC_DIR to server.static_dir. The section is split on
// the first underscore only; unknown sections are ignored.
func envKey(key, value string) (string, interface{}) {
	lower := strings.ToLower(key)
	section, field, ok := strings.Cut(lower, "_")
	if !ok || !sections[section] || field == "" {
		return "", nil
	}

	path := section + "." + field
	if path == "server.allowed_origins" {
		origins := strings.Split(value, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		return path, origins
	}
	return path, value
}

func applyDefaults(cfg *Config) {
	if cfg.Server.StaticDir == "" {
		cfg.Server.StaticDir = "./static"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = database.DriverSQLite
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "fruitbeast.db"
	}
	if cfg.ML.Type == "" {
		cfg.ML.Type = ml.BackendGemini
	}
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is not set")
	}
	if err := c.ML.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	return c.Logging.Validate()
}

// GetConfigPath returns the path to the configuration file
func GetConfigPath() string {
	if path := os.Getenv("FRUITBEAST_CONFIG"); path != "" {
		return path
	}

	configDir := "config"
	if _, err := os.Stat(configDir); err == nil {
		return filepath.Join(configDir, "config.yaml")
	}

	return "config.yaml"
}
