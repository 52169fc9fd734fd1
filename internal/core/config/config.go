package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultErrorTemplate is shown when the analytics server cannot be reached
const DefaultErrorTemplate = `Failed to connect to the server. Please ensure it is running at {{base_url}}`

const (
	DefaultBackendURL   = "http://127.0.0.1:8000"
	DefaultTimeout      = 2 * time.Minute
	DefaultMaxMessages  = 10
	DefaultMaxFileBytes = 5 << 20
	DefaultRedisPrefix  = "querychat:"

	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

type Config struct {
	BackendURL    string
	Timeout       time.Duration
	MaxMessages   int
	MaxFileBytes  int64
	ErrorTemplate string
	LogLevel      string

	Storage  string // sqlite or redis
	DBPath   string
	Redis    RedisConfig
	LoadedAt string // config file that was read, "" for defaults
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

type tomlConfig struct {
	BackendURL   string `toml:"backend_url"`
	Timeout      string `toml:"timeout"`
	MaxMessages  int    `toml:"max_messages"`
	MaxFileBytes int64  `toml:"max_file_bytes"`
	LogLevel     string `toml:"log_level"`
	Storage      string `toml:"storage"`
	DBPath       string `toml:"db_path"`

	Redis struct {
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
		Prefix   string `toml:"prefix"`
		TTL      string `toml:"ttl"`
	} `toml:"redis"`
}

// Default returns the built-in configuration
func Default() *Config {
	cfg := &Config{
		BackendURL:    DefaultBackendURL,
		Timeout:       DefaultTimeout,
		MaxMessages:   DefaultMaxMessages,
		MaxFileBytes:  DefaultMaxFileBytes,
		ErrorTemplate: DefaultErrorTemplate,
		LogLevel:      "warn",
		Storage:       StorageSQLite,
		Redis:         RedisConfig{Prefix: DefaultRedisPrefix},
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.DBPath = filepath.Join(home, ".config", "querychat", "querychat.db")
	}
	return cfg
}

// Dir returns ~/.config/querychat
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "querychat"), nil
}

// Load reads config from ~/.config/querychat/
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return Default(), nil // Use defaults
	}
	return LoadDir(dir)
}

// LoadDir reads config.toml and error_message.txt from dir. Missing files
// leave the defaults in place.
func LoadDir(dir string) (*Config, error) {
	cfg := Default()

	tomlPath := filepath.Join(dir, "config.toml")
	templatePath := filepath.Join(dir, "error_message.txt")

	if _, err := os.Stat(tomlPath); err == nil {
		var tc tomlConfig
		if _, err := toml.DecodeFile(tomlPath, &tc); err != nil {
			return cfg, err
		}
		if err := cfg.apply(tc); err != nil {
			return cfg, err
		}
		cfg.LoadedAt = tomlPath
	}

	// If custom template exists, use it
	if data, err := os.ReadFile(templatePath); err == nil {
		if tmpl := strings.TrimSpace(string(data)); tmpl != "" {
			cfg.ErrorTemplate = tmpl
		}
	}

	return cfg, nil
}

func (cfg *Config) apply(tc tomlConfig) error {
	if tc.BackendURL != "" {
		cfg.BackendURL = strings.TrimRight(tc.BackendURL, "/")
	}
	if tc.Timeout != "" {
		d, err := time.ParseDuration(tc.Timeout)
		if err != nil {
			return err
		}
		cfg.Timeout = d
	}
	if tc.MaxMessages > 0 {
		cfg.MaxMessages = tc.MaxMessages
	}
	if tc.MaxFileBytes > 0 {
		cfg.MaxFileBytes = tc.MaxFileBytes
	}
	if tc.LogLevel != "" {
		cfg.LogLevel = tc.LogLevel
	}
	if tc.Storage != "" {
		cfg.Storage = strings.ToLower(tc.Storage)
	}
	if tc.DBPath != "" {
		cfg.DBPath = expandHome(tc.DBPath)
	}

	cfg.Redis.Addr = tc.Redis.Addr
	cfg.Redis.Password = tc.Redis.Password
	cfg.Redis.DB = tc.Redis.DB
	if tc.Redis.Prefix != "" {
		cfg.Redis.Prefix = tc.Redis.Prefix
	}
	if tc.Redis.TTL != "" {
		d, err := time.ParseDuration(tc.Redis.TTL)
		if err != nil {
			return err
		}
		cfg.Redis.TTL = d
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
