package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the MCP server.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Cache   CacheConfig   `yaml:"cache"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Chroma  ChromaConfig  `yaml:"chroma"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP transport configuration.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig controls cross-origin access. The defaults allow everything.
type CORSConfig struct {
	AllowOrigins []string `yaml:"allow_origins"`
	AllowMethods []string `yaml:"allow_methods"`
	AllowHeaders []string `yaml:"allow_headers"`
}

// StoreConfig selects the collection store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // "memory" or "bolt"
	Path    string `yaml:"path"`    // bolt file, relative to the working directory
}

// CacheConfig holds query cache configuration.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
}

// IngestConfig holds configuration for the ingest command.
type IngestConfig struct {
	ServerURL string   `yaml:"server_url"`
	Includes  []string `yaml:"includes"`
	Excludes  []string `yaml:"excludes"`
	BatchSize int      `yaml:"batch_size"`
	MaxBytes  int64    `yaml:"max_bytes"` // files larger than this are skipped
}

// ChromaConfig mirrors the legacy CHROMA_* client settings. They are recorded
// and reported but nothing connects anywhere with them.
type ChromaConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8000",
			MaxBodyBytes:    10 << 20,
			ShutdownTimeout: 10 * time.Second,
			CORS: CORSConfig{
				AllowOrigins: []string{"*"},
				AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
				AllowHeaders: []string{"*"},
			},
		},
		Store: StoreConfig{
			Backend: "memory",
			Path:    filepath.Join(".chromamcp", "store.db"),
		},
		Cache: CacheConfig{
			Enabled: true,
			Size:    100,
			TTL:     5 * time.Minute,
		},
		Ingest: IngestConfig{
			ServerURL: "http://127.0.0.1:8000/mcp",
			Includes:  []string{"**/*.md", "**/*.txt", "**/*.rst"},
			Excludes:  []string{"**/node_modules/**", "**/vendor/**", "**/.git/**", "**/dist/**", "**/build/**"},
			BatchSize: 50,
			MaxBytes:  1 << 20,
		},
		Chroma: ChromaConfig{
			Host: "localhost",
			Port: 8000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnv()
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.ApplyEnv()

	return cfg, cfg.Validate()
}

// LoadFromDir loads configuration from a directory (looks for chromamcp.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "chromamcp.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".chromamcp", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyEnv overrides file values with the CHROMA_* environment variables.
// Malformed numeric values are ignored.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CHROMA_HOST"); v != "" {
		c.Chroma.Host = v
	}
	if v := os.Getenv("CHROMA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Chroma.Port = port
		}
	}
	if v, ok := os.LookupEnv("CHROMA_USERNAME"); ok {
		c.Chroma.Username = v
	}
	if v, ok := os.LookupEnv("CHROMA_PASSWORD"); ok {
		c.Chroma.Password = v
	}
	if v := os.Getenv("CHROMA_MCP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("CHROMA_MCP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "bolt":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the bolt backend")
		}
	default:
		return fmt.Errorf("unsupported store backend: %s", c.Store.Backend)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a configured level name onto a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level: %s", level)
}

// NewLogger builds the process logger described by the logging section.
func (c LoggingConfig) NewLogger() *slog.Logger {
	level, err := ParseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(c.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// EnsureDataDir ensures the parent directory of the bolt file exists.
func EnsureDataDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}
