package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	WS       WSConfig       `yaml:"ws"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	StaticDir       string        `yaml:"static_dir"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// WSConfig tunes the real-time transport. MaxConnections of 0 means unlimited.
type WSConfig struct {
	SendBuffer      int           `yaml:"send_buffer"`
	MaxConnections  int           `yaml:"max_connections"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongWait        time.Duration `yaml:"pong_wait"`
}

type AuthConfig struct {
	AccessSecret  string        `yaml:"access_secret"`
	RefreshSecret string        `yaml:"refresh_secret"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
	CookieName    string        `yaml:"cookie_name"`
	BcryptCost    int           `yaml:"bcrypt_cost"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            5555,
			Host:            "127.0.0.1",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WS: WSConfig{
			SendBuffer:      64,
			MaxConnections:  0,
			MaxMessageBytes: 64 << 10,
			PingInterval:    30 * time.Second,
			PongWait:        60 * time.Second,
		},
		Auth: AuthConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 30 * 24 * time.Hour,
			CookieName: "refreshToken",
			BcryptCost: 10,
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			DSN:    "orbit.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at path over the built-in defaults, then applies
// ORBIT_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to defaults (plus
// environment overrides) when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg = defaultConfig()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if portStr := os.Getenv("ORBIT_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("ORBIT_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("ORBIT_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("ORBIT_ACCESS_SECRET"); v != "" {
		c.Auth.AccessSecret = v
	}
	if v := os.Getenv("ORBIT_REFRESH_SECRET"); v != "" {
		c.Auth.RefreshSecret = v
	}
	if v := os.Getenv("ORBIT_STATIC_DIR"); v != "" {
		c.Server.StaticDir = v
	}
	if v := os.Getenv("ORBIT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) Validate() error {
	if c.Auth.AccessSecret == "" || c.Auth.RefreshSecret == "" {
		return errors.New("auth.access_secret and auth.refresh_secret are required (set ORBIT_ACCESS_SECRET / ORBIT_REFRESH_SECRET)")
	}
	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return errors.New("auth.access_secret and auth.refresh_secret must differ")
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("database.driver %q is not supported (use %q or %q)", c.Database.Driver, DriverSQLite, DriverPostgres)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.WS.SendBuffer <= 0 {
		return fmt.Errorf("ws.send_buffer must be positive, got %d", c.WS.SendBuffer)
	}
	if c.WS.MaxConnections < 0 {
		return fmt.Errorf("ws.max_connections must not be negative, got %d", c.WS.MaxConnections)
	}
	if c.WS.PingInterval >= c.WS.PongWait {
		return fmt.Errorf("ws.ping_interval (%s) must be shorter than ws.pong_wait (%s)", c.WS.PingInterval, c.WS.PongWait)
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
