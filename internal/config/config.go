// Package config loads the application configuration from YAML with
// environment variable overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Store    StoreConfig    `yaml:"store"`
	API      APIConfig      `yaml:"api"`
	Log      LogConfig      `yaml:"log"`
}

// DeviceConfig identifies the programmer's GATT surface.
type DeviceConfig struct {
	ServiceUUID    string        `yaml:"service_uuid"`
	WriteCharUUID  string        `yaml:"write_char_uuid"`
	NotifyCharUUID string        `yaml:"notify_char_uuid"`
	NamePatterns   []string      `yaml:"name_patterns"`
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
}

// ProtocolConfig carries the session timing and framing parameters.
type ProtocolConfig struct {
	ImageSize         int           `yaml:"image_size"`
	MTU               int           `yaml:"mtu"`
	SupportedVersions []string      `yaml:"supported_versions"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	CommandTimeout    time.Duration `yaml:"command_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	EraseTimeout      time.Duration `yaml:"erase_timeout"`
	ChunkRetries      int           `yaml:"chunk_retries"`
	ChunkDelay        time.Duration `yaml:"chunk_delay"`
}

// StoreConfig locates the profile library and its backup policy.
type StoreConfig struct {
	Path          string `yaml:"path"`
	BackupPath    string `yaml:"backup_path"`
	BackupMaxKeep int    `yaml:"backup_max_keep"`
}

// APIConfig represents the HTTP API listener.
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// Default returns the built-in configuration, valid without any file.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			ServiceUUID:    "8e60f02e-f699-4865-b83f-f40501752184",
			WriteCharUUID:  "9280f26c-a56f-43ea-b769-d5d732e1ac67",
			NotifyCharUUID: "dc272a22-43f2-416b-8fa5-63a071542fac",
			NamePatterns:   []string{"SFP Wizard", "SFP-Wizard"},
			ScanTimeout:    30 * time.Second,
		},
		Protocol: ProtocolConfig{
			ImageSize:         256,
			MTU:               20,
			SupportedVersions: []string{"1.0", "1.1"},
			ConnectTimeout:    30 * time.Second,
			CommandTimeout:    5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      60 * time.Second,
			EraseTimeout:      30 * time.Second,
			ChunkRetries:      3,
		},
		API: APIConfig{Host: "127.0.0.1", Port: 8080},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads configuration from filename, layered over the defaults. An
// empty filename yields the defaults; a named file that does not exist is
// an error.
func Load(filename string) (*Config, error) {
	cfg := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("SFPLIB_STORE_PATH"); path != "" {
		c.Store.Path = path
	}
	if level := os.Getenv("SFPLIB_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if host := os.Getenv("SFPLIB_API_HOST"); host != "" {
		c.API.Host = host
	}
}

func (c *Config) validate() error {
	if c.Device.ServiceUUID == "" || c.Device.WriteCharUUID == "" || c.Device.NotifyCharUUID == "" {
		return fmt.Errorf("device UUIDs must all be set")
	}
	if c.Protocol.ImageSize <= 0 {
		return fmt.Errorf("protocol image_size must be positive, got %d", c.Protocol.ImageSize)
	}
	if c.Protocol.MTU <= 0 {
		return fmt.Errorf("protocol mtu must be positive, got %d", c.Protocol.MTU)
	}
	return nil
}

// StorePath returns the configured store path, or the per-user default.
func (c *Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".sfplib", "store"), nil
}

// BackupPath returns the configured backup path, defaulting to a sibling
// of the store directory.
func (c *Config) BackupPath() (string, error) {
	if c.Store.BackupPath != "" {
		return c.Store.BackupPath, nil
	}
	storePath, err := c.StorePath()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(storePath), "backups"), nil
}

// APIAddr returns the host:port listen address for the HTTP API.
func (c *Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
