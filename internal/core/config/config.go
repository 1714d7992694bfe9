package config

import (
	"fmt"
	"strings"

	coreagg "github.com/keyline-lab/keyline/internal/core/aggregation"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level application config plus the stream profiles resolved
// at load time.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Streams  StreamsConfig  `koanf:"streams"`

	// Profiles is populated by Load after parsing profile files.
	Profiles []coreagg.StreamProfile `koanf:"-"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	Type         string `koanf:"type"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type StreamsConfig struct {
	ProfileDir        string `koanf:"profile_dir"`
	RequireProfiles   bool   `koanf:"require_profiles"`
	Partitions        int    `koanf:"partitions"`
	ChannelBufferSize int    `koanf:"channel_buffer_size"`
	SinkBatchSize     int    `koanf:"sink_batch_size"`
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}
	if c.Database.Type != "" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	if strings.TrimSpace(c.Streams.ProfileDir) == "" {
		return fmt.Errorf("streams.profile_dir is required")
	}
	if c.Streams.Partitions <= 0 {
		return fmt.Errorf("streams.partitions must be > 0")
	}
	if c.Streams.ChannelBufferSize < 0 {
		return fmt.Errorf("streams.channel_buffer_size must be >= 0")
	}
	if c.Streams.SinkBatchSize <= 0 {
		return fmt.Errorf("streams.sink_batch_size must be > 0")
	}

	return nil
}

// Load parses config from file + env, validates it, then loads and validates
// stream profiles.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                 8080,
		"server.host":                 "0.0.0.0",
		"server.max_body_size_mb":     1,
		"server.mode":                 "release",
		"database.type":               "postgres",
		"database.dsn":                "",
		"database.max_open_conns":     25,
		"database.max_idle_conns":     25,
		"database.auto_migrate":       true,
		"streams.profile_dir":         "./config/streams",
		"streams.require_profiles":    true,
		"streams.partitions":          4,
		"streams.channel_buffer_size": 64,
		"streams.sink_batch_size":     500,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("KEYLINE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "KEYLINE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	repo, err := coreagg.NewFileSystemProfileRepository(cfg.Streams.ProfileDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load stream profiles: %w", err)
	}
	profiles := repo.Profiles()
	if cfg.Streams.RequireProfiles && len(profiles) == 0 {
		return nil, fmt.Errorf("no stream profiles found in %q", cfg.Streams.ProfileDir)
	}
	cfg.Profiles = profiles

	return &cfg, nil
}
