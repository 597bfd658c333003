/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment variables used to configure the mediator
const EnvPrefix = "A1_"

// Config holds all configuration for the a1-mediator
type Config struct {
	Mediator Mediator `koanf:"mediator"`
}

// Mediator holds the main configuration sections for the mediator
type Mediator struct {
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	Bus     BusConfig     `koanf:"bus"`
	Delete  DeleteConfig  `koanf:"delete"`
	EI      EIConfig      `koanf:"ei"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig holds HTTP server related configuration
type ServerConfig struct {
	APIPort int `koanf:"api_port"`
}

// StorageConfig holds storage-related configuration
type StorageConfig struct {
	Type       string       `koanf:"type"`         // "redis", "sqlite", or "memory"
	UseFakeSDL bool         `koanf:"use_fake_sdl"` // legacy switch; forces the memory backend
	Redis      RedisConfig  `koanf:"redis"`
	SQLite     SQLiteConfig `koanf:"sqlite"`
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	Addr string `koanf:"addr"`
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// BusConfig holds message bus related configuration
type BusConfig struct {
	Port       int `koanf:"port"`
	RetryTimes int `koanf:"retry_times"` // per-send retry budget within one tick
}

// DeleteConfig holds the instance delete grace windows, in seconds
type DeleteConfig struct {
	NoRespTTLSeconds int `koanf:"no_resp_ttl"` // grace when no handler has acked
	RespTTLSeconds   int `koanf:"resp_ttl"`    // grace when at least one handler acked
}

// EIConfig holds enrichment information coordinator configuration
type EIConfig struct {
	CoordinatorURL string `koanf:"coordinator_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `koanf:"level"`  // "debug", "info", "warn", "error"
	Format string `koanf:"format"` // "json" (default) or "text"
}

// LoadConfig loads configuration from file, environment variables, and defaults.
// Priority: Environment variables > Config file > Defaults.
// The configPath may be empty; the legacy deployment configures the mediator
// through environment variables only.
func LoadConfig(configPath string) (*Config, error) {
	cfg := defaultConfig()

	k := koanf.New(".")

	// Load config file if path is provided
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Load environment variables with prefix
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(s)

		// Custom mapping for the legacy retry variable (A1_RMR_RETRY_TIMES)
		if s == "rmr_retry_times" {
			return "mediator.bus.retry_times"
		}

		// For other A1_ prefixed vars, use standard mapping (underscore to dot)
		// Step 1: Convert double underscore "__" into a temporary placeholder
		s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
		// Step 2: Convert single "_" into "."
		s = strings.ReplaceAll(s, "_", ".")
		// Step 3: Convert placeholder back into literal "_"
		s = strings.ReplaceAll(s, "%UNDERSCORE%", "_")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Load the legacy flat environment variables carried over from earlier
	// deployments. The callback maps exactly these names and skips the rest.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		switch s {
		case "INSTANCE_DELETE_NO_RESP_TTL":
			return "mediator.delete.no_resp_ttl"
		case "INSTANCE_DELETE_RESP_TTL":
			return "mediator.delete.resp_ttl"
		case "USE_FAKE_SDL":
			return "mediator.storage.use_fake_sdl"
		case "ECS_SERVICE_HOST":
			return "mediator.ei.coordinator_url"
		default:
			return ""
		}
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Unmarshal into Config struct
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Mediator.Storage.UseFakeSDL {
		cfg.Mediator.Storage.Type = "memory"
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config struct with default configuration values
func defaultConfig() *Config {
	return &Config{
		Mediator: Mediator{
			Server: ServerConfig{
				APIPort: 10000,
			},
			Storage: StorageConfig{
				Type: "redis",
				Redis: RedisConfig{
					Addr: "dbaas:6379",
				},
				SQLite: SQLiteConfig{
					Path: "./data/a1.db",
				},
			},
			Bus: BusConfig{
				Port:       4562,
				RetryTimes: 4,
			},
			Delete: DeleteConfig{
				NoRespTTLSeconds: 5,
				RespTTLSeconds:   5,
			},
			EI: EIConfig{
				CoordinatorURL: "http://ecs-service:8083",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate storage type
	validStorageTypes := []string{"redis", "sqlite", "memory"}
	isValidType := false
	for _, t := range validStorageTypes {
		if c.Mediator.Storage.Type == t {
			isValidType = true
			break
		}
	}
	if !isValidType {
		return fmt.Errorf("storage.type must be one of: redis, sqlite, memory, got: %s", c.Mediator.Storage.Type)
	}

	if c.Mediator.Storage.Type == "redis" && c.Mediator.Storage.Redis.Addr == "" {
		return fmt.Errorf("storage.redis.addr is required when storage.type is 'redis'")
	}

	if c.Mediator.Storage.Type == "sqlite" && c.Mediator.Storage.SQLite.Path == "" {
		return fmt.Errorf("storage.sqlite.path is required when storage.type is 'sqlite'")
	}

	// Validate ports
	if c.Mediator.Server.APIPort < 1 || c.Mediator.Server.APIPort > 65535 {
		return fmt.Errorf("server.api_port must be between 1 and 65535, got: %d", c.Mediator.Server.APIPort)
	}

	if c.Mediator.Bus.Port < 1 || c.Mediator.Bus.Port > 65535 {
		return fmt.Errorf("bus.port must be between 1 and 65535, got: %d", c.Mediator.Bus.Port)
	}

	if c.Mediator.Bus.RetryTimes < 0 {
		return fmt.Errorf("bus.retry_times must not be negative, got: %d", c.Mediator.Bus.RetryTimes)
	}

	// Validate grace windows
	if c.Mediator.Delete.NoRespTTLSeconds <= 0 {
		return fmt.Errorf("delete.no_resp_ttl must be positive, got: %d", c.Mediator.Delete.NoRespTTLSeconds)
	}
	if c.Mediator.Delete.RespTTLSeconds <= 0 {
		return fmt.Errorf("delete.resp_ttl must be positive, got: %d", c.Mediator.Delete.RespTTLSeconds)
	}

	// Validate EI coordinator URL
	u, err := url.Parse(c.Mediator.EI.CoordinatorURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("ei.coordinator_url must be a valid URL with http or https scheme, got: %s", c.Mediator.EI.CoordinatorURL)
	}

	// Validate log level
	validLevels := []string{"debug", "info", "warn", "warning", "error"}
	isValidLevel := false
	for _, level := range validLevels {
		if strings.ToLower(c.Mediator.Logging.Level) == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error, got: %s", c.Mediator.Logging.Level)
	}

	// Validate log format
	if c.Mediator.Logging.Format != "json" && c.Mediator.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be either 'json' or 'text', got: %s", c.Mediator.Logging.Format)
	}

	return nil
}
