package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/joho/godotenv"
)

// Config is the complete server configuration.
type Config struct {
	Server   ServerSettings  `hcl:"server,block"`
	Database DatabaseConfig  `hcl:"database,block"`
	NATS     NATSConfig      `hcl:"nats,block"`
	Channels []ChannelConfig `hcl:"channel,block"`
}

// ServerSettings contains server-level configuration.
type ServerSettings struct {
	Address  string `hcl:"address,optional"`
	Port     int    `hcl:"port,optional"`
	LogLevel string `hcl:"log_level,optional"`
}

// DatabaseConfig names the postgres backend. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN string `hcl:"dsn,optional"`
}

// NATSConfig configures the messaging gateway. An empty URL disables it; the
// websocket hub still serves clients.
type NATSConfig struct {
	URL              string `hcl:"url,optional"`
	ReconnectSeconds int    `hcl:"reconnect_seconds,optional"`
}

// ChannelConfig pre-declares a game channel so its round loop starts with the
// server instead of on first client contact.
type ChannelConfig struct {
	ID string `hcl:"id,label"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerSettings{
			Address:  "0.0.0.0",
			Port:     8080,
			LogLevel: "info",
		},
		NATS: NATSConfig{
			ReconnectSeconds: 5,
		},
	}
}

// Load reads an HCL config file, fills defaults and applies environment
// overrides. A missing file yields the defaults.
func Load(filename string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(filename); err == nil {
		parser := hclparse.NewParser()
		file, diags := parser.ParseHCLFile(filename)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
		}
		var parsed Config
		if diags = gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
		}
		*cfg = parsed
		applyDefaults(cfg)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.Address == "" {
		cfg.Server.Address = def.Server.Address
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = def.Server.LogLevel
	}
	if cfg.NATS.ReconnectSeconds == 0 {
		cfg.NATS.ReconnectSeconds = def.NATS.ReconnectSeconds
	}
}

// applyEnv overlays environment variables, loading a .env file first when one
// exists. Environment wins over file values for secrets-adjacent settings.
func applyEnv(cfg *Config) {
	_ = godotenv.Load()

	if dsn := os.Getenv("ROULETTE_DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if url := os.Getenv("ROULETTE_NATS_URL"); url != "" {
		cfg.NATS.URL = url
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Server.LogLevel)
	}
	if c.NATS.ReconnectSeconds < 1 {
		return fmt.Errorf("invalid nats reconnect_seconds: %d", c.NATS.ReconnectSeconds)
	}
	seen := make(map[string]bool)
	for _, ch := range c.Channels {
		if ch.ID == "" {
			return fmt.Errorf("channel block requires a non-empty label")
		}
		// Channel ids become tokens in dot-separated message subjects.
		if strings.ContainsAny(ch.ID, ". *>") {
			return fmt.Errorf("channel %q: id must not contain '.', '*', '>' or spaces", ch.ID)
		}
		if seen[ch.ID] {
			return fmt.Errorf("duplicate channel %q", ch.ID)
		}
		seen[ch.ID] = true
	}
	return nil
}

// ListenAddr returns the address:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// ReconnectWait returns the NATS reconnect interval.
func (c *Config) ReconnectWait() time.Duration {
	return time.Duration(c.NATS.ReconnectSeconds) * time.Second
}
