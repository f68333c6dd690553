// Package config assembles the relay's settings from defaults, an optional
// config file and RELAY_* environment variables.
//
// Every setting has a dotted key (relay.capacity, server.addr, ...). The
// matching environment variable is the key upper-cased with dots replaced by
// underscores and prefixed with RELAY_, e.g. RELAY_SERVER_ADDR.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"github.com/tailored-agentic-units/relay/client"
	"github.com/tailored-agentic-units/relay/proxy"
	"github.com/tailored-agentic-units/relay/relay"
	"github.com/tailored-agentic-units/relay/server"
)

const envPrefix = "RELAY"

// Config holds the settings of every command.
type Config struct {
	Relay    relay.Config  `json:"relay" toml:"relay"`
	Server   server.Config `json:"server" toml:"server"`
	Client   client.Config `json:"client" toml:"client"`
	Proxy    proxy.Config  `json:"proxy" toml:"proxy"`
	Observer string        `json:"observer" toml:"observer"`
	LogLevel string        `json:"log_level" toml:"log_level"`
}

// DefaultConfig returns a Config with every section's defaults.
func DefaultConfig() Config {
	return Config{
		Relay:    relay.DefaultConfig(),
		Server:   server.DefaultConfig(),
		Client:   client.DefaultConfig(),
		Proxy:    proxy.DefaultConfig(),
		Observer: "slog",
		LogLevel: "info",
	}
}

// Merge applies non-zero values from source into c, delegating to each
// section's Merge method.
func (c *Config) Merge(source *Config) {
	c.Relay.Merge(&source.Relay)
	c.Server.Merge(&source.Server)
	c.Client.Merge(&source.Client)
	c.Proxy.Merge(&source.Proxy)

	if source.Observer != "" {
		c.Observer = source.Observer
	}
	if source.LogLevel != "" {
		c.LogLevel = source.LogLevel
	}
}

// setting binds a key to the field it populates.
type setting struct {
	key   string
	value func(*Config) any
}

var settings = []setting{
	{"relay.label", func(c *Config) any { return c.Relay.Label }},
	{"relay.capacity", func(c *Config) any { return c.Relay.Capacity }},
	{"relay.idle_timeout", func(c *Config) any { return c.Relay.IdleTimeout }},
	{"relay.max_lifetime", func(c *Config) any { return c.Relay.MaxLifetime }},

	{"server.addr", func(c *Config) any { return c.Server.Addr }},
	{"server.shutdown_timeout", func(c *Config) any { return c.Server.ShutdownTimeout }},

	{"client.addr", func(c *Config) any { return c.Client.Addr }},
	{"client.transport", func(c *Config) any { return c.Client.Transport }},
	{"client.protocol", func(c *Config) any { return c.Client.Protocol }},
	{"client.codec", func(c *Config) any { return c.Client.Codec }},
	{"client.max_retries", func(c *Config) any { return c.Client.MaxRetries }},
	{"client.max_retry_interval", func(c *Config) any { return c.Client.MaxRetryInterval }},
	{"client.sender", func(c *Config) any { return c.Client.Sender }},
	{"client.capacity", func(c *Config) any { return c.Client.Capacity }},
	{"client.prompt", func(c *Config) any { return c.Client.Prompt }},

	{"proxy.listen", func(c *Config) any { return c.Proxy.Listen }},
	{"proxy.upstream", func(c *Config) any { return c.Proxy.Upstream }},
	{"proxy.max_body_bytes", func(c *Config) any { return c.Proxy.MaxBodyBytes }},

	{"observer", func(c *Config) any { return c.Observer }},
	{"log_level", func(c *Config) any { return c.LogLevel }},
}

// LoadConfig reads settings from defaults, the file at path (skipped when
// path is empty) and the environment, in increasing precedence.
func LoadConfig(path string) (*Config, error) {
	return Load(viper.New(), path)
}

// Load is LoadConfig on a caller-supplied viper instance, so values set on
// v directly (e.g. bound flags) take precedence over everything else.
func Load(v *viper.Viper, path string) (*Config, error) {
	defaults := DefaultConfig()
	for _, s := range settings {
		v.SetDefault(s.key, s.value(&defaults))
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.ErrorUnused = false
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no command can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Relay.Capacity < 1 {
		errs = append(errs, fmt.Errorf("relay.capacity must be at least 1, got %d", c.Relay.Capacity))
	}
	if c.Relay.IdleTimeout < 0 || c.Relay.MaxLifetime < 0 {
		errs = append(errs, errors.New("relay timeouts must not be negative"))
	}
	if c.Client.Capacity < 1 {
		errs = append(errs, fmt.Errorf("client.capacity must be at least 1, got %d", c.Client.Capacity))
	}
	switch c.Client.Transport {
	case client.TransportRPC, client.TransportWS:
	default:
		errs = append(errs, fmt.Errorf("client.transport must be %q or %q, got %q", client.TransportRPC, client.TransportWS, c.Client.Transport))
	}
	return errors.Join(errs...)
}

// Encode writes c as a TOML document. Durations are written in
// time.Duration notation ("5s") so the output loads back unchanged.
func Encode(w io.Writer, c *Config) error {
	doc := make(map[string]any)
	for _, s := range settings {
		value := s.value(c)
		if d, ok := value.(time.Duration); ok {
			value = d.String()
		}

		section, key, nested := strings.Cut(s.key, ".")
		if !nested {
			doc[s.key] = value
			continue
		}
		table, ok := doc[section].(map[string]any)
		if !ok {
			table = make(map[string]any)
			doc[section] = table
		}
		table[key] = value
	}

	enc := toml.NewEncoder(w)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
