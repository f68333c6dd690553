package relay

import "time"

const (
	defaultLabel    = "Server"
	defaultCapacity = 128
)

// Config holds per-session relay parameters.
type Config struct {
	// Label identifies the relaying party; outbound messages are tagged with
	// it. Empty disables tagging.
	Label string `json:"label,omitempty" toml:"label"`

	// Capacity bounds the queue between reader and writer.
	Capacity int `json:"capacity,omitempty" toml:"capacity"`

	// IdleTimeout closes a session that has received nothing for this long.
	// Zero disables it.
	IdleTimeout time.Duration `json:"idle_timeout,omitempty" toml:"idle_timeout"`

	// MaxLifetime closes a session this long after it started. Zero
	// disables it.
	MaxLifetime time.Duration `json:"max_lifetime,omitempty" toml:"max_lifetime"`
}

// DefaultConfig returns the relay defaults: label "Server", capacity 128,
// no timeouts.
func DefaultConfig() Config {
	return Config{
		Label:    defaultLabel,
		Capacity: defaultCapacity,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Label != "" {
		c.Label = source.Label
	}
	if source.Capacity > 0 {
		c.Capacity = source.Capacity
	}
	if source.IdleTimeout > 0 {
		c.IdleTimeout = source.IdleTimeout
	}
	if source.MaxLifetime > 0 {
		c.MaxLifetime = source.MaxLifetime
	}
}

func (c *Config) transform() Transform {
	if c.Label == "" {
		return PassThrough
	}
	return Tag(c.Label)
}
