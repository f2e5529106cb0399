package sse

import (
	"slices"
	"time"
)

// Default configuration values.
const (
	DefaultEventBufferSize   = 256
	DefaultClientBufferSize  = 32
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultShutdownTimeout   = 5 * time.Second
	DefaultMaxClients        = 500
)

// Config holds broker configuration.
type Config struct {
	Enabled           bool          `yaml:"enabled"`
	EventBufferSize   int           `yaml:"event_buffer_size"`
	ClientBufferSize  int           `yaml:"client_buffer_size"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// MaxClients of 0 means unlimited.
	MaxClients int `yaml:"max_clients"`
}

// SetDefaults fills unset values. MaxClients keeps an explicit 0.
func (c *Config) SetDefaults() {
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = DefaultEventBufferSize
	}
	if c.ClientBufferSize <= 0 {
		c.ClientBufferSize = DefaultClientBufferSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
}

// BrokerOption configures a broker.
type BrokerOption func(*broker)

// WithConfig applies cfg to the broker.
func WithConfig(cfg Config) BrokerOption {
	return func(b *broker) {
		if cfg.EventBufferSize > 0 {
			b.eventBufferSize = cfg.EventBufferSize
		}
		if cfg.ClientBufferSize > 0 {
			b.clientBufferSize = cfg.ClientBufferSize
		}
		if cfg.HeartbeatInterval > 0 {
			b.heartbeatInterval = cfg.HeartbeatInterval
		}
		b.maxClients = cfg.MaxClients
	}
}

// WithMaxClients caps concurrent subscriptions. 0 means unlimited.
func WithMaxClients(maxClients int) BrokerOption {
	return func(b *broker) {
		b.maxClients = maxClients
	}
}

// WithHeartbeatInterval sets how often idle streams get a comment line.
func WithHeartbeatInterval(interval time.Duration) BrokerOption {
	return func(b *broker) {
		if interval > 0 {
			b.heartbeatInterval = interval
		}
	}
}

// ClientOption configures a subscription.
type ClientOption func(*ClientOptions)

// WithFilter sets an event filter for the client.
func WithFilter(filter EventFilter) ClientOption {
	return func(opts *ClientOptions) {
		opts.Filter = filter
	}
}

// WithBufferSize sets the client's event buffer size.
func WithBufferSize(size int) ClientOption {
	return func(opts *ClientOptions) {
		if size > 0 {
			opts.BufferSize = size
		}
	}
}

// WithEventTypes passes only the listed event types. No types passes all.
func WithEventTypes(types ...string) ClientOption {
	if len(types) == 0 {
		return func(*ClientOptions) {}
	}
	return WithFilter(func(event Event) bool {
		return slices.Contains(types, event.Type)
	})
}
