package mongodb

import (
	"crypto/tls"
	"time"

	"github.com/cloudresty/mongocore/sdam"
)

// Option represents a functional option for configuring the MongoDB client.
type Option func(*Config)

// WithHosts sets the MongoDB host addresses.
func WithHosts(hosts ...string) Option {
	return func(c *Config) {
		if len(hosts) == 0 {
			return
		}
		joined := hosts[0]
		for _, h := range hosts[1:] {
			joined += "," + h
		}
		c.Hosts = joined
	}
}

// WithCredentials sets the authentication credentials.
func WithCredentials(username, password string) Option {
	return func(c *Config) {
		c.Username = username
		c.Password = password
	}
}

// WithDatabase sets the default database name.
func WithDatabase(name string) Option {
	return func(c *Config) { c.Database = name }
}

// WithAppName sets the application name sent in the hello handshake's
// client metadata.
func WithAppName(name string) Option {
	return func(c *Config) { c.AppName = name }
}

// WithMaxPoolSize sets the maximum number of connections per server.
func WithMaxPoolSize(size int) Option {
	return func(c *Config) { c.MaxPoolSize = uint64(size) }
}

// WithMinPoolSize sets the number of idle connections per server that Push
// never trims below. The pool does not open connections ahead of demand to
// reach this number.
func WithMinPoolSize(size int) Option {
	return func(c *Config) { c.MinPoolSize = uint64(size) }
}

// WithHeartbeatFrequency sets how often each server monitor probes its
// server on the polling path.
func WithHeartbeatFrequency(d time.Duration) Option {
	return func(c *Config) { c.HeartbeatFrequency = d }
}

// WithLocalThreshold sets the server-selection latency window in
// milliseconds.
func WithLocalThreshold(ms int64) Option {
	return func(c *Config) { c.LocalThresholdMS = ms }
}

// WithTLS enables or disables TLS/SSL. When enabled without a custom
// TLSConfig, the client uses the system's default TLS configuration.
func WithTLS(enabled bool) Option {
	return func(c *Config) { c.TLSEnabled = enabled }
}

// WithTLSConfig sets a custom TLS configuration, taking precedence over
// WithTLS(true).
func WithTLSConfig(config *tls.Config) Option {
	return func(c *Config) {
		c.TLSConfig = config
		c.TLSEnabled = true
	}
}

// WithEventSink wires a custom SDAM event subscriber: the
// mongocore-native replacement for the real driver's event.CommandMonitor,
// since mongocore never builds or executes commands itself. Use this to
// forward heartbeat/topology-change events to APM tooling.
func WithEventSink(sink sdam.Sink) Option {
	return func(c *Config) { c.EventSink = sink }
}

// WithAuthSource sets the authentication database.
func WithAuthSource(source string) Option {
	return func(c *Config) { c.AuthDatabase = source }
}

// WithReplicaSet sets the replica set name.
func WithReplicaSet(name string) Option {
	return func(c *Config) { c.ReplicaSet = name }
}

// WithReadPreference sets the read preference mode.
func WithReadPreference(pref ReadPreference) Option {
	return func(c *Config) { c.ReadPreference = string(pref) }
}

// WithWriteConcern sets the write concern.
func WithWriteConcern(concern WriteConcern) Option {
	return func(c *Config) { c.WriteConcern = string(concern) }
}

// WithCompression enables or disables wire compression and selects the
// algorithm: "snappy", "zlib", or "zstd".
func WithCompression(enabled bool, algorithm string) Option {
	return func(c *Config) {
		c.CompressionEnabled = enabled
		if algorithm != "" {
			c.CompressionAlgorithm = algorithm
		}
	}
}

// WithTimeout sets the default socket timeout.
func WithTimeout(duration time.Duration) Option {
	return func(c *Config) { c.SocketTimeout = duration }
}

// WithConnectTimeout sets the connection timeout.
func WithConnectTimeout(duration time.Duration) Option {
	return func(c *Config) { c.ConnectTimeout = duration }
}

// WithServerSelectionTimeout sets the server selection timeout.
func WithServerSelectionTimeout(duration time.Duration) Option {
	return func(c *Config) { c.ServerSelectTimeout = duration }
}

// WithEnvPrefix loads configuration from environment variables bound under
// a custom prefix, overwriting any fields set by earlier options. Apply it
// first among options if combining with later overrides.
func WithEnvPrefix(prefix string) Option {
	return func(c *Config) {
		envConfig, err := loadConfigFromEnv(prefix)
		if err == nil {
			*c = *envConfig
		}
	}
}

// WithConnectionName sets a local identifier for this client instance,
// used only for application-level logging/metrics, never sent to MongoDB.
func WithConnectionName(name string) Option {
	return func(c *Config) { c.ConnectionName = name }
}

// WithDirectConnection enables or disables direct connection mode: connect
// to the sole seed as a Standalone without replica-set discovery.
func WithDirectConnection(enabled bool) Option {
	return func(c *Config) { c.DirectConnection = enabled }
}

// WithLoadBalanced enables load-balanced mode: exactly one seed, no monitor, selection always succeeds
// on that address.
func WithLoadBalanced(enabled bool) Option {
	return func(c *Config) { c.LoadBalanced = enabled }
}

// WithLogger sets a custom logger implementation for the client's own
// lifecycle messages. If not provided, the client uses a NopLogger.
func WithLogger(logger Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// ReadPreference represents MongoDB read preference mode strings.
type ReadPreference string

const (
	Primary            ReadPreference = "primary"
	PrimaryPreferred   ReadPreference = "primaryPreferred"
	Secondary          ReadPreference = "secondary"
	SecondaryPreferred ReadPreference = "secondaryPreferred"
	Nearest            ReadPreference = "nearest"
)

// WriteConcern represents MongoDB write concern option strings.
type WriteConcern string

const (
	WCMajority  WriteConcern = "majority"
	WCAcknowl   WriteConcern = "acknowledged"
	WCUnacknowl WriteConcern = "unacknowledged"
	WCJournaled WriteConcern = "journaled"
)

// FromEnv returns an option that loads configuration from environment
// variables.
func FromEnv() Option {
	return func(c *Config) {
		envConfig, err := loadConfigFromEnv("")
		if err == nil {
			*c = *envConfig
		}
	}
}

// FromEnvWithPrefix returns an option that loads configuration from
// environment variables bound under a custom prefix.
func FromEnvWithPrefix(prefix string) Option {
	return func(c *Config) {
		envConfig, err := loadConfigFromEnv(prefix)
		if err == nil {
			*c = *envConfig
		}
	}
}
