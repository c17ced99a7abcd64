package mongodb

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudresty/emit"
	"github.com/cloudresty/mongocore/internal/emitlogger"
	"github.com/cloudresty/mongocore/metrics"
	"github.com/cloudresty/mongocore/mongocoreerr"
	"github.com/cloudresty/mongocore/pool"
	"github.com/cloudresty/mongocore/resolver"
	"github.com/cloudresty/mongocore/sdam"
	"github.com/cloudresty/mongocore/selector"
	"github.com/cloudresty/mongocore/topology"
	"github.com/cloudresty/mongocore/transport"
	"github.com/cloudresty/mongocore/uri"
	"github.com/cloudresty/mongocore/wire"
)

// defaultEventSink logs SDAM events through emit when the caller does not
// supply its own sdam.Sink via WithEventSink.
var defaultEventSink sdam.Sink = emitlogger.EventSink{}

// Client is a connected MongoDB deployment view: a monitored Topology
// sitting on top of a bounded per-server connection Pool. It intentionally
// stops at connection acquisition — building and executing wire commands
// over a checked-out connection is left to a higher-level driver.
type Client struct {
	config *Config
	logger Logger

	topo *topology.Topology
	pool *pool.Pool
	metr *metrics.Registry

	mutex        sync.RWMutex
	isConnected  bool
	connectedAt  time.Time
	healthTicker *time.Ticker
	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// Config holds the tuneables for a Client, bindable from environment
// variables via FromEnv/FromEnvWithPrefix or set directly/through Option
// functions. Component-wise it mirrors the URI's tuneables plus the
// ambient pool/logging/health-check concerns a deployed service needs.
type Config struct {
	// Connection settings
	Hosts        string `env:"MONGODB_HOSTS,default=localhost:27017" validate:"required"`
	Username     string `env:"MONGODB_USERNAME"`
	Password     string `env:"MONGODB_PASSWORD"`
	Database     string `env:"MONGODB_DATABASE,default=app"`
	AuthDatabase string `env:"MONGODB_AUTH_DATABASE,default=admin"`
	ReplicaSet   string `env:"MONGODB_REPLICA_SET"`

	// Pool sizing
	MaxPoolSize uint64 `env:"MONGODB_MAX_POOL_SIZE,default=100"`
	MinPoolSize uint64 `env:"MONGODB_MIN_POOL_SIZE,default=5"`

	// Timeouts
	ConnectTimeout       time.Duration `env:"MONGODB_CONNECT_TIMEOUT,default=10s"`
	ServerSelectTimeout  time.Duration `env:"MONGODB_SERVER_SELECT_TIMEOUT,default=5s"`
	SocketTimeout        time.Duration `env:"MONGODB_SOCKET_TIMEOUT,default=10s"`
	HeartbeatFrequency   time.Duration `env:"MONGODB_HEARTBEAT_FREQUENCY,default=10s"`
	LocalThresholdMS     int64         `env:"MONGODB_LOCAL_THRESHOLD_MS,default=15"`

	// Health checking
	HealthCheckEnabled  bool          `env:"MONGODB_HEALTH_CHECK_ENABLED,default=true"`
	HealthCheckInterval time.Duration `env:"MONGODB_HEALTH_CHECK_INTERVAL,default=30s"`

	// Compression (wire package)
	CompressionEnabled   bool   `env:"MONGODB_COMPRESSION_ENABLED,default=true"`
	CompressionAlgorithm string `env:"MONGODB_COMPRESSION_ALGORITHM,default=snappy" validate:"omitempty,oneof=snappy zlib zstd"`

	ReadPreference string `env:"MONGODB_READ_PREFERENCE,default=primary" validate:"omitempty,oneof=primary primaryPreferred secondary secondaryPreferred nearest"`
	WriteConcern   string `env:"MONGODB_WRITE_CONCERN,default=majority"`
	ReadConcern    string `env:"MONGODB_READ_CONCERN,default=local"`

	DirectConnection bool `env:"MONGODB_DIRECT_CONNECTION,default=false"`
	LoadBalanced     bool `env:"MONGODB_LOAD_BALANCED,default=false"`

	AppName        string `env:"MONGODB_APP_NAME,default=go-mongodb-app"`
	ConnectionName string `env:"MONGODB_CONNECTION_NAME"`

	// TLS is not environment-bindable (no sensible string encoding for
	// crypto/tls.Config); set it via WithTLS/WithTLSConfig.
	TLSEnabled bool
	TLSConfig  *tls.Config

	// EventSink receives SDAM events (heartbeats, topology changes); set via
	// WithEventSink. Defaults to emitlogger.EventSink, which logs through
	// the same emit library used for the client's own lifecycle messages.
	EventSink sdam.Sink

	Logger Logger

	LogLevel  string `env:"MONGODB_LOG_LEVEL,default=info" validate:"omitempty,oneof=debug info warn error"`
	LogFormat string `env:"MONGODB_LOG_FORMAT,default=json" validate:"omitempty,oneof=json text"`
}

// BuildConnectionURI constructs a MongoDB connection URI from the
// component fields above, in the priority order: code defaults, then env
// vars, then explicit Option overrides (whichever ran last wins).
func (c *Config) BuildConnectionURI() string {
	u := "mongodb://"

	if c.Username != "" {
		u += c.Username
		if c.Password != "" {
			u += ":" + c.Password
		}
		u += "@"
	}

	u += c.Hosts

	if c.Database != "" {
		u += "/" + c.Database
	}

	var params []string
	if c.Username != "" && c.AuthDatabase != "" {
		params = append(params, "authSource="+c.AuthDatabase)
	}
	if c.ReplicaSet != "" {
		params = append(params, "replicaSet="+c.ReplicaSet)
	}
	if c.AppName != "" {
		params = append(params, "appName="+c.AppName)
	}
	if c.CompressionEnabled && c.CompressionAlgorithm != "" {
		params = append(params, "compressors="+c.CompressionAlgorithm)
	}
	if c.ReadPreference != "" && c.ReadPreference != "primary" {
		params = append(params, "readPreference="+c.ReadPreference)
	}
	if c.DirectConnection {
		params = append(params, "directConnection=true")
	}
	if c.LoadBalanced {
		params = append(params, "loadBalanced=true")
	}
	if c.ConnectTimeout > 0 {
		params = append(params, fmt.Sprintf("connectTimeoutMS=%d", c.ConnectTimeout.Milliseconds()))
	}
	if c.ServerSelectTimeout > 0 {
		params = append(params, fmt.Sprintf("serverSelectionTimeoutMS=%d", c.ServerSelectTimeout.Milliseconds()))
	}
	if c.SocketTimeout > 0 {
		params = append(params, fmt.Sprintf("socketimeoutMS=%d", c.SocketTimeout.Milliseconds()))
	}
	if c.HeartbeatFrequency > 0 {
		params = append(params, fmt.Sprintf("heartbeatFrequencyMS=%d", c.HeartbeatFrequency.Milliseconds()))
	}
	if c.LocalThresholdMS > 0 {
		params = append(params, fmt.Sprintf("localThresholdMS=%d", c.LocalThresholdMS))
	}
	if c.MaxPoolSize > 0 {
		params = append(params, fmt.Sprintf("maxPoolSize=%d", c.MaxPoolSize))
	}
	if c.MinPoolSize > 0 {
		params = append(params, fmt.Sprintf("minPoolSize=%d", c.MinPoolSize))
	}
	if c.TLSEnabled {
		params = append(params, "tls=true")
	}

	if len(params) > 0 {
		u += "?" + strings.Join(params, "&")
	}
	return u
}

// NewClient creates a new MongoDB client using the functional options
// pattern, defaulting every field that FromEnv would otherwise supply.
func NewClient(opts ...Option) (*Client, error) {
	config := &Config{
		Hosts:                "localhost:27017",
		Database:             "app",
		AuthDatabase:         "admin",
		MaxPoolSize:          100,
		MinPoolSize:          5,
		ConnectTimeout:       10 * time.Second,
		ServerSelectTimeout:  5 * time.Second,
		SocketTimeout:        10 * time.Second,
		HeartbeatFrequency:   10 * time.Second,
		LocalThresholdMS:     15,
		HealthCheckEnabled:   true,
		HealthCheckInterval:  30 * time.Second,
		CompressionEnabled:   true,
		CompressionAlgorithm: "snappy",
		ReadPreference:       "primary",
		WriteConcern:         "majority",
		ReadConcern:          "local",
		AppName:              "go-mongodb-app",
		LogLevel:             "info",
		LogFormat:            "json",
	}

	for _, opt := range opts {
		opt(config)
	}

	return NewClientWithConfig(config)
}

// NewClientFromEnv creates a new MongoDB client using environment variables.
func NewClientFromEnv() (*Client, error) {
	return NewClient(FromEnv())
}

// NewClientWithPrefix creates a new MongoDB client using environment
// variables bound under a custom prefix.
func NewClientWithPrefix(prefix string) (*Client, error) {
	return NewClient(WithEnvPrefix(prefix))
}

// NewClientWithConfig creates a new MongoDB client with the provided
// configuration, connecting and starting SDAM monitoring immediately.
func NewClientWithConfig(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if config.Logger == nil {
		config.Logger = NopLogger{}
	}

	emit.Info.StructuredFields("Creating new MongoDB client",
		emit.ZString("hosts", config.Hosts),
		emit.ZString("database", config.Database),
		emit.ZString("app_name", config.AppName))

	client := &Client{
		config:       config,
		logger:       config.Logger,
		shutdownChan: make(chan struct{}),
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if config.HealthCheckEnabled {
		client.startHealthCheck()
	}

	emit.Info.StructuredFields("MongoDB client initialized successfully",
		emit.ZString("hosts", config.Hosts),
		emit.ZString("database", config.Database),
		emit.ZString("app_name", config.AppName))

	return client, nil
}

// connect parses the configured URI and wires up the Topology (SDAM) and
// Pool (bounded connection queue) components.
func (c *Client) connect() error {
	c.mutex.Lock()

	parsed, err := uri.Parse(c.config.BuildConnectionURI())
	if err != nil {
		c.mutex.Unlock()
		return fmt.Errorf("invalid connection uri: %w", err)
	}
	for _, w := range parsed.Warnings {
		emit.Warn.StructuredFields("mongodb uri warning", emit.ZString("warning", w))
	}

	tlsCfg := c.config.TLSConfig
	if tlsCfg == nil {
		if tlsOn, _ := parsed.Bool("tls"); tlsOn || c.config.TLSEnabled {
			tlsCfg = &tls.Config{}
		}
	}

	var compressor wire.Compressor
	if algos, ok := parsed.Options["compressors"].(string); ok && algos != "" {
		first := strings.SplitN(algos, ",", 2)[0]
		if comp, known := wire.ByName(first); known {
			compressor = comp
		}
	}

	c.metr = metrics.New()

	dial := func(ctx context.Context, addr string) (transport.Stream, error) {
		return transport.Dial(ctx, addr, transport.Options{
			ConnectTimeout: c.config.ConnectTimeout,
			TLS:            tlsCfg,
		})
	}

	poolCfg := pool.Config{
		MinPoolSize: int(c.config.MinPoolSize),
		MaxPoolSize: int(c.config.MaxPoolSize),
	}
	c.pool = pool.New(poolCfg, dial, c.metr)

	seeds := make([]string, 0, len(parsed.Hosts))
	for _, h := range parsed.Hosts {
		seeds = append(seeds, h.String())
	}

	directConnection := c.config.DirectConnection
	if v, ok := parsed.Bool("directconnection"); ok {
		directConnection = v
	}
	loadBalanced := c.config.LoadBalanced
	if v, ok := parsed.Bool("loadbalanced"); ok {
		loadBalanced = v
	}

	var srvCfg *topology.SRVConfig
	if parsed.Scheme == uri.SchemeMongoDBSRV && len(parsed.Hosts) == 1 {
		srvCfg = &topology.SRVConfig{
			Host:     parsed.Hosts[0].Name,
			Service:  parsed.SRVServiceName,
			Resolver: resolver.New(),
			MaxHosts: int(parsed.SRVMaxHosts),
		}
	}

	sink := c.config.EventSink
	if sink == nil {
		sink = defaultEventSink
	}

	topoCfg := topology.Config{
		Seeds:                  seeds,
		SetName:                parsed.ReplicaSet(),
		DirectConnection:       directConnection,
		LoadBalanced:           loadBalanced,
		HeartbeatFrequency:     c.config.HeartbeatFrequency,
		MinHeartbeatFrequency:  500 * time.Millisecond,
		ConnectTimeout:         c.config.ConnectTimeout,
		ServerSelectionTimeout: c.config.ServerSelectTimeout,
		LocalThresholdMS:       parsed.Int64WithDefault("localthresholdms", c.config.LocalThresholdMS),
		AppName:                c.config.AppName,
		TLS:                    tlsCfg,
		Compressor:             compressor,
		SRV:                    srvCfg,
		Events:                 sink,
		Metrics:                c.metr,
		BumpGeneration:         c.pool.BumpGeneration,
	}

	c.topo = topology.New(context.Background(), topoCfg)
	c.isConnected = true
	c.connectedAt = time.Now()
	c.mutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
	defer cancel()
	if err := c.ping(ctx); err != nil {
		emit.Warn.StructuredFields("initial server selection did not complete within connect timeout",
			emit.ZString("error", err.Error()))
	}

	return nil
}

// Ping verifies a server is currently selectable, i.e. that server
// discovery has produced at least one eligible server for a
// primaryPreferred read. Sending an actual hello/ping wire command over
// the selected connection is left to a higher-level driver built on top
// of Checkout.
func (c *Client) Ping(ctx context.Context) error {
	return c.ping(ctx)
}

func (c *Client) ping(ctx context.Context) error {
	c.mutex.RLock()
	topo := c.topo
	c.mutex.RUnlock()
	if topo == nil {
		return mongocoreerr.New(mongocoreerr.KindShutdown, "client is not connected")
	}
	_, err := topo.SelectServer(ctx, selector.Params{
		Op:               selector.Read,
		ReadPreference:   uri.ReadPreference{Mode: uri.PrimaryPreferred},
		LocalThresholdMS: c.config.LocalThresholdMS,
	})
	return err
}

// SelectServer runs server selection against the live
// topology for the given operation type and read preference.
func (c *Client) SelectServer(ctx context.Context, params selector.Params) (string, error) {
	c.mutex.RLock()
	topo := c.topo
	c.mutex.RUnlock()
	if topo == nil {
		return "", mongocoreerr.New(mongocoreerr.KindShutdown, "client is not connected")
	}
	srv, err := topo.SelectServer(ctx, params)
	if err != nil {
		return "", err
	}
	return srv.Address, nil
}

// Checkout selects a server for params and pops a pooled connection handle
// to it, the hand-off point where a
// higher-level driver would take over to build and send a wire command.
func (c *Client) Checkout(ctx context.Context, params selector.Params) (*pool.Handle, error) {
	addr, err := c.SelectServer(ctx, params)
	if err != nil {
		return nil, err
	}
	return c.pool.Pop(ctx, addr)
}

// Return releases a handle obtained from Checkout back to the pool.
func (c *Client) Return(h *pool.Handle) {
	c.pool.Push(h)
}

// InvalidateServer marks addr Unknown and bumps its connection generation,
// the path an application-level driver calls after observing a network
// error on a checked-out connection.
func (c *Client) InvalidateServer(addr string, cause error) {
	c.mutex.RLock()
	topo := c.topo
	c.mutex.RUnlock()
	if topo != nil {
		topo.InvalidateServer(addr, cause)
	}
}

// Metrics returns a snapshot of the client's counters.
func (c *Client) Metrics() map[metrics.Counter]int64 {
	return c.metr.Snapshot()
}

// HealthStatus represents the health status of a MongoDB connection.
type HealthStatus struct {
	IsHealthy bool          `json:"is_healthy"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
}

// CheckHealth runs Ping and reports the outcome as a HealthStatus.
func (c *Client) CheckHealth(ctx context.Context) HealthStatus {
	start := time.Now()
	err := c.ping(ctx)
	status := HealthStatus{IsHealthy: err == nil, Latency: time.Since(start), CheckedAt: time.Now()}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

func (c *Client) startHealthCheck() {
	c.healthTicker = time.NewTicker(c.config.HealthCheckInterval)
	go func() {
		for {
			select {
			case <-c.shutdownChan:
				return
			case <-c.healthTicker.C:
				ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
				status := c.CheckHealth(ctx)
				cancel()
				if !status.IsHealthy {
					emit.Warn.StructuredFields("MongoDB health check failed",
						emit.ZString("error", status.Error),
						emit.ZDuration("latency", status.Latency))
				}
			}
		}
	}()
}

// IsConnected reports whether the client completed its initial connect.
func (c *Client) IsConnected() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.isConnected
}

// Close stops SDAM monitoring, closes every pooled connection, and is
// idempotent/safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.shutdownOnce.Do(func() {
		close(c.shutdownChan)

		c.mutex.Lock()
		defer c.mutex.Unlock()

		if c.healthTicker != nil {
			c.healthTicker.Stop()
		}
		if c.pool != nil {
			c.pool.Close()
		}
		if c.topo != nil {
			err = c.topo.Close()
		}
		c.isConnected = false

		emit.Info.Msg("MongoDB client closed")
	})
	return err
}
