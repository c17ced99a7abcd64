// Package mongodb provides environment-first connection management for
// MongoDB deployments: URI parsing, SDAM topology discovery, per-server
// monitoring, server selection, and a bounded connection pool. It stops at
// connection acquisition — query/command construction, cursor iteration,
// authentication handshakes, and TLS stream internals are left to a
// higher-level driver built on top of Client.Checkout.
//
// Key features:
//   - Environment-first configuration using cloudresty/go-env
//   - SDAM-driven server discovery and monitoring with pluggable event sinks
//   - Zero-allocation logging with cloudresty/emit
//   - Production-ready features (graceful shutdown, health checks, metrics)
//   - Built-in connection pooling and wire compression
//
// Environment Variables:
//   - MONGODB_HOSTS: MongoDB server hosts (default: localhost:27017)
//   - MONGODB_USERNAME: Authentication username
//   - MONGODB_PASSWORD: Authentication password
//   - MONGODB_DATABASE: Database name (default: app)
//   - MONGODB_AUTH_DATABASE: Authentication database (default: admin)
//   - MONGODB_REPLICA_SET: Replica set name
//   - MONGODB_MAX_POOL_SIZE: Maximum connection pool size (default: 100)
//   - MONGODB_MIN_POOL_SIZE: Minimum connection pool size (default: 5)
//   - MONGODB_CONNECT_TIMEOUT: Connection timeout (default: 10s)
//   - MONGODB_HEALTH_CHECK_ENABLED: Enable health checks (default: true)
//   - MONGODB_COMPRESSION_ENABLED: Enable wire compression (default: true)
//   - MONGODB_READ_PREFERENCE: Read preference (default: primary)
//   - MONGODB_DIRECT_CONNECTION: Enable direct connection mode (default: false)
//   - MONGODB_APP_NAME: Application name for connection metadata
//   - MONGODB_LOG_LEVEL: Logging level (default: info)
//
// Basic Usage:
//
//	package main
//
//	import (
//	    "context"
//	    "github.com/cloudresty/mongocore"
//	)
//
//	func main() {
//	    client, err := mongodb.NewClient()
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer client.Close()
//
//	    if err := client.Ping(context.Background()); err != nil {
//	        panic(err)
//	    }
//	}
//
// Production Usage with Graceful Shutdown:
//
//	func main() {
//	    client, err := mongodb.NewClientWithPrefix("PAYMENTS_")
//	    if err != nil {
//	        panic(err)
//	    }
//
//	    shutdownManager := mongodb.NewShutdownManager(&mongodb.ShutdownConfig{
//	        Timeout: 30 * time.Second,
//	    })
//	    shutdownManager.SetupSignalHandler()
//	    shutdownManager.Register(client)
//
//	    // ... application logic ...
//
//	    shutdownManager.Wait() // Blocks until SIGINT/SIGTERM
//	}
package mongodb

import (
	"context"
	"fmt"
	"time"
)

// Version of the mongocore package.
const Version = "1.0.0"

// Connect creates a new MongoDB client using environment variables.
func Connect() (*Client, error) {
	return NewClientFromEnv()
}

// ConnectWithPrefix creates a new MongoDB client with a custom environment prefix.
func ConnectWithPrefix(prefix string) (*Client, error) {
	return NewClientWithPrefix(prefix)
}

// ConnectWithConfig creates a new MongoDB client with the provided configuration.
func ConnectWithConfig(config *Config) (*Client, error) {
	return NewClientWithConfig(config)
}

// Quick creates a MongoDB connection for simple use cases: scripts and
// short-lived tools that don't need health-check polling.
func Quick(database ...string) (*Client, error) {
	config, err := loadConfigFromEnv("")
	if err != nil {
		return nil, fmt.Errorf("failed to load config for quick connection: %w", err)
	}

	if len(database) > 0 {
		config.Database = database[0]
	}

	config.HealthCheckEnabled = false

	return NewClientWithConfig(config)
}

// MustConnect creates a new MongoDB client or panics on error. Use this
// only in main functions or initialization code where panicking is
// acceptable.
func MustConnect() *Client {
	client, err := NewClient()
	if err != nil {
		panic(err)
	}
	return client
}

// MustConnectWithPrefix creates a new MongoDB client with prefix or panics on error.
func MustConnectWithPrefix(prefix string) *Client {
	client, err := NewClientWithPrefix(prefix)
	if err != nil {
		panic(err)
	}
	return client
}

// Ping tests connectivity to MongoDB using default configuration: it opens
// a short-lived client, runs server selection, and closes the client again.
func Ping(ctx ...context.Context) error {
	client, err := Quick()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	var pingCtx context.Context
	if len(ctx) > 0 {
		pingCtx = ctx[0]
	} else {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	return client.Ping(pingCtx)
}
