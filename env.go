package mongodb

import (
	"fmt"

	"github.com/cloudresty/go-env"
	"github.com/go-playground/validator/v10"
)

var configValidator = validator.New()

// loadConfigFromEnv loads MongoDB configuration from environment variables.
func loadConfigFromEnv(prefix string) (*Config, error) {
	config := &Config{}

	bindOptions := env.DefaultBindingOptions()
	if prefix != "" {
		bindOptions.Prefix = prefix
	}

	if err := env.Bind(config, bindOptions); err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	if config.Logger == nil {
		config.Logger = NopLogger{}
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the MongoDB configuration's enum-valued fields
// using struct tags, the same validate-tag convention the nabbar-golib
// config packages use throughout the retrieved example pack.
func validateConfig(config *Config) error {
	if err := configValidator.Struct(config); err != nil {
		return err
	}
	return nil
}

// Environment variable names, exported for callers that want to read or
// override them directly rather than go through Config/Option.
const (
	EnvMongoDBHosts                = "MONGODB_HOSTS"
	EnvMongoDBUsername             = "MONGODB_USERNAME"
	EnvMongoDBPassword             = "MONGODB_PASSWORD"
	EnvMongoDBDatabase             = "MONGODB_DATABASE"
	EnvMongoDBAuthDatabase         = "MONGODB_AUTH_DATABASE"
	EnvMongoDBReplicaSet           = "MONGODB_REPLICA_SET"
	EnvMongoDBMaxPoolSize          = "MONGODB_MAX_POOL_SIZE"
	EnvMongoDBMinPoolSize          = "MONGODB_MIN_POOL_SIZE"
	EnvMongoDBConnectTimeout       = "MONGODB_CONNECT_TIMEOUT"
	EnvMongoDBServerSelectTimeout  = "MONGODB_SERVER_SELECT_TIMEOUT"
	EnvMongoDBSocketTimeout        = "MONGODB_SOCKET_TIMEOUT"
	EnvMongoDBHeartbeatFrequency   = "MONGODB_HEARTBEAT_FREQUENCY"
	EnvMongoDBLocalThresholdMS     = "MONGODB_LOCAL_THRESHOLD_MS"
	EnvMongoDBHealthCheckEnabled   = "MONGODB_HEALTH_CHECK_ENABLED"
	EnvMongoDBHealthCheckInterval  = "MONGODB_HEALTH_CHECK_INTERVAL"
	EnvMongoDBCompressionEnabled   = "MONGODB_COMPRESSION_ENABLED"
	EnvMongoDBCompressionAlgorithm = "MONGODB_COMPRESSION_ALGORITHM"
	EnvMongoDBReadPreference       = "MONGODB_READ_PREFERENCE"
	EnvMongoDBWriteConcern         = "MONGODB_WRITE_CONCERN"
	EnvMongoDBReadConcern          = "MONGODB_READ_CONCERN"
	EnvMongoDBDirectConnection     = "MONGODB_DIRECT_CONNECTION"
	EnvMongoDBLoadBalanced         = "MONGODB_LOAD_BALANCED"
	EnvMongoDBAppName              = "MONGODB_APP_NAME"
	EnvMongoDBConnectionName       = "MONGODB_CONNECTION_NAME"
	EnvMongoDBLogLevel             = "MONGODB_LOG_LEVEL"
	EnvMongoDBLogFormat            = "MONGODB_LOG_FORMAT"
)
