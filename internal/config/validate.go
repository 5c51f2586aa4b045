package config

import (
	"fmt"
	"time"

	"github.com/KilimcininKorOglu/cruise/internal/raft"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig validates the configuration and returns a list of validation errors.
// An empty slice indicates the configuration is valid.
func ValidateConfig(config *Config) []error {
	var errs []error

	errs = append(errs, validateNodeConfig(&config.Node)...)
	errs = append(errs, validateClusterConfig(&config.Cluster)...)
	errs = append(errs, validateRaftConfig(&config.Raft)...)
	errs = append(errs, validateLogConfig(&config.Logging)...)

	return errs
}

func validateNodeConfig(config *NodeConfig) []error {
	var errs []error

	if config.Address == "" {
		errs = append(errs, ValidationError{
			Field:   "node.address",
			Message: "address is required",
		})
	} else if _, err := raft.NormalizeAddr(config.Address); err != nil {
		errs = append(errs, ValidationError{
			Field:   "node.address",
			Message: err.Error(),
		})
	}

	return errs
}

func validateClusterConfig(config *ClusterConfig) []error {
	var errs []error

	for i, peer := range config.Peers {
		if _, err := raft.NormalizeAddr(peer); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("cluster.peers[%d]", i),
				Message: err.Error(),
			})
		}
	}

	return errs
}

func validateRaftConfig(config *RaftConfig) []error {
	var errs []error

	positive := []struct {
		field string
		value Duration
	}{
		{"raft.heartbeatInterval", config.HeartbeatInterval},
		{"raft.electionTimeout", config.ElectionTimeout},
		{"raft.electionJitterMin", config.ElectionJitterMin},
		{"raft.electionJitterMax", config.ElectionJitterMax},
		{"raft.quorumTimeout", config.QuorumTimeout},
		{"raft.retryDelay", config.RetryDelay},
		{"raft.rpcTimeout", config.RPCTimeout},
	}
	for _, p := range positive {
		if time.Duration(p.value) <= 0 {
			errs = append(errs, ValidationError{
				Field:   p.field,
				Message: "must be positive",
			})
		}
	}

	if config.HeartbeatInterval >= config.ElectionTimeout {
		errs = append(errs, ValidationError{
			Field:   "raft.heartbeatInterval",
			Message: "must be less than raft.electionTimeout",
		})
	}
	if config.ElectionJitterMin >= config.ElectionJitterMax {
		errs = append(errs, ValidationError{
			Field:   "raft.electionJitterMax",
			Message: "must be greater than raft.electionJitterMin",
		})
	}
	if config.MaxAppendEntries <= 0 {
		errs = append(errs, ValidationError{
			Field:   "raft.maxAppendEntries",
			Message: "must be positive",
		})
	}
	if config.MaxLogEntries < 0 {
		errs = append(errs, ValidationError{
			Field:   "raft.maxLogEntries",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateLogConfig(config *LogConfig) []error {
	var errs []error

	switch config.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", config.Level),
		})
	}

	switch config.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (must be text or json)", config.Format),
		})
	}

	if config.MaxSizeMB < 0 || config.MaxBackups < 0 || config.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging",
			Message: "rotation limits must not be negative",
		})
	}

	return errs
}
