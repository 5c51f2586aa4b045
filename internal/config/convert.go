package config

import (
	"time"

	"github.com/KilimcininKorOglu/cruise/internal/logging"
	"github.com/KilimcininKorOglu/cruise/internal/raft"
)

// NodeSettings returns the settings for raft.NewNode.
func (c *Config) NodeSettings() *raft.NodeConfig {
	r := c.Raft
	return &raft.NodeConfig{
		ID:                c.Node.ID,
		Addr:              c.Node.Address,
		Peers:             append([]string(nil), c.Cluster.Peers...),
		HeartbeatInterval: time.Duration(r.HeartbeatInterval),
		ElectionTimeout:   time.Duration(r.ElectionTimeout),
		ElectionJitterMin: time.Duration(r.ElectionJitterMin),
		ElectionJitterMax: time.Duration(r.ElectionJitterMax),
		QuorumTimeout:     time.Duration(r.QuorumTimeout),
		RetryDelay:        time.Duration(r.RetryDelay),
		RPCTimeout:        time.Duration(r.RPCTimeout),
		MaxAppendEntries:  r.MaxAppendEntries,
		MaxLogEntries:     r.MaxLogEntries,
		PersistHardState:  r.PersistHardState,
	}
}

// LoggerSettings returns the logging.Config for this configuration.
func (c *Config) LoggerSettings() logging.Config {
	l := c.Logging
	return logging.Config{
		Level:      l.Level,
		Format:     l.Format,
		Output:     l.Output,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}
