// Package config provides configuration parsing and management for cruise nodes.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete node configuration.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Cluster ClusterConfig `yaml:"cluster"`
	Raft    RaftConfig    `yaml:"raft"`
	Store   StoreConfig   `yaml:"store"`
	Logging LogConfig     `yaml:"logging"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

// ClusterConfig lists the other members of the cluster.
type ClusterConfig struct {
	Peers []string `yaml:"peers"`
}

// RaftConfig holds consensus timings and limits.
type RaftConfig struct {
	HeartbeatInterval Duration `yaml:"heartbeatInterval"`
	ElectionTimeout   Duration `yaml:"electionTimeout"`
	ElectionJitterMin Duration `yaml:"electionJitterMin"`
	ElectionJitterMax Duration `yaml:"electionJitterMax"`
	QuorumTimeout     Duration `yaml:"quorumTimeout"`
	RetryDelay        Duration `yaml:"retryDelay"`
	RPCTimeout        Duration `yaml:"rpcTimeout"`
	MaxAppendEntries  int      `yaml:"maxAppendEntries"`
	MaxLogEntries     int      `yaml:"maxLogEntries"`
	PersistHardState  bool     `yaml:"persistHardState"`
}

// StoreConfig holds durable storage configuration. An empty DataDir keeps
// everything in memory.
type StoreConfig struct {
	DataDir string `yaml:"dataDir"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// Duration is a time.Duration written as a string such as "150ms" or "1d".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := parseDuration(s)
	if err != nil {
		return &ParseError{Line: node.Line, Value: s, Err: err}
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
