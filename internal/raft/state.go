package raft

import (
	"fmt"
	"time"
)

// State is the role a node currently plays.
type State uint8

// Node states.
const (
	StateFollower State = iota
	StateCandidate
	StateLeader
)

// String returns the string representation of a node state.
func (s State) String() string {
	switch s {
	case StateFollower:
		return "follower"
	case StateCandidate:
		return "candidate"
	case StateLeader:
		return "leader"
	default:
		return "unknown"
	}
}

// NodeConfig holds configuration for a Raft node.
type NodeConfig struct {
	ID    string   // Stable node ID, generated when empty
	Addr  string   // Listen address, also this node's identity on the wire
	Peers []string // Addresses of the other nodes

	HeartbeatInterval time.Duration // Leader heartbeat period
	ElectionTimeout   time.Duration // Heartbeat age after which a follower stands for election
	ElectionJitterMin time.Duration // Lower bound of the follower timer
	ElectionJitterMax time.Duration // Upper bound of the follower timer (exclusive)
	QuorumTimeout     time.Duration // Upper bound on a vote round
	RetryDelay        time.Duration // Delay before retrying a failed send or a leaderless submit
	RPCTimeout        time.Duration // Per-call deadline for peer requests

	MaxAppendEntries int  // Entries per AppendEntries request
	MaxLogEntries    int  // In-memory entries kept before pruning the committed prefix, 0 disables
	PersistHardState bool // Save term and vote through the HardStateStore
}

// DefaultNodeConfig returns default configuration.
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		HeartbeatInterval: 100 * time.Millisecond,
		ElectionTimeout:   500 * time.Millisecond,
		ElectionJitterMin: 150 * time.Millisecond,
		ElectionJitterMax: 300 * time.Millisecond,
		QuorumTimeout:     time.Second,
		RetryDelay:        20 * time.Millisecond,
		RPCTimeout:        2 * time.Second,
		MaxAppendEntries:  256,
		MaxLogEntries:     10000,
		PersistHardState:  true,
	}
}

// withDefaults returns a copy of c with zero values replaced by defaults.
func (c *NodeConfig) withDefaults() *NodeConfig {
	out := *c
	def := DefaultNodeConfig()
	if out.HeartbeatInterval == 0 {
		out.HeartbeatInterval = def.HeartbeatInterval
	}
	if out.ElectionTimeout == 0 {
		out.ElectionTimeout = def.ElectionTimeout
	}
	if out.ElectionJitterMin == 0 {
		out.ElectionJitterMin = def.ElectionJitterMin
	}
	if out.ElectionJitterMax == 0 {
		out.ElectionJitterMax = def.ElectionJitterMax
	}
	if out.QuorumTimeout == 0 {
		out.QuorumTimeout = def.QuorumTimeout
	}
	if out.RetryDelay == 0 {
		out.RetryDelay = def.RetryDelay
	}
	if out.RPCTimeout == 0 {
		out.RPCTimeout = def.RPCTimeout
	}
	if out.MaxAppendEntries == 0 {
		out.MaxAppendEntries = def.MaxAppendEntries
	}
	out.Peers = append([]string(nil), c.Peers...)
	return &out
}

// Validate checks if the configuration is valid.
func (c *NodeConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidConfig)
	}
	if c.HeartbeatInterval <= 0 || c.ElectionTimeout <= 0 {
		return fmt.Errorf("%w: heartbeat interval and election timeout must be positive", ErrInvalidConfig)
	}
	if c.HeartbeatInterval >= c.ElectionTimeout {
		return fmt.Errorf("%w: heartbeat interval must be below election timeout", ErrInvalidConfig)
	}
	if c.ElectionJitterMin <= 0 || c.ElectionJitterMax <= c.ElectionJitterMin {
		return fmt.Errorf("%w: election jitter window is empty", ErrInvalidConfig)
	}
	if c.QuorumTimeout <= 0 || c.RetryDelay <= 0 || c.RPCTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.MaxAppendEntries <= 0 {
		return fmt.Errorf("%w: maxAppendEntries must be positive", ErrInvalidConfig)
	}
	if c.MaxLogEntries < 0 {
		return fmt.Errorf("%w: maxLogEntries must not be negative", ErrInvalidConfig)
	}
	return nil
}

// HardState is the part of a node's state that must survive a restart for
// votes to stay safe.
type HardState struct {
	Term     uint64
	VotedFor string
}

// HardStateStore persists HardState. A Store that also implements it is
// used when PersistHardState is set.
type HardStateStore interface {
	LoadHardState() (HardState, error)
	SaveHardState(HardState) error
}

// Recoverer reports the last entry a Store has durably committed. A Store
// that implements it lets a restarted node resume from that point.
type Recoverer interface {
	LastCommitted() (index, term uint64, err error)
}
