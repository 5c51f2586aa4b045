package raft

import "errors"

// Raft errors.
var (
	// ErrLeaderUnknown is returned by Submit when its context ends while no
	// leader is known. It wraps the context error.
	ErrLeaderUnknown = errors.New("raft: leader unknown")

	// ErrNodeStopped is returned when an operation is attempted on a stopped node.
	ErrNodeStopped = errors.New("raft: node stopped")

	// ErrRecordRejected is returned when the leader did not acknowledge a forwarded record.
	ErrRecordRejected = errors.New("raft: record rejected")

	// ErrLogCorrupted is returned when encoded log or RPC data is malformed.
	ErrLogCorrupted = errors.New("raft: log corrupted")

	// ErrTransportClosed is returned when the transport is closed.
	ErrTransportClosed = errors.New("raft: transport closed")

	// ErrConnectFailed is returned when a connection to a peer fails.
	ErrConnectFailed = errors.New("raft: connection failed")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("raft: operation timeout")

	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("raft: invalid configuration")
)
