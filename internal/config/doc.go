// Package config provides configuration parsing and management for cruise nodes.
//
// # Overview
//
// Configuration is read from a YAML file. Values may reference environment
// variables as ${VAR} or ${VAR:-default}. Keys that are absent keep their
// defaults, and unknown keys are rejected.
//
// Durations are strings accepted by time.ParseDuration, plus a "d" suffix
// for days.
//
// # Example Configuration
//
//	node:
//	  id: "node-1"
//	  address: "10.0.0.1:4001"
//
//	cluster:
//	  peers:
//	    - "10.0.0.2:4001"
//	    - "10.0.0.3:4001"
//
//	raft:
//	  heartbeatInterval: 100ms
//	  electionTimeout: 500ms
//	  electionJitterMin: 150ms
//	  electionJitterMax: 300ms
//	  quorumTimeout: 1s
//	  maxLogEntries: 10000
//	  persistHardState: true
//
//	store:
//	  dataDir: "${CRUISE_DATA_DIR:-/var/lib/cruise}"
//
//	logging:
//	  level: "info"
//	  format: "json"
//	  output: "/var/log/cruise/node.log"
//	  maxSizeMB: 100
//
// # Reloading
//
// Watcher polls the file and hands every valid new version to a callback.
// Only the logging level is applied to a running node; other sections take
// effect on restart.
package config
