package main

import (
	"fmt"
	"io"
)

// printUsage prints the main usage information to the given writer.
func printUsage(w io.Writer) {
	fmt.Fprint(w, `cruise - Raft replicated log node

Usage:
  cruise <command> [options]

Commands:
  serve       Run a cluster node
  record      Append a value to a running cluster
  status      Show a node's view of the cluster
  config      Configuration management
  version     Show version information

Use "cruise <command> -h" for more information about a command.
`)
}

// printServeUsage prints the serve command usage.
func printServeUsage(w io.Writer) {
	fmt.Fprint(w, `Run a cluster node

Usage:
  cruise serve [options]

Options:
  -config string
        Path to configuration file
  -id string
        Node ID (overrides config, generated when empty)
  -address string
        Listen address (overrides config, default "localhost:4001")
  -peers string
        Comma-separated peer addresses (overrides config)
  -data-dir string
        Data directory path (overrides config, empty keeps state in memory)
  -log-level string
        Log level: debug, info, warn, error (overrides config)
  -h, -help
        Show this help message

Environment Variables:
  CRUISE_NODE_ID           Override node ID
  CRUISE_NODE_ADDRESS      Override listen address
  CRUISE_CLUSTER_PEERS     Override peer addresses (comma-separated)
  CRUISE_STORE_DATA_DIR    Override data directory path
  CRUISE_LOGGING_LEVEL     Override log level
  CRUISE_LOGGING_FORMAT    Override log format

Signals:
  SIGHUP                   Re-read the logging level from the config file
  SIGINT, SIGTERM          Stop the node
`)
}

// printRecordUsage prints the record command usage.
func printRecordUsage(w io.Writer) {
	fmt.Fprint(w, `Append a value to a running cluster

Usage:
  cruise record [options] <value>

Any node accepts the value and forwards it to the current leader. The
command returns once the value is committed.

Options:
  -addr string
        Address of any cluster node (default "localhost:4001")
  -timeout duration
        How long to wait for the commit (default 5s)
  -h, -help
        Show this help message
`)
}

// printStatusUsage prints the status command usage.
func printStatusUsage(w io.Writer) {
	fmt.Fprint(w, `Show a node's view of the cluster

Usage:
  cruise status [options]

Options:
  -addr string
        Address of the node to query (default "localhost:4001")
  -json
        Print the status as JSON
  -timeout duration
        Request timeout (default 2s)
  -h, -help
        Show this help message
`)
}

// printConfigUsage prints the config command usage.
func printConfigUsage(w io.Writer) {
	fmt.Fprint(w, `Configuration management

Usage:
  cruise config <subcommand> [options]

Subcommands:
  validate    Validate configuration file
  init        Print the default configuration
  show        Print the effective configuration
`)
}

// printVersionUsage prints the version command usage.
func printVersionUsage(w io.Writer) {
	fmt.Fprint(w, `Show version information

Usage:
  cruise version [options]

Options:
  -short
        Show only version number
  -h, -help
        Show this help message
`)
}
