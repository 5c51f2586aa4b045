// Package logging provides structured logging for cruise nodes.
//
// # Overview
//
// Logger is a small key/value interface backed by zap. It supports:
//
//   - Four levels (debug, info, warn, error)
//   - Text (console) and JSON output
//   - Request IDs and persistent contextual fields
//   - Size-based file rotation through lumberjack
//
// A Logger satisfies raft.Logger, so it can be handed to a node directly:
//
//	logger := logging.New(logging.Config{
//	    Level:      "info",
//	    Format:     "json",
//	    Output:     "/var/log/cruise/node.log",
//	    MaxSizeMB:  100,
//	    MaxBackups: 5,
//	})
//	node.SetLogger(logger.WithFields("node", node.ID()))
//
// For tests, use a no-op logger:
//
//	logger := logging.NewNop()
//
// # Output Formats
//
// JSON format:
//
//	{"level":"info","ts":"2026-02-18T10:30:00.000Z","msg":"became leader","term":3}
//
// Text format:
//
//	2026-02-18T10:30:00.000Z	info	became leader	{"term": 3}
//
// # Output Destinations
//
//	logging.Config{Output: "stdout"}              // Standard output
//	logging.Config{Output: "stderr"}              // Standard error
//	logging.Config{Output: "/var/log/cruise.log"} // Rotated file
package logging
