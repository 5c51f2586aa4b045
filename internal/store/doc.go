// Package store provides durable collaborators for a raft.Node.
//
// A store receives every committed entry exactly once, in log order, and
// keeps the node's hard state (current term and vote). On restart it reports
// the last committed entry so the node resumes from that base instead of
// replaying the whole history from its peers.
//
// Two implementations are provided:
//
//   - MemoryStore keeps everything in memory. It is used in tests and by
//     nodes started without a data directory.
//   - FileStore appends entries to log.dat and rewrites term.dat atomically
//     whenever the hard state changes.
//
// Both satisfy raft.Store, raft.Recoverer and raft.HardStateStore.
package store
