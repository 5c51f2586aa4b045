// Package raft implements a single participant of a Raft cluster.
//
// A Node keeps a replicated log, elects a leader among a fixed set of peers
// and hands committed entries to a Store and to an applier callback.
//
// # Overview
//
// The package provides:
//   - Leader election with randomized follower timers
//   - Log replication with the AppendEntries consistency check
//   - Commit index advancement from per-peer match indexes
//   - Forwarding of client records to the current leader
//   - TCP and in-memory transports
//
// # Architecture
//
// Every node plays exactly one role at a time:
//   - A follower answers the leader and votes in elections
//   - A candidate asks its peers for votes in a new term
//   - A leader appends client values and replicates them
//
// Roles are replaced only by the node, through a generation checked
// transition. All consensus state lives on a single control-loop goroutine;
// requests, timers and peer replies are queued onto it, so no handler needs
// a lock. Stopped roles never act again because every timer and reply is
// checked against the live generation.
//
// # Usage
//
//	cfg := raft.DefaultNodeConfig()
//	cfg.Addr = "10.0.0.1:4001"
//	cfg.Peers = []string{"10.0.0.2:4001", "10.0.0.3:4001"}
//
//	node, err := raft.NewNode(cfg, raft.NewTCPTransport(cfg.Addr), store)
//	if err != nil {
//	    return err
//	}
//	node.SetApplier(func(e *raft.Entry) { apply(e.Value) })
//	if err := node.Start(); err != nil {
//	    return err
//	}
//	defer node.Stop()
//
//	// Any node accepts records; followers forward them to the leader.
//	err = node.Record(ctx, []byte("value"))
//
// # Failure Handling
//
// The cluster can tolerate (N-1)/2 failures for N nodes:
//   - 3 nodes: tolerates 1 failure
//   - 5 nodes: tolerates 2 failures
//
// # References
//
//   - Raft Paper: https://raft.github.io/raft.pdf
package raft
