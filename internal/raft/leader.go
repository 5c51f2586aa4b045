package raft

import "slices"

// pendingRecord is a client value waiting for its entry to commit.
type pendingRecord struct {
	index uint64
	fn    func(error)
}

// leader replicates its log to every peer and decides the commit index.
type leader struct {
	roleBase
	pending []*pendingRecord // ascending by index
}

func newLeader(n *Node) *leader {
	return &leader{roleBase: newRoleBase(n)}
}

func (l *leader) state() State { return StateLeader }

func (l *leader) start() {
	n := l.node
	n.setLeader(n.id, n.addr)

	last := n.log.LastIndex()
	for _, p := range n.peers {
		p.reset(last)
	}

	// Entries from earlier terms only commit once an entry of this term does.
	n.log.Append(&Entry{Index: last + 1, Term: n.term, Type: EntryNoop})

	n.logger.Info("became leader", "term", n.term, "lastIndex", n.log.LastIndex(),
		"commitIndex", n.log.CommitIndex())

	l.interval(n.config.HeartbeatInterval, l.heartbeat)
	for _, p := range n.peers {
		l.syncPeer(p)
	}
	l.advanceCommit()
}

func (l *leader) handlers() map[Method]handlerFunc {
	return map[Method]handlerFunc{
		MethodAppendEntries: l.onAppendEntries,
		MethodRequestVote:   l.onRequestVote,
		MethodRecord:        l.node.handleRecord,
		MethodStatus:        l.node.handleStatus,
	}
}

// onAppendEntries refuses requests from another leader of the same term.
// Higher terms never reach here; the node steps down first.
func (l *leader) onAppendEntries(req Message, reply func(*Response)) {
	n := l.node
	if term := req.header().Term; term == n.term {
		n.logger.Error("append entries from another leader in the same term",
			"term", term, "from", req.header().From)
	}
	reply(&Response{Success: false})
}

// heartbeat syncs every peer without a request in flight. Up to date peers
// get an empty AppendEntries.
func (l *leader) heartbeat() {
	for _, p := range l.node.peers {
		if !p.inflight {
			l.syncPeer(p)
		}
	}
}

// record appends value for the current term and calls fn once it commits.
func (l *leader) record(value []byte, fn func(error)) {
	n := l.node
	entry := n.log.NewEntry(n.term, value)
	n.log.Append(entry)
	l.pending = append(l.pending, &pendingRecord{index: entry.Index, fn: fn})

	n.logger.Debug("record appended", "index", entry.Index, "term", entry.Term)

	for _, p := range n.peers {
		if !p.inflight {
			l.syncPeer(p)
		}
	}
	l.advanceCommit()
}

// syncPeer sends the peer everything from its nextIndex on, bounded by
// MaxAppendEntries, and follows up on the reply.
func (l *leader) syncPeer(p *Peer) {
	if p.inflight {
		return
	}

	n := l.node
	log := n.log
	if p.nextIndex <= log.StartIndex() {
		n.logger.Warn("peer needs pruned entries", "peer", p.addr,
			"nextIndex", p.nextIndex, "startIndex", log.StartIndex())
		p.nextIndex = log.StartIndex() + 1
	}

	prevIndex := p.nextIndex - 1
	prevTerm, _ := log.Term(prevIndex)
	to := min(log.LastIndex()+1, p.nextIndex+uint64(n.config.MaxAppendEntries))
	entries := log.EntriesInRange(p.nextIndex, to)

	req := &AppendEntriesRequest{
		LeaderID:     n.id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: log.CommitIndex(),
	}

	sent := p.nextIndex
	p.inflight = true
	l.call(p, MethodAppendEntries, req, func(resp *Response, err error) {
		p.inflight = false

		if err != nil {
			n.logger.Debug("append entries failed", "peer", p.addr, "error", err)
			l.after(n.config.RetryDelay, func() { l.syncPeer(p) })
			return
		}

		if !resp.Success {
			floor := log.StartIndex() + 1
			if p.nextIndex == sent && p.nextIndex > floor {
				p.nextIndex--
				l.syncPeer(p)
				return
			}
			l.after(n.config.RetryDelay, func() { l.syncPeer(p) })
			return
		}

		if match := prevIndex + uint64(len(entries)); match > p.matchIndex {
			p.matchIndex = match
		}
		p.nextIndex = p.matchIndex + 1

		l.advanceCommit()
		if p.nextIndex <= log.LastIndex() {
			l.syncPeer(p)
		}
	})
}

// advanceCommit commits the highest index stored on a majority, counting the
// leader's own log, provided that entry belongs to the current term.
func (l *leader) advanceCommit() {
	n := l.node
	log := n.log

	indexes := make([]uint64, 0, len(n.peers)+1)
	for _, p := range n.peers {
		indexes = append(indexes, p.matchIndex)
	}
	indexes = append(indexes, log.LastIndex())
	slices.Sort(indexes)

	index := indexes[len(indexes)-n.QuorumSize()]
	if index <= log.CommitIndex() {
		return
	}
	if term, ok := log.Term(index); !ok || term != n.term {
		return
	}

	log.Commit(index)
	l.fulfil()
	n.maybePrune()
}

// fulfil calls back every pending record whose entry has committed, in
// index order.
func (l *leader) fulfil() {
	commit := l.node.log.CommitIndex()
	if len(l.pending) > 0 && l.pending[0].index <= commit {
		l.node.publish()
	}
	for len(l.pending) > 0 && l.pending[0].index <= commit {
		p := l.pending[0]
		l.pending[0] = nil
		l.pending = l.pending[1:]
		p.fn(nil)
	}
}
