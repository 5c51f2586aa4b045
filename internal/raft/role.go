package raft

import (
	"context"
	"math/rand/v2"
	"time"
)

// role is one of follower, candidate or leader. A node holds exactly one live
// role; the node stops it before starting the next.
type role interface {
	state() State
	start()
	stop()
	handlers() map[Method]handlerFunc
}

// handlerFunc serves a decoded request on the control loop. reply must be
// called at most once, also on the control loop.
type handlerFunc func(req Message, reply func(*Response))

// roleBase carries what every role shares: its generation, its timers, the
// quorum broadcast and the AppendEntries/RequestVote handlers.
type roleBase struct {
	node    *Node
	gen     uint64
	timers  map[*time.Timer]struct{}
	tickers []*time.Ticker
	done    chan struct{}
	stopped bool
}

func newRoleBase(n *Node) roleBase {
	return roleBase{
		node:   n,
		gen:    n.gen,
		timers: make(map[*time.Timer]struct{}),
		done:   make(chan struct{}),
	}
}

// active reports whether this role is still the node's live role.
func (b *roleBase) active() bool {
	return !b.stopped && b.node.gen == b.gen
}

// stop cancels every timer. It is idempotent.
func (b *roleBase) stop() {
	if b.stopped {
		return
	}
	b.stopped = true
	for t := range b.timers {
		t.Stop()
	}
	b.timers = nil
	for _, t := range b.tickers {
		t.Stop()
	}
	close(b.done)
}

// after runs fn on the control loop once d has elapsed, unless the role
// stopped first.
func (b *roleBase) after(d time.Duration, fn func()) *time.Timer {
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		b.node.post(func() {
			if !b.active() {
				return
			}
			delete(b.timers, t)
			fn()
		})
	})
	b.timers[t] = struct{}{}
	return t
}

// cancel stops a timer created by after.
func (b *roleBase) cancel(t *time.Timer) {
	if t == nil {
		return
	}
	t.Stop()
	delete(b.timers, t)
}

// interval runs fn on the control loop every d until the role stops.
func (b *roleBase) interval(d time.Duration, fn func()) {
	ticker := time.NewTicker(d)
	b.tickers = append(b.tickers, ticker)
	done := b.done
	go func() {
		for {
			select {
			case <-ticker.C:
				b.node.post(func() {
					if b.active() {
						fn()
					}
				})
			case <-done:
				return
			}
		}
	}()
}

// jitter returns a random duration in [lo, hi).
func jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

// call sends msg to peer off the control loop and delivers the outcome to fn
// on the loop. A reply with a higher term steps the node down instead. fn is
// dropped when the role is no longer live.
func (b *roleBase) call(p *Peer, method Method, msg Message, fn func(*Response, error)) {
	n := b.node
	n.stamp(msg)
	timeout := n.config.RPCTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		resp, err := p.Call(ctx, method, msg)
		cancel()
		n.post(func() {
			if err == nil && resp.Term > n.term {
				n.stepDown(resp.Term)
				return
			}
			if b.active() {
				fn(resp, err)
			}
		})
	}()
}

// tally counts replies for a quorum broadcast. Self counts as one success.
type tally struct {
	quorum    int
	pending   int
	successes int
	failures  int
	done      bool
}

func newTally(peers, quorum int) *tally {
	return &tally{quorum: quorum, pending: peers, successes: 1}
}

// record adds one peer reply and reports the outcome if it is now decided.
func (t *tally) record(success bool) (decided, ok bool) {
	if t.done {
		return false, false
	}
	t.pending--
	if success {
		t.successes++
	} else {
		t.failures++
	}
	return t.resolve()
}

// resolve reports the outcome the first time it is decided and never again.
func (t *tally) resolve() (decided, ok bool) {
	if t.done {
		return false, false
	}
	switch {
	case t.successes >= t.quorum:
		ok = true
	case t.failures >= t.quorum, t.pending <= 0:
		ok = false
	default:
		return false, false
	}
	t.done = true
	return true, ok
}

// abort decides the tally as failed. It reports false if it was already decided.
func (t *tally) abort() bool {
	if t.done {
		return false
	}
	t.done = true
	return true
}

// quorum sends msg to every peer and calls fn exactly once with whether a
// majority, this node included, answered with success. A reply carrying a
// higher term steps the node down and resolves false, as does QuorumTimeout.
func (b *roleBase) quorum(method Method, msg Message, fn func(bool)) {
	n := b.node
	n.stamp(msg)

	t := newTally(len(n.peers), n.QuorumSize())
	if decided, ok := t.resolve(); decided {
		fn(ok)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.config.QuorumTimeout)
	finish := func(ok bool) {
		cancel()
		fn(ok)
	}

	deadline := time.AfterFunc(n.config.QuorumTimeout, func() {
		n.post(func() {
			if t.abort() {
				n.logger.Debug("quorum timed out", "method", method, "term", msg.header().Term)
				finish(false)
			}
		})
	})

	for _, p := range n.peers {
		go func() {
			resp, err := p.Call(ctx, method, msg)
			n.post(func() {
				if err != nil {
					n.logger.Debug("quorum call failed", "method", method, "peer", p.addr, "error", err)
				}
				if err == nil && resp.Term > n.term {
					n.stepDown(resp.Term)
					if t.abort() {
						deadline.Stop()
						finish(false)
					}
					return
				}
				if decided, ok := t.record(err == nil && resp.Success); decided {
					deadline.Stop()
					finish(ok)
				}
			})
		}()
	}
}

// onAppendEntries applies the leader's request to the local log. It returns
// true when the request came from the leader of the current term, whether or
// not the consistency check passed.
func (b *roleBase) onAppendEntries(msg Message, reply func(*Response)) bool {
	req := msg.(*AppendEntriesRequest)
	n := b.node

	if req.Term < n.term {
		reply(&Response{Success: false})
		return false
	}

	n.setLeader(req.LeaderID, req.From)
	if n.votedFor != req.LeaderID {
		n.votedFor = req.LeaderID
		n.saveHardState()
	}
	n.heartbeat = time.Now()

	log := n.log
	if req.PrevLogIndex >= log.StartIndex() && !log.Contains(req.PrevLogIndex, req.PrevLogTerm) {
		n.logger.Debug("append entries consistency check failed",
			"prevLogIndex", req.PrevLogIndex, "prevLogTerm", req.PrevLogTerm,
			"lastIndex", log.LastIndex())
		reply(&Response{Success: false})
		return true
	}

	for _, entry := range req.Entries {
		if !log.Append(entry) {
			reply(&Response{Success: false})
			return true
		}
	}

	lastNew := req.PrevLogIndex + uint64(len(req.Entries))
	log.Commit(min(req.LeaderCommit, lastNew))
	n.maybePrune()

	reply(&Response{Success: true})
	return true
}

// onRequestVote decides whether to grant a vote.
func (b *roleBase) onRequestVote(msg Message, reply func(*Response)) {
	req := msg.(*RequestVoteRequest)
	n := b.node

	if req.Term < n.term {
		reply(&Response{Success: false})
		return
	}
	if n.votedFor != "" && n.votedFor != req.CandidateID {
		reply(&Response{Success: false})
		return
	}

	lastTerm, lastIndex := n.log.LastTerm(), n.log.LastIndex()
	if req.LastLogTerm < lastTerm || (req.LastLogTerm == lastTerm && req.LastLogIndex < lastIndex) {
		n.logger.Debug("vote refused, candidate log behind",
			"candidate", req.CandidateID, "lastLogTerm", req.LastLogTerm, "lastLogIndex", req.LastLogIndex)
		reply(&Response{Success: false})
		return
	}

	n.votedFor = req.CandidateID
	n.saveHardState()
	n.heartbeat = time.Now()
	n.logger.Info("vote granted", "candidate", req.CandidateID, "term", n.term)
	reply(&Response{Success: true})

	if n.role.state() != StateFollower {
		n.transitionTo(StateFollower)
	}
}
