package raft

import "time"

// follower waits for the leader's heartbeats and stands for election when
// they stop arriving.
type follower struct {
	roleBase
	timer *time.Timer
}

func newFollower(n *Node) *follower {
	return &follower{roleBase: newRoleBase(n)}
}

func (f *follower) state() State { return StateFollower }

func (f *follower) start() {
	f.arm()
}

// arm restarts the election timer with a fresh random delay.
func (f *follower) arm() {
	cfg := f.node.config
	f.cancel(f.timer)
	f.timer = f.after(jitter(cfg.ElectionJitterMin, cfg.ElectionJitterMax), f.onElectionTimer)
}

func (f *follower) onElectionTimer() {
	n := f.node
	if age := time.Since(n.heartbeat); age > n.config.ElectionTimeout {
		n.logger.Info("no heartbeat from leader, starting election",
			"lastHeartbeat", age.String(), "term", n.term)
		n.requestTransition(f.gen, StateCandidate)
		return
	}
	f.arm()
}

func (f *follower) handlers() map[Method]handlerFunc {
	return map[Method]handlerFunc{
		MethodAppendEntries: func(req Message, reply func(*Response)) {
			if f.onAppendEntries(req, reply) && f.active() {
				f.arm()
			}
		},
		MethodRequestVote: f.onRequestVote,
		MethodRecord:      f.node.handleRecord,
		MethodStatus:      f.node.handleStatus,
	}
}
