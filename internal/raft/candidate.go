package raft

// candidate runs one election: it starts a new term, votes for itself and
// asks every peer for a vote.
type candidate struct {
	roleBase
}

func newCandidate(n *Node) *candidate {
	return &candidate{roleBase: newRoleBase(n)}
}

func (c *candidate) state() State { return StateCandidate }

func (c *candidate) start() {
	n := c.node
	n.term++
	n.votedFor = n.id
	n.setLeader("", "")
	n.saveHardState()

	n.logger.Info("election started", "term", n.term,
		"lastLogIndex", n.log.LastIndex(), "lastLogTerm", n.log.LastTerm())

	req := &RequestVoteRequest{
		CandidateID:  n.id,
		LastLogIndex: n.log.LastIndex(),
		LastLogTerm:  n.log.LastTerm(),
	}
	term := n.term
	c.quorum(MethodRequestVote, req, func(won bool) {
		if won {
			n.logger.Info("election won", "term", term)
			n.requestTransition(c.gen, StateLeader)
			return
		}
		n.logger.Info("election lost", "term", term)
		n.requestTransition(c.gen, StateFollower)
	})
}

func (c *candidate) handlers() map[Method]handlerFunc {
	return map[Method]handlerFunc{
		MethodAppendEntries: c.onLeaderAppend,
		MethodRequestVote:   c.onRequestVote,
		MethodRecord:        c.node.handleRecord,
		MethodStatus:        c.node.handleStatus,
	}
}

// onLeaderAppend handles AppendEntries while campaigning. A request of the
// current term means another node already won this term, so the candidate
// becomes a follower and lets the follower answer.
func (c *candidate) onLeaderAppend(req Message, reply func(*Response)) {
	n := c.node
	if req.header().Term < n.term {
		reply(&Response{Success: false})
		return
	}
	n.transitionTo(StateFollower)
	n.dispatch(MethodAppendEntries, req, reply)
}
