package raft

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedTransport answers requests on behalf of peers that do not exist.
type scriptedTransport struct {
	addr string

	mu        sync.Mutex
	grant     map[string]bool   // peer -> vote answer
	replyTerm map[string]uint64 // peer -> term to answer with, request term when absent
	delay     map[string]time.Duration
	block     bool
	calls     map[Method]int
}

func newScriptedTransport(addr string) *scriptedTransport {
	return &scriptedTransport{
		addr:      addr,
		grant:     make(map[string]bool),
		replyTerm: make(map[string]uint64),
		delay:     make(map[string]time.Duration),
		calls:     make(map[Method]int),
	}
}

func (s *scriptedTransport) Send(ctx context.Context, addr string, method Method, data []byte) ([]byte, error) {
	msg, err := decodeRequest(method, data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.calls[method]++
	block := s.block
	delay := s.delay[addr]
	term, ok := s.replyTerm[addr]
	grant := s.grant[addr]
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		term = msg.header().Term
	}

	resp := &Response{Term: term, From: addr}
	switch method {
	case MethodRequestVote:
		resp.Success = grant
	case MethodAppendEntries:
		resp.Success = true
	}
	return resp.Serialize(), nil
}

func (s *scriptedTransport) Listen(RPCHandler) error { return nil }
func (s *scriptedTransport) Close() error            { return nil }
func (s *scriptedTransport) LocalAddr() string       { return s.addr }

func (s *scriptedTransport) callCount(method Method) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func peerAddrs(count int) []string {
	peers := make([]string, count)
	for i := range peers {
		peers[i] = fmt.Sprintf("127.0.0.%d:4001", i+2)
	}
	return peers
}

// quietConfig returns a configuration whose follower will not stand for
// election during a test.
func quietConfig(addr string, peers []string) *NodeConfig {
	cfg := testConfig(addr, peers)
	cfg.ElectionTimeout = 10 * time.Second
	cfg.ElectionJitterMin = 5 * time.Second
	cfg.ElectionJitterMax = 6 * time.Second
	return cfg
}

func startNode(t *testing.T, cfg *NodeConfig, transport Transport, store Store) *Node {
	t.Helper()
	n, err := NewNode(cfg, transport, store)
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { n.Stop() })
	return n
}

// call sends a request straight into the node's transport handler.
func call(t *testing.T, n *Node, method Method, msg Message) *Response {
	t.Helper()
	data := n.handleRPC(method, msg.Serialize())
	if data == nil {
		t.Fatalf("%s: no response", method)
	}
	resp, err := DeserializeResponse(data)
	if err != nil {
		t.Fatalf("DeserializeResponse failed: %v", err)
	}
	return resp
}

func TestQuorumSize(t *testing.T) {
	tests := []struct {
		peers int
		want  int
	}{
		{0, 1},
		{1, 2},
		{2, 2},
		{3, 3},
		{4, 3},
		{6, 4},
	}

	for _, tt := range tests {
		cfg := quietConfig("127.0.0.1:4001", peerAddrs(tt.peers))
		n, err := NewNode(cfg, newScriptedTransport(cfg.Addr), nil)
		if err != nil {
			t.Fatalf("NewNode failed: %v", err)
		}
		if got := n.QuorumSize(); got != tt.want {
			t.Errorf("QuorumSize with %d peers: got %d, want %d", tt.peers, got, tt.want)
		}
	}
}

func TestNewNodeIgnoresSelfAndDuplicatePeers(t *testing.T) {
	cfg := quietConfig("127.0.0.1:4001", []string{"127.0.0.1:4001", "127.0.0.2", "127.0.0.2:4001", "127.0.0.3:4001"})
	n, err := NewNode(cfg, newScriptedTransport("127.0.0.1:4001"), nil)
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}

	if len(n.peers) != 2 {
		t.Errorf("peers: got %d, want 2", len(n.peers))
	}
	if n.ID() == "" {
		t.Error("ID should be generated when not configured")
	}
}

func TestNewNodeInvalidConfig(t *testing.T) {
	cfg := testConfig("", nil)
	if _, err := NewNode(cfg, newScriptedTransport(""), nil); err == nil {
		t.Error("expected error for missing address")
	}

	cfg = testConfig("127.0.0.1:4001", nil)
	cfg.HeartbeatInterval = cfg.ElectionTimeout
	if _, err := NewNode(cfg, newScriptedTransport(cfg.Addr), nil); err == nil {
		t.Error("expected error for heartbeat interval >= election timeout")
	}
}

func TestTally(t *testing.T) {
	tests := []struct {
		name     string
		peers    int
		replies  []bool
		decideAt int // reply index that decides, -1 when decided before any reply
		want     bool
	}{
		{"zero peers", 0, nil, -1, true},
		{"majority granted", 4, []bool{true, false, true, true}, 2, true},
		{"majority refused", 4, []bool{false, false, false, true}, 2, false},
		{"late success", 2, []bool{false, true}, 1, true},
		{"two refusals of three", 2, []bool{false, false}, 1, false},
		{"all replied short of quorum", 3, []bool{true, false, false}, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := newTally(tt.peers, (tt.peers+1)/2+1)
			decisions := 0
			decidedAt := -2
			var result bool

			if decided, ok := tl.resolve(); decided {
				decisions++
				decidedAt = -1
				result = ok
			}
			for i, r := range tt.replies {
				if decided, ok := tl.record(r); decided {
					decisions++
					decidedAt = i
					result = ok
				}
			}
			if tl.abort() {
				decisions++
			}

			if decisions != 1 {
				t.Fatalf("decisions: got %d, want 1", decisions)
			}
			if decidedAt != tt.decideAt {
				t.Errorf("decided at reply %d, want %d", decidedAt, tt.decideAt)
			}
			if result != tt.want {
				t.Errorf("result: got %v, want %v", result, tt.want)
			}
		})
	}
}

func TestTallyTimeout(t *testing.T) {
	tl := newTally(4, 3)
	tl.record(true)

	if !tl.abort() {
		t.Fatal("abort on an undecided tally should decide it")
	}
	if decided, _ := tl.record(true); decided {
		t.Error("replies after the timeout must not decide again")
	}
}

func TestQuorumCallbackOnce(t *testing.T) {
	transport := newScriptedTransport("127.0.0.1:4001")
	peers := peerAddrs(4)
	for i, p := range peers {
		transport.grant[p] = true
		transport.delay[p] = time.Duration(i*10) * time.Millisecond
	}
	n := startNode(t, quietConfig(transport.addr, peers), transport, nil)

	var calls atomic.Int32
	var result atomic.Bool
	n.exec(func() {
		b := newRoleBase(n)
		b.quorum(MethodRequestVote, &RequestVoteRequest{CandidateID: n.id}, func(ok bool) {
			calls.Add(1)
			result.Store(ok)
		})
	})

	time.Sleep(300 * time.Millisecond)

	if got := calls.Load(); got != 1 {
		t.Fatalf("callback calls: got %d, want 1", got)
	}
	if !result.Load() {
		t.Error("quorum should succeed with every vote granted")
	}
}

func TestQuorumTimeout(t *testing.T) {
	transport := newScriptedTransport("127.0.0.1:4001")
	transport.block = true
	cfg := quietConfig(transport.addr, peerAddrs(2))
	cfg.QuorumTimeout = 50 * time.Millisecond
	n := startNode(t, cfg, transport, nil)

	var calls atomic.Int32
	var result atomic.Bool
	result.Store(true)
	n.exec(func() {
		b := newRoleBase(n)
		b.quorum(MethodRequestVote, &RequestVoteRequest{CandidateID: n.id}, func(ok bool) {
			calls.Add(1)
			result.Store(ok)
		})
	})

	time.Sleep(250 * time.Millisecond)

	if got := calls.Load(); got != 1 {
		t.Fatalf("callback calls: got %d, want 1", got)
	}
	if result.Load() {
		t.Error("quorum should fail on timeout")
	}
}

func TestCandidateWinsWithMajority(t *testing.T) {
	// Five nodes: self plus two granted votes reach the quorum of three.
	transport := newScriptedTransport("127.0.0.1:4001")
	peers := peerAddrs(4)
	transport.grant[peers[0]] = true
	transport.grant[peers[1]] = true

	cfg := testConfig(transport.addr, peers)
	n := startNode(t, cfg, transport, nil)

	waitFor(t, 2*time.Second, "leader elected", n.IsLeader)

	if n.Term() == 0 {
		t.Error("leader term should be above 0")
	}
	if n.Leader() != n.Addr() {
		t.Errorf("Leader: got %q, want %q", n.Leader(), n.Addr())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := n.Record(ctx, []byte("x")); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
}

func TestCandidateLosesWithoutMajority(t *testing.T) {
	transport := newScriptedTransport("127.0.0.1:4001")
	peers := peerAddrs(4)
	transport.grant[peers[0]] = true

	n := startNode(t, testConfig(transport.addr, peers), transport, nil)

	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		if n.IsLeader() {
			t.Fatal("node became leader with two of five votes")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if transport.callCount(MethodRequestVote) == 0 {
		t.Error("no election was held")
	}
}

func TestCandidateStepsDownOnHigherTerm(t *testing.T) {
	transport := newScriptedTransport("127.0.0.1:4001")
	peers := peerAddrs(2)
	transport.replyTerm[peers[0]] = 40
	transport.grant[peers[1]] = true

	n := startNode(t, testConfig(transport.addr, peers), transport, nil)

	waitFor(t, 2*time.Second, "term adopted from reply", func() bool {
		return n.Term() >= 40
	})
}

func TestAppendEntriesConflict(t *testing.T) {
	// The follower holds indexes 1..6 from term 1, the leader of term 2 owns index 5.
	n := startNode(t, quietConfig("127.0.0.1:4001", nil), newScriptedTransport("127.0.0.1:4001"), nil)
	n.exec(func() {
		for i := 0; i < 6; i++ {
			n.log.Append(n.log.NewEntry(1, []byte("old")))
		}
	})

	resp := call(t, n, MethodAppendEntries, &AppendEntriesRequest{
		Header:       Header{Term: 2, From: "127.0.0.9:4001"},
		LeaderID:     "leader",
		PrevLogIndex: 4,
		PrevLogTerm:  1,
		Entries:      []*Entry{{Index: 5, Term: 2, Value: []byte("new")}},
	})

	if !resp.Success {
		t.Fatal("AppendEntries should succeed")
	}
	if resp.Term != 2 {
		t.Errorf("response term: got %d, want 2", resp.Term)
	}

	entries := logEntries(n)
	if len(entries) != 5 {
		t.Fatalf("log length: got %d, want 5", len(entries))
	}
	if entries[4].Term != 2 || string(entries[4].Value) != "new" {
		t.Errorf("entry 5: got %+v", entries[4])
	}
	if n.Leader() != "127.0.0.9:4001" || n.LeaderID() != "leader" {
		t.Errorf("leader: got %q/%q", n.LeaderID(), n.Leader())
	}
}

func TestAppendEntriesConsistencyCheck(t *testing.T) {
	n := startNode(t, quietConfig("127.0.0.1:4001", nil), newScriptedTransport("127.0.0.1:4001"), nil)
	n.exec(func() {
		n.log.Append(n.log.NewEntry(1, nil))
		n.log.Append(n.log.NewEntry(1, nil))
	})

	tests := []struct {
		name      string
		prevIndex uint64
		prevTerm  uint64
		want      bool
	}{
		{"missing entry", 5, 1, false},
		{"term mismatch", 2, 3, false},
		{"matching entry", 2, 1, true},
		{"empty prefix", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, n, MethodAppendEntries, &AppendEntriesRequest{
				Header:       Header{Term: 1, From: "127.0.0.9:4001"},
				LeaderID:     "leader",
				PrevLogIndex: tt.prevIndex,
				PrevLogTerm:  tt.prevTerm,
			})
			if resp.Success != tt.want {
				t.Errorf("Success: got %v, want %v", resp.Success, tt.want)
			}
		})
	}
}

func TestAppendEntriesCommitsUpToLastNewEntry(t *testing.T) {
	n := startNode(t, quietConfig("127.0.0.1:4001", nil), newScriptedTransport("127.0.0.1:4001"), nil)

	var applied atomic.Int32
	n.exec(func() {
		n.log.SetApplier(func(*Entry) { applied.Add(1) })
	})

	resp := call(t, n, MethodAppendEntries, &AppendEntriesRequest{
		Header:       Header{Term: 1, From: "127.0.0.9:4001"},
		LeaderID:     "leader",
		Entries:      []*Entry{{Index: 1, Term: 1}, {Index: 2, Term: 1}},
		LeaderCommit: 10,
	})
	if !resp.Success {
		t.Fatal("AppendEntries should succeed")
	}

	if n.CommitIndex() != 2 {
		t.Errorf("CommitIndex: got %d, want 2", n.CommitIndex())
	}
	if applied.Load() != 2 {
		t.Errorf("applied: got %d, want 2", applied.Load())
	}
}

func TestAppendEntriesStaleTerm(t *testing.T) {
	n := startNode(t, quietConfig("127.0.0.1:4001", nil), newScriptedTransport("127.0.0.1:4001"), nil)

	var before time.Time
	n.exec(func() {
		n.term = 5
		before = n.heartbeat
	})

	resp := call(t, n, MethodAppendEntries, &AppendEntriesRequest{
		Header:   Header{Term: 3, From: "127.0.0.9:4001"},
		LeaderID: "old-leader",
	})

	if resp.Success {
		t.Error("stale AppendEntries must be rejected")
	}
	if resp.Term != 5 {
		t.Errorf("response term: got %d, want 5", resp.Term)
	}

	var term uint64
	var leader string
	var after time.Time
	n.exec(func() {
		term, leader, after = n.term, n.leaderAddr, n.heartbeat
	})
	if term != 5 || leader != "" {
		t.Errorf("state changed: term %d leader %q", term, leader)
	}
	if !after.Equal(before) {
		t.Error("heartbeat refreshed by a stale request")
	}
}

func TestRequestVote(t *testing.T) {
	n := startNode(t, quietConfig("127.0.0.1:4001", nil), newScriptedTransport("127.0.0.1:4001"), nil)
	n.exec(func() {
		n.log.Append(n.log.NewEntry(1, nil))
		n.log.Append(n.log.NewEntry(2, nil))
	})

	vote := func(term uint64, candidate string, lastIndex, lastTerm uint64) bool {
		return call(t, n, MethodRequestVote, &RequestVoteRequest{
			Header:       Header{Term: term, From: candidate + ":4001"},
			CandidateID:  candidate,
			LastLogIndex: lastIndex,
			LastLogTerm:  lastTerm,
		}).Success
	}

	if vote(3, "a", 1, 2) {
		t.Error("vote granted to a candidate with a shorter log of the same term")
	}
	if vote(3, "a", 5, 1) {
		t.Error("vote granted to a candidate with an older last term")
	}
	if !vote(3, "b", 2, 2) {
		t.Error("vote refused to an up to date candidate")
	}
	if !vote(3, "b", 2, 2) {
		t.Error("repeated request from the same candidate should be granted")
	}
	if vote(3, "c", 9, 9) {
		t.Error("second vote granted in the same term")
	}
	if vote(2, "d", 9, 9) {
		t.Error("vote granted for a stale term")
	}
	if !vote(4, "c", 9, 9) {
		t.Error("vote refused in a new term")
	}
	if n.Term() != 4 {
		t.Errorf("term: got %d, want 4", n.Term())
	}
}

func TestLeaderAdvanceCommit(t *testing.T) {
	tests := []struct {
		name    string
		matches []uint64
		term    uint64
		want    uint64
	}{
		{"quorum rank picks median", []uint64{3, 4, 5, 5}, 2, 5},
		{"lagging majority", []uint64{1, 2, 3, 5}, 2, 3},
		{"nothing replicated", []uint64{0, 0, 0, 0}, 2, 0},
		{"previous term entry not committed", []uint64{5, 5, 5, 5}, 3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := quietConfig("127.0.0.1:4001", peerAddrs(len(tt.matches)))
			n, err := NewNode(cfg, newScriptedTransport(cfg.Addr), nil)
			if err != nil {
				t.Fatalf("NewNode failed: %v", err)
			}
			n.term = tt.term
			for i := 0; i < 5; i++ {
				n.log.Append(n.log.NewEntry(2, nil))
			}
			for i, p := range n.peers {
				p.matchIndex = tt.matches[i]
			}

			l := newLeader(n)
			l.advanceCommit()

			if got := n.log.CommitIndex(); got != tt.want {
				t.Errorf("CommitIndex: got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLeaderFulfilsRecordsInOrder(t *testing.T) {
	cfg := quietConfig("127.0.0.1:4001", peerAddrs(2))
	n, err := NewNode(cfg, newScriptedTransport(cfg.Addr), nil)
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}
	n.term = 1

	l := newLeader(n)
	var order []uint64
	for i := 0; i < 3; i++ {
		entry := n.log.NewEntry(1, nil)
		n.log.Append(entry)
		index := entry.Index
		l.pending = append(l.pending, &pendingRecord{index: index, fn: func(err error) {
			order = append(order, index)
		}})
	}

	n.peers[0].matchIndex = 2
	l.advanceCommit()
	n.peers[0].matchIndex = 3
	l.advanceCommit()
	l.advanceCommit()

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("fulfil order: got %v, want [1 2 3]", order)
	}
}

func TestStaleRoleCannotActAfterTransition(t *testing.T) {
	transport := newScriptedTransport("127.0.0.1:4001")
	peers := peerAddrs(2)
	transport.delay[peers[0]] = 30 * time.Millisecond
	n := startNode(t, quietConfig(transport.addr, peers), transport, nil)

	var fired atomic.Int32
	var oldGen uint64
	var accepted bool
	n.exec(func() {
		old := n.role.(*follower)
		oldGen = old.gen

		old.after(time.Millisecond, func() { fired.Add(1) })
		old.call(n.peers[0], MethodAppendEntries, &AppendEntriesRequest{}, func(*Response, error) {
			fired.Add(1)
		})

		n.transitionTo(StateFollower)
		accepted = n.requestTransition(oldGen, StateCandidate)
	})

	if accepted {
		t.Error("requestTransition with a stale generation was accepted")
	}

	time.Sleep(100 * time.Millisecond)

	if got := fired.Load(); got != 0 {
		t.Errorf("stale callbacks ran %d times, want 0", got)
	}
	if got := n.State(); got != StateFollower {
		t.Errorf("State: got %v, want follower", got)
	}
	var gen uint64
	n.exec(func() { gen = n.gen })
	if gen != oldGen+1 {
		t.Errorf("generation: got %d, want %d", gen, oldGen+1)
	}
}

func TestLeaderRejectsSameTermAppendEntries(t *testing.T) {
	transport := newScriptedTransport("127.0.0.1:4001")
	peers := peerAddrs(2)
	transport.grant[peers[0]] = true
	transport.grant[peers[1]] = true
	n := startNode(t, testConfig(transport.addr, peers), transport, nil)

	waitFor(t, 2*time.Second, "leader elected", n.IsLeader)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := n.Record(ctx, []byte("kept")); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	before := logEntries(n)
	term := n.Term()

	resp := call(t, n, MethodAppendEntries, &AppendEntriesRequest{
		Header:       Header{Term: term, From: "127.0.0.9:4001"},
		LeaderID:     "rival",
		PrevLogIndex: 0,
		PrevLogTerm:  0,
		Entries:      []*Entry{{Index: 1, Term: term, Value: []byte("rival")}},
		LeaderCommit: 1,
	})

	if resp.Success {
		t.Error("leader accepted AppendEntries from a rival in its own term")
	}
	if !n.IsLeader() || n.Term() != term {
		t.Errorf("leader changed: state %v term %d, want leader term %d", n.State(), n.Term(), term)
	}

	after := logEntries(n)
	if len(after) != len(before) {
		t.Fatalf("log length: got %d, want %d", len(after), len(before))
	}
	for i := range before {
		if after[i].Term != before[i].Term || !bytes.Equal(after[i].Value, before[i].Value) {
			t.Errorf("entry %d changed: got %+v, want %+v", i+1, after[i], before[i])
		}
	}
}
